// Package schema defines the two EAV relations and the key/timestamp
// generation policy. A Schema handle is constructed once per store instance
// and injected into the engine.
package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kittclouds/eavstore/pkg/sqlbuild"
)

// Table names.
const (
	EntsTable  = "ents"
	AttrsTable = "attrs"
)

// createDDL provisions both relations and their indexes.
// (ent_key, attr) carries no unique constraint: the mutation protocol in
// pkg/eav is responsible for keeping attribute names functionally unique.
const createDDL = `
-- Entities: one row per EAV subject
CREATE TABLE IF NOT EXISTS ents (
    key TEXT PRIMARY KEY,
    created INTEGER NOT NULL,
    modified INTEGER NOT NULL
);

-- Attributes: one named, typed, timestamped value per row.
-- No FK cascade: deleting an entity orphans its attribute rows.
CREATE TABLE IF NOT EXISTS attrs (
    key TEXT PRIMARY KEY,
    ent_key TEXT NOT NULL,
    attr TEXT,
    value TEXT,
    type TEXT,
    modified INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attrs_ent_key ON attrs(ent_key);
CREATE INDEX IF NOT EXISTS idx_attrs_attr ON attrs(attr);
`

const dropDDL = `
DROP TABLE IF EXISTS attrs;
DROP TABLE IF EXISTS ents;
`

// Schema bundles the table definitions with the lifecycle operations.
type Schema struct {
	Ents  sqlbuild.Table
	Attrs sqlbuild.Table
}

// New returns the table definitions for the two EAV relations.
func New() *Schema {
	return &Schema{
		Ents: sqlbuild.Table{
			Name:    EntsTable,
			Columns: []string{"key", "created", "modified"},
		},
		Attrs: sqlbuild.Table{
			Name:    AttrsTable,
			Columns: []string{"key", "ent_key", "attr", "value", "type", "modified"},
		},
	}
}

// Create provisions all tables and indexes against the target store.
func (s *Schema) Create(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, createDDL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Drop removes all tables.
func (s *Schema) Drop(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, dropDDL); err != nil {
		return fmt.Errorf("drop schema: %w", err)
	}
	return nil
}

// GenerateKey produces a globally-unique opaque key (a random 128-bit UUID).
func GenerateKey() string {
	return uuid.NewString()
}

// NowMillis returns the current time in epoch milliseconds. Ordering is
// monotonic enough for the modified column; strict increase across calls is
// not guaranteed.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
