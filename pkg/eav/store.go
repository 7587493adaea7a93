// Package eav provides the query/mutation engine of the EAV store: entity
// CRUD, the optimistic-concurrency update protocol, the declarative query
// compiler and row-to-entity reconstruction.
package eav

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/kittclouds/eavstore/internal/metrics"
	"github.com/kittclouds/eavstore/pkg/schema"
)

// Store is the EAV query/mutation engine. It is synchronous and stateless
// between calls; concurrent callers are serialized only by the underlying
// store and the optimistic-concurrency check. Reads assume at least
// read-committed isolation from the driver.
type Store struct {
	db      *sqlx.DB
	schema  *schema.Schema
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Config configures a Store. Everything is explicit: no globals, no ambient
// defaults.
type Config struct {
	// Schema is the table-definition handle. Defaults to schema.New().
	Schema *schema.Schema

	// Logger receives structured debug logs. Defaults to a no-op logger.
	Logger *zerolog.Logger

	// Registerer, when set, enables Prometheus instrumentation of engine ops.
	Registerer prometheus.Registerer
}

func (c *Config) validate() {
	if c.Schema == nil {
		c.Schema = schema.New()
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
}

// Open opens a SQLite database for use with the engine. In-memory DSNs pin
// the pool to a single connection so every caller sees the same database.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// New creates an engine over an open database.
func New(db *sqlx.DB, cfg Config) *Store {
	cfg.validate()
	return &Store{
		db:      db,
		schema:  cfg.Schema,
		logger:  *cfg.Logger,
		metrics: metrics.New(cfg.Registerer),
	}
}

// Schema returns the injected schema handle.
func (s *Store) Schema() *schema.Schema {
	return s.schema
}

// CreateEntParams names the inputs of CreateEnt. The JSON tags match the
// action-log params mapping.
type CreateEntParams struct {
	// EntKey is the entity key; generated when empty.
	EntKey string `json:"ent_key,omitempty"`

	// EntPatches overrides entity columns (created, modified) at insert time.
	EntPatches map[string]any `json:"ent_patches,omitempty"`

	// Attrs is the initial attribute set.
	Attrs map[string]any `json:"attrs,omitempty"`
}

// UpdateEntParams names the inputs of UpdateEnt.
type UpdateEntParams struct {
	EntKey string `json:"ent_key"`

	// EntPatches sets entity columns directly alongside the update.
	EntPatches map[string]any `json:"ent_patches,omitempty"`

	// AttrPatches replaces the named attributes.
	AttrPatches map[string]any `json:"attr_patches,omitempty"`

	// AttrDeletions removes the named attributes. A name in both patches and
	// deletions is deleted, not re-inserted.
	AttrDeletions []string `json:"attr_deletions,omitempty"`

	// EntModified, when non-zero, is the optimistic-concurrency guard: the
	// update fails with ErrStaleEnt unless the entity's modified column still
	// holds this value.
	EntModified int64 `json:"ent_modified,omitempty"`
}

// UpsertEntParams names the inputs of UpsertEnt.
type UpsertEntParams struct {
	EntKey        string         `json:"ent_key"`
	EntPatches    map[string]any `json:"ent_patches,omitempty"`
	AttrPatches   map[string]any `json:"attr_patches,omitempty"`
	AttrDeletions []string       `json:"attr_deletions,omitempty"`
}

// CreateEnt inserts a new entity and its attributes in one transaction, then
// re-reads it through the query path so the returned entity reflects exactly
// what was persisted. Fails with ErrKeyExists when the key is taken.
func (s *Store) CreateEnt(ctx context.Context, p CreateEntParams) (ent *Ent, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("create_ent", start, err) }()

	key := p.EntKey
	if key == "" {
		key = schema.GenerateKey()
	}
	patches, err := entPatchValues(p.EntPatches)
	if err != nil {
		return nil, err
	}

	now := schema.NowMillis()
	created := now
	if v, ok := patches["created"]; ok {
		created = v
	}
	modified := created
	if v, ok := patches["modified"]; ok {
		modified = v
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func(tx *sqlx.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ents (key, created, modified) VALUES (?, ?, ?)`,
		key, created, modified)
	if err != nil {
		if isKeyConflict(err) {
			return nil, fmt.Errorf("%w: %q", ErrKeyExists, key)
		}
		return nil, err
	}

	if len(p.Attrs) > 0 {
		if err = insertAttrs(ctx, tx, key, p.Attrs, now); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("ent_key", key).Int("attrs", len(p.Attrs)).
		Msg("created entity")

	ents, err := s.QueryEnts(ctx, Query{
		EntFilters: []EntFilter{{Col: "key", Op: "=", Arg: key}},
	})
	if err != nil {
		return nil, err
	}
	ent, ok := ents[key]
	if !ok {
		return nil, fmt.Errorf("eav: entity %q missing after create", key)
	}
	return ent, nil
}

// UpdateEnt mutates an entity's attribute set inside one atomic transaction:
// optional optimistic-concurrency check, deletion of every attribute named in
// patches or deletions, re-insertion of the surviving patches, and an
// unconditional advance of the entity's modified timestamp. Any failure rolls
// the whole transaction back.
func (s *Store) UpdateEnt(ctx context.Context, p UpdateEntParams) (err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("update_ent", start, err) }()

	patches, err := entPatchValues(p.EntPatches)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sqlx.Tx) {
		_ = tx.Rollback()
	}(tx)

	now := schema.NowMillis()

	if p.EntModified != 0 {
		res, err := tx.ExecContext(ctx,
			`UPDATE ents SET modified = ? WHERE key = ? AND modified = ?`,
			now, p.EntKey, p.EntModified)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("%w: %q", ErrStaleEnt, p.EntKey)
		}
	}

	if len(p.AttrPatches) > 0 || len(p.AttrDeletions) > 0 {
		if err = replaceAttrs(ctx, tx, p.EntKey, p.AttrPatches, p.AttrDeletions, now); err != nil {
			return err
		}
	}

	if err = patchEnt(ctx, tx, p.EntKey, patches, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return err
	}

	s.logger.Debug().Str("ent_key", p.EntKey).
		Int("patches", len(p.AttrPatches)).
		Int("deletions", len(p.AttrDeletions)).
		Msg("updated entity")
	return nil
}

// UpsertEnt attempts a create and falls back to an update when the key is
// already taken — and only then; every other create error propagates
// unchanged. Returns the created entity on the create path, nil on the update
// path. This is create-or-replace, not a merge: if creation races with a
// concurrent creator, the fallback update targets the now-existing row.
func (s *Store) UpsertEnt(ctx context.Context, p UpsertEntParams) (ent *Ent, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("upsert_ent", start, err) }()

	ent, err = s.CreateEnt(ctx, CreateEntParams{
		EntKey:     p.EntKey,
		EntPatches: p.EntPatches,
		Attrs:      p.AttrPatches,
	})
	if err == nil {
		return ent, nil
	}
	if !errors.Is(err, ErrKeyExists) {
		return nil, err
	}

	err = s.UpdateEnt(ctx, UpdateEntParams{
		EntKey:        p.EntKey,
		EntPatches:    p.EntPatches,
		AttrPatches:   p.AttrPatches,
		AttrDeletions: p.AttrDeletions,
	})
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// QueryEnts compiles the declarative query, executes it and folds the flat
// attribute-row stream into entities keyed by entity key.
func (s *Store) QueryEnts(ctx context.Context, q Query) (ents map[string]*Ent, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe("query_ents", start, err) }()

	stmt, args, err := compileQuery(s.schema, q)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("sql", stmt).Msg("compiled entity query")

	rows, err := s.db.QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raw []entAttrRow
	for rows.Next() {
		var r entAttrRow
		if err = rows.StructScan(&r); err != nil {
			return nil, err
		}
		raw = append(raw, r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return entsFromRows(raw)
}

// insertAttrs bulk-inserts codec-serialized attribute rows for one entity.
func insertAttrs(ctx context.Context, tx *sqlx.Tx, entKey string, attrs map[string]any, now int64) error {
	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO attrs (key, ent_key, attr, value, type, modified)
		VALUES (:key, :ent_key, :attr, :value, :type, :modified)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for name, v := range attrs {
		typ, text, err := SerializeValue(v)
		if err != nil {
			return err
		}
		row := attrInsertRow{
			Key:      schema.GenerateKey(),
			EntKey:   entKey,
			Attr:     name,
			Value:    text,
			Type:     sql.NullString{String: typ, Valid: typ != ""},
			Modified: now,
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("insert attr %q: %w", name, err)
		}
	}
	return nil
}

// replaceAttrs deletes every attribute named in patches or deletions, then
// re-inserts the patches that survive. Deletions take precedence: a name in
// both sets is deleted, not re-inserted. Replacement rather than in-place
// update keeps (ent_key, attr) functionally unique.
func replaceAttrs(ctx context.Context, tx *sqlx.Tx, entKey string, patches map[string]any, deletions []string, now int64) error {
	toDelete := make([]string, 0, len(patches)+len(deletions))
	for name := range patches {
		toDelete = append(toDelete, name)
	}
	toDelete = append(toDelete, deletions...)
	if len(toDelete) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		`DELETE FROM attrs WHERE ent_key = ? AND attr IN (?)`, entKey, toDelete)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	deleted := make(map[string]bool, len(deletions))
	for _, name := range deletions {
		deleted[name] = true
	}
	surviving := make(map[string]any, len(patches))
	for name, v := range patches {
		if !deleted[name] {
			surviving[name] = v
		}
	}
	if len(surviving) == 0 {
		return nil
	}
	return insertAttrs(ctx, tx, entKey, surviving, now)
}

// patchEnt advances the entity's modified timestamp and applies any direct
// column patches.
func patchEnt(ctx context.Context, tx *sqlx.Tx, entKey string, patches map[string]int64, now int64) error {
	assigns := []string{"modified = ?"}
	args := []any{now}
	for col, v := range patches {
		if col == "modified" {
			args[0] = v
			continue
		}
		assigns = append(assigns, col+" = ?")
		args = append(args, v)
	}
	args = append(args, entKey)

	_, err := tx.ExecContext(ctx,
		`UPDATE ents SET `+strings.Join(assigns, ", ")+` WHERE key = ?`, args...)
	return err
}

// entPatchValues validates direct entity-column patches. Only the timestamp
// columns can be patched; the key is immutable.
func entPatchValues(patches map[string]any) (map[string]int64, error) {
	if len(patches) == 0 {
		return nil, nil
	}
	out := make(map[string]int64, len(patches))
	for col, v := range patches {
		if col != "created" && col != "modified" {
			return nil, fmt.Errorf("eav: unknown entity column %q", col)
		}
		switch n := v.(type) {
		case int64:
			out[col] = n
		case int:
			out[col] = int64(n)
		case float64:
			out[col] = int64(n)
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("eav: entity column %q: %w", col, err)
			}
			out[col] = i
		default:
			return nil, fmt.Errorf("eav: entity column %q wants an integer timestamp, got %T", col, v)
		}
	}
	return out, nil
}
