package eav

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecuteSQLWriteCommits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.ExecuteSQL(ctx,
		`INSERT INTO ents (key, created, modified) VALUES (:key, :now, :now)`,
		map[string]any{"key": "raw1", "now": int64(1000)}, ModeWrite)
	require.NoError(t, err)
	require.Nil(t, res)

	ents, err := s.QueryEnts(ctx, Query{
		EntFilters: []EntFilter{{Col: "key", Op: "=", Arg: "raw1"}},
	})
	require.NoError(t, err)
	require.Len(t, ents, 1)
}

func TestExecuteSQLReadRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateEnt(ctx, CreateEntParams{EntKey: "keep"})
	require.NoError(t, err)

	// A mutation in read mode is discarded with the transaction.
	_, err = s.ExecuteSQL(ctx,
		`DELETE FROM ents WHERE key = :k`,
		map[string]any{"k": "keep"}, ModeRead)
	require.NoError(t, err)

	ents, err := s.QueryEnts(ctx, Query{
		EntFilters: []EntFilter{{Col: "key", Op: "=", Arg: "keep"}},
	})
	require.NoError(t, err)
	require.Len(t, ents, 1)

	// The identical statement in write mode takes effect, so the rollback
	// above discarded a mutation that really ran.
	_, err = s.ExecuteSQL(ctx,
		`DELETE FROM ents WHERE key = :k`,
		map[string]any{"k": "keep"}, ModeWrite)
	require.NoError(t, err)

	ents, err = s.QueryEnts(ctx, Query{
		EntFilters: []EntFilter{{Col: "key", Op: "=", Arg: "keep"}},
	})
	require.NoError(t, err)
	require.Empty(t, ents)
}

func TestExecuteSQLWriteMutationPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ExecuteSQL(ctx,
		`INSERT INTO ents (key, created, modified) VALUES (:key, :now, :now)`,
		map[string]any{"key": "counted", "now": int64(1000)}, ModeWrite)
	require.NoError(t, err)

	n, err := s.ExecuteSQL(ctx,
		`SELECT COUNT(*) AS n FROM ents WHERE key = :key`,
		map[string]any{"key": "counted"}, ModeRead)
	require.NoError(t, err)
	require.Equal(t, int64(1), n[0]["n"])
}

func TestExecuteSQLReturnsRowMaps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateEnt(ctx, CreateEntParams{
		EntKey: "e1",
		Attrs:  map[string]any{"name": "widget"},
	})
	require.NoError(t, err)

	rows, err := s.ExecuteSQL(ctx,
		`SELECT attr, value FROM attrs WHERE ent_key = :k`,
		map[string]any{"k": "e1"}, ModeRead)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "name", rows[0]["attr"])
	require.Equal(t, "widget", rows[0]["value"])
}

func TestExecuteSQLEmptyResultSet(t *testing.T) {
	s := newTestStore(t)

	rows, err := s.ExecuteSQL(context.Background(),
		`SELECT key FROM ents WHERE key = :k`,
		map[string]any{"k": "missing"}, ModeRead)
	require.NoError(t, err)
	require.NotNil(t, rows)
	require.Empty(t, rows)
}

func TestExecuteSQLNilParams(t *testing.T) {
	s := newTestStore(t)

	rows, err := s.ExecuteSQL(context.Background(),
		`SELECT COUNT(*) AS n FROM ents`, nil, ModeRead)
	require.NoError(t, err)
	require.Equal(t, int64(0), rows[0]["n"])
}

func TestExecuteSQLBadStatement(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ExecuteSQL(context.Background(),
		`SELECT FROM nowhere`, nil, ModeRead)
	require.Error(t, err)
}
