package eav

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/eavstore/pkg/schema"
)

const baseSelect = "SELECT outer_attrs.attr AS attr, outer_attrs.value AS value, " +
	"outer_attrs.type AS type, outer_ents.key AS ent_key, " +
	"outer_ents.modified AS ent_modified " +
	"FROM ents AS outer_ents " +
	"LEFT JOIN attrs AS outer_attrs ON outer_attrs.ent_key = outer_ents.key"

func TestCompileEmptyQuery(t *testing.T) {
	sql, args, err := compileQuery(schema.New(), Query{})
	require.NoError(t, err)
	require.Equal(t, baseSelect, sql)
	require.Empty(t, args)
}

func TestCompileAttrsToSelect(t *testing.T) {
	sql, args, err := compileQuery(schema.New(), Query{
		AttrsToSelect: []string{"name", "color"},
	})
	require.NoError(t, err)
	// The restriction lives in the join condition, not the WHERE clause, so
	// entities without the named attributes still produce a row.
	require.Equal(t,
		"SELECT outer_attrs.attr AS attr, outer_attrs.value AS value, "+
			"outer_attrs.type AS type, outer_ents.key AS ent_key, "+
			"outer_ents.modified AS ent_modified "+
			"FROM ents AS outer_ents "+
			"LEFT JOIN attrs AS outer_attrs ON "+
			"(outer_attrs.ent_key = outer_ents.key) AND (outer_attrs.attr IN (?, ?))",
		sql)
	require.Equal(t, []any{"name", "color"}, args)
}

func TestCompileBinaryAttrFilter(t *testing.T) {
	sql, args, err := compileQuery(schema.New(), Query{
		AttrFilters: []AttrFilter{{Attr: "color", Op: "=", Arg: "red"}},
	})
	require.NoError(t, err)
	require.Equal(t,
		baseSelect+
			" JOIN (SELECT * FROM attrs AS a WHERE (a.attr = ?) AND (a.value = ?)) AS flt0"+
			" ON flt0.ent_key = outer_ents.key",
		sql)
	require.Equal(t, []any{"color", "red"}, args)
}

func TestCompileNegatedBinaryAttrFilter(t *testing.T) {
	sql, args, err := compileQuery(schema.New(), Query{
		AttrFilters: []AttrFilter{{Attr: "color", Op: "! =", Arg: "red"}},
	})
	require.NoError(t, err)
	require.Contains(t, sql, "NOT (a.value = ?)")
	require.Equal(t, []any{"color", "red"}, args)
}

func TestCompileBinaryFiltersCompose(t *testing.T) {
	sql, args, err := compileQuery(schema.New(), Query{
		AttrFilters: []AttrFilter{
			{Attr: "color", Op: "=", Arg: "red"},
			{Attr: "size", Op: ">", Arg: float64(10)},
		},
	})
	require.NoError(t, err)
	// Two independent joins, one per filter, each under a fresh alias.
	require.Contains(t, sql, "AS flt0 ON flt0.ent_key = outer_ents.key")
	require.Contains(t, sql, "AS flt1 ON flt1.ent_key = outer_ents.key")
	require.Contains(t, sql, "a.value > ?")
	require.Equal(t, []any{"color", "red", "size", float64(10)}, args)
}

func TestCompileExistenceFilter(t *testing.T) {
	sql, args, err := compileQuery(schema.New(), Query{
		AttrFilters: []AttrFilter{{Attr: "color", Op: "EXISTS"}},
	})
	require.NoError(t, err)
	require.Equal(t,
		baseSelect+
			" WHERE EXISTS (SELECT ex0.ent_key FROM attrs AS ex0"+
			" WHERE (ex0.attr = ?) AND (ex0.ent_key = outer_ents.key))",
		sql)
	require.Equal(t, []any{"color"}, args)
}

func TestCompileNegatedExistenceFilter(t *testing.T) {
	sql, _, err := compileQuery(schema.New(), Query{
		AttrFilters: []AttrFilter{{Attr: "color", Op: "! EXISTS"}},
	})
	require.NoError(t, err)
	require.Contains(t, sql, "WHERE NOT (EXISTS (")
}

func TestCompileEntFilter(t *testing.T) {
	sql, args, err := compileQuery(schema.New(), Query{
		EntFilters: []EntFilter{{Col: "key", Op: "=", Arg: "k1"}},
	})
	require.NoError(t, err)
	require.Equal(t, baseSelect+" WHERE outer_ents.key = ?", sql)
	require.Equal(t, []any{"k1"}, args)
}

func TestCompileEntFilterRejectsExistence(t *testing.T) {
	_, _, err := compileQuery(schema.New(), Query{
		EntFilters: []EntFilter{{Col: "key", Op: "EXISTS"}},
	})
	require.ErrorIs(t, err, ErrUnknownFilter)
}

func TestCompileEntFilterRejectsUnknownColumn(t *testing.T) {
	_, _, err := compileQuery(schema.New(), Query{
		EntFilters: []EntFilter{{Col: "owner", Op: "=", Arg: "x"}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown entity column "owner"`)
}

func TestCompileUnknownOpFailsFast(t *testing.T) {
	for _, op := range []string{"BETWEEN", "!=", "! ", "exists", "!EXISTS"} {
		_, _, err := compileQuery(schema.New(), Query{
			AttrFilters: []AttrFilter{{Attr: "a", Op: op, Arg: 1}},
		})
		require.ErrorIs(t, err, ErrUnknownFilter, "op %q", op)
	}
}

func TestParseOpStripsSingleMarker(t *testing.T) {
	p := parseOp("! =")
	require.True(t, p.negated)
	require.Equal(t, "=", p.op)

	// Only one marker comes off; a doubled marker leaves an unknown op.
	p = parseOp("! ! =")
	require.True(t, p.negated)
	require.Equal(t, "! =", p.op)
	_, err := classifyOp("! ! =")
	require.ErrorIs(t, err, ErrUnknownFilter)
}
