package eav

import (
	"fmt"
	"strings"

	"github.com/kittclouds/eavstore/pkg/schema"
	"github.com/kittclouds/eavstore/pkg/sqlbuild"
)

// Query is a declarative filter/selection over entities and attributes. It is
// built in memory and consumed within a single QueryEnts call.
type Query struct {
	// AttrsToSelect restricts which attribute names come back. It narrows the
	// returned rows, not the entity set: entities with none of the named
	// attributes still surface with empty attrs.
	AttrsToSelect []string `json:"attrs_to_select,omitempty"`

	// AttrFilters narrow the entity set by attribute value or presence.
	AttrFilters []AttrFilter `json:"attr_filters,omitempty"`

	// EntFilters compare directly against entity columns.
	EntFilters []EntFilter `json:"ent_filters,omitempty"`
}

// AttrFilter is a predicate over one attribute name: either a binary
// comparison on its value or an existence check. Ops may carry the "! "
// negation prefix.
type AttrFilter struct {
	Attr string `json:"attr"`
	Op   string `json:"op"`
	Arg  any    `json:"arg,omitempty"`
}

// EntFilter is a binary comparison against a named entity column.
type EntFilter struct {
	Col string `json:"col"`
	Op  string `json:"op"`
	Arg any    `json:"arg,omitempty"`
}

// Filter operators.
const (
	existenceOp    = "EXISTS"
	negationMarker = "! "
)

var binaryOps = map[string]bool{
	"=": true, "<": true, ">": true, "<=": true, ">=": true, "LIKE": true,
}

type parsedOp struct {
	op      string
	negated bool
}

// parseOp strips exactly one leading negation marker.
func parseOp(op string) parsedOp {
	if rest, ok := strings.CutPrefix(op, negationMarker); ok {
		return parsedOp{op: rest, negated: true}
	}
	return parsedOp{op: op}
}

type filterKind int

const (
	filterBinary filterKind = iota
	filterExistence
)

func classifyOp(op string) (filterKind, error) {
	base := parseOp(op).op
	switch {
	case binaryOps[base]:
		return filterBinary, nil
	case base == existenceOp:
		return filterExistence, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFilter, op)
	}
}

type filterJoin struct {
	sub sqlbuild.SelectStmt
	as  string
	on  sqlbuild.Expr
}

// queryComponents is the in-progress join graph and predicate list for one
// compiled statement. It is threaded by value through the transformer steps
// below; each step returns a new state and never mutates slices shared with a
// previous state.
type queryComponents struct {
	ents     sqlbuild.Alias // outer_ents
	attrs    sqlbuild.Alias // outer_attrs
	attrsDef sqlbuild.Table // for fresh per-filter aliases
	cols     []sqlbuild.Projection
	baseOn   []sqlbuild.Expr // ON conditions of the base left join
	joins    []filterJoin    // one inner join per binary attr filter
	wheres   []sqlbuild.Expr
	aliasSeq int
}

func baseComponents(sc *schema.Schema) queryComponents {
	ents := sc.Ents.Alias("outer_ents")
	attrs := sc.Attrs.Alias("outer_attrs")
	return queryComponents{
		ents:     ents,
		attrs:    attrs,
		attrsDef: sc.Attrs,
		cols: []sqlbuild.Projection{
			sqlbuild.P(attrs.Col("attr"), "attr"),
			sqlbuild.P(attrs.Col("value"), "value"),
			sqlbuild.P(attrs.Col("type"), "type"),
			sqlbuild.P(ents.Col("key"), "ent_key"),
			sqlbuild.P(ents.Col("modified"), "ent_modified"),
		},
		baseOn: []sqlbuild.Expr{
			sqlbuild.EqCols(attrs.Col("ent_key"), ents.Col("key")),
		},
	}
}

func (c queryComponents) nextAlias(prefix string) (queryComponents, string) {
	name := fmt.Sprintf("%s%d", prefix, c.aliasSeq)
	c.aliasSeq++
	return c, name
}

// withAttrsToSelect restricts the base left join to the named attributes. The
// condition lives in the ON clause so attribute-less entities keep surfacing.
func (c queryComponents) withAttrsToSelect(names []string) queryComponents {
	vals := make([]any, len(names))
	for i, n := range names {
		vals[i] = n
	}
	c.baseOn = cloneAppend(c.baseOn, sqlbuild.In(c.attrs.Col("attr"), vals))
	return c
}

// withAttrFilter classifies and applies one attribute-level filter.
func (c queryComponents) withAttrFilter(f AttrFilter) (queryComponents, error) {
	kind, err := classifyOp(f.Op)
	if err != nil {
		return c, err
	}
	if kind == filterExistence {
		return c.withAttrExistenceFilter(f), nil
	}
	return c.withAttrBinaryFilter(f), nil
}

// withAttrBinaryFilter joins a fresh subquery over attrs restricted to the
// filter's attribute name and passing the comparison. Each binary filter
// narrows to entities owning at least one matching attribute row; filters on
// different names compose as an AND across independent joins.
func (c queryComponents) withAttrBinaryFilter(f AttrFilter) queryComponents {
	c, name := c.nextAlias("flt")
	p := parseOp(f.Op)

	inner := c.attrsDef.Alias("a")
	cmp := sqlbuild.Cmp(inner.Col("value"), p.op, f.Arg)
	if p.negated {
		cmp = sqlbuild.Not(cmp)
	}
	sub := sqlbuild.Select().
		From(inner).
		Where(sqlbuild.Cmp(inner.Col("attr"), "=", f.Attr)).
		Where(cmp)

	join := filterJoin{
		sub: sub,
		as:  name,
		on: sqlbuild.EqCols(
			sqlbuild.Column{Table: name, Name: "ent_key"},
			c.ents.Col("key"),
		),
	}
	c.joins = cloneAppend(c.joins, join)
	return c
}

// withAttrExistenceFilter adds a correlated (NOT) EXISTS predicate over the
// outer entity. Unlike binary filters it introduces no extra join rows.
func (c queryComponents) withAttrExistenceFilter(f AttrFilter) queryComponents {
	c, name := c.nextAlias("ex")

	inner := c.attrsDef.Alias(name)
	sub := sqlbuild.Select(sqlbuild.P(inner.Col("ent_key"), "")).
		From(inner).
		Where(sqlbuild.Cmp(inner.Col("attr"), "=", f.Attr)).
		Where(sqlbuild.EqCols(inner.Col("ent_key"), c.ents.Col("key")))

	pred := sqlbuild.Exists(sub)
	if parseOp(f.Op).negated {
		pred = sqlbuild.Not(pred)
	}
	c.wheres = cloneAppend(c.wheres, pred)
	return c
}

// withEntFilter applies a binary comparison directly on an entity column.
func (c queryComponents) withEntFilter(f EntFilter) (queryComponents, error) {
	kind, err := classifyOp(f.Op)
	if err != nil {
		return c, err
	}
	if kind != filterBinary {
		return c, fmt.Errorf("%w: %q on entity column %q", ErrUnknownFilter, f.Op, f.Col)
	}
	if !c.ents.Table.HasColumn(f.Col) {
		return c, fmt.Errorf("eav: unknown entity column %q", f.Col)
	}

	p := parseOp(f.Op)
	pred := sqlbuild.Cmp(c.ents.Col(f.Col), p.op, f.Arg)
	if p.negated {
		pred = sqlbuild.Not(pred)
	}
	c.wheres = cloneAppend(c.wheres, pred)
	return c, nil
}

// toStatement compiles the accumulated components into one SELECT.
func (c queryComponents) toStatement() (string, []any) {
	stmt := sqlbuild.Select(c.cols...).
		From(c.ents).
		LeftJoin(c.attrs, sqlbuild.And(c.baseOn...))
	for _, j := range c.joins {
		stmt = stmt.JoinSubquery(j.sub, j.as, j.on)
	}
	for _, w := range c.wheres {
		stmt = stmt.Where(w)
	}
	return stmt.Compile()
}

// compileQuery turns a declarative Query into one executable statement. It
// never touches the store: a malformed filter fails here.
func compileQuery(sc *schema.Schema, q Query) (string, []any, error) {
	c := baseComponents(sc)
	if len(q.AttrsToSelect) > 0 {
		c = c.withAttrsToSelect(q.AttrsToSelect)
	}
	var err error
	for _, f := range q.AttrFilters {
		if c, err = c.withAttrFilter(f); err != nil {
			return "", nil, err
		}
	}
	for _, f := range q.EntFilters {
		if c, err = c.withEntFilter(f); err != nil {
			return "", nil, err
		}
	}
	sql, args := c.toStatement()
	return sql, args, nil
}

func cloneAppend[T any](s []T, v T) []T {
	out := make([]T, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}
