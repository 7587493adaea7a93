// Package sqlbuild is a small relational query builder: tables, aliases,
// predicates and joins compile into a single parameterized SELECT statement.
// Values are always bound as placeholders, never spliced into the SQL text.
package sqlbuild

import (
	"fmt"
	"strings"
)

// Table describes a relation by name and column set.
type Table struct {
	Name    string
	Columns []string
}

// Alias binds a table to an alias name for use in one statement.
func (t Table) Alias(name string) Alias {
	return Alias{Table: t, Name: name}
}

// HasColumn reports whether the table declares the named column.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Alias is a table under an alias name.
type Alias struct {
	Table Table
	Name  string
}

// Col references a column of the aliased table.
func (a Alias) Col(name string) Column {
	return Column{Table: a.Name, Name: name}
}

// Column is an alias-qualified column reference.
type Column struct {
	Table string
	Name  string
}

func (c Column) ref() string {
	return c.Table + "." + c.Name
}

// Expr is a predicate fragment with its bound arguments in order.
type Expr struct {
	SQL  string
	Args []any
}

// Cmp builds a binary comparison against a bound value.
// The operator is emitted verbatim; callers must pass a vetted operator.
func Cmp(c Column, op string, arg any) Expr {
	return Expr{SQL: fmt.Sprintf("%s %s ?", c.ref(), op), Args: []any{arg}}
}

// EqCols builds an equality between two columns, typically a join condition.
func EqCols(a, b Column) Expr {
	return Expr{SQL: fmt.Sprintf("%s = %s", a.ref(), b.ref())}
}

// In builds a set-membership predicate with one placeholder per value.
// Membership in the empty set compiles to a false predicate rather than the
// `IN ()` form SQLite rejects.
func In(c Column, vals []any) Expr {
	if len(vals) == 0 {
		return Expr{SQL: "1 = 0"}
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(vals)), ", ")
	return Expr{SQL: fmt.Sprintf("%s IN (%s)", c.ref(), marks), Args: vals}
}

// Not wraps a predicate in a logical negation.
func Not(e Expr) Expr {
	return Expr{SQL: "NOT (" + e.SQL + ")", Args: e.Args}
}

// And combines predicates; zero predicates compile to a tautology.
func And(exprs ...Expr) Expr {
	if len(exprs) == 0 {
		return Expr{SQL: "1 = 1"}
	}
	if len(exprs) == 1 {
		return exprs[0]
	}
	parts := make([]string, 0, len(exprs))
	var args []any
	for _, e := range exprs {
		parts = append(parts, "("+e.SQL+")")
		args = append(args, e.Args...)
	}
	return Expr{SQL: strings.Join(parts, " AND "), Args: args}
}

// Exists builds a correlated existence predicate over a subquery.
func Exists(sub SelectStmt) Expr {
	sql, args := sub.Compile()
	return Expr{SQL: "EXISTS (" + sql + ")", Args: args}
}

// Projection is one output column, optionally relabeled.
type Projection struct {
	Col Column
	As  string
}

// P is shorthand for a labeled projection.
func P(c Column, as string) Projection {
	return Projection{Col: c, As: as}
}

type joinClause struct {
	kind string // "JOIN" or "LEFT JOIN"
	tbl  Alias
	sub  *SelectStmt
	as   string
	on   Expr
}

// SelectStmt accumulates a join graph and predicate list for one SELECT.
// It is a value type: every method returns a new statement, leaving the
// receiver untouched, so partially-built statements can be shared safely.
type SelectStmt struct {
	cols   []Projection
	from   Alias
	joins  []joinClause
	wheres []Expr
}

// Select starts a statement projecting the given columns.
// With no projections the statement compiles to SELECT *.
func Select(cols ...Projection) SelectStmt {
	return SelectStmt{cols: cols}
}

// From sets the base relation.
func (s SelectStmt) From(a Alias) SelectStmt {
	s.from = a
	return s
}

// Join adds an inner join against an aliased table.
func (s SelectStmt) Join(a Alias, on Expr) SelectStmt {
	s.joins = appendCopy(s.joins, joinClause{kind: "JOIN", tbl: a, as: a.Name, on: on})
	return s
}

// LeftJoin adds a left outer join against an aliased table.
func (s SelectStmt) LeftJoin(a Alias, on Expr) SelectStmt {
	s.joins = appendCopy(s.joins, joinClause{kind: "LEFT JOIN", tbl: a, as: a.Name, on: on})
	return s
}

// JoinSubquery adds an inner join against a derived table.
func (s SelectStmt) JoinSubquery(sub SelectStmt, as string, on Expr) SelectStmt {
	s.joins = appendCopy(s.joins, joinClause{kind: "JOIN", sub: &sub, as: as, on: on})
	return s
}

// Where appends a predicate; all predicates are AND-combined at compile time.
func (s SelectStmt) Where(e Expr) SelectStmt {
	s.wheres = appendCopy(s.wheres, e)
	return s
}

// Compile renders the statement to SQL with its arguments in placeholder order:
// derived-table arguments first (in join order), then ON arguments, then WHERE.
func (s SelectStmt) Compile() (string, []any) {
	var b strings.Builder
	var args []any

	b.WriteString("SELECT ")
	if len(s.cols) == 0 {
		b.WriteString("*")
	} else {
		for i, p := range s.cols {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(p.Col.ref())
			if p.As != "" {
				b.WriteString(" AS " + p.As)
			}
		}
	}

	b.WriteString(" FROM " + s.from.Table.Name + " AS " + s.from.Name)

	for _, j := range s.joins {
		b.WriteString(" " + j.kind + " ")
		if j.sub != nil {
			subSQL, subArgs := j.sub.Compile()
			b.WriteString("(" + subSQL + ")")
			args = append(args, subArgs...)
		} else {
			b.WriteString(j.tbl.Table.Name)
		}
		b.WriteString(" AS " + j.as)
		if j.on.SQL != "" {
			b.WriteString(" ON " + j.on.SQL)
			args = append(args, j.on.Args...)
		}
	}

	if len(s.wheres) > 0 {
		cond := And(s.wheres...)
		b.WriteString(" WHERE " + cond.SQL)
		args = append(args, cond.Args...)
	}

	return b.String(), args
}

func appendCopy[T any](s []T, v T) []T {
	out := make([]T, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}
