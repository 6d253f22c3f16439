// Package criteria holds the predicates used to filter content queries.
//
// A Criterion is applied to a go-sqlbuilder SelectBuilder by the postgres
// store and evaluated against rows by the in-memory store, so both stores
// filter the same way.
package criteria

import (
	"fmt"

	"github.com/huandu/go-sqlbuilder"
)

// Row exposes column values of a stored record by column name.
type Row interface {
	Column(name string) (any, bool)
}

// Criterion is a predicate applied to a query builder.
type Criterion interface {
	Apply(sb *sqlbuilder.SelectBuilder)
	Matches(row Row) bool
}

// ApplyAll applies every criterion to sb in order.
func ApplyAll(sb *sqlbuilder.SelectBuilder, cs ...Criterion) *sqlbuilder.SelectBuilder {
	for _, c := range cs {
		if c == nil {
			continue
		}
		c.Apply(sb)
	}
	return sb
}

// MatchAll reports whether row satisfies every criterion.
func MatchAll(row Row, cs ...Criterion) bool {
	for _, c := range cs {
		if c == nil {
			continue
		}
		if !c.Matches(row) {
			return false
		}
	}
	return true
}

// base carries the column key and value shared by the primitives.
type base struct {
	Key   string
	Value any
}

func sameValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}
