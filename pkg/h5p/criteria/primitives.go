package criteria

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// EqualCriterion restricts a query to rows where Key equals Value.
type EqualCriterion base

// Equal returns an EqualCriterion for key and value.
func Equal(key string, value any) *EqualCriterion {
	return &EqualCriterion{Key: key, Value: value}
}

func (c *EqualCriterion) Apply(sb *sqlbuilder.SelectBuilder) {
	sb.Where(sb.Equal(c.Key, c.Value))
}

func (c *EqualCriterion) Matches(row Row) bool {
	v, ok := row.Column(c.Key)
	if !ok {
		return false
	}
	return sameValue(v, c.Value)
}

// LikeCriterion restricts a query to rows where Key contains Value, ignoring case.
type LikeCriterion base

// Like returns a LikeCriterion for key and the substring value.
func Like(key string, value string) *LikeCriterion {
	return &LikeCriterion{Key: key, Value: value}
}

func (c *LikeCriterion) Apply(sb *sqlbuilder.SelectBuilder) {
	pattern := "%" + escapeLike(strings.ToLower(fmt.Sprint(c.Value))) + "%"
	sb.Where(sb.Like("LOWER("+c.Key+")", pattern))
}

func (c *LikeCriterion) Matches(row Row) bool {
	v, ok := row.Column(c.Key)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(fmt.Sprint(c.Value)))
}

// InCriterion restricts a query to rows where Key is one of Values.
type InCriterion struct {
	Key    string
	Values []any
}

// In returns an InCriterion for key and values.
func In(key string, values ...any) *InCriterion {
	return &InCriterion{Key: key, Values: values}
}

func (c *InCriterion) Apply(sb *sqlbuilder.SelectBuilder) {
	if len(c.Values) == 0 {
		// an empty set matches nothing
		sb.Where("1 = 0")
		return
	}
	sb.Where(sb.In(c.Key, c.Values...))
}

func (c *InCriterion) Matches(row Row) bool {
	v, ok := row.Column(c.Key)
	if !ok {
		return false
	}
	for _, want := range c.Values {
		if sameValue(v, want) {
			return true
		}
	}
	return false
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
