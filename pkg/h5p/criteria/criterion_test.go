package criteria_test

import (
	"testing"

	"github.com/huandu/go-sqlbuilder"
	"github.com/stretchr/testify/assert"
	"github.com/tendant/simple-h5p/pkg/h5p/criteria"
)

type mapRow map[string]any

func (r mapRow) Column(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

func newSelect() *sqlbuilder.SelectBuilder {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id").From("hh5p_contents")
	return sb
}

func TestEqualCriterion_Apply(t *testing.T) {
	sb := newSelect()
	criteria.Equal("library_id", int64(7)).Apply(sb)

	query, args := sb.Build()
	assert.Equal(t, "SELECT id FROM hh5p_contents WHERE library_id = $1", query)
	assert.Equal(t, []interface{}{int64(7)}, args)
}

func TestEqualCriterion_Matches(t *testing.T) {
	row := mapRow{"library_id": int64(7), "author": "Ada"}

	assert.True(t, criteria.Equal("library_id", 7).Matches(row))
	assert.True(t, criteria.Equal("author", "Ada").Matches(row))
	assert.False(t, criteria.Equal("author", "ada").Matches(row))
	assert.False(t, criteria.Equal("missing", 1).Matches(row))
}

func TestLikeCriterion(t *testing.T) {
	sb := newSelect()
	criteria.Like("title", "Quiz_1").Apply(sb)

	query, args := sb.Build()
	assert.Equal(t, "SELECT id FROM hh5p_contents WHERE LOWER(title) LIKE $1", query)
	assert.Equal(t, []interface{}{`%quiz\_1%`}, args)

	assert.True(t, criteria.Like("title", "quiz").Matches(mapRow{"title": "Final QUIZ"}))
	assert.False(t, criteria.Like("title", "exam").Matches(mapRow{"title": "Final QUIZ"}))
}

func TestInCriterion(t *testing.T) {
	sb := newSelect()
	criteria.In("id", 1, 2).Apply(sb)
	query, args := sb.Build()
	assert.Equal(t, "SELECT id FROM hh5p_contents WHERE id IN ($1, $2)", query)
	assert.Len(t, args, 2)

	assert.True(t, criteria.In("id", 1, 2).Matches(mapRow{"id": int64(2)}))
	assert.False(t, criteria.In("id").Matches(mapRow{"id": int64(2)}))

	empty := newSelect()
	criteria.In("id").Apply(empty)
	query, _ = empty.Build()
	assert.Equal(t, "SELECT id FROM hh5p_contents WHERE 1 = 0", query)
}

func TestApplyAll_CombinesWithAnd(t *testing.T) {
	sb := newSelect()
	criteria.ApplyAll(sb, criteria.Equal("user_id", 3), nil, criteria.Equal("author", "Ada"))

	query, args := sb.Build()
	assert.Equal(t, "SELECT id FROM hh5p_contents WHERE user_id = $1 AND author = $2", query)
	assert.Equal(t, []interface{}{3, "Ada"}, args)

	row := mapRow{"user_id": 3, "author": "Ada"}
	assert.True(t, criteria.MatchAll(row, criteria.Equal("user_id", 3), criteria.Equal("author", "Ada")))
	assert.False(t, criteria.MatchAll(row, criteria.Equal("user_id", 4)))
}
