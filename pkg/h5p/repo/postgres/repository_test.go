package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/criteria"
)

func TestHandlePostgresError(t *testing.T) {
	r := &Repository{}

	err := r.handlePostgresError("create content", &pgconn.PgError{Code: "23503", ConstraintName: "hh5p_contents_library_fkey"})
	assert.ErrorIs(t, err, h5p.ErrLibraryNotFound)

	err = r.handlePostgresError("add usage", &pgconn.PgError{Code: "23503", ConstraintName: "hh5p_content_usages_content_fkey"})
	assert.ErrorIs(t, err, h5p.ErrContentNotFound)

	err = r.handlePostgresError("create content", &pgconn.PgError{Code: "23505", ConstraintName: "hh5p_contents_uuid_key"})
	assert.EqualError(t, err, "content already exists")

	err = r.handlePostgresError("find contents", &pgconn.PgError{Code: "42P01"})
	assert.Contains(t, err.Error(), "migration required")
}

func TestContentFilterSQL(t *testing.T) {
	libraryID := int64(3)
	filter := h5p.ContentFilter{Title: "Quiz", LibraryID: &libraryID}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(h5p.IndexColumns...).From(contentsTable)
	criteria.ApplyAll(sb, filter.Criteria()...)
	query, args := sb.Build()

	assert.Equal(t, "SELECT title, id, uuid, library_id, user_id, author FROM hh5p_contents WHERE LOWER(title) LIKE $1 AND library_id = $2", query)
	assert.Equal(t, []interface{}{"%quiz%", int64(3)}, args)
}

func setupRepository(t *testing.T) (*Repository, context.Context) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	require.NoError(t, Migrate(url))

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE hh5p_content_usages, hh5p_contents, hh5p_libraries RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return NewWithPool(pool), ctx
}

func TestRepository_Integration(t *testing.T) {
	repo, ctx := setupRepository(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	question := &h5p.Library{MachineName: "H5P.Question", MajorVersion: 1, MinorVersion: 5, PreloadedJS: []string{"scripts/question.js"}, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.SaveLibrary(ctx, question))

	multichoice := &h5p.Library{
		MachineName: "H5P.MultiChoice", MajorVersion: 1, MinorVersion: 16, Runnable: true,
		Dependencies: []h5p.LibraryRef{question.Ref()},
		CreatedAt:    now, UpdatedAt: now,
	}
	require.NoError(t, repo.SaveLibrary(ctx, multichoice))

	t.Run("LibraryUpsert", func(t *testing.T) {
		again := &h5p.Library{MachineName: "H5P.Question", MajorVersion: 1, MinorVersion: 5, PatchVersion: 9, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, repo.SaveLibrary(ctx, again))
		assert.Equal(t, question.ID, again.ID)

		lib, err := repo.GetLibraryByRef(ctx, multichoice.Ref())
		require.NoError(t, err)
		assert.True(t, lib.Runnable)
		assert.Equal(t, []h5p.LibraryRef{question.Ref()}, lib.Dependencies)

		_, err = repo.GetLibraryByRef(ctx, h5p.LibraryRef{MachineName: "H5P.Missing", MajorVersion: 1})
		assert.ErrorIs(t, err, h5p.ErrLibraryNotFound)
	})

	var created []*h5p.Content
	for i, title := range []string{"Math quiz", "History essay", "Math drill"} {
		content := &h5p.Content{
			UUID:      uuid.New(),
			Title:     title,
			LibraryID: multichoice.ID,
			UserID:    int64(i + 1),
			Author:    "instructor",
			Params:    []byte(`{"question":"?"}`),
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
			UpdatedAt: now,
		}
		require.NoError(t, repo.CreateContent(ctx, content))
		created = append(created, content)
	}

	t.Run("GetContent", func(t *testing.T) {
		content, err := repo.GetContent(ctx, created[0].ID)
		require.NoError(t, err)
		assert.Equal(t, "Math quiz", content.Title)
		assert.JSONEq(t, `{"question":"?"}`, string(content.Params))
		require.NotNil(t, content.Library)
		assert.Equal(t, "H5P.MultiChoice", content.Library.MachineName)

		byUUID, err := repo.GetContentByUUID(ctx, created[0].UUID)
		require.NoError(t, err)
		assert.Equal(t, created[0].ID, byUUID.ID)

		_, err = repo.GetContent(ctx, 999999)
		assert.ErrorIs(t, err, h5p.ErrContentNotFound)
	})

	t.Run("FindContents", func(t *testing.T) {
		cs := []criteria.Criterion{criteria.Like(h5p.ColumnTitle, "math")}
		contents, err := repo.FindContents(ctx, cs, h5p.IndexColumns, 0, 0)
		require.NoError(t, err)
		require.Len(t, contents, 2)
		assert.Equal(t, "Math drill", contents[0].Title)
		assert.NotNil(t, contents[0].Library)

		count, err := repo.CountContents(ctx, cs)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)

		page, err := repo.FindContents(ctx, nil, nil, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "History essay", page[0].Title)
	})

	t.Run("Usages", func(t *testing.T) {
		require.NoError(t, repo.AddUsage(ctx, &h5p.ContentUsage{ContentID: created[0].ID, Reference: "course:1", CreatedAt: now}))
		require.NoError(t, repo.AddUsage(ctx, &h5p.ContentUsage{ContentID: created[0].ID, Reference: "course:1", CreatedAt: now}))

		err := repo.AddUsage(ctx, &h5p.ContentUsage{ContentID: 999999, Reference: "course:1", CreatedAt: now})
		assert.ErrorIs(t, err, h5p.ErrContentNotFound)

		ids, err := repo.ListUnusedContentIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{created[1].ID, created[2].ID}, ids)
	})

	t.Run("UpdateAndDelete", func(t *testing.T) {
		content := created[1]
		content.Title = "Updated"
		require.NoError(t, repo.UpdateContent(ctx, content))

		got, err := repo.GetContent(ctx, content.ID)
		require.NoError(t, err)
		assert.Equal(t, "Updated", got.Title)

		require.NoError(t, repo.DeleteContent(ctx, content.ID))
		assert.ErrorIs(t, repo.DeleteContent(ctx, content.ID), h5p.ErrContentNotFound)
	})
}
