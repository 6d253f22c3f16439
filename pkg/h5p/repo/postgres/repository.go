package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/criteria"
)

const (
	contentsTable  = "hh5p_contents"
	librariesTable = "hh5p_libraries"
	usagesTable    = "hh5p_content_usages"

	columnPackageKey = "package_key"
)

var contentColumns = []string{
	h5p.ColumnID, h5p.ColumnUUID, h5p.ColumnTitle, h5p.ColumnLibraryID,
	h5p.ColumnUserID, h5p.ColumnAuthor, h5p.ColumnParams, h5p.ColumnMetadata,
	h5p.ColumnNonce, columnPackageKey, h5p.ColumnCreatedAt, h5p.ColumnUpdatedAt,
}

var libraryColumns = []string{
	"id", "machine_name", "major_version", "minor_version", "patch_version",
	"title", "runnable", "preloaded_js", "preloaded_css", "dependencies",
	"created_at", "updated_at",
}

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements h5p.Store using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "contents") {
				return fmt.Errorf("content already exists")
			}
			if strings.Contains(pgErr.ConstraintName, "libraries") {
				return fmt.Errorf("library already exists")
			}
			return fmt.Errorf("duplicate entry")
		case "23503": // foreign_key_violation
			if strings.Contains(pgErr.ConstraintName, "library") {
				return fmt.Errorf("%s: %w", operation, h5p.ErrLibraryNotFound)
			}
			if strings.Contains(pgErr.ConstraintName, "content") {
				return fmt.Errorf("%s: %w", operation, h5p.ErrContentNotFound)
			}
			return fmt.Errorf("referenced record not found")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Content operations

func (r *Repository) CreateContent(ctx context.Context, content *h5p.Content) error {
	query := `
		INSERT INTO hh5p_contents (
			uuid, title, library_id, user_id, author, params,
			metadata, nonce, package_key, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		content.UUID, content.Title, content.LibraryID, content.UserID,
		content.Author, jsonArg(content.Params), jsonArg(content.Metadata),
		content.Nonce, content.PackageKey, content.CreatedAt, content.UpdatedAt,
	).Scan(&content.ID)
	if err != nil {
		return r.handlePostgresError("create content", err)
	}

	return nil
}

func (r *Repository) GetContent(ctx context.Context, id int64) (*h5p.Content, error) {
	return r.getContent(ctx, h5p.ColumnID, id)
}

func (r *Repository) GetContentByUUID(ctx context.Context, id uuid.UUID) (*h5p.Content, error) {
	return r.getContent(ctx, h5p.ColumnUUID, id)
}

func (r *Repository) getContent(ctx context.Context, column string, value any) (*h5p.Content, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contentColumns...).From(contentsTable)
	criteria.Equal(column, value).Apply(sb)
	query, args := sb.Build()

	content, err := scanContent(r.db.QueryRow(ctx, query, args...), contentColumns)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, h5p.ErrContentNotFound
		}
		return nil, r.handlePostgresError("get content", err)
	}

	lib, err := r.GetLibrary(ctx, content.LibraryID)
	if err != nil && !errors.Is(err, h5p.ErrLibraryNotFound) {
		return nil, err
	}
	content.Library = lib
	return content, nil
}

func (r *Repository) UpdateContent(ctx context.Context, content *h5p.Content) error {
	query := `
		UPDATE hh5p_contents SET
			title = $2, library_id = $3, user_id = $4, author = $5,
			params = $6, metadata = $7, nonce = $8, package_key = $9,
			updated_at = $10
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		content.ID, content.Title, content.LibraryID, content.UserID,
		content.Author, jsonArg(content.Params), jsonArg(content.Metadata),
		content.Nonce, content.PackageKey, content.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update content", err)
	}
	if tag.RowsAffected() == 0 {
		return h5p.ErrContentNotFound
	}

	return nil
}

// DeleteContent removes a content. Its usages go with it through ON DELETE CASCADE.
func (r *Repository) DeleteContent(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM hh5p_contents WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete content", err)
	}
	if tag.RowsAffected() == 0 {
		return h5p.ErrContentNotFound
	}
	return nil
}

func (r *Repository) FindContents(ctx context.Context, cs []criteria.Criterion, columns []string, limit, offset int) ([]*h5p.Content, error) {
	if len(columns) == 0 {
		columns = contentColumns
	}
	for _, column := range columns {
		if !isContentColumn(column) {
			return nil, fmt.Errorf("unknown content column %q", column)
		}
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...).From(contentsTable)
	criteria.ApplyAll(sb, cs...)
	sb.OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		sb.Limit(limit)
	}
	// negative offsets are treated as zero
	if offset > 0 {
		sb.Offset(offset)
	}
	query, args := sb.Build()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("find contents", err)
	}
	defer rows.Close()

	var contents []*h5p.Content
	for rows.Next() {
		content, err := scanContent(rows, columns)
		if err != nil {
			return nil, r.handlePostgresError("scan content", err)
		}
		contents = append(contents, content)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("find contents", err)
	}

	if err := r.attachLibraries(ctx, contents); err != nil {
		return nil, err
	}
	return contents, nil
}

func (r *Repository) CountContents(ctx context.Context, cs []criteria.Criterion) (int64, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("COUNT(*)").From(contentsTable)
	criteria.ApplyAll(sb, cs...)
	query, args := sb.Build()

	var count int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, r.handlePostgresError("count contents", err)
	}
	return count, nil
}

// attachLibraries loads the libraries of contents with a single IN query.
func (r *Repository) attachLibraries(ctx context.Context, contents []*h5p.Content) error {
	seen := make(map[int64]bool)
	var ids []any
	for _, content := range contents {
		if content.LibraryID == 0 || seen[content.LibraryID] {
			continue
		}
		seen[content.LibraryID] = true
		ids = append(ids, content.LibraryID)
	}
	if len(ids) == 0 {
		return nil
	}

	libs, err := r.findLibraries(ctx, criteria.In("id", ids...))
	if err != nil {
		return err
	}
	byID := make(map[int64]*h5p.Library, len(libs))
	for _, lib := range libs {
		byID[lib.ID] = lib
	}
	for _, content := range contents {
		content.Library = byID[content.LibraryID]
	}
	return nil
}

func isContentColumn(name string) bool {
	for _, column := range contentColumns {
		if column == name {
			return true
		}
	}
	return false
}

func scanContent(row pgx.Row, columns []string) (*h5p.Content, error) {
	content := &h5p.Content{}
	var params, metadata []byte
	dest := make([]any, 0, len(columns))
	for _, column := range columns {
		switch column {
		case h5p.ColumnID:
			dest = append(dest, &content.ID)
		case h5p.ColumnUUID:
			dest = append(dest, &content.UUID)
		case h5p.ColumnTitle:
			dest = append(dest, &content.Title)
		case h5p.ColumnLibraryID:
			dest = append(dest, &content.LibraryID)
		case h5p.ColumnUserID:
			dest = append(dest, &content.UserID)
		case h5p.ColumnAuthor:
			dest = append(dest, &content.Author)
		case h5p.ColumnParams:
			dest = append(dest, &params)
		case h5p.ColumnMetadata:
			dest = append(dest, &metadata)
		case h5p.ColumnNonce:
			dest = append(dest, &content.Nonce)
		case columnPackageKey:
			dest = append(dest, &content.PackageKey)
		case h5p.ColumnCreatedAt:
			dest = append(dest, &content.CreatedAt)
		case h5p.ColumnUpdatedAt:
			dest = append(dest, &content.UpdatedAt)
		}
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		content.Params = params
	}
	if len(metadata) > 0 {
		content.Metadata = metadata
	}
	return content, nil
}

// jsonArg binds raw JSON to a nullable JSONB column.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// Library operations

// SaveLibrary inserts library or updates the row with the same
// machine name and major/minor version.
func (r *Repository) SaveLibrary(ctx context.Context, library *h5p.Library) error {
	js, err := json.Marshal(nonNilStrings(library.PreloadedJS))
	if err != nil {
		return err
	}
	css, err := json.Marshal(nonNilStrings(library.PreloadedCSS))
	if err != nil {
		return err
	}
	deps := library.Dependencies
	if deps == nil {
		deps = []h5p.LibraryRef{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO hh5p_libraries (
			machine_name, major_version, minor_version, patch_version, title,
			runnable, preloaded_js, preloaded_css, dependencies, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (machine_name, major_version, minor_version) DO UPDATE SET
			patch_version = EXCLUDED.patch_version,
			title = EXCLUDED.title,
			runnable = EXCLUDED.runnable,
			preloaded_js = EXCLUDED.preloaded_js,
			preloaded_css = EXCLUDED.preloaded_css,
			dependencies = EXCLUDED.dependencies,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		library.MachineName, library.MajorVersion, library.MinorVersion,
		library.PatchVersion, library.Title, library.Runnable,
		string(js), string(css), string(depsJSON),
		library.CreatedAt, library.UpdatedAt,
	).Scan(&library.ID)
	if err != nil {
		return r.handlePostgresError("save library", err)
	}
	return nil
}

func (r *Repository) GetLibrary(ctx context.Context, id int64) (*h5p.Library, error) {
	return r.getLibrary(ctx, criteria.Equal("id", id))
}

func (r *Repository) GetLibraryByRef(ctx context.Context, ref h5p.LibraryRef) (*h5p.Library, error) {
	return r.getLibrary(ctx,
		criteria.Equal("machine_name", ref.MachineName),
		criteria.Equal("major_version", ref.MajorVersion),
		criteria.Equal("minor_version", ref.MinorVersion),
	)
}

func (r *Repository) getLibrary(ctx context.Context, cs ...criteria.Criterion) (*h5p.Library, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(libraryColumns...).From(librariesTable)
	criteria.ApplyAll(sb, cs...)
	query, args := sb.Build()

	lib, err := scanLibrary(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, h5p.ErrLibraryNotFound
		}
		return nil, r.handlePostgresError("get library", err)
	}
	return lib, nil
}

func (r *Repository) ListLibraries(ctx context.Context) ([]*h5p.Library, error) {
	libs, err := r.findLibraries(ctx)
	if err != nil {
		return nil, err
	}
	if libs == nil {
		libs = []*h5p.Library{}
	}
	return libs, nil
}

func (r *Repository) findLibraries(ctx context.Context, cs ...criteria.Criterion) ([]*h5p.Library, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(libraryColumns...).From(librariesTable)
	criteria.ApplyAll(sb, cs...)
	sb.OrderBy("machine_name", "major_version", "minor_version")
	query, args := sb.Build()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list libraries", err)
	}
	defer rows.Close()

	var libs []*h5p.Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan library", err)
		}
		libs = append(libs, lib)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list libraries", err)
	}
	return libs, nil
}

func scanLibrary(row pgx.Row) (*h5p.Library, error) {
	var lib h5p.Library
	var js, css, deps []byte
	err := row.Scan(
		&lib.ID, &lib.MachineName, &lib.MajorVersion, &lib.MinorVersion,
		&lib.PatchVersion, &lib.Title, &lib.Runnable, &js, &css, &deps,
		&lib.CreatedAt, &lib.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(js, &lib.PreloadedJS); err != nil {
		return nil, fmt.Errorf("failed to decode preloaded_js: %w", err)
	}
	if err := json.Unmarshal(css, &lib.PreloadedCSS); err != nil {
		return nil, fmt.Errorf("failed to decode preloaded_css: %w", err)
	}
	if err := json.Unmarshal(deps, &lib.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to decode dependencies: %w", err)
	}
	return &lib, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Usage operations

func (r *Repository) AddUsage(ctx context.Context, usage *h5p.ContentUsage) error {
	query := `
		INSERT INTO hh5p_content_usages (content_id, reference, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_id, reference) DO NOTHING`

	if _, err := r.db.Exec(ctx, query, usage.ContentID, usage.Reference, usage.CreatedAt); err != nil {
		return r.handlePostgresError("add usage", err)
	}
	return nil
}

func (r *Repository) RemoveUsage(ctx context.Context, contentID int64, reference string) error {
	query := `DELETE FROM hh5p_content_usages WHERE content_id = $1 AND reference = $2`
	if _, err := r.db.Exec(ctx, query, contentID, reference); err != nil {
		return r.handlePostgresError("remove usage", err)
	}
	return nil
}

func (r *Repository) ListUnusedContentIDs(ctx context.Context) ([]int64, error) {
	query := `
		SELECT c.id FROM hh5p_contents c
		WHERE NOT EXISTS (SELECT 1 FROM hh5p_content_usages u WHERE u.content_id = c.id)
		ORDER BY c.id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, r.handlePostgresError("list unused contents", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, r.handlePostgresError("scan content id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list unused contents", err)
	}
	return ids, nil
}

var _ h5p.Store = (*Repository)(nil)
