package h5p

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultPerPage is the page size used when a listing does not ask for one.
const DefaultPerPage = 15

// MaxPerPage caps the page size of paginated listings.
const MaxPerPage = 100

// Option configures a content repository.
type Option func(*contentRepository) error

// WithStore sets the persistence store.
func WithStore(store Store) Option {
	return func(r *contentRepository) error {
		if store == nil {
			return errors.New("store is required")
		}
		r.store = store
		return nil
	}
}

// WithBlobStore sets the storage used for packages, exports and library files.
func WithBlobStore(blobs BlobStore) Option {
	return func(r *contentRepository) error {
		if blobs == nil {
			return errors.New("blob store is required")
		}
		r.blobs = blobs
		return nil
	}
}

type contentRepository struct {
	store Store
	blobs BlobStore
	now   func() time.Time
}

// NewContentRepository creates the content repository used by the HTTP layer.
func NewContentRepository(opts ...Option) (ContentRepository, error) {
	r := &contentRepository{now: time.Now}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.store == nil {
		return nil, errors.New("store is required")
	}
	if r.blobs == nil {
		return nil, errors.New("blob store is required")
	}
	return r, nil
}

func (r *contentRepository) List(ctx context.Context, filter ContentFilter, perPage, page int, columns []string) (*Page[*Content], error) {
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	if page < 1 {
		page = 1
	}

	cs := filter.Criteria()
	total, err := r.store.CountContents(ctx, cs)
	if err != nil {
		return nil, fmt.Errorf("failed to count contents: %w", err)
	}
	result := NewPage([]*Content{}, total, page, perPage)
	// pages past the last one are empty; the offset below stays within total
	if page > result.LastPage {
		return result, nil
	}
	items, err := r.store.FindContents(ctx, cs, columns, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	result.Items = items
	return result, nil
}

func (r *contentRepository) UnpaginatedList(ctx context.Context, filter ContentFilter, columns []string) ([]*Content, error) {
	items, err := r.store.FindContents(ctx, filter.Criteria(), columns, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	return items, nil
}

func (r *contentRepository) Create(ctx context.Context, req CreateContentRequest) (int64, error) {
	lib, err := r.resolveLibrary(ctx, req.Library)
	if err != nil {
		return 0, err
	}
	params, metadata, err := splitParams(req.Params)
	if err != nil {
		return 0, err
	}

	now := r.now().UTC()
	content := &Content{
		UUID:      uuid.New(),
		Title:     titleOrMetadata(req.Title, metadata),
		LibraryID: lib.ID,
		UserID:    req.UserID,
		Author:    req.Author,
		Params:    params,
		Metadata:  metadata,
		Nonce:     req.Nonce,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateContent(ctx, content); err != nil {
		return 0, fmt.Errorf("failed to create content: %w", err)
	}

	slog.Info("Content created", "content_id", content.ID, "library", lib.Ref().String())
	return content.ID, nil
}

func (r *contentRepository) Edit(ctx context.Context, id int64, req EditContentRequest) (int64, error) {
	content, err := r.store.GetContent(ctx, id)
	if err != nil {
		return 0, &ContentError{ContentID: id, Op: "edit", Err: err}
	}
	lib, err := r.resolveLibrary(ctx, req.Library)
	if err != nil {
		return 0, err
	}
	params, metadata, err := splitParams(req.Params)
	if err != nil {
		return 0, err
	}

	content.Title = titleOrMetadata(req.Title, metadata)
	content.LibraryID = lib.ID
	content.Params = params
	content.Metadata = metadata
	content.Nonce = req.Nonce
	content.UpdatedAt = r.now().UTC()

	if err := r.store.UpdateContent(ctx, content); err != nil {
		return 0, &ContentError{ContentID: id, Op: "edit", Err: err}
	}

	slog.Info("Content updated", "content_id", id)
	return content.ID, nil
}

func (r *contentRepository) Delete(ctx context.Context, id int64) (int64, error) {
	content, err := r.store.GetContent(ctx, id)
	if err != nil {
		return 0, &ContentError{ContentID: id, Op: "delete", Err: err}
	}
	if err := r.store.DeleteContent(ctx, id); err != nil {
		return 0, &ContentError{ContentID: id, Op: "delete", Err: err}
	}

	for _, key := range []string{content.PackageKey, exportKey(content)} {
		if key == "" {
			continue
		}
		if err := r.blobs.Delete(ctx, key); err != nil && !errors.Is(err, ErrBlobNotFound) {
			slog.Warn("Failed to delete content blob", "content_id", id, "key", key, "error", err)
		}
	}

	slog.Info("Content deleted", "content_id", id)
	return id, nil
}

func (r *contentRepository) Upload(ctx context.Context, req UploadRequest) (*Content, error) {
	pkg, err := ReadPackage(req.Reader, req.Size)
	if err != nil {
		return nil, err
	}

	for _, manifest := range pkg.Libraries {
		if err := r.installLibrary(ctx, pkg, manifest); err != nil {
			return nil, err
		}
	}

	mainRef, err := mainLibraryRef(pkg.Manifest)
	if err != nil {
		return nil, err
	}
	lib, err := r.store.GetLibraryByRef(ctx, mainRef)
	if err != nil {
		return nil, fmt.Errorf("main library %s: %w", mainRef, err)
	}

	now := r.now().UTC()
	content := &Content{
		UUID:      uuid.New(),
		Title:     pkg.Manifest.Title,
		LibraryID: lib.ID,
		UserID:    req.UserID,
		Author:    req.Author,
		Params:    pkg.Params,
		Metadata:  manifestMetadata(pkg.Manifest),
		CreatedAt: now,
		UpdatedAt: now,
	}
	content.PackageKey = "packages/" + content.UUID.String() + ".h5p"

	if err := r.blobs.Upload(ctx, content.PackageKey, io.NewSectionReader(req.Reader, 0, req.Size)); err != nil {
		return nil, &StorageError{Key: content.PackageKey, Op: "upload", Err: err}
	}
	if err := r.store.CreateContent(ctx, content); err != nil {
		if delErr := r.blobs.Delete(ctx, content.PackageKey); delErr != nil {
			slog.Warn("Failed to remove orphaned package", "key", content.PackageKey, "error", delErr)
		}
		return nil, fmt.Errorf("failed to create content: %w", err)
	}

	slog.Info("Content uploaded", "content_id", content.ID, "file_name", req.FileName, "libraries", len(pkg.Libraries))
	content.Library = lib
	return content, nil
}

func (r *contentRepository) installLibrary(ctx context.Context, pkg *Package, manifest *LibraryManifest) error {
	lib := manifest.Library()
	existing, err := r.store.GetLibraryByRef(ctx, lib.Ref())
	switch {
	case err == nil:
		lib.ID = existing.ID
		lib.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrLibraryNotFound):
		lib.CreatedAt = r.now().UTC()
	default:
		return fmt.Errorf("failed to look up library %s: %w", lib.Ref(), err)
	}
	lib.UpdatedAt = r.now().UTC()

	if err := r.store.SaveLibrary(ctx, lib); err != nil {
		return fmt.Errorf("failed to save library %s: %w", lib.Ref(), err)
	}

	prefix := lib.Dir() + "/"
	for _, f := range pkg.Entries() {
		if !strings.HasPrefix(f.Name, prefix) {
			continue
		}
		if err := r.storeEntry(ctx, "libraries/"+f.Name, f); err != nil {
			return err
		}
	}
	return nil
}

func (r *contentRepository) storeEntry(ctx context.Context, key string, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrInvalidPackage, f.Name, err)
	}
	defer rc.Close()
	if err := r.blobs.Upload(ctx, key, rc); err != nil {
		return &StorageError{Key: key, Op: "upload", Err: err}
	}
	return nil
}

func (r *contentRepository) Download(ctx context.Context, id int64) (*Archive, error) {
	content, err := r.store.GetContent(ctx, id)
	if err != nil {
		return nil, &ContentError{ContentID: id, Op: "download", Err: err}
	}
	lib, err := r.store.GetLibrary(ctx, content.LibraryID)
	if err != nil {
		return nil, &ContentError{ContentID: id, Op: "download", Err: err}
	}
	deps, err := resolveDependencies(ctx, r.store, lib)
	if err != nil {
		return nil, &ContentError{ContentID: id, Op: "download", Err: err}
	}

	manifest := Manifest{
		Title:       content.Title,
		Language:    "und",
		MainLibrary: lib.MachineName,
		EmbedTypes:  []string{"iframe"},
	}
	for _, dep := range deps {
		manifest.PreloadedDependencies = append(manifest.PreloadedDependencies, dep.Ref())
	}

	var extra []*zip.File
	if content.PackageKey != "" {
		extra, err = r.packageEntries(ctx, content.PackageKey)
		if err != nil {
			return nil, &ContentError{ContentID: id, Op: "download", Err: err}
		}
	}

	var buf bytes.Buffer
	if err := WritePackage(&buf, manifest, content.Params, extra); err != nil {
		return nil, &ContentError{ContentID: id, Op: "download", Err: err}
	}

	key := exportKey(content)
	if err := r.blobs.Upload(ctx, key, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, &StorageError{Key: key, Op: "upload", Err: err}
	}

	return &Archive{
		FileName: fmt.Sprintf("%s-%d.h5p", slugify(content.Title), content.ID),
		Size:     int64(buf.Len()),
		Body:     io.NopCloser(bytes.NewReader(buf.Bytes())),
	}, nil
}

func (r *contentRepository) packageEntries(ctx context.Context, key string) ([]*zip.File, error) {
	rc, err := r.blobs.Download(ctx, key)
	if err != nil {
		return nil, &StorageError{Key: key, Op: "download", Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &StorageError{Key: key, Op: "read", Err: err}
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}
	return zr.File, nil
}

func (r *contentRepository) DeleteUnused(ctx context.Context) ([]int64, error) {
	ids, err := r.store.ListUnusedContentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unused contents: %w", err)
	}

	deleted := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, err := r.Delete(ctx, id); err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
	}

	slog.Info("Unused contents deleted", "count", len(deleted))
	return deleted, nil
}

func (r *contentRepository) GetByUUID(ctx context.Context, id uuid.UUID) (*Content, error) {
	return r.store.GetContentByUUID(ctx, id)
}

func (r *contentRepository) AddUsage(ctx context.Context, id int64, reference string) error {
	if strings.TrimSpace(reference) == "" {
		return errors.New("usage reference is required")
	}
	if _, err := r.store.GetContent(ctx, id); err != nil {
		return &ContentError{ContentID: id, Op: "add usage", Err: err}
	}
	return r.store.AddUsage(ctx, &ContentUsage{ContentID: id, Reference: reference, CreatedAt: r.now().UTC()})
}

func (r *contentRepository) RemoveUsage(ctx context.Context, id int64, reference string) error {
	return r.store.RemoveUsage(ctx, id, reference)
}

func (r *contentRepository) ListLibraries(ctx context.Context) ([]*Library, error) {
	return r.store.ListLibraries(ctx)
}

func (r *contentRepository) resolveLibrary(ctx context.Context, library string) (*Library, error) {
	ref, err := ParseLibraryRef(library)
	if err != nil {
		return nil, err
	}
	lib, err := r.store.GetLibraryByRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("library %s: %w", ref, err)
	}
	return lib, nil
}

// splitParams separates the editor's {"params": ..., "metadata": ...}
// envelope. Any other JSON document is taken as params as a whole.
func splitParams(raw string) (json.RawMessage, json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !json.Valid([]byte(raw)) {
		return nil, nil, ErrInvalidParams
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &envelope); err == nil {
		if params, ok := envelope["params"]; ok {
			return params, envelope["metadata"], nil
		}
	}
	return json.RawMessage(raw), nil, nil
}

func titleOrMetadata(title string, metadata json.RawMessage) string {
	if title != "" || len(metadata) == 0 {
		return title
	}
	var meta struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(metadata, &meta); err != nil {
		return title
	}
	return meta.Title
}

func mainLibraryRef(m Manifest) (LibraryRef, error) {
	for _, dep := range m.PreloadedDependencies {
		if dep.MachineName == m.MainLibrary {
			return dep, nil
		}
	}
	// some exporters write the full "Name major.minor" form
	if ref, err := ParseLibraryRef(m.MainLibrary); err == nil {
		return ref, nil
	}
	return LibraryRef{}, fmt.Errorf("%w: main library %s is not listed in preloadedDependencies", ErrInvalidPackage, m.MainLibrary)
}

func manifestMetadata(m Manifest) json.RawMessage {
	meta := struct {
		Title    string `json:"title"`
		License  string `json:"license,omitempty"`
		Language string `json:"defaultLanguage,omitempty"`
	}{Title: m.Title, License: m.License, Language: m.Language}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return data
}

func exportKey(c *Content) string {
	return "exports/" + c.UUID.String() + ".h5p"
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "content"
	}
	return slug
}
