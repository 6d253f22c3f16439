package h5p

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/tendant/simple-h5p/pkg/h5p/criteria"
)

// Store defines persistence for contents, libraries and usages
type Store interface {
	// Content operations
	CreateContent(ctx context.Context, content *Content) error
	GetContent(ctx context.Context, id int64) (*Content, error)
	GetContentByUUID(ctx context.Context, id uuid.UUID) (*Content, error)
	UpdateContent(ctx context.Context, content *Content) error
	DeleteContent(ctx context.Context, id int64) error

	// FindContents returns contents matching every criterion, newest first.
	// A limit of zero means no limit. Empty columns selects every column.
	FindContents(ctx context.Context, cs []criteria.Criterion, columns []string, limit, offset int) ([]*Content, error)
	CountContents(ctx context.Context, cs []criteria.Criterion) (int64, error)

	// Library operations
	SaveLibrary(ctx context.Context, library *Library) error
	GetLibrary(ctx context.Context, id int64) (*Library, error)
	GetLibraryByRef(ctx context.Context, ref LibraryRef) (*Library, error)
	ListLibraries(ctx context.Context) ([]*Library, error)

	// Usage operations
	AddUsage(ctx context.Context, usage *ContentUsage) error
	RemoveUsage(ctx context.Context, contentID int64, reference string) error
	ListUnusedContentIDs(ctx context.Context) ([]int64, error)
}

// BlobStore defines the interface for package and library file storage
type BlobStore interface {
	Upload(ctx context.Context, key string, reader io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// ContentRepository is the content contract used by the HTTP layer.
type ContentRepository interface {
	List(ctx context.Context, filter ContentFilter, perPage, page int, columns []string) (*Page[*Content], error)
	UnpaginatedList(ctx context.Context, filter ContentFilter, columns []string) ([]*Content, error)
	Create(ctx context.Context, req CreateContentRequest) (int64, error)
	Edit(ctx context.Context, id int64, req EditContentRequest) (int64, error)
	Delete(ctx context.Context, id int64) (int64, error)
	Upload(ctx context.Context, req UploadRequest) (*Content, error)
	Download(ctx context.Context, id int64) (*Archive, error)
	DeleteUnused(ctx context.Context) ([]int64, error)

	GetByUUID(ctx context.Context, id uuid.UUID) (*Content, error)
	AddUsage(ctx context.Context, id int64, reference string) error
	RemoveUsage(ctx context.Context, id int64, reference string) error
	ListLibraries(ctx context.Context) ([]*Library, error)
}

// HeadlessService produces player settings for stored content.
type HeadlessService interface {
	GetContentSettings(ctx context.Context, id int64) (*ContentSettings, error)
	GetContentAPISettings(ctx context.Context, id int64) (*ContentAPISettings, error)
}
