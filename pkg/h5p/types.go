package h5p

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Content column names. Index listings select a subset of these.
const (
	ColumnID        = "id"
	ColumnUUID      = "uuid"
	ColumnTitle     = "title"
	ColumnLibraryID = "library_id"
	ColumnUserID    = "user_id"
	ColumnAuthor    = "author"
	ColumnParams    = "params"
	ColumnMetadata  = "metadata"
	ColumnNonce     = "nonce"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// IndexColumns are the columns returned by content listings.
var IndexColumns = []string{
	ColumnTitle,
	ColumnID,
	ColumnUUID,
	ColumnLibraryID,
	ColumnUserID,
	ColumnAuthor,
}

// Content is a stored piece of interactive content.
type Content struct {
	ID         int64           `json:"id"`
	UUID       uuid.UUID       `json:"uuid"`
	Title      string          `json:"title"`
	LibraryID  int64           `json:"library_id"`
	UserID     int64           `json:"user_id"`
	Author     string          `json:"author"`
	Params     json.RawMessage `json:"params,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Nonce      string          `json:"nonce,omitempty"`
	PackageKey string          `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`

	Library *Library `json:"library,omitempty"`
}

// Column implements criteria.Row. Table-qualified names are accepted.
func (c *Content) Column(name string) (any, bool) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case ColumnID:
		return c.ID, true
	case ColumnUUID:
		return c.UUID.String(), true
	case ColumnTitle:
		return c.Title, true
	case ColumnLibraryID:
		return c.LibraryID, true
	case ColumnUserID:
		return c.UserID, true
	case ColumnAuthor:
		return c.Author, true
	case ColumnNonce:
		return c.Nonce, true
	case ColumnCreatedAt:
		return c.CreatedAt, true
	case ColumnUpdatedAt:
		return c.UpdatedAt, true
	}
	return nil, false
}

// Library is an installed H5P library.
type Library struct {
	ID           int64        `json:"id"`
	MachineName  string       `json:"machine_name"`
	MajorVersion int          `json:"major_version"`
	MinorVersion int          `json:"minor_version"`
	PatchVersion int          `json:"patch_version"`
	Title        string       `json:"title"`
	Runnable     bool         `json:"runnable"`
	PreloadedJS  []string     `json:"preloaded_js,omitempty"`
	PreloadedCSS []string     `json:"preloaded_css,omitempty"`
	Dependencies []LibraryRef `json:"dependencies,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Ref returns the reference that identifies l.
func (l *Library) Ref() LibraryRef {
	return LibraryRef{MachineName: l.MachineName, MajorVersion: l.MajorVersion, MinorVersion: l.MinorVersion}
}

// Dir is the folder name of l inside packages and storage.
func (l *Library) Dir() string {
	return l.Ref().Dir()
}

// LibraryRef identifies a library by machine name and major/minor version.
type LibraryRef struct {
	MachineName  string `json:"machineName"`
	MajorVersion int    `json:"majorVersion"`
	MinorVersion int    `json:"minorVersion"`
}

// String renders r as "Machine.Name major.minor".
func (r LibraryRef) String() string {
	return fmt.Sprintf("%s %d.%d", r.MachineName, r.MajorVersion, r.MinorVersion)
}

// Dir renders r as "Machine.Name-major.minor".
func (r LibraryRef) Dir() string {
	return fmt.Sprintf("%s-%d.%d", r.MachineName, r.MajorVersion, r.MinorVersion)
}

// ContentUsage records that a content is referenced from somewhere else.
type ContentUsage struct {
	ContentID int64     `json:"content_id"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PerPage  int
	LastPage int
}

// NewPage computes LastPage from total and perPage.
func NewPage[T any](items []T, total int64, page, perPage int) *Page[T] {
	lastPage := 1
	if perPage > 0 && total > 0 {
		n := total / int64(perPage)
		if total%int64(perPage) != 0 {
			n++
		}
		lastPage = int(n)
	}
	return &Page[T]{Items: items, Total: total, Page: page, PerPage: perPage, LastPage: lastPage}
}

// CreateContentRequest contains parameters for creating content
type CreateContentRequest struct {
	Title   string
	Library string
	Params  string
	Nonce   string
	UserID  int64
	Author  string
}

// EditContentRequest contains parameters for editing content
type EditContentRequest struct {
	Title   string
	Library string
	Params  string
	Nonce   string
}

// UploadRequest carries an uploaded .h5p archive.
type UploadRequest struct {
	FileName string
	Reader   io.ReaderAt
	Size     int64
	UserID   int64
	Author   string
}

// Archive is an exported package ready to be streamed to a client.
type Archive struct {
	FileName string
	Size     int64
	Body     io.ReadCloser
}
