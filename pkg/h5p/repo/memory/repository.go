package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/criteria"
)

// Repository implements h5p.Store using in-memory storage
type Repository struct {
	mu            sync.RWMutex
	contents      map[int64]*h5p.Content
	contentByUUID map[uuid.UUID]int64
	libraries     map[int64]*h5p.Library
	libraryByRef  map[string]int64                       // "Machine.Name major.minor" -> library id
	usages        map[int64]map[string]*h5p.ContentUsage // content id -> reference -> usage
	nextContentID int64
	nextLibraryID int64
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		contents:      make(map[int64]*h5p.Content),
		contentByUUID: make(map[uuid.UUID]int64),
		libraries:     make(map[int64]*h5p.Library),
		libraryByRef:  make(map[string]int64),
		usages:        make(map[int64]map[string]*h5p.ContentUsage),
	}
}

// Content operations

func (r *Repository) CreateContent(ctx context.Context, content *h5p.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextContentID++
	content.ID = r.nextContentID

	contentCopy := *content
	contentCopy.Library = nil
	r.contents[content.ID] = &contentCopy
	r.contentByUUID[content.UUID] = content.ID
	return nil
}

func (r *Repository) GetContent(ctx context.Context, id int64) (*h5p.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	content, exists := r.contents[id]
	if !exists {
		return nil, h5p.ErrContentNotFound
	}
	return r.withLibrary(content), nil
}

func (r *Repository) GetContentByUUID(ctx context.Context, id uuid.UUID) (*h5p.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	contentID, exists := r.contentByUUID[id]
	if !exists {
		return nil, h5p.ErrContentNotFound
	}
	return r.withLibrary(r.contents[contentID]), nil
}

func (r *Repository) UpdateContent(ctx context.Context, content *h5p.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.contents[content.ID]; !exists {
		return h5p.ErrContentNotFound
	}
	contentCopy := *content
	contentCopy.Library = nil
	r.contents[content.ID] = &contentCopy
	return nil
}

func (r *Repository) DeleteContent(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	content, exists := r.contents[id]
	if !exists {
		return h5p.ErrContentNotFound
	}
	delete(r.contentByUUID, content.UUID)
	delete(r.contents, id)
	delete(r.usages, id)
	return nil
}

func (r *Repository) FindContents(ctx context.Context, cs []criteria.Criterion, columns []string, limit, offset int) ([]*h5p.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.match(cs)

	// newest first, ties broken by id
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*h5p.Content{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	result := make([]*h5p.Content, 0, len(matched))
	for _, content := range matched {
		result = append(result, project(r.withLibrary(content), columns))
	}
	return result, nil
}

func (r *Repository) CountContents(ctx context.Context, cs []criteria.Criterion) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.match(cs))), nil
}

func (r *Repository) match(cs []criteria.Criterion) []*h5p.Content {
	var matched []*h5p.Content
	for _, content := range r.contents {
		if criteria.MatchAll(content, cs...) {
			matched = append(matched, content)
		}
	}
	return matched
}

// withLibrary returns a copy of content with its library attached.
func (r *Repository) withLibrary(content *h5p.Content) *h5p.Content {
	contentCopy := *content
	if lib, ok := r.libraries[content.LibraryID]; ok {
		libCopy := *lib
		contentCopy.Library = &libCopy
	}
	return &contentCopy
}

// project keeps only the selected columns, mirroring a SQL projection.
func project(content *h5p.Content, columns []string) *h5p.Content {
	if len(columns) == 0 {
		return content
	}
	out := &h5p.Content{Library: content.Library}
	for _, column := range columns {
		switch column {
		case h5p.ColumnID:
			out.ID = content.ID
		case h5p.ColumnUUID:
			out.UUID = content.UUID
		case h5p.ColumnTitle:
			out.Title = content.Title
		case h5p.ColumnLibraryID:
			out.LibraryID = content.LibraryID
		case h5p.ColumnUserID:
			out.UserID = content.UserID
		case h5p.ColumnAuthor:
			out.Author = content.Author
		case h5p.ColumnParams:
			out.Params = content.Params
		case h5p.ColumnMetadata:
			out.Metadata = content.Metadata
		case h5p.ColumnNonce:
			out.Nonce = content.Nonce
		case h5p.ColumnCreatedAt:
			out.CreatedAt = content.CreatedAt
		case h5p.ColumnUpdatedAt:
			out.UpdatedAt = content.UpdatedAt
		}
	}
	return out
}

// Library operations

func (r *Repository) SaveLibrary(ctx context.Context, library *h5p.Library) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := library.Ref().String()
	if library.ID == 0 {
		if id, exists := r.libraryByRef[key]; exists {
			library.ID = id
		} else {
			r.nextLibraryID++
			library.ID = r.nextLibraryID
		}
	}

	libCopy := *library
	r.libraries[library.ID] = &libCopy
	r.libraryByRef[key] = library.ID
	return nil
}

func (r *Repository) GetLibrary(ctx context.Context, id int64) (*h5p.Library, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lib, exists := r.libraries[id]
	if !exists {
		return nil, h5p.ErrLibraryNotFound
	}
	libCopy := *lib
	return &libCopy, nil
}

func (r *Repository) GetLibraryByRef(ctx context.Context, ref h5p.LibraryRef) (*h5p.Library, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.libraryByRef[ref.String()]
	if !exists {
		return nil, h5p.ErrLibraryNotFound
	}
	libCopy := *r.libraries[id]
	return &libCopy, nil
}

func (r *Repository) ListLibraries(ctx context.Context) ([]*h5p.Library, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*h5p.Library, 0, len(r.libraries))
	for _, lib := range r.libraries {
		libCopy := *lib
		result = append(result, &libCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MachineName != result[j].MachineName {
			return result[i].MachineName < result[j].MachineName
		}
		if result[i].MajorVersion != result[j].MajorVersion {
			return result[i].MajorVersion < result[j].MajorVersion
		}
		return result[i].MinorVersion < result[j].MinorVersion
	})
	return result, nil
}

// Usage operations

func (r *Repository) AddUsage(ctx context.Context, usage *h5p.ContentUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.contents[usage.ContentID]; !exists {
		return h5p.ErrContentNotFound
	}
	refs, ok := r.usages[usage.ContentID]
	if !ok {
		refs = make(map[string]*h5p.ContentUsage)
		r.usages[usage.ContentID] = refs
	}
	usageCopy := *usage
	refs[usage.Reference] = &usageCopy
	return nil
}

func (r *Repository) RemoveUsage(ctx context.Context, contentID int64, reference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	refs := r.usages[contentID]
	delete(refs, reference)
	if len(refs) == 0 {
		delete(r.usages, contentID)
	}
	return nil
}

func (r *Repository) ListUnusedContentIDs(ctx context.Context) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := []int64{}
	for id := range r.contents {
		if len(r.usages[id]) == 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

var _ h5p.Store = (*Repository)(nil)
