package h5p

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tendant/simple-h5p/pkg/h5p/criteria"
)

// ContentFilter holds the list filters accepted by content listings.
type ContentFilter struct {
	Title     string
	LibraryID *int64
	UserID    *int64
	Author    string
}

// FieldError reports an invalid list filter value.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Message
}

// ContentFilterFromQuery reads title, library_id, user_id and author from q.
func ContentFilterFromQuery(q url.Values) (ContentFilter, error) {
	f := ContentFilter{
		Title:  strings.TrimSpace(q.Get("title")),
		Author: strings.TrimSpace(q.Get("author")),
	}

	var err error
	if f.LibraryID, err = optionalInt(q, "library_id"); err != nil {
		return ContentFilter{}, err
	}
	if f.UserID, err = optionalInt(q, "user_id"); err != nil {
		return ContentFilter{}, err
	}
	return f, nil
}

func optionalInt(q url.Values, key string) (*int64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, &FieldError{Field: key, Message: fmt.Sprintf("%s must be an integer", key)}
	}
	return &v, nil
}

// Criteria converts the filter to query criteria.
func (f ContentFilter) Criteria() []criteria.Criterion {
	var cs []criteria.Criterion
	if f.Title != "" {
		cs = append(cs, criteria.Like(ColumnTitle, f.Title))
	}
	if f.LibraryID != nil {
		cs = append(cs, criteria.Equal(ColumnLibraryID, *f.LibraryID))
	}
	if f.UserID != nil {
		cs = append(cs, criteria.Equal(ColumnUserID, *f.UserID))
	}
	if f.Author != "" {
		cs = append(cs, criteria.Equal(ColumnAuthor, f.Author))
	}
	return cs
}
