package api

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-h5p/pkg/h5p"
)

// Response is the JSON envelope of every API response
type Response struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    any                 `json:"data,omitempty"`
	Meta    *PaginationMeta     `json:"meta,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// PaginationMeta describes the page returned by a paginated listing
type PaginationMeta struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
}

func sendResponse(w http.ResponseWriter, r *http.Request, data any) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, Response{Success: true, Data: data})
}

// sendResponseForResource renders a listing. A nil page means the items
// were not paginated.
func sendResponseForResource[T any](w http.ResponseWriter, r *http.Request, items []T, page *h5p.Page[T]) {
	if items == nil {
		items = []T{}
	}
	resp := Response{Success: true, Data: items}
	if page != nil {
		resp.Meta = &PaginationMeta{
			CurrentPage: page.Page,
			PerPage:     page.PerPage,
			Total:       page.Total,
			LastPage:    page.LastPage,
		}
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

func sendError(w http.ResponseWriter, r *http.Request, message string, status int) {
	render.Status(r, status)
	render.JSON(w, r, Response{Success: false, Message: message})
}

func sendValidationError(w http.ResponseWriter, r *http.Request, errs map[string][]string) {
	render.Status(r, http.StatusUnprocessableEntity)
	render.JSON(w, r, Response{Success: false, Message: "The given data was invalid.", Errors: errs})
}
