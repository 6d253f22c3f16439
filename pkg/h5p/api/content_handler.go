package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-h5p/pkg/h5p"
	"github.com/tendant/simple-h5p/pkg/h5p/session"
)

// SessionRedirectKey holds the page the editor returns to after a save
const SessionRedirectKey = "contentRedirectUrl"

const defaultMaxUploadSize = 64 << 20

// Config holds the redirect targets and limits of a ContentHandler
type Config struct {
	DefaultRedirectURL string // used when the session has no contentRedirectUrl
	EditorURL          string // target of a failed upload
	Locale             string // flash message locale when the request names none
	MaxUploadSize      int64
	// RedirectHosts are the hosts an absolute contentRedirectUrl may point at.
	// Relative paths are always accepted.
	RedirectHosts []string
}

// ContentHandler handles HTTP requests for H5P contents
type ContentHandler struct {
	contents h5p.ContentRepository
	service  h5p.HeadlessService
	blobs    h5p.BlobStore
	sessions *session.Manager
	config   Config
}

// NewContentHandler creates a new content handler
func NewContentHandler(contents h5p.ContentRepository, service h5p.HeadlessService, blobs h5p.BlobStore, sessions *session.Manager, config Config) *ContentHandler {
	if config.MaxUploadSize <= 0 {
		config.MaxUploadSize = defaultMaxUploadSize
	}
	if config.DefaultRedirectURL == "" {
		config.DefaultRedirectURL = "/"
	}
	if config.EditorURL == "" {
		config.EditorURL = config.DefaultRedirectURL
	}
	return &ContentHandler{
		contents: contents,
		service:  service,
		blobs:    blobs,
		sessions: sessions,
		config:   config,
	}
}

// AdminRoutes returns the content management routes
func (h *ContentHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.sessions.Middleware)

	r.Get("/content", h.Index)
	r.Post("/content", h.Store)
	r.Post("/content/upload", h.Upload)
	r.Post("/content/{id:[0-9]+}", h.Update)
	r.Put("/content/{id:[0-9]+}", h.Update)
	r.Delete("/content/{id:[0-9]+}", h.Destroy)
	r.Get("/content/{id:[0-9]+}", h.Show)
	r.Get("/content/{id:[0-9]+}/export", h.Download)
	r.Post("/content/{id:[0-9]+}/usages", h.AddUsage)
	r.Delete("/content/{id:[0-9]+}/usages/{reference}", h.RemoveUsage)
	r.Delete("/unused", h.DeleteUnused)
	r.Get("/library", h.Libraries)
	r.Put("/redirect", h.SetRedirect)
	r.Get("/flashes", h.Flashes)

	return r
}

// PublicRoutes returns the player routes
func (h *ContentHandler) PublicRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/content/{uuid}", h.FrontShow)
	r.Get("/content/{uuid}/config", h.ShowConfig)
	r.Get("/libraries/*", h.Asset)

	return r
}

// MaintenanceRoutes returns the routes used by scheduled jobs
func (h *ContentHandler) MaintenanceRoutes() chi.Router {
	r := chi.NewRouter()

	r.Delete("/unused", h.DeleteUnused)

	return r
}

// ContentRequest is the request body for creating and updating a content
type ContentRequest struct {
	Title   string    `json:"title" form:"title" validate:"max=255"`
	Library string    `json:"library" form:"library" validate:"required,max=255"`
	Params  rawString `json:"params" form:"params" validate:"required,json"`
	Nonce   string    `json:"nonce" form:"nonce" validate:"max=255"`
}

// UsageRequest is the request body for registering a content usage
type UsageRequest struct {
	Reference string `json:"reference" form:"reference" validate:"required,max=255"`
}

// RedirectRequest is the request body for setting the post-save redirect
type RedirectRequest struct {
	URL string `json:"url" form:"url" validate:"required,uri,max=2048"`
}

// ContentIndexResource is one row of the content listing
type ContentIndexResource struct {
	ID        int64     `json:"id"`
	UUID      uuid.UUID `json:"uuid"`
	Title     string    `json:"title"`
	LibraryID int64     `json:"library_id"`
	Library   string    `json:"library,omitempty"`
	UserID    int64     `json:"user_id"`
	Author    string    `json:"author"`
}

func toIndexResource(c *h5p.Content) ContentIndexResource {
	res := ContentIndexResource{
		ID:        c.ID,
		UUID:      c.UUID,
		Title:     c.Title,
		LibraryID: c.LibraryID,
		UserID:    c.UserID,
		Author:    c.Author,
	}
	if c.Library != nil {
		res.Library = c.Library.Ref().String()
	}
	return res
}

// Index lists contents, filtered and paginated
func (h *ContentHandler) Index(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := h5p.ContentFilterFromQuery(q)
	if err != nil {
		var fe *h5p.FieldError
		if errors.As(err, &fe) {
			sendValidationError(w, r, map[string][]string{fe.Field: {fe.Message}})
			return
		}
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	perPage, err := optionalQueryInt(q.Get("per_page"))
	if err != nil || (perPage != nil && (*perPage < 0 || *perPage > h5p.MaxPerPage)) {
		sendValidationError(w, r, map[string][]string{"per_page": {fmt.Sprintf("per_page must be an integer between 0 and %d", h5p.MaxPerPage)}})
		return
	}
	page, err := optionalQueryInt(q.Get("page"))
	if err != nil {
		sendValidationError(w, r, map[string][]string{"page": {"page must be an integer"}})
		return
	}

	if perPage != nil && *perPage == 0 {
		items, err := h.contents.UnpaginatedList(r.Context(), filter, h5p.IndexColumns)
		if err != nil {
			slog.Error("Failed to list contents", "error", err)
			sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		sendResponseForResource(w, r, mapContents(items), nil)
		return
	}

	size, number := h5p.DefaultPerPage, 1
	if perPage != nil {
		size = *perPage
	}
	if page != nil {
		number = *page
	}
	result, err := h.contents.List(r.Context(), filter, size, number, h5p.IndexColumns)
	if err != nil {
		slog.Error("Failed to list contents", "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	resources := mapContents(result.Items)
	sendResponseForResource(w, r, resources, &h5p.Page[ContentIndexResource]{
		Items:    resources,
		Total:    result.Total,
		Page:     result.Page,
		PerPage:  result.PerPage,
		LastPage: result.LastPage,
	})
}

func mapContents(items []*h5p.Content) []ContentIndexResource {
	resources := make([]ContentIndexResource, 0, len(items))
	for _, c := range items {
		resources = append(resources, toIndexResource(c))
	}
	return resources
}

// Store creates a content from the editor
func (h *ContentHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !h.decode(w, r, &req) {
		return
	}

	claims := ClaimsFromContext(r.Context())
	id, err := h.contents.Create(r.Context(), h5p.CreateContentRequest{
		Title:   req.Title,
		Library: req.Library,
		Params:  string(req.Params),
		Nonce:   req.Nonce,
		UserID:  claims.UserID,
		Author:  claims.Author,
	})
	if err != nil {
		slog.Error("Failed to create content", "library", req.Library, "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponse(w, r, map[string]any{"id": id, "contentRedirectUrl": h.redirectURL(r)})
}

// Update edits a content from the editor
func (h *ContentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.contentID(w, r)
	if !ok {
		return
	}
	var req ContentRequest
	if !h.decode(w, r, &req) {
		return
	}

	contentID, err := h.contents.Edit(r.Context(), id, h5p.EditContentRequest{
		Title:   req.Title,
		Library: req.Library,
		Params:  string(req.Params),
		Nonce:   req.Nonce,
	})
	if err != nil {
		slog.Error("Failed to update content", "content_id", id, "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponse(w, r, map[string]any{"id": contentID, "contentRedirectUrl": h.redirectURL(r)})
}

// Destroy deletes a content
func (h *ContentHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.contentID(w, r)
	if !ok {
		return
	}

	contentID, err := h.contents.Delete(r.Context(), id)
	if err != nil {
		slog.Error("Failed to delete content", "content_id", id, "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponse(w, r, map[string]any{"id": contentID})
}

// Show returns the player settings of a content for administrators
func (h *ContentHandler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.contentID(w, r)
	if !ok {
		return
	}

	settings, err := h.service.GetContentSettings(r.Context(), id)
	if err != nil {
		slog.Error("Failed to get content settings", "content_id", id, "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponse(w, r, settings)
}

// FrontShow returns the player settings of a content addressed by uuid
func (h *ContentHandler) FrontShow(w http.ResponseWriter, r *http.Request) {
	content, ok := h.contentByUUID(w, r)
	if !ok {
		return
	}

	settings, err := h.service.GetContentSettings(r.Context(), content.ID)
	if err != nil {
		slog.Error("Failed to get content settings", "content_id", content.ID, "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponse(w, r, settings)
}

// ShowConfig returns the headless configuration of a content addressed by uuid
func (h *ContentHandler) ShowConfig(w http.ResponseWriter, r *http.Request) {
	content, ok := h.contentByUUID(w, r)
	if !ok {
		return
	}

	settings, err := h.service.GetContentAPISettings(r.Context(), content.ID)
	if err != nil {
		slog.Error("Failed to get content API settings", "content_id", content.ID, "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponse(w, r, settings)
}

// Upload imports an .h5p package and redirects back to the caller
func (h *ContentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	locale := requestLocale(r, h.config.Locale)

	content, err := h.upload(w, r)
	if err != nil {
		slog.Error("Failed to upload content", "error", err)
		h.flash(r, session.FlashDanger, Localize(locale, MsgUploadFailed))
		http.Redirect(w, r, h.config.EditorURL, http.StatusFound)
		return
	}

	slog.Info("Content package imported", "content_id", content.ID, "uuid", content.UUID)
	h.flash(r, session.FlashSuccess, Localize(locale, MsgContentCreated))
	http.Redirect(w, r, h.redirectURL(r), http.StatusFound)
}

func (h *ContentHandler) upload(w http.ResponseWriter, r *http.Request) (*h5p.Content, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("failed to parse upload: %w", err)
	}
	file, header, err := r.FormFile("h5p_file")
	if err != nil {
		return nil, fmt.Errorf("h5p_file is required: %w", err)
	}
	defer file.Close()

	if !strings.EqualFold(path.Ext(header.Filename), ".h5p") && !strings.EqualFold(path.Ext(header.Filename), ".zip") {
		return nil, fmt.Errorf("%w: unexpected file name %q", h5p.ErrInvalidPackage, header.Filename)
	}

	claims := ClaimsFromContext(r.Context())
	return h.contents.Upload(r.Context(), h5p.UploadRequest{
		FileName: header.Filename,
		Reader:   file,
		Size:     header.Size,
		UserID:   claims.UserID,
		Author:   claims.Author,
	})
}

// Download streams an .h5p export of a content
func (h *ContentHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := h.contentID(w, r)
	if !ok {
		return
	}

	archive, err := h.contents.Download(r.Context(), id)
	if err != nil {
		slog.Error("Failed to export content", "content_id", id, "error", err)
		if errors.Is(err, h5p.ErrContentNotFound) {
			sendError(w, r, "Content not found", http.StatusNotFound)
			return
		}
		sendError(w, r, "Failed to export content", http.StatusInternalServerError)
		return
	}
	defer archive.Body.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, post-check=0, pre-check=0")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": archive.FileName}))
	if archive.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(archive.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, archive.Body); err != nil {
		slog.Error("Failed to stream content export", "content_id", id, "error", err)
	}
}

// DeleteUnused deletes every content without a usage
func (h *ContentHandler) DeleteUnused(w http.ResponseWriter, r *http.Request) {
	ids, err := h.contents.DeleteUnused(r.Context())
	if err != nil {
		slog.Error("Failed to delete unused contents", "deleted", len(ids), "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponse(w, r, map[string]any{"ids": ids})
}

// AddUsage registers a usage of a content
func (h *ContentHandler) AddUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.contentID(w, r)
	if !ok {
		return
	}
	var req UsageRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.contents.AddUsage(r.Context(), id, req.Reference); err != nil {
		slog.Error("Failed to add content usage", "content_id", id, "reference", req.Reference, "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponse(w, r, map[string]any{"id": id, "reference": req.Reference})
}

// RemoveUsage removes a usage of a content
func (h *ContentHandler) RemoveUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.contentID(w, r)
	if !ok {
		return
	}
	reference := chi.URLParam(r, "reference")

	if err := h.contents.RemoveUsage(r.Context(), id, reference); err != nil {
		slog.Error("Failed to remove content usage", "content_id", id, "reference", reference, "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponse(w, r, map[string]any{"id": id, "reference": reference})
}

// Libraries lists the installed libraries
func (h *ContentHandler) Libraries(w http.ResponseWriter, r *http.Request) {
	libs, err := h.contents.ListLibraries(r.Context())
	if err != nil {
		slog.Error("Failed to list libraries", "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponseForResource(w, r, libs, nil)
}

// SetRedirect stores the page the editor returns to after a save
func (h *ContentHandler) SetRedirect(w http.ResponseWriter, r *http.Request) {
	var req RedirectRequest
	if !h.decode(w, r, &req) {
		return
	}

	if !h.allowedRedirect(req.URL) {
		sendValidationError(w, r, map[string][]string{"url": {"url must be a relative path or an allowed host"}})
		return
	}

	if err := h.sessions.Put(r.Context(), SessionRedirectKey, req.URL); err != nil {
		slog.Error("Failed to store redirect url", "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponse(w, r, map[string]any{SessionRedirectKey: req.URL})
}

// Flashes returns and clears the session's flash messages
func (h *ContentHandler) Flashes(w http.ResponseWriter, r *http.Request) {
	flashes, err := h.sessions.Flashes(r.Context())
	if err != nil {
		slog.Error("Failed to read flash messages", "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sendResponseForResource(w, r, flashes, nil)
}

// Asset serves a file of an installed library
func (h *ContentHandler) Asset(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + chi.URLParam(r, "*"))
	key := "libraries" + name

	rc, err := h.blobs.Download(r.Context(), key)
	if err != nil {
		if errors.Is(err, h5p.ErrBlobNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("Failed to read library asset", "key", key, "error", err)
		http.Error(w, "Failed to read library asset", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("Failed to stream library asset", "key", key, "error", err)
	}
}

func (h *ContentHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	errs, err := decodeAndValidate(r, dst)
	if err != nil {
		sendError(w, r, err.Error(), http.StatusBadRequest)
		return false
	}
	if errs != nil {
		sendValidationError(w, r, errs)
		return false
	}
	return true
}

func (h *ContentHandler) contentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		slog.Error("Invalid content ID", "content_id", idStr, "error", err)
		sendError(w, r, "Invalid content ID", http.StatusNotFound)
		return 0, false
	}
	return id, true
}

func (h *ContentHandler) contentByUUID(w http.ResponseWriter, r *http.Request) (*h5p.Content, bool) {
	idStr := chi.URLParam(r, "uuid")
	id, err := uuid.Parse(idStr)
	if err != nil {
		sendError(w, r, "Content not found", http.StatusNotFound)
		return nil, false
	}

	content, err := h.contents.GetByUUID(r.Context(), id)
	if err != nil {
		if errors.Is(err, h5p.ErrContentNotFound) {
			sendError(w, r, "Content not found", http.StatusNotFound)
			return nil, false
		}
		slog.Error("Failed to get content", "uuid", idStr, "error", err)
		sendError(w, r, err.Error(), http.StatusUnprocessableEntity)
		return nil, false
	}
	return content, true
}

// redirectURL is the session's contentRedirectUrl or the configured default
func (h *ContentHandler) redirectURL(r *http.Request) string {
	target, ok, err := h.sessions.Get(r.Context(), SessionRedirectKey)
	if err != nil {
		slog.Warn("Failed to read redirect url", "error", err)
	}
	if !ok || target == "" || !h.allowedRedirect(target) {
		return h.config.DefaultRedirectURL
	}
	return target
}

// allowedRedirect accepts same-site paths and URLs on a configured host.
func (h *ContentHandler) allowedRedirect(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" {
		// browsers treat "//host" and "/\host" as absolute
		return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	for _, host := range h.config.RedirectHosts {
		if strings.EqualFold(u.Hostname(), host) {
			return true
		}
	}
	return false
}

func (h *ContentHandler) flash(r *http.Request, level, message string) {
	if err := h.sessions.Flash(r.Context(), level, message); err != nil {
		slog.Warn("Failed to store flash message", "level", level, "error", err)
	}
}

func optionalQueryInt(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
