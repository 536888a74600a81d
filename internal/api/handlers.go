package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pageservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *pageservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *pageservice.Service) *Handler {
	return &Handler{svc: svc}
}

// pageName extracts the page name URL parameter, tolerating percent-encoded
// colons from strict clients (e.g. Projects%3AAnsuz).
func pageName(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListPages handles GET /api/pages.
//
//	@Summary		List pages, either one namespace level or the whole tree
//	@Tags			pages
//	@Produce		json
//	@Param			parent	query		string	false	"Namespace to list (empty = top level)"
//	@Param			all		query		bool	false	"List every page instead of one level"
//	@Success		200		{object}	PageListResponse
//	@Security		BearerAuth
//	@Router			/pages [get]
func (h *Handler) ListPages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		pages []models.PageMetadata
		err   error
	)
	if q.Get("all") == "true" {
		pages, err = h.svc.AllPages(r.Context())
	} else {
		pages, err = h.svc.ListPages(r.Context(), q.Get("parent"))
	}
	if err != nil {
		slog.Error("list pages failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if pages == nil {
		pages = []models.PageMetadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pages": pages,
		"total": len(pages),
	})
}

// GetPage handles GET /api/pages/{name}.
//
//	@Summary		Get a single page by name
//	@Tags			pages
//	@Produce		json
//	@Param			name	path		string	true	"Page name"
//	@Success		200		{object}	PageDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{name} [get]
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	name := pageName(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	page, err := h.svc.GetPage(r.Context(), name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get page failed", slog.String("name", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// CreatePage handles POST /api/pages.
//
//	@Summary		Create a new page
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreatePageRequest	true	"Page to create"
//	@Success		201		{object}	PageDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages [post]
func (h *Handler) CreatePage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name and content are required"))
		return
	}
	page, err := h.svc.CreatePage(r.Context(), req.Name, []byte(req.Content))
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			writeJSON(w, http.StatusConflict, errorBody("page already exists"))
		} else {
			slog.Error("create page failed", slog.String("name", req.Name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

// UpdatePage handles PUT /api/pages/{name}.
//
//	@Summary		Update a page with optimistic concurrency
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			name		path	string				true	"Page name"
//	@Param			If-Match	header	string				false	"SHA-256 checksum for optimistic concurrency"
//	@Param			body		body	UpdatePageRequest	true	"Updated content"
//	@Success		200		{object}	PageDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{name} [put]
func (h *Handler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	name := pageName(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}

	var req UpdatePageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	ifMatch := r.Header.Get("If-Match")
	// Strip surrounding quotes if present (standard ETag format).
	ifMatch = strings.Trim(ifMatch, `"`)

	page, err := h.svc.UpdatePage(r.Context(), name, []byte(req.Content), ifMatch)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
		default:
			slog.Error("update page failed", slog.String("name", name), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// DeletePage handles DELETE /api/pages/{name}.
//
//	@Summary		Delete a page
//	@Tags			pages
//	@Param			name	path	string	true	"Page name"
//	@Success		204		"Page deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/pages/{name} [delete]
func (h *Handler) DeletePage(w http.ResponseWriter, r *http.Request) {
	name := pageName(r)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	if err := h.svc.DeletePage(r.Context(), name); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		slog.Error("delete page failed", slog.String("name", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MovePage handles POST /api/move.
//
//	@Summary		Move (rename) a page
//	@Tags			pages
//	@Accept			json
//	@Param			body	body	MovePageRequest	true	"Move request"
//	@Success		204		"Page moved"
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/move [post]
func (h *Handler) MovePage(w http.ResponseWriter, r *http.Request) {
	var req MovePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.From == "" || req.To == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("from and to are required"))
		return
	}
	if err := h.svc.MovePage(r.Context(), req.From, req.To); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrAlreadyExists):
			writeJSON(w, http.StatusConflict, errorBody("target already exists"))
		default:
			slog.Error("move page failed",
				slog.String("from", req.From), slog.String("to", req.To), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backlinks handles GET /api/backlinks.
//
//	@Summary		List pages linking to a target page
//	@Tags			links
//	@Produce		json
//	@Param			target	query		string	true	"Target page name"
//	@Success		200		{object}	BacklinkResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'target' is required"))
		return
	}
	links, err := h.svc.Backlinks(r.Context(), target)
	if err != nil {
		slog.Error("backlinks failed", slog.String("target", target), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, BacklinkResponse{Target: target, Backlinks: links})
}

// ListTags handles GET /api/tags.
//
//	@Summary		List all known tags with page counts
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagListResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.ListTags(r.Context())
	if err != nil {
		slog.Error("list tags failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if tags == nil {
		tags = []pageservice.TagCount{}
	}
	writeJSON(w, http.StatusOK, TagListResponse{Tags: tags})
}

// PagesByTag handles GET /api/tags/{name}.
//
//	@Summary		List pages carrying a tag
//	@Tags			tags
//	@Produce		json
//	@Param			name	path		string	true	"Tag name"
//	@Success		200		{object}	PageListResponse
//	@Security		BearerAuth
//	@Router			/tags/{name} [get]
func (h *Handler) PagesByTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "name")
	pages, err := h.svc.PagesByTag(r.Context(), tag)
	if err != nil {
		slog.Error("pages by tag failed", slog.String("tag", tag), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if pages == nil {
		pages = []models.PageMetadata{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pages": pages,
		"total": len(pages),
	})
}

// GetProperty handles GET /api/properties/{key}.
//
//	@Summary		Read a raw cache property
//	@Tags			properties
//	@Produce		json
//	@Param			key	path		string	true	"Property key"
//	@Success		200	{object}	PropertyResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/properties/{key} [get]
func (h *Handler) GetProperty(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok, err := h.svc.GetProperty(r.Context(), key)
	if err != nil {
		slog.Error("get property failed", slog.String("key", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, PropertyResponse{Key: key, Value: value})
}

// SetProperty handles PUT /api/properties/{key}.
//
//	@Summary		Store a raw cache property
//	@Tags			properties
//	@Accept			json
//	@Param			key		path	string			true	"Property key"
//	@Param			body	body	PropertyRequest	true	"Property value"
//	@Success		204		"Property stored"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/properties/{key} [put]
func (h *Handler) SetProperty(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req PropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := h.svc.SetProperty(r.Context(), key, req.Value); err != nil {
		slog.Error("set property failed", slog.String("key", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteProperty handles DELETE /api/properties/{key}.
//
//	@Summary		Remove a raw cache property
//	@Tags			properties
//	@Param			key	path	string	true	"Property key"
//	@Success		204	"Property removed"
//	@Security		BearerAuth
//	@Router			/properties/{key} [delete]
func (h *Handler) DeleteProperty(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.svc.DeleteProperty(r.Context(), key); err != nil {
		slog.Error("delete property failed", slog.String("key", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckNow handles POST /api/check.
//
//	@Summary		Synchronously reconcile the index against the notebook
//	@Tags			index
//	@Success		204	"Check completed"
//	@Security		BearerAuth
//	@Router			/check [post]
func (h *Handler) CheckNow(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CheckNow(r.Context()); err != nil {
		slog.Error("check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reindex handles POST /api/reindex.
//
//	@Summary		Rebuild the cache from scratch
//	@Tags			index
//	@Success		204	"Reindex completed"
//	@Security		BearerAuth
//	@Router			/reindex [post]
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reindex(r.Context()); err != nil {
		slog.Error("reindex failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TouchPlaceholder handles POST /api/placeholder.
//
//	@Summary		Make a page visible to navigation before it has content
//	@Tags			index
//	@Accept			json
//	@Param			body	body	PlaceholderRequest	true	"Page name"
//	@Success		204		"Placeholder touched"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/placeholder [post]
func (h *Handler) TouchPlaceholder(w http.ResponseWriter, r *http.Request) {
	var req PlaceholderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}
	if err := h.svc.TouchPlaceholder(r.Context(), req.Name); err != nil {
		slog.Error("touch placeholder failed", slog.String("name", req.Name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/status.
//
//	@Summary		Report cache state
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		slog.Error("status failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}
