package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/ansuz/internal/pageservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *pageservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Pages CRUD. Page names never contain slashes, so a single segment is
	// enough; colons pass through unescaped.
	r.Get("/pages", h.ListPages)
	r.Post("/pages", h.CreatePage)
	r.Get("/pages/{name}", h.GetPage)
	r.Put("/pages/{name}", h.UpdatePage)
	r.Delete("/pages/{name}", h.DeletePage)
	r.Post("/move", h.MovePage)

	// Link graph.
	r.Get("/backlinks", h.Backlinks)

	// Tags.
	r.Get("/tags", h.ListTags)
	r.Get("/tags/{name}", h.PagesByTag)

	// Raw cache properties.
	r.Get("/properties/{key}", h.GetProperty)
	r.Put("/properties/{key}", h.SetProperty)
	r.Delete("/properties/{key}", h.DeleteProperty)

	// Index control.
	r.Post("/check", h.CheckNow)
	r.Post("/reindex", h.Reindex)
	r.Post("/placeholder", h.TouchPlaceholder)
	r.Get("/status", h.Status)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
