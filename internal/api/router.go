package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/rpfba/internal/worker"
)

// NewRouter creates a chi router with the REST routes mounted.
// authEnabled controls whether Bearer token auth is enforced on everything
// but the GET /REST stamp. sseHandler, if non-nil, is mounted at
// GET /REST/events.
func NewRouter(svc Service, defaults worker.Params, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, defaults)

	r := chi.NewRouter()
	r.Get("/REST", h.Stamp)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))
		r.Post("/REST", h.Stamp)
		r.Post("/REST/Query", h.Query)
		r.Get("/REST/runs", h.ListRuns)
		r.Get("/REST/runs/{id}", h.GetRun)
		if sseHandler != nil {
			r.Get("/REST/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
