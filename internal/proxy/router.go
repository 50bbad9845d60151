package proxy

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/vnmchuo/model-orchestrator/internal/auth"
	"github.com/vnmchuo/model-orchestrator/internal/logging"
)

// NewRouter mounts the API. authMiddleware may be nil, leaving the /v1
// routes open.
func NewRouter(h *Handler, authMiddleware auth.Middleware, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(logging.Middleware(log))
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", h.HandleHealthz)

	// Protected routes
	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		r.Post("/v1/execute", h.HandleExecute)
		r.Get("/v1/report", h.HandleReport)
		r.Get("/v1/backends", h.HandleBackends)
		r.Get("/v1/usage", h.HandleUsage)
	})

	return r
}
