// Package httpapi exposes the HTTP surface of the chat server: the
// WebSocket upgrade endpoint, abuse report submission, health and metrics.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// NewRouter mounts every route. upgrade serves GET /ws and metrics serves
// GET /metrics; either may be nil to leave the route out. The API accepts
// cross-origin calls only from origins; with none, browsers fall back to
// same-origin.
func NewRouter(h *Handler, upgrade http.HandlerFunc, metrics http.Handler, origins ...string) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(securityHeaders)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	if upgrade != nil {
		r.With(h.limitConnect).Get("/ws", upgrade)
	}
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(instrument)
		r.Get("/health", h.health)
		r.With(h.limitAPI).Post("/report", h.submitReport)
	})
	return r
}
