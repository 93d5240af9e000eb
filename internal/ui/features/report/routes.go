package report

import (
	"github.com/go-chi/chi/v5"
)

// SetupRoutes registers the report feature routes.
func SetupRoutes(router chi.Router, cfg Config) error {
	handlers := NewHandlers(cfg)

	// Bootstrap and streams
	router.Get("/init", handlers.Init)
	router.Get("/events", handlers.EventsSSE)
	router.Get("/ws", handlers.EventsWS)
	router.Get("/healthz", handlers.Health)

	router.Route("/api", func(r chi.Router) {
		r.Post("/runner", handlers.Ingest)
		r.Get("/nodes/{id}", handlers.Node)
	})

	return nil
}
