package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires all routes with the standard middleware stack.
func NewRouter(svc *SignalsService) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", svc.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/signals", func(r chi.Router) {
			r.Get("/search", svc.HandleSearch)
			r.Get("/categories/{category}", svc.HandleCategory)
			r.Get("/{id}", svc.HandleGetSegment)
		})
		r.Get("/stats", svc.HandleStats)
		r.Post("/sync", svc.HandleTriggerSync)
		r.Get("/sync/status", svc.HandleSyncStatus)
	})

	return r
}
