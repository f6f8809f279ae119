package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Liveness (no guild scope)
	r.Get("/health", h.HealthCheck)

	r.Route("/api/guilds/{guildID}", func(r chi.Router) {
		r.Get("/stats", h.GuildStats)
		r.Get("/health-score", h.GuildHealthScore)
		r.Post("/backfill", h.TriggerBackfill)
		r.Get("/backfill", h.BackfillProgress)
	})

	return r
}
