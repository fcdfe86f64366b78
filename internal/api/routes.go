package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes wires all endpoints onto a chi router.
func SetupRoutes(h *Handlers, health *HealthChecker) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	// Health probes (no /api prefix so load balancers can reach them)
	r.Get("/health", health.HandleHealth)
	r.Get("/health/live", health.HandleLive)
	r.Get("/health/ready", health.HandleReady)

	r.Route("/api", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.HandleStartRun)
			r.Get("/", h.HandleListRuns)
			r.Get("/history", h.HandleRunHistory)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/progress", h.HandleProgress)
				r.Get("/results", h.HandleResults)
				r.Get("/export", h.HandleExport)
				r.Post("/pause", h.HandlePause)
				r.Post("/resume", h.HandleResume)
				r.Post("/finish", h.HandleFinish)
				r.Post("/cancel", h.HandleCancel)
				r.Delete("/", h.HandleDeleteRun)
			})
		})

		r.Route("/cache", func(r chi.Router) {
			r.Get("/stats", h.HandleCacheStats)
			r.Post("/clear", h.HandleCacheClear)
		})

		r.Post("/rules/validate", h.HandleValidateRules)
	})

	return r
}
