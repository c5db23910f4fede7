package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/surpriz/queenmama/internal/api"
	"github.com/surpriz/queenmama/internal/api/handlers"
	"github.com/surpriz/queenmama/internal/api/middleware"
)

type RouterConfig struct {
	ServiceToken       string
	AtomHandler        *handlers.AtomHandler
	MaintenanceHandler *handlers.MaintenanceHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.ServiceTokenAuth(cfg.ServiceToken))

		r.Route("/atoms", func(r chi.Router) {
			r.Post("/", cfg.AtomHandler.Create)
			r.Get("/", cfg.AtomHandler.List)
			r.Get("/limit", cfg.AtomHandler.GetLimit)
			r.Get("/stats", cfg.MaintenanceHandler.Stats)
			r.Post("/purge", cfg.MaintenanceHandler.Purge)
			r.Post("/consolidate", cfg.MaintenanceHandler.Consolidate)
			r.Post("/maintenance", cfg.MaintenanceHandler.RunMaintenance)
			r.Get("/{id}", cfg.AtomHandler.Get)
			r.Delete("/{id}", cfg.AtomHandler.Delete)
			r.Post("/{id}/usage", cfg.AtomHandler.RecordUsage)
		})

		r.Post("/sessions/{sessionID}/extract", cfg.MaintenanceHandler.Extract)
	})

	return r
}
