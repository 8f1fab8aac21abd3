/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging (reads the request id)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests from the configured origins

ROUTE GROUPS:
  /api/staff/*       Staff and offboarding
  /api/assets/*      Asset lifecycle, assignment, repair
  /api/parts/*       Stock ledger
  /api/integrity/*   Ledger integrity checks
  /healthz           Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/asset-ledger/logger"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/staff", func(r chi.Router) {
			r.Post("/", h.CreateStaff)
			r.Get("/{id}", h.GetStaff)
			r.Get("/{id}/assets", h.ListStaffAssets)
			r.Post("/{id}/offboard", h.OffboardStaff)
		})

		r.Route("/assets", func(r chi.Router) {
			r.Get("/", h.ListAssets)
			r.Post("/", h.CreateAsset)
			r.Get("/{id}", h.GetAsset)
			r.Post("/{id}/status", h.SetStatus)
			r.Post("/{id}/assign", h.Assign)
			r.Post("/{id}/reassign", h.Reassign)
			r.Post("/{id}/repair/complete", h.CompleteRepair)
			r.Get("/{id}/history", h.GetAssetHistory)
		})

		r.Route("/parts", func(r chi.Router) {
			r.Get("/", h.ListParts)
			r.Post("/", h.CreatePart)
			r.Get("/reorder", h.ListReorder)
			r.Get("/{id}", h.GetPart)
			r.Post("/{id}/adjust", h.AdjustStock)
			r.Get("/{id}/history", h.GetStockHistory)
			r.Get("/{id}/reconcile", h.ReconcilePart)
		})

		r.Route("/integrity", func(r chi.Router) {
			r.Get("/", h.RunIntegrity)
			r.Post("/run", h.RunIntegrity)
			r.Get("/last", h.LastIntegrity)
		})
	})

	return r
}
