/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/imports/*                 Statement ingestion and listing
  /api/pending-items             Unidentified drafts by fortnight
  /api/items/reassign            Broker reassignment for identified items
  /api/advances/*                Advance lifecycle and settlements
  /api/transfers/*               Bank transfer registration and balances
  /api/maintenance/*             Repair passes

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/imports", func(r chi.Router) {
			r.Post("/", h.ImportBatch)
			r.Post("/assa", h.ImportCodes)
			r.Get("/", h.ListImports)
		})

		r.Get("/pending-items", h.ListPendingItems)
		r.Post("/items/reassign", h.ReassignItems)

		r.Route("/advances", func(r chi.Router) {
			r.Post("/", h.CreateAdvance)
			r.Get("/", h.ListAdvances)
			r.Get("/{id}/logs", h.AdvanceHistory)
			r.Post("/{id}/payments", h.ApplyPayment)
			r.Post("/{id}/reject", h.RejectAdvance)
			r.Post("/{id}/recover", h.RecoverAdvance)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.CreateTransfer)
			r.Get("/", h.ListTransfers)
		})

		r.Post("/maintenance/recurring-repair", h.RunRecurringRepair)
	})

	return r
}
