/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. WithActor:  Actor resolution from trusted headers (API routes only)

ROUTE GROUPS:
  /api/churches/*      Church registry
  /api/funds/*         Fund registry + balance recalculation
  /api/transactions/*  Ledger queries and manual entries
  /api/reports/*       Monthly report workflow
  /api/events/*        Fund event workflow
  /api/scenarios/*     Demo scenarios
  /api/admin/*         Drift audit

SECURITY NOTE:
  The actor headers are trusted; an authenticating gateway must sit in front
  of this service in any real deployment.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Actor middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
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
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Actor-Id", "X-Actor-Role", "X-Church-Scope", "X-Fund-Scopes"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(WithActor)

		// Church registry
		r.Route("/churches", func(r chi.Router) {
			r.Get("/", h.ListChurches)
			r.Post("/", h.SaveChurch)
			r.Get("/{id}", h.GetChurch)
		})

		// Fund registry
		r.Route("/funds", func(r chi.Router) {
			r.Get("/", h.ListFunds)
			r.Post("/", h.SaveFund)
			r.Get("/{id}", h.GetFund)
			r.Post("/{id}/recalculate", h.RecalculateFund)
		})

		// Ledger
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.QueryTransactions)
			r.Post("/", h.CreateManualEntry)
		})

		// Monthly report workflow
		r.Route("/reports", func(r chi.Router) {
			r.Get("/", h.ListReports)
			r.Post("/", h.CreateReport)
			r.Post("/import", h.ImportReport)
			r.Get("/{id}", h.GetReport)
			r.Put("/{id}", h.UpdateReport)
			r.Delete("/{id}", h.DeleteReport)
			r.Post("/{id}/submit", h.SubmitReport)
			r.Post("/{id}/approve", h.ApproveReport)
			r.Post("/{id}/reject", h.RejectReport)
			r.Post("/{id}/reopen", h.ReopenReport)
		})

		// Fund event workflow
		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Get("/{id}", h.GetEvent)
			r.Put("/{id}", h.UpdateEvent)
			r.Delete("/{id}", h.DeleteEvent)
			r.Post("/{id}/submit", h.SubmitEvent)
			r.Post("/{id}/approve", h.ApproveEvent)
			r.Post("/{id}/revision", h.RequestEventRevision)
			r.Post("/{id}/reject", h.RejectEvent)
			r.Post("/{id}/cancel", h.CancelEvent)
			r.Post("/{id}/actuals", h.AddEventActual)
			r.Post("/{id}/finalize", h.FinalizeEvent)
		})

		// Demo scenarios
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Post("/audit", h.RunAudit)
		})
	})

	return r
}
