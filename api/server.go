/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/commissions/*   Plans, agents, transactions, periods, dashboard
  /api/invoices/*      Invoice-scoped audit trail

SECURITY NOTE:
  No authentication middleware. The service sits behind the gateway that
  terminates auth; the acting user id arrives in the X-Acting-User header.

SEE ALSO:
  - handlers.go: Handler implementations
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Acting-User"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/commissions", func(r chi.Router) {
			// Plan routes
			r.Route("/plans", func(r chi.Router) {
				r.Get("/", h.ListPlans)
				r.Post("/", h.CreatePlan)
				r.Put("/{id}", h.UpdatePlan)
				r.Delete("/{id}", h.DeletePlan)
			})

			// Agent routes
			r.Route("/agents", func(r chi.Router) {
				r.Get("/", h.ListAgents)
				r.Put("/{userId}", h.UpdateAgent)
			})

			// Transaction routes
			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListTransactions)
				r.Post("/approve", h.BulkApprove)
				r.Post("/mark-paid", h.BulkMarkPaid)
			})

			// Calculation routes
			r.Post("/calculate/{invoiceId}", h.CalculateInvoice)
			r.Post("/calculate-batch", h.CalculateBatch)

			// Invoice-scoped routes
			r.Route("/invoice/{invoiceId}", func(r chi.Router) {
				r.Get("/", h.GetInvoiceCommission)
				r.Post("/approve", h.ApproveInvoiceCommission)
				r.Post("/pay", h.PayInvoiceCommission)
				r.Put("/adjust", h.AdjustInvoiceCommission)
			})

			// Queues and reporting
			r.Get("/pending-approvals", h.PendingApprovals)
			r.Get("/sales-person/{agentId}", h.SalesPersonCommissions)
			r.Get("/dashboard", h.GetDashboard)

			// Pay period routes
			r.Route("/pay-periods", func(r chi.Router) {
				r.Get("/", h.ListPeriods)
				r.Post("/", h.CreatePeriod)
				r.Post("/{id}/close", h.ClosePeriod)
				r.Post("/{id}/process", h.ProcessPeriodPayments)
			})
		})

		// Audit trail keyed by invoice
		r.Get("/invoices/{invoiceId}/commission-audit-trail", h.InvoiceAuditTrail)
	})

	return r
}
