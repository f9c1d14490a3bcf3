/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. CORS:       Cross-origin requests for chat-bot frontends

SECURITY NOTE:
  No authentication middleware. The service is meant to sit behind the chat
  gateway, which authenticates actors before forwarding.

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

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.SearchOrders)
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/transition", h.TransitionOrder)
			r.Post("/{id}/complete", h.CompleteOrder)
			r.Post("/{id}/complete-breach", h.CompleteBreach)
			r.Post("/{id}/reduce", h.ReducePrincipal)
			r.Post("/{id}/amount", h.CorrectAmount)
			r.Post("/{id}/date", h.CorrectDate)
			r.Post("/{id}/group", h.CorrectGroup)
			r.Post("/{id}/channel", h.CorrectChannel)
		})

		r.Post("/interest", h.RecordInterest)
		r.Post("/expenses", h.RecordExpense)
		r.Get("/income/sum", h.SumIncome)

		r.Post("/undo", h.Undo)
		r.Get("/history/last", h.LastOperation)

		r.Route("/aggregates", func(r chi.Router) {
			r.Get("/global", h.GetGlobalAggregate)
			r.Get("/daily/{day}", h.GetDailyAggregate)
			r.Get("/grouped/{group}", h.GetGroupedAggregate)
		})
		r.Post("/reconcile", h.Reconcile)
	})

	return r
}
