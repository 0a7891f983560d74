/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/auth/*           Employee-code login (public)
  /api/*                Session-guarded employee routes
  /api/admin/*          Admin operations (role-checked)

SEE ALSO:
  - handlers.go: The handlers mounted here
  - auth.go: Session and role middleware
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the full route tree.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		// Session-guarded routes.
		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Middleware)

			r.Get("/me", h.Me)

			r.Get("/users", h.ListUsers)
			r.Get("/users/{id}", h.GetUser)
			r.Get("/users/{id}/transactions", h.ListUserTransactions)
			r.Get("/users/{id}/redemptions", h.ListUserRedemptions)

			r.Post("/gives", h.Give)
			r.Post("/gives/group", h.GroupGive)
			r.Get("/transactions", h.ListTransactions)

			r.Get("/rewards", h.ListRewards)
			r.Post("/redemptions", h.Redeem)
			r.Post("/redemptions/{id}/cancel", h.CancelRedemption)
			r.Post("/redemptions/{id}/deliver", h.ConfirmDelivery)

			r.Get("/news", h.ListNews)

			r.Get("/reports/summary", h.ReportSummary)
			r.Get("/reports/leaderboard/receivers", h.TopReceivers)
			r.Get("/reports/leaderboard/givers", h.TopGivers)

			// Admin-only routes.
			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Get("/redemptions", h.ListRedemptions)

				r.Route("/admin", func(r chi.Router) {
					r.Post("/users", h.CreateUser)
					r.Put("/users/{id}", h.UpdateUser)
					r.Delete("/users/{id}", h.DeleteUser)
					r.Post("/users/import", h.ImportUsers)

					r.Post("/rewards", h.CreateReward)
					r.Put("/rewards/{id}", h.UpdateReward)
					r.Delete("/rewards/{id}", h.DeleteReward)

					r.Post("/redemptions/{id}/approve", h.ApproveRedemption)
					r.Post("/redemptions/{id}/reject", h.RejectRedemption)
					r.Post("/redemptions/{id}/processing", h.MarkProcessing)
					r.Post("/redemptions/{id}/ship", h.MarkShipped)
					r.Post("/redemptions/{id}/ready", h.MarkReadyForPickup)
					r.Post("/redemptions/{id}/return", h.MarkReturned)

					r.Get("/quota/settings/{role}", h.GetQuotaSetting)
					r.Put("/quota/settings/{role}", h.SaveQuotaSetting)
					r.Post("/quota/distribute", h.DistributeQuota)
					r.Get("/quota/distributions", h.ListQuotaDistributions)

					r.Post("/adjustments", h.AdjustBalance)

					r.Get("/news", h.ListAllNews)
					r.Post("/news", h.CreateNews)
					r.Put("/news/{id}", h.UpdateNews)
					r.Post("/news/{id}/publish", h.PublishNews)
					r.Delete("/news/{id}", h.DeleteNews)

					r.Get("/reports/transactions.csv", h.ExportTransactionsCSV)
				})
			})
		})
	})

	return r
}
