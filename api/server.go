/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     Structured request log (zap)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the admin console

ROUTE GROUPS:
  /healthz       Liveness and database check
  /api/*         User routes, X-User-ID required
  /api/admin/*   Operator routes, X-Operator-ID required

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Identity middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/points-engine/logging"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderOperatorID},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Group(func(r chi.Router) {
			r.Use(RequireUser)

			r.Post("/vouchers/redeem", h.RedeemVoucher)
			r.Get("/vouchers/{code}", h.GetVoucher)

			r.Get("/wallet", h.GetWallet)
			r.Get("/wallet/transactions", h.GetTransactions)

			r.Get("/rewards", h.ListRewards)
			r.Post("/rewards/{id}/redeem", h.RequestRedemption)
			r.Get("/redemptions", h.ListMyRedemptions)

			r.Get("/notifications", h.ListMyNotifications)
			r.Post("/notifications/{id}/read", h.MarkNotificationRead)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireOperator)

			r.Route("/batches", func(r chi.Router) {
				r.Get("/", h.ListBatches)
				r.Post("/", h.CreateBatch)
				r.Get("/{id}", h.GetBatch)
				r.Delete("/{id}", h.DeleteBatch)
				r.Get("/{id}/vouchers", h.ListBatchVouchers)
			})

			r.Route("/rewards", func(r chi.Router) {
				r.Get("/", h.ListAllRewards)
				r.Post("/", h.CreateReward)
				r.Put("/{id}", h.UpdateReward)
			})

			r.Route("/redemptions", func(r chi.Router) {
				r.Get("/", h.ListRedemptions)
				r.Post("/{id}/approve", h.ApproveRedemption)
				r.Post("/{id}/reject", h.RejectRedemption)
			})

			r.Get("/notifications", h.ListBroadcasts)
			r.Post("/notifications/{id}/read", h.MarkNotificationRead)

			r.Get("/stats", h.GetStats)
			r.Get("/wallets/{user}", h.GetUserWallet)
			r.Get("/wallets/{user}/transactions", h.GetUserTransactions)
			r.Get("/wallets/{user}/verify", h.VerifyWallet)

			r.Get("/audit", h.GetAudit)
			r.Post("/audit", h.RunAudit)

			r.Get("/scenarios", h.ListScenarios)
			r.Post("/scenarios/load", h.LoadScenario)
		})
	})

	return r
}
