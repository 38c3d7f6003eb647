/**
 * @description
 * HTTP router setup for the ledger-service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new Chi router and registers the ledger routes.
func NewRouter(h *Handler, jwksURL string, internalKey string) *chi.Mux {
	return newRouter(h, ClerkAuthMiddleware(jwksURL), InternalAuthMiddleware(internalKey))
}

func newRouter(h *Handler, userAuth, internalAuth func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Ledger service is healthy"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/internal/ledger", func(r chi.Router) {
		r.Use(internalAuth)
		r.Post("/accounts", h.handleRegisterAccount)
		r.Post("/referrals", h.handleRegisterReferral)
		r.Post("/orders/completed", h.handleOrderCompleted)
		r.Get("/accounts/{accountID}/balance", h.handleGetBalance)
		r.Get("/accounts/{accountID}/commissions", h.handleGetCommissions)
		r.Get("/accounts/{accountID}/referrals/stats", h.handleGetReferralStats)
		r.Post("/commissions/{entryID}/settle", h.handleSettleCommission)
		r.Get("/withdrawals/{requestID}", h.handleGetWithdrawal)
		r.Post("/withdrawals/{requestID}/processing", h.handleMarkWithdrawalProcessing)
		r.Post("/withdrawals/{requestID}/approve", h.handleApproveWithdrawal)
		r.Post("/withdrawals/{requestID}/reject", h.handleRejectWithdrawal)
	})

	r.Route("/ledger/me", func(r chi.Router) {
		r.Use(userAuth)
		r.Get("/balance", h.handleGetMyBalance)
		r.Get("/commissions", h.handleGetMyCommissions)
		r.Get("/referrals/stats", h.handleGetMyReferralStats)
		r.Get("/withdrawals", h.handleListMyWithdrawals)
		r.Post("/withdrawals", h.handleRequestWithdrawal)
	})

	return r
}
