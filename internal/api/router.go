package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/baharkarakas/wallet-ledger/internal/api/handlers"
	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/middleware"
	"github.com/baharkarakas/wallet-ledger/internal/models"
)

type RouterDeps struct {
	Env     string
	RateRPS int
	TM      *auth.TokenManager
	Auth    *handlers.AuthHandler
	Ledger  *handlers.LedgerHandler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", handlers.IdempotencyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	authn := middleware.NewAuthMiddleware(d.TM, d.Env)
	lh := d.Ledger

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- auth ----------
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(d.RateRPS))
			r.Post("/auth/register", d.Auth.Register)
			r.Post("/auth/login", d.Auth.Login)
			r.Post("/auth/refresh", d.Auth.Refresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(authn.Auth, middleware.RateLimit(d.RateRPS))

			r.Get("/me", d.Auth.Me)
			r.Get("/balances", lh.GetBalances)
			r.Get("/entries", lh.ListEntries)

			// ---------- settlements (Idempotency-Key destekli) ----------
			r.Get("/trades", lh.ListTrades)
			r.Post("/trades", lh.OpenTrade)
			r.Post("/trades/{id}/close", lh.CloseTrade)

			r.Post("/investments", lh.StartInvestment)
			r.Post("/investments/{id}/cancel", lh.CancelInvestment)

			r.Post("/crypto/send", lh.SendCrypto)
			r.Post("/crypto/swap", lh.SwapCrypto)

			r.Post("/copy-trades", lh.StartCopyTrade)
			r.Post("/copy-trades/{id}/stop", lh.StopCopyTrade)

			r.Post("/loans", lh.RequestLoan)
			r.Post("/loans/{id}/repay", lh.RepayLoan)

			// ---------- admin ----------
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Get("/users", d.Auth.ListUsers)
				r.Post("/balances/adjust", lh.AdjustBalance)
				r.Post("/crypto/receive", lh.ReceiveCrypto)
				r.Post("/crypto/transfers/{id}/confirm", lh.ConfirmSend)
				r.Post("/investments/{id}/payout", lh.PayoutInvestment)
				r.Post("/investments/payouts", lh.PayDue)
				r.Post("/loans/{id}/approve", lh.ApproveLoan)
				r.Post("/loans/{id}/reject", lh.RejectLoan)
				r.Post("/copy-trades/{id}/cycles", lh.CloseCopyTradeCycle)
				r.Post("/trades/{id}/close", lh.AdminCloseTrade)
			})
		})
	})

	return r
}
