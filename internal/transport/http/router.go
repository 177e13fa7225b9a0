package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prazos-api/internal/config"
	"github.com/prazos-api/internal/transport/http/handler"
	appmiddleware "github.com/prazos-api/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authMw := appmiddleware.Auth(deps.JWTProvider)

	// 5 requests/second, burst of 10 on public account endpoints.
	publicRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)
	// Password-checking pool operations are throttled per tenant.
	challengeRL := appmiddleware.NewRateLimiter(rate.Limit(cfg.ChallengeRatePerSec), cfg.ChallengeBurst)

	healthH := handler.NewHealthHandler()
	accountH := handler.NewAccountHandler(deps.Accounts)
	poolH := handler.NewPoolHandler(deps.Controller, deps.Sessions)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.With(publicRL.Limit).Post("/sessions/login", accountH.Login)
		r.With(publicRL.Limit).Post("/users", accountH.Register)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Get("/pools", poolH.List)
			r.Get("/pools/events", poolH.Events)
			r.Get("/pools/{category}", poolH.Get)
			r.Post("/pools/{category}/numbers/{n}", poolH.Allocate)

			r.Group(func(r chi.Router) {
				r.Use(challengeRL.Limit)

				r.Post("/pools/{category}/numbers/{n}/toggle", poolH.Toggle)
				r.Delete("/pools/{category}/numbers/{n}", poolH.Release)
				r.Post("/pools/{category}/clear", poolH.Clear)
			})
		})
	})

	return r
}
