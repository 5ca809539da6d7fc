package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetlyhq/fleetly-backend/api/controllers"
	ordercontrollers "github.com/fleetlyhq/fleetly-backend/api/controllers/orders"
	walletcontrollers "github.com/fleetlyhq/fleetly-backend/api/controllers/wallet"
	webhookcontrollers "github.com/fleetlyhq/fleetly-backend/api/controllers/webhooks"
	"github.com/fleetlyhq/fleetly-backend/api/middleware"
	internalorders "github.com/fleetlyhq/fleetly-backend/internal/orders"
	"github.com/fleetlyhq/fleetly-backend/internal/payments"
	internalwallet "github.com/fleetlyhq/fleetly-backend/internal/wallet"
	paymentswebhook "github.com/fleetlyhq/fleetly-backend/internal/webhooks/payments"
	"github.com/fleetlyhq/fleetly-backend/pkg/config"
	"github.com/fleetlyhq/fleetly-backend/pkg/db"
	"github.com/fleetlyhq/fleetly-backend/pkg/logger"
	"github.com/fleetlyhq/fleetly-backend/pkg/metrics"
	"github.com/fleetlyhq/fleetly-backend/pkg/redis"
	"github.com/fleetlyhq/fleetly-backend/pkg/stripe"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             db.Pinger
	Redis          *redis.Client
	Stripe         *stripe.Client
	Orders         internalorders.Service
	Payments       payments.Service
	Wallet         internalwallet.Service
	WebhookService *paymentswebhook.Service
	WebhookGuard   *paymentswebhook.EventGuard
	WebhookMetrics *metrics.WebhookMetrics
	Registry       *prometheus.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	withdrawPolicy := middleware.NewRateLimitPolicy("withdraw", time.Minute, 10)

	// A typed-nil *redis.Client must stay a nil interface value.
	var idemStore redis.IdempotencyStore
	var cachePinger redis.Pinger
	var limiterStore interface {
		IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	}
	if deps.Redis != nil {
		idemStore = deps.Redis
		cachePinger = deps.Redis
		limiterStore = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.DB, cachePinger, logg))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentsWebhook(deps.WebhookService, deps.Stripe, deps.WebhookGuard, deps.WebhookMetrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(deps.Orders, logg))
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Get(deps.Orders, logg))
			r.Post("/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
			r.Post("/{orderId}/review", ordercontrollers.Review(deps.Orders, logg))
			r.Post("/{orderId}/pay", ordercontrollers.Pay(deps.Orders, deps.Payments, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAgent(logg))
				r.Post("/{orderId}/accept", ordercontrollers.Accept(deps.Orders, logg))
				r.Post("/{orderId}/start", ordercontrollers.Start(deps.Orders, logg))
				r.Post("/{orderId}/advance", ordercontrollers.Advance(deps.Orders, logg))
				r.Post("/{orderId}/complete", ordercontrollers.Complete(deps.Orders, logg))
			})
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Use(middleware.RequireAgent(logg))
			r.With(middleware.RateLimit(withdrawPolicy, limiterStore, logg)).Post("/withdraw", walletcontrollers.Withdraw(deps.Wallet, logg))
			r.Get("/balance", walletcontrollers.Balance(deps.Wallet, logg))
			r.Get("/transactions", walletcontrollers.Transactions(deps.Wallet, logg))
		})
	})

	return r
}
