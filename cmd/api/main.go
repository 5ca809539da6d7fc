package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/fleetlyhq/fleetly-backend/api/routes"
	"github.com/fleetlyhq/fleetly-backend/internal/orders"
	"github.com/fleetlyhq/fleetly-backend/internal/payments"
	"github.com/fleetlyhq/fleetly-backend/internal/wallet"
	paymentswebhook "github.com/fleetlyhq/fleetly-backend/internal/webhooks/payments"
	"github.com/fleetlyhq/fleetly-backend/pkg/config"
	"github.com/fleetlyhq/fleetly-backend/pkg/db"
	"github.com/fleetlyhq/fleetly-backend/pkg/env"
	"github.com/fleetlyhq/fleetly-backend/pkg/logger"
	"github.com/fleetlyhq/fleetly-backend/pkg/metrics"
	"github.com/fleetlyhq/fleetly-backend/pkg/migrate"
	"github.com/fleetlyhq/fleetly-backend/pkg/redis"
	"github.com/fleetlyhq/fleetly-backend/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	gateway := payments.NewStripeGateway(stripeClient)

	walletSvc, err := wallet.NewService(wallet.ServiceParams{
		Repo:              wallet.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Transfers:         gateway,
		Config:            cfg.Wallet,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Repo:              payments.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Gateway:           gateway,
		WalletLedger:      walletSvc,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, paymentsSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	webhookSvc, err := paymentswebhook.NewService(paymentswebhook.ServiceParams{
		Payments:          paymentsSvc,
		TransactionRunner: dbClient,
		Metrics:           webhookMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook dispatcher", err)
		os.Exit(1)
	}

	webhookGuard, err := paymentswebhook.NewEventGuard(redisClient, cfg.Webhooks.EventDedupTTL, "stripe")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	// Pick up payments and payouts that were committed pending before a
	// crash or gateway outage. Runs off the serving path, once at boot and
	// then on an interval so stuck rows never wait for a restart.
	go func() {
		reconcile := func() {
			if err := paymentsSvc.ReconcileStartupPending(context.Background(), cfg.Webhooks.ReconcilePendingAfter); err != nil {
				logg.Error(context.Background(), "payment reconciliation failed", err)
			}
			if err := walletSvc.ReconcilePendingTransfers(context.Background(), cfg.Webhooks.ReconcilePendingAfter); err != nil {
				logg.Error(context.Background(), "payout reconciliation failed", err)
			}
		}
		reconcile()
		ticker := time.NewTicker(cfg.Webhooks.ReconcilePendingAfter)
		defer ticker.Stop()
		for range ticker.C {
			reconcile()
		}
	}()

	port := env.Get("PORT", cfg.App.Port)
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Stripe:         stripeClient,
			Orders:         ordersSvc,
			Payments:       paymentsSvc,
			Wallet:         walletSvc,
			WebhookService: webhookSvc,
			WebhookGuard:   webhookGuard,
			WebhookMetrics: webhookMetrics,
			Registry:       registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
