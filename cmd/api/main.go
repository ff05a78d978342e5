package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tripnest/tripnest-backend/api/routes"
	"github.com/tripnest/tripnest-backend/internal/merchants"
	"github.com/tripnest/tripnest-backend/internal/notifications"
	"github.com/tripnest/tripnest-backend/internal/payments"
	"github.com/tripnest/tripnest-backend/internal/refunds"
	stripewebhook "github.com/tripnest/tripnest-backend/internal/webhooks/stripe"
	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/db"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	"github.com/tripnest/tripnest-backend/pkg/metrics"
	"github.com/tripnest/tripnest-backend/pkg/migrate"
	"github.com/tripnest/tripnest-backend/pkg/outbox"
	"github.com/tripnest/tripnest-backend/pkg/redis"
	pkgstripe "github.com/tripnest/tripnest-backend/pkg/stripe"
)

const shutdownTimeout = 20 * time.Second

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

	if err := migrate.AutoRun(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to auto-apply migrations", err)
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

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}
	stripeClient = stripeClient.WithMetrics(settlementMetrics)

	verifier, err := pkgstripe.NewEventVerifier(cfg.Stripe.WebhookSecret, cfg.Webhooks.Tolerance)
	if err != nil {
		logg.Error(context.Background(), "failed to build webhook verifier", err)
		os.Exit(1)
	}

	accountRepo := merchants.NewRepository(dbClient.DB())
	profileRepo := merchants.NewProfileRepository(dbClient.DB())
	paymentRepo := payments.NewRepository(dbClient.DB())
	refundRepo := refunds.NewRepository(dbClient.DB())

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	gateway, err := notifications.NewGateway(outboxService, logg, cfg.Notifications.SupportEmail)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification gateway", err)
		os.Exit(1)
	}

	provisioner, err := merchants.NewProvisioner(merchants.ProvisionerParams{
		Repo:       accountRepo,
		Profiles:   profileRepo,
		Processor:  stripeClient,
		Locks:      redisClient,
		Logger:     logg,
		Metrics:    settlementMetrics,
		Config:     cfg.Provisioning,
		Onboarding: cfg.Onboarding,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create provisioner", err)
		os.Exit(1)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Repo:     paymentRepo,
		Accounts: provisioner,
		Profiles: profileRepo,
		Checkout: stripeClient,
		Logger:   logg,
		Fees:     cfg.Fees,
		Session:  cfg.Checkout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment service", err)
		os.Exit(1)
	}

	orchestrator, err := refunds.NewOrchestrator(refunds.OrchestratorParams{
		Payments:      paymentRepo,
		Accounts:      accountRepo,
		Refunds:       refundRepo,
		Processor:     stripeClient,
		Notifications: gateway,
		DB:            dbClient,
		Logger:        logg,
		Metrics:       settlementMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refund orchestrator", err)
		os.Exit(1)
	}

	guard, err := stripewebhook.NewDeliveryGuard(redisClient, cfg.Webhooks.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	reconciler, err := stripewebhook.NewReconciler(stripewebhook.ReconcilerParams{
		Verifier:      verifier,
		Guard:         guard,
		DB:            dbClient,
		Events:        stripewebhook.NewEventStore(),
		Accounts:      accountRepo,
		Profiles:      profileRepo,
		Payments:      paymentRepo,
		Notifications: gateway,
		Logger:        logg,
		Metrics:       settlementMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook reconciler", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, prometheus.DefaultGatherer, routes.Services{
			Checkout:   paymentService,
			Refunds:    orchestrator,
			Accounts:   provisioner,
			Reconciler: reconciler,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
