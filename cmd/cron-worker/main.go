package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tripnest/tripnest-backend/internal/cron"
	"github.com/tripnest/tripnest-backend/internal/merchants"
	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/db"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	"github.com/tripnest/tripnest-backend/pkg/metrics"
	"github.com/tripnest/tripnest-backend/pkg/migrate"
	"github.com/tripnest/tripnest-backend/pkg/outbox"
	"github.com/tripnest/tripnest-backend/pkg/redis"
	pkgstripe "github.com/tripnest/tripnest-backend/pkg/stripe"
)

const lockScope = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)

	stripeClient, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}
	stripeClient = stripeClient.WithMetrics(settlementMetrics)

	accountRepo := merchants.NewRepository(dbClient.DB())
	provisioner, err := merchants.NewProvisioner(merchants.ProvisionerParams{
		Repo:       accountRepo,
		Profiles:   merchants.NewProfileRepository(dbClient.DB()),
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

	syncJob, err := cron.NewMerchantSyncJob(cron.MerchantSyncJobParams{
		Logger:     logg,
		Accounts:   accountRepo,
		Refresher:  provisioner,
		Metrics:    metricsCollector,
		StaleAfter: cfg.Cron.SyncStaleAfter,
		BatchSize:  cfg.Cron.SyncBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create merchant sync job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		Metrics:     metricsCollector,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := redis.NewLock(redisClient, redisClient.LockKey(lockScope, environment(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(syncJob, retentionJob)
	if err == nil {
		registry, err = registry.Only(cfg.Cron.Jobs)
	}
	if err != nil {
		logg.Error(context.Background(), "failed to build cron job registry", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metricsCollector,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func environment(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
