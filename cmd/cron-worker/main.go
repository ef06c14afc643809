package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/visamarket-backend/internal/cron"
	"github.com/angelmondragon/visamarket-backend/internal/marketplace"
	"github.com/angelmondragon/visamarket-backend/pkg/config"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/metrics"
	"github.com/angelmondragon/visamarket-backend/pkg/migrate"
	"github.com/angelmondragon/visamarket-backend/pkg/redis"
)

const (
	serviceKind   = "cron-worker"
	lockKeyFormat = "cron-worker:%s"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Environment: cfg.App.Env,
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.ConsoleLogs(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	// Sweeps never upload documents, so the store stays unset.
	services, err := marketplace.Build(marketplace.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	jobs, err := cron.NewSweepJobs(cron.SweepJobsParams{
		Logger:            logg,
		Applications:      services.Applications,
		BatchSize:         cfg.Cron.SweepBatchSize,
		PendingRetryBatch: cfg.Cron.PendingRetryBatchSize,
		Metrics:           cronMetrics,
	})
	if err != nil {
		return err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: services.Outbox,
		Retention:  cfg.Cron.OutboxRetention,
	})
	if err != nil {
		return err
	}
	registry, err := cron.NewRegistry(append(jobs, retention)...)
	if err != nil {
		return err
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return err
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	logg.Info(ctx, "starting cron worker")
	return service.Run(ctx)
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
