package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/visamarket-backend/api/controllers"
	"github.com/angelmondragon/visamarket-backend/api/routes"
	"github.com/angelmondragon/visamarket-backend/internal/marketplace"
	"github.com/angelmondragon/visamarket-backend/pkg/config"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/metrics"
	"github.com/angelmondragon/visamarket-backend/pkg/migrate"
	"github.com/angelmondragon/visamarket-backend/pkg/redis"
	"github.com/angelmondragon/visamarket-backend/pkg/storage"
	"github.com/angelmondragon/visamarket-backend/pkg/storage/gcs"
)

const serviceKind = "api"

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

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
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

	pingers := map[string]controllers.Pinger{
		"db":    dbClient,
		"redis": redisClient,
	}

	var documents storage.DocumentStore
	if cfg.FeatureFlags.DocumentsEnabled {
		gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
		if err != nil {
			return err
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logg.Error(ctx, "error closing gcs client", err)
			}
		}()
		documents = gcsClient
		pingers["gcs"] = gcsClient
	} else {
		logg.Warn(ctx, "document store disabled; file uploads will be refused")
	}

	services, err := marketplace.Build(marketplace.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Documents:  documents,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	api := routes.NewRouter(cfg, logg, pingers, redisClient, routes.Services{
		Catalog:        services.Catalog,
		Forms:          services.Forms,
		Assignments:    services.Assignments,
		Applications:   services.Applications,
		RequestMetrics: metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
	})
	root := chi.NewRouter()
	root.Handle("/metrics", promhttp.Handler())
	root.Mount("/", api)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})

	server := &http.Server{Addr: addr, Handler: root}
	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.API.ShutdownTimeout)
	defer cancel()
	logg.Info(shutdownCtx, "draining api server")
	return server.Shutdown(shutdownCtx)
}
