// Package marketplace assembles the catalog, forms, assignment and application
// services on top of the shared clients. The API and the cron worker both use it.
package marketplace

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/visamarket-backend/internal/applications"
	"github.com/angelmondragon/visamarket-backend/internal/assignment"
	"github.com/angelmondragon/visamarket-backend/internal/catalog"
	"github.com/angelmondragon/visamarket-backend/internal/commission"
	"github.com/angelmondragon/visamarket-backend/internal/forms"
	"github.com/angelmondragon/visamarket-backend/internal/notifications"
	"github.com/angelmondragon/visamarket-backend/internal/profiles"
	"github.com/angelmondragon/visamarket-backend/pkg/config"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/metrics"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox"
	"github.com/angelmondragon/visamarket-backend/pkg/quoteprovider"
	"github.com/angelmondragon/visamarket-backend/pkg/redis"
	"github.com/angelmondragon/visamarket-backend/pkg/storage"
)

// Params are the clients the services are built from. Redis and Documents are optional.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Documents  storage.DocumentStore
	Registerer prometheus.Registerer
}

// Services is the wired domain layer.
type Services struct {
	Catalog      catalog.Service
	Forms        forms.Service
	Assignments  assignment.Service
	Applications applications.Service
	Outbox       *outbox.Repository
}

// Build wires every service. Without an external quote provider URL hybrid modules
// fall back to agency bidding.
func Build(p Params) (*Services, error) {
	switch {
	case p.Config == nil:
		return nil, fmt.Errorf("config required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case p.DB == nil:
		return nil, fmt.Errorf("db client required")
	}
	cfg, logg, conn := p.Config, p.Logger, p.DB.DB()

	reg := p.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	marketMetrics := metrics.NewMarketplaceMetrics(reg)

	profileReader, err := profiles.NewReader(conn, cfg.Profiles.AllowedTables, cfg.Profiles.UserIDColumn)
	if err != nil {
		return nil, fmt.Errorf("profile reader: %w", err)
	}

	catalogRepo := catalog.NewRepository(conn)
	catalogSvc, err := catalog.NewService(catalogRepo, profileReader, logg)
	if err != nil {
		return nil, fmt.Errorf("catalog service: %w", err)
	}

	formsSvc, err := forms.NewService(catalogSvc, profileReader, p.Documents, logg)
	if err != nil {
		return nil, fmt.Errorf("forms service: %w", err)
	}

	assignCfg := assignment.Config{
		ProviderTimeout: cfg.ExternalQuotes.Timeout,
		Metrics:         marketMetrics,
		Logger:          logg,
	}
	if cfg.ExternalQuotes.BaseURL != "" {
		opts := []quoteprovider.Option{quoteprovider.WithLogger(logg)}
		if p.Redis != nil {
			opts = append(opts, quoteprovider.WithCache(p.Redis, cfg.ExternalQuotes.CacheTTL))
		}
		provider, err := quoteprovider.NewClient(cfg.ExternalQuotes.BaseURL, cfg.ExternalQuotes.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("external quote provider: %w", err)
		}
		assignCfg.Provider = provider
	}
	assignRepo := assignment.NewRepository(conn)
	assignSvc, err := assignment.NewService(assignRepo, catalogSvc, assignCfg)
	if err != nil {
		return nil, fmt.Errorf("assignment service: %w", err)
	}

	outboxRepo := outbox.NewRepository(conn)
	sink, err := notifications.NewOutboxSink(conn, outbox.NewService(outboxRepo, logg), logg)
	if err != nil {
		return nil, fmt.Errorf("notification sink: %w", err)
	}

	appsSvc, err := applications.NewService(applications.Deps{
		Repo:        applications.NewRepository(conn),
		Tx:          p.DB,
		Modules:     catalogSvc,
		Forms:       formsSvc,
		Assignments: assignSvc,
		Eligibility: assignRepo,
		Calculator:  commission.NewCalculator(logg, marketMetrics),
		Notifier:    sink,
		Metrics:     marketMetrics,
		Quotes:      cfg.Quotes,
		Logger:      logg,
	})
	if err != nil {
		return nil, fmt.Errorf("applications service: %w", err)
	}

	return &Services{
		Catalog:      catalogSvc,
		Forms:        formsSvc,
		Assignments:  assignSvc,
		Applications: appsSvc,
		Outbox:       outboxRepo,
	}, nil
}
