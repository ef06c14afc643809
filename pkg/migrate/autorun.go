package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/visamarket-backend/pkg/config"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

// MaybeRunDev applies the embedded schema on boot when running in dev with the
// auto-migrate flag set.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "source": "embedded"})
	logg.Info(ctx, "migrate.dev_autorun.start")
	if err := Run(ctx, sqlDB, Embedded(), "up"); err != nil {
		return err
	}
	logg.Info(ctx, "migrate.dev_autorun.done")
	return nil
}
