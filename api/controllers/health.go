package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/angelmondragon/visamarket-backend/api/responses"
	"github.com/angelmondragon/visamarket-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

const readinessTimeout = 3 * time.Second

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-VisaMarket-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and reports which ones failed. Nil pingers are
// skipped so optional integrations do not gate readiness.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-VisaMarket-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)

		checks := map[string]string{}
		var failed []string
		for _, name := range names {
			pinger := deps[name]
			if pinger == nil {
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				if logg != nil {
					logg.WarnErr(logg.WithField(ctx, "dependency", name), "readiness check failed", err)
				}
				checks[name] = "down"
				failed = append(failed, name)
				continue
			}
			checks[name] = "ok"
		}

		if len(failed) > 0 {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").
				WithDetails(map[string]any{"failed": failed}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
