package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/visamarket-backend/api/controllers"
	"github.com/angelmondragon/visamarket-backend/api/middleware"
	"github.com/angelmondragon/visamarket-backend/internal/applications"
	"github.com/angelmondragon/visamarket-backend/internal/assignment"
	"github.com/angelmondragon/visamarket-backend/internal/catalog"
	"github.com/angelmondragon/visamarket-backend/internal/forms"
	"github.com/angelmondragon/visamarket-backend/pkg/config"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/redis"
)

const submitRateScope = "submit"

// Services groups the domain services behind the HTTP surface. A nil service makes
// its routes answer 503. RequestMetrics is optional.
type Services struct {
	Catalog        catalog.Service
	Forms          forms.Service
	Assignments    assignment.Service
	Applications   applications.Service
	RequestMetrics middleware.RequestObserver
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	pingers map[string]controllers.Pinger,
	redisClient *redis.Client,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, svc.RequestMetrics),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	var (
		idemStore middleware.IdempotencyStore
		limiter   redis.RateLimiter
	)
	if redisClient != nil {
		idemStore, limiter = redisClient, redisClient
	}
	idempotent := middleware.Idempotency(idemStore, middleware.IdempotencyTTL, logg)
	critical := middleware.Idempotency(idemStore, middleware.CriticalIdempotencyTTL, logg)
	submitLimit := middleware.RateLimit(limiter, submitRateScope, cfg.API.SubmitRateLimit, cfg.API.RateLimitWindow, logg)
	maxBody := submitBodyLimit(cfg.GCS.MaxUploadMB)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, pingers))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/modules", controllers.ListModules(svc.Catalog, logg))
		r.Get("/modules/{moduleId}", controllers.GetModule(svc.Catalog, logg))
		r.Get("/modules/{moduleId}/schema", controllers.ModuleSchema(svc.Forms, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleUser))
				r.Post("/applications/preview", controllers.ApplicationPreview(svc.Applications, maxBody, logg))
				r.With(submitLimit, idempotent).Post("/applications", controllers.ApplicationSubmit(svc.Applications, maxBody, logg))
				r.With(critical).Post("/quotes/{quoteId}/accept", controllers.QuoteAccept(svc.Applications, logg))
			})

			r.Get("/applications", controllers.ApplicationList(svc.Applications, logg))
			r.Get("/applications/{applicationId}", controllers.ApplicationGet(svc.Applications, logg))
			r.Get("/applications/{applicationId}/quotes", controllers.ApplicationQuotes(svc.Applications, logg))
			r.Get("/applications/{applicationId}/history", controllers.ApplicationHistory(svc.Applications, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleUser, enums.ActorRoleAdmin), critical).
				Post("/applications/{applicationId}/cancel", controllers.ApplicationCancel(svc.Applications, logg))

			r.Route("/agency", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleAgency))
				r.With(idempotent).Post("/resources", controllers.AgencyClaimResource(svc.Assignments, logg))
				r.Get("/applications", controllers.ApplicationList(svc.Applications, logg))
				r.With(idempotent).Post("/applications/{applicationId}/quotes", controllers.AgencySubmitQuote(svc.Applications, logg))
				r.Post("/quotes/{quoteId}/withdraw", controllers.AgencyWithdrawQuote(svc.Applications, logg))
				r.Post("/applications/{applicationId}/start", controllers.ApplicationStart(svc.Applications, logg))
				r.With(critical).Post("/applications/{applicationId}/complete", controllers.ApplicationComplete(svc.Applications, logg))
				r.Post("/applications/{applicationId}/notes", controllers.ApplicationAddNote(svc.Applications, logg))
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))

				r.Get("/modules", controllers.AdminListModules(svc.Catalog, logg))
				r.Post("/modules", controllers.AdminCreateModule(svc.Catalog, logg))
				r.Get("/modules/{moduleId}", controllers.AdminGetModule(svc.Catalog, logg))
				r.Put("/modules/{moduleId}", controllers.AdminUpdateModule(svc.Catalog, logg))
				r.Put("/modules/{moduleId}/active", controllers.AdminSetModuleActive(svc.Catalog, logg))

				r.Get("/modules/{moduleId}/assignments", controllers.AdminListAssignments(svc.Assignments, logg))
				r.Put("/modules/{moduleId}/global-assignment", controllers.AdminSetGlobalAssignment(svc.Assignments, svc.Applications, logg))
				r.Get("/modules/{moduleId}/claims", controllers.AdminListClaims(svc.Assignments, logg))
				r.Post("/assignments", controllers.AdminCreateAssignment(svc.Assignments, svc.Applications, logg))
				r.Delete("/assignments/{assignmentId}", controllers.AdminDeactivateAssignment(svc.Assignments, logg))

				r.Post("/claims/{claimId}/approve", controllers.AdminApproveClaim(svc.Assignments, svc.Applications, logg))
				r.Post("/claims/{claimId}/reject", controllers.AdminRejectClaim(svc.Assignments, logg))
				r.Put("/claims/{claimId}/commission", controllers.AdminSetClaimCommission(svc.Assignments, logg))

				r.Get("/applications/pending", controllers.AdminPendingQueue(svc.Applications, logg))
				r.Post("/applications/retry-assignment", controllers.AdminRetryPending(svc.Applications, logg))
				r.Get("/applications/{applicationId}/eligible", controllers.AdminEligibleAgencies(svc.Assignments, logg))
				r.Post("/applications/{applicationId}/extend-window", controllers.AdminExtendQuoteWindow(svc.Applications, logg))
				r.Post("/applications/{applicationId}/reject", controllers.AdminRejectApplication(svc.Applications, logg))
				r.Post("/applications/{applicationId}/notes", controllers.ApplicationAddNote(svc.Applications, logg))
			})
		})
	})

	return r
}

// submitBodyLimit leaves room for base64-inflated uploads plus the form itself.
func submitBodyLimit(maxUploadMB int) int64 {
	if maxUploadMB <= 0 {
		return 1 << 20
	}
	return int64(maxUploadMB+1) * 3 / 2 << 20
}
