package applications

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/internal/assignment"
	"github.com/angelmondragon/visamarket-backend/internal/commission"
	"github.com/angelmondragon/visamarket-backend/internal/forms"
	"github.com/angelmondragon/visamarket-backend/internal/notifications"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/visamarket-backend/pkg/quoteprovider"
)

const defaultRetryBatch = 100

var countryRe = regexp.MustCompile(`^[A-Z]{2}$`)

func (s *service) activeModule(ctx context.Context, id uuid.UUID) (*models.ServiceModule, error) {
	module, err := s.modules.GetModule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !module.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "service module not found")
	}
	return module, nil
}

// Preview validates a submission without persisting anything or storing uploads.
func (s *service) Preview(ctx context.Context, userID uuid.UUID, input SubmitInput) (forms.Values, error) {
	module, err := s.activeModule(ctx, input.ModuleID)
	if err != nil {
		return nil, err
	}
	return s.forms.Resolve(ctx, module.ID, userID, input.FormData, forms.ResolveOptions{Preview: true})
}

// Submit validates the form, resolves eligible agencies and persists the application
// in the state the assignment model leads to.
func (s *service) Submit(ctx context.Context, userID uuid.UUID, input SubmitInput) (*models.ServiceApplication, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity required")
	}
	module, err := s.activeModule(ctx, input.ModuleID)
	if err != nil {
		return nil, err
	}
	values, err := s.forms.Resolve(ctx, module.ID, userID, input.FormData, forms.ResolveOptions{DeferUploads: true})
	if err != nil {
		return nil, err
	}
	app, err := s.draft(userID, module, input, values)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, userID.String())

	// Provider calls and eligibility reads stay outside the write transaction.
	result, resolveErr := s.resolve(ctx, app, module)
	if resolveErr != nil && assignment.NoAgencyReason(resolveErr) == "" {
		return nil, resolveErr
	}

	// Uploads go last: every check that can reject the submission has passed.
	stored, err := s.forms.StoreUploads(ctx, module.ID, userID, values)
	if err != nil {
		return nil, err
	}
	app.FormData = stored

	actor := UserActor(userID)
	var closed []notice
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, app); err != nil {
			return err
		}
		if err := s.audit(ctx, repo, app.ID, nil, enums.ApplicationStatusDraft, actor, ""); err != nil {
			return err
		}
		if err := s.move(ctx, repo, app, enums.ApplicationStatusPending, actor, "", map[string]any{"submitted_at": s.clock()}); err != nil {
			return err
		}
		var err error
		closed, err = s.place(ctx, tx, app, module, result, resolveErr, SystemActor())
		return err
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving application")
	}

	s.metrics.IncSubmission(string(module.AssignmentModel), app.Status.String())
	s.logg.Info(s.logCtx(ctx, app), "application submitted")
	s.notify.Notify(ctx, notifications.User(app.UserID), enums.EventApplicationSubmitted, s.appEvent(app, ""))
	s.deliver(ctx, closed)
	return s.load(ctx, app.ID)
}

// draft builds the unsaved application with the module's commission and bidding
// settings snapshotted.
func (s *service) draft(userID uuid.UUID, module *models.ServiceModule, input SubmitInput, values forms.Values) (*models.ServiceApplication, error) {
	country := strings.ToUpper(strings.TrimSpace(firstNonEmpty(input.Country, valueString(values, "country"))))
	visaType := strings.ToLower(strings.TrimSpace(firstNonEmpty(input.VisaType, valueString(values, "visa_type"))))
	resourceKey := "resource_name"
	if module.ResourceType != nil {
		resourceKey = *module.ResourceType
	}
	resource := strings.TrimSpace(firstNonEmpty(input.ResourceName, valueString(values, resourceKey), valueString(values, "resource_name")))

	switch module.AssignmentModel {
	case enums.AssignmentCompetitive, enums.AssignmentMultiCountry, enums.AssignmentHybrid:
		if !countryRe.MatchString(country) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "country must be an ISO-3166 alpha-2 code").
				WithDetails([]forms.FieldError{{Field: "country", Code: forms.ReasonInvalidFormat, Message: "country must be an ISO-3166 alpha-2 code"}})
		}
	case enums.AssignmentExclusiveResource:
		if assignment.NormalizeResourceName(resource) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "resource name is required").
				WithDetails([]forms.FieldError{{Field: resourceKey, Code: forms.ReasonRequired, Message: "resource name is required"}})
		}
	}

	app := &models.ServiceApplication{
		ID:                uuid.New(),
		UserID:            userID,
		ServiceModuleID:   module.ID,
		Country:           country,
		VisaType:          visaType,
		Status:            enums.ApplicationStatusDraft,
		FormData:          values,
		CommissionType:    module.CommissionType,
		CommissionRate:    module.CommissionRate,
		Currency:          module.Currency,
		MinQuotesRequired: module.MinQuotesRequired,
		QuoteTimeoutHours: module.QuoteTimeoutHours,
	}
	if resource != "" {
		app.ResourceName = &resource
	}
	return app, nil
}

func (s *service) resolve(ctx context.Context, app *models.ServiceApplication, module *models.ServiceModule) (assignment.Result, error) {
	if !module.RequiresAgency {
		return assignment.Result{Model: enums.AssignmentPeerToPeer}, nil
	}
	return s.assignments.ResolveEligibleAgencies(ctx, app, module)
}

// notice is a notification queued inside a transaction and delivered after commit.
type notice struct {
	recipient notifications.Recipient
	event     enums.OutboxEventType
	payload   any
}

func (s *service) deliver(ctx context.Context, notices []notice) {
	for _, n := range notices {
		s.notify.Notify(ctx, n.recipient, n.event, n.payload)
	}
}

// place moves a pending or parked application to wherever the resolution leads.
func (s *service) place(ctx context.Context, tx *gorm.DB, app *models.ServiceApplication, module *models.ServiceModule, result assignment.Result, resolveErr error, actor Actor) ([]notice, error) {
	repo := s.repo.WithTx(tx)
	now := s.clock()

	switch {
	case resolveErr != nil:
		reason := assignment.NoAgencyReason(resolveErr)
		if app.Status == enums.ApplicationStatusPendingAssignment {
			return nil, repo.SetStatusReason(ctx, app.ID, reason)
		}
		if err := s.move(ctx, repo, app, enums.ApplicationStatusPendingAssignment, actor, reason, map[string]any{"status_reason": reason}); err != nil {
			return nil, err
		}
		s.logg.Warn(s.logg.WithField(s.logCtx(ctx, app), "reason", reason), "no agency available, application parked")
		return []notice{{notifications.Admins(), enums.EventApplicationUnassigned, s.appEvent(app, reason)}}, nil

	case result.Model == enums.AssignmentPeerToPeer:
		return nil, s.move(ctx, repo, app, enums.ApplicationStatusCompleted, actor, "", map[string]any{"completed_at": now})

	case result.External != nil:
		return s.acceptExternal(ctx, repo, app, *result.External, actor)

	default:
		if err := s.eligibility.WithTx(tx).SaveEligible(ctx, app.ID, result.Agencies); err != nil {
			return nil, err
		}
		deadline := now.Add(time.Duration(app.QuoteTimeoutHours) * time.Hour)
		err := s.move(ctx, repo, app, enums.ApplicationStatusAssigned, actor, "", map[string]any{
			"assigned_at":         now,
			"quote_deadline":      deadline,
			"status_reason":       nil,
			"window_escalated_at": nil,
		})
		if err != nil {
			return nil, err
		}
		app.QuoteDeadline = &deadline
		notices := make([]notice, 0, len(result.Agencies))
		event := enums.EventApplicationAssigned
		if len(result.Agencies) > 1 {
			event = enums.EventApplicationBroadcast
		}
		for _, candidate := range result.Agencies {
			notices = append(notices, notice{notifications.Agency(candidate.AgencyID), event, s.appEvent(app, "")})
		}
		return notices, nil
	}
}

// acceptExternal records a hybrid provider's price as the accepted quote.
func (s *service) acceptExternal(ctx context.Context, repo *Repository, app *models.ServiceApplication, price quoteprovider.Price, actor Actor) ([]notice, error) {
	settlement, err := s.calc.Settle(ctx, price.Amount, nil, nil, commission.Rate{Type: app.CommissionType, Value: app.CommissionRate})
	if err != nil {
		return nil, err
	}
	now := s.clock()
	quote := &models.ServiceQuote{
		ID:                 uuid.New(),
		ApplicationID:      app.ID,
		Source:             enums.QuoteSourceExternal,
		QuotedAmount:       settlement.QuotedAmount,
		ServiceFee:         price.ServiceFee.RoundBank(2),
		ProcessingDays:     price.ProcessingDays,
		Status:             enums.QuoteStatusAccepted,
		PlatformCommission: decimal.NewNullDecimal(settlement.PlatformCommission),
		AgencyEarnings:     decimal.NewNullDecimal(settlement.AgencyEarnings),
		CommissionSource:   &settlement.Source,
		DecidedAt:          &now,
	}
	if price.Reference != "" {
		ref := "external reference " + price.Reference
		quote.Notes = &ref
	}
	if err := repo.InsertQuote(ctx, quote); err != nil {
		return nil, err
	}
	err = s.move(ctx, repo, app, enums.ApplicationStatusAccepted, actor, "priced by external provider", map[string]any{
		"accepted_quote_id":   quote.ID,
		"quoted_amount":       settlement.QuotedAmount,
		"service_fee":         quote.ServiceFee,
		"platform_commission": settlement.PlatformCommission,
		"agency_earnings":     settlement.AgencyEarnings,
		"commission_source":   settlement.Source,
		"accepted_at":         now,
		"status_reason":       nil,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncQuoteAccepted(string(enums.QuoteSourceExternal))
	return []notice{{notifications.User(app.UserID), enums.EventQuoteAccepted, &payloads.QuoteEvent{
		ApplicationID: app.ID,
		QuoteID:       quote.ID,
		Status:        enums.QuoteStatusAccepted,
		QuotedAmount:  settlement.QuotedAmount.StringFixed(2),
		Currency:      app.Currency,
	}}}, nil
}

// RetryPendingAssignments re-runs resolution for parked applications. One failure does
// not stop the batch; all failures are returned together.
func (s *service) RetryPendingAssignments(ctx context.Context, filter RetryFilter) (RetrySummary, error) {
	var summary RetrySummary
	var apps []models.ServiceApplication
	if filter.ApplicationID != nil {
		app, err := s.load(ctx, *filter.ApplicationID)
		if err != nil {
			return summary, err
		}
		if app.Status != enums.ApplicationStatusPendingAssignment {
			return summary, pkgerrors.New(pkgerrors.CodeStateConflict, "application is not waiting for an agency")
		}
		apps = append(apps, *app)
	} else {
		limit := filter.Limit
		if limit <= 0 {
			limit = defaultRetryBatch
		}
		rows, err := s.repo.List(ctx, ListFilter{
			ModuleID: filter.ModuleID,
			Statuses: []enums.ApplicationStatus{enums.ApplicationStatusPendingAssignment},
			Limit:    limit,
		})
		if err != nil {
			return summary, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing parked applications")
		}
		apps = rows
	}

	var errs error
	for i := range apps {
		app := &apps[i]
		summary.Attempted++
		placed, err := s.retryOne(ctx, app)
		switch {
		case err != nil:
			errs = multierr.Append(errs, err)
			summary.StillPending++
		case placed:
			summary.Assigned++
		default:
			summary.StillPending++
		}
	}
	if summary.Attempted > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"attempted":     summary.Attempted,
			"assigned":      summary.Assigned,
			"still_pending": summary.StillPending,
		}), "pending assignment retry finished")
	}
	return summary, errs
}

func (s *service) retryOne(ctx context.Context, app *models.ServiceApplication) (bool, error) {
	module, err := s.modules.GetModule(ctx, app.ServiceModuleID)
	if err != nil {
		return false, err
	}
	result, resolveErr := s.resolve(ctx, app, module)
	if resolveErr != nil && assignment.NoAgencyReason(resolveErr) == "" {
		return false, resolveErr
	}
	var notices []notice
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		notices, err = s.place(ctx, tx, app, module, result, resolveErr, SystemActor())
		return err
	})
	if err != nil {
		if db.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	s.deliver(ctx, notices)
	return app.Status != enums.ApplicationStatusPendingAssignment, nil
}

func (s *service) appEvent(app *models.ServiceApplication, reason string) *payloads.ApplicationEvent {
	return &payloads.ApplicationEvent{
		ApplicationID:   app.ID,
		ServiceModuleID: app.ServiceModuleID,
		Status:          app.Status,
		Reason:          reason,
		QuoteDeadline:   app.QuoteDeadline,
	}
}

func valueString(values forms.Values, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
