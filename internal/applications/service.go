// Package applications runs the application lifecycle: submission, agency
// assignment, the bidding window, quote acceptance and fulfilment milestones.
package applications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/internal/assignment"
	"github.com/angelmondragon/visamarket-backend/internal/commission"
	"github.com/angelmondragon/visamarket-backend/internal/forms"
	"github.com/angelmondragon/visamarket-backend/internal/notifications"
	"github.com/angelmondragon/visamarket-backend/pkg/config"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

const (
	defaultMaxExtensionHours = 168
	defaultMaxProcessingDays = 365
	defaultListLimit         = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type marketplaceMetrics interface {
	IncSubmission(model, status string)
	IncQuoteAccepted(source string)
	IncAcceptConflict()
}

// Actor is whoever drives a transition.
type Actor struct {
	Role     enums.ActorRole
	UserID   uuid.UUID
	AgencyID uuid.UUID
}

func UserActor(userID uuid.UUID) Actor {
	return Actor{Role: enums.ActorRoleUser, UserID: userID}
}

func AgencyActor(agencyID, userID uuid.UUID) Actor {
	return Actor{Role: enums.ActorRoleAgency, AgencyID: agencyID, UserID: userID}
}

func AdminActor(userID uuid.UUID) Actor {
	return Actor{Role: enums.ActorRoleAdmin, UserID: userID}
}

// SystemActor drives sweeps and retries.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

func (a Actor) id() *uuid.UUID {
	switch {
	case a.Role == enums.ActorRoleAgency && a.AgencyID != uuid.Nil:
		id := a.AgencyID
		return &id
	case a.UserID != uuid.Nil:
		id := a.UserID
		return &id
	}
	return nil
}

// SubmitInput is a user's application for a service module.
type SubmitInput struct {
	ModuleID     uuid.UUID
	Country      string
	VisaType     string
	ResourceName string
	FormData     map[string]any
}

// QuoteInput is an agency's offer.
type QuoteInput struct {
	QuotedAmount   decimal.Decimal
	ServiceFee     decimal.Decimal
	ProcessingDays int
	Notes          string
	ValidUntil     *time.Time
}

// CancelInput carries the reason and, for accepted work, an admin override.
type CancelInput struct {
	Reason   string
	Override bool
}

// RetryFilter selects parked applications to retry.
type RetryFilter struct {
	ModuleID      *uuid.UUID
	ApplicationID *uuid.UUID
	Limit         int
}

// RetrySummary reports what a retry pass did.
type RetrySummary struct {
	Attempted    int `json:"attempted"`
	Assigned     int `json:"assigned"`
	StillPending int `json:"stillPending"`
}

// Service is the application state machine.
type Service interface {
	Preview(ctx context.Context, userID uuid.UUID, input SubmitInput) (forms.Values, error)
	Submit(ctx context.Context, userID uuid.UUID, input SubmitInput) (*models.ServiceApplication, error)
	RetryPendingAssignments(ctx context.Context, filter RetryFilter) (RetrySummary, error)

	SubmitQuote(ctx context.Context, agency assignment.AgencyRef, applicationID uuid.UUID, input QuoteInput) (*models.ServiceQuote, error)
	WithdrawQuote(ctx context.Context, agency assignment.AgencyRef, quoteID uuid.UUID) (*models.ServiceQuote, error)
	ExtendQuoteWindow(ctx context.Context, adminID, applicationID uuid.UUID, hours int) (*models.ServiceApplication, error)
	AcceptQuote(ctx context.Context, userID, quoteID uuid.UUID) (*models.ServiceApplication, error)

	StartProcessing(ctx context.Context, actor Actor, applicationID uuid.UUID) (*models.ServiceApplication, error)
	Complete(ctx context.Context, actor Actor, applicationID uuid.UUID) (*models.ServiceApplication, error)
	AddNote(ctx context.Context, actor Actor, applicationID uuid.UUID, note string) (*models.ServiceApplication, error)
	Cancel(ctx context.Context, actor Actor, applicationID uuid.UUID, input CancelInput) (*models.ServiceApplication, error)
	Reject(ctx context.Context, adminID, applicationID uuid.UUID, reason string) (*models.ServiceApplication, error)

	Get(ctx context.Context, actor Actor, applicationID uuid.UUID) (*models.ServiceApplication, error)
	List(ctx context.Context, actor Actor, filter ListFilter) ([]models.ServiceApplication, error)
	Quotes(ctx context.Context, actor Actor, applicationID uuid.UUID) ([]models.ServiceQuote, error)
	History(ctx context.Context, actor Actor, applicationID uuid.UUID) ([]models.ApplicationStatusEvent, error)

	EscalateLapsedWindows(ctx context.Context, limit int) (int, error)
	ExpireStaleQuotes(ctx context.Context, limit int) (int, error)
}

// Deps wires the collaborators of the state machine.
type Deps struct {
	Repo        *Repository
	Tx          txRunner
	Modules     assignment.ModuleSource
	Forms       forms.Service
	Assignments assignment.Service
	Eligibility *assignment.Repository
	Calculator  *commission.Calculator
	Notifier    notifications.Sink
	Metrics     marketplaceMetrics
	Quotes      config.QuotesConfig
	Logger      *logger.Logger
}

type service struct {
	repo        *Repository
	tx          txRunner
	modules     assignment.ModuleSource
	forms       forms.Service
	assignments assignment.Service
	eligibility *assignment.Repository
	calc        *commission.Calculator
	notify      notifications.Sink
	metrics     marketplaceMetrics
	quotes      config.QuotesConfig
	logg        *logger.Logger
	now         func() time.Time
}

// NewService builds the application service.
func NewService(deps Deps) (Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("applications repository required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Modules == nil:
		return nil, fmt.Errorf("module source required")
	case deps.Forms == nil:
		return nil, fmt.Errorf("forms service required")
	case deps.Assignments == nil:
		return nil, fmt.Errorf("assignment service required")
	case deps.Eligibility == nil:
		return nil, fmt.Errorf("eligibility repository required")
	}
	svc := &service{
		repo:        deps.Repo,
		tx:          deps.Tx,
		modules:     deps.Modules,
		forms:       deps.Forms,
		assignments: deps.Assignments,
		eligibility: deps.Eligibility,
		calc:        deps.Calculator,
		notify:      deps.Notifier,
		metrics:     deps.Metrics,
		quotes:      deps.Quotes,
		logg:        deps.Logger,
		now:         time.Now,
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	if svc.calc == nil {
		svc.calc = commission.NewCalculator(svc.logg, nil)
	}
	if svc.notify == nil {
		svc.notify = notifications.Nop{}
	}
	if svc.metrics == nil {
		svc.metrics = nopMetrics{}
	}
	if svc.quotes.MaxWindowExtensionHours <= 0 {
		svc.quotes.MaxWindowExtensionHours = defaultMaxExtensionHours
	}
	if svc.quotes.MaxProcessingDays <= 0 {
		svc.quotes.MaxProcessingDays = defaultMaxProcessingDays
	}
	return svc, nil
}

type nopMetrics struct{}

func (nopMetrics) IncSubmission(string, string) {}
func (nopMetrics) IncQuoteAccepted(string)      {}
func (nopMetrics) IncAcceptConflict()           {}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// move applies one documented transition, writes its audit row and mirrors the new
// status and version onto app.
func (s *service) move(ctx context.Context, repo *Repository, app *models.ServiceApplication, to enums.ApplicationStatus, actor Actor, reason string, updates map[string]any) error {
	if !canTransition(app.Status, to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed").
			WithDetails(map[string]string{"from": app.Status.String(), "to": to.String()})
	}
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	if err := repo.Transition(ctx, app.ID, app.Version, []enums.ApplicationStatus{app.Status}, values); err != nil {
		return err
	}
	from := app.Status
	app.Status = to
	app.Version++
	return s.audit(ctx, repo, app.ID, &from, to, actor, reason)
}

func (s *service) audit(ctx context.Context, repo *Repository, applicationID uuid.UUID, from *enums.ApplicationStatus, to enums.ApplicationStatus, actor Actor, reason string) error {
	event := &models.ApplicationStatusEvent{
		ApplicationID: applicationID,
		ToStatus:      to,
		ActorRole:     actor.Role,
		ActorID:       actor.id(),
	}
	if from != nil {
		prev := *from
		event.FromStatus = &prev
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		event.Reason = &reason
	}
	return repo.InsertEvent(ctx, event)
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.ServiceApplication, error) {
	app, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "application not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading application")
	}
	return app, nil
}

// authorize checks read access: owners, eligible or accepted agencies, admins.
func (s *service) authorize(ctx context.Context, actor Actor, app *models.ServiceApplication) error {
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return nil
	case enums.ActorRoleUser:
		if app.UserID == actor.UserID {
			return nil
		}
	case enums.ActorRoleAgency:
		agency := assignment.AgencyRef{ID: actor.AgencyID}
		if ok, _ := s.assignments.Can(ctx, agency, app, assignment.CapabilityProcess); ok {
			return nil
		}
		ok, err := s.assignments.Can(ctx, agency, app, assignment.CapabilityQuote)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "application not found")
}

func (s *service) Get(ctx context.Context, actor Actor, applicationID uuid.UUID) (*models.ServiceApplication, error) {
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, app); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *service) List(ctx context.Context, actor Actor, filter ListFilter) ([]models.ServiceApplication, error) {
	switch actor.Role {
	case enums.ActorRoleUser:
		id := actor.UserID
		filter.UserID = &id
		filter.AgencyID = nil
	case enums.ActorRoleAgency:
		id := actor.AgencyID
		filter.AgencyID = &id
		filter.UserID = nil
	case enums.ActorRoleAdmin:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to list applications")
	}
	if filter.Limit <= 0 || filter.Limit > defaultListLimit {
		filter.Limit = defaultListLimit
	}
	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing applications")
	}
	return rows, nil
}

// Quotes lists an application's quotes; agencies only see their own.
func (s *service) Quotes(ctx context.Context, actor Actor, applicationID uuid.UUID) ([]models.ServiceQuote, error) {
	app, err := s.Get(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	var agencyID *uuid.UUID
	if actor.Role == enums.ActorRoleAgency {
		id := actor.AgencyID
		agencyID = &id
	}
	rows, err := s.repo.Quotes(ctx, app.ID, agencyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing quotes")
	}
	return rows, nil
}

func (s *service) History(ctx context.Context, actor Actor, applicationID uuid.UUID) ([]models.ApplicationStatusEvent, error) {
	app, err := s.Get(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.Events(ctx, app.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading status history")
	}
	return rows, nil
}

func staleErr() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "application changed, please refresh and retry")
}

func (s *service) logCtx(ctx context.Context, app *models.ServiceApplication) context.Context {
	return s.logg.WithFields(ctx, map[string]any{
		"application_id":    app.ID.String(),
		"service_module_id": app.ServiceModuleID.String(),
		"status":            app.Status.String(),
	})
}
