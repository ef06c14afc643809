package applications

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/internal/assignment"
	"github.com/angelmondragon/visamarket-backend/internal/commission"
	"github.com/angelmondragon/visamarket-backend/internal/notifications"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox/payloads"
)

const (
	pendingPerAgencyIndex = "ux_service_quotes_pending_per_agency"
	oneAcceptedIndex      = "ux_service_quotes_one_accepted"
)

func (s *service) SubmitQuote(ctx context.Context, agency assignment.AgencyRef, applicationID uuid.UUID, input QuoteInput) (*models.ServiceQuote, error) {
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != enums.ApplicationStatusAssigned && app.Status != enums.ApplicationStatusQuoted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "application is not open for quotes").
			WithDetails(map[string]string{"status": app.Status.String()})
	}
	allowed, err := s.assignments.Can(ctx, agency, app, assignment.CapabilityQuote)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "agency may not quote on this application")
	}
	now := s.clock()
	if app.QuoteDeadline != nil && now.After(*app.QuoteDeadline) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "the quote window has closed").
			WithDetails(map[string]string{"quoteDeadline": app.QuoteDeadline.Format(time.RFC3339)})
	}
	if err := s.validateQuote(input, now); err != nil {
		return nil, err
	}

	agencyID := agency.ID
	quote := &models.ServiceQuote{
		ID:             uuid.New(),
		ApplicationID:  app.ID,
		AgencyID:       &agencyID,
		Source:         enums.QuoteSourceAgency,
		QuotedAmount:   input.QuotedAmount.RoundBank(2),
		ServiceFee:     input.ServiceFee.RoundBank(2),
		ProcessingDays: input.ProcessingDays,
		Status:         enums.QuoteStatusPending,
		ValidUntil:     app.QuoteDeadline,
		WindowBound:    app.QuoteDeadline != nil,
	}
	// A quote never outlives the window; a longer validity binds it to the window.
	if input.ValidUntil != nil {
		until := input.ValidUntil.UTC()
		if app.QuoteDeadline == nil || until.Before(*app.QuoteDeadline) {
			quote.ValidUntil = &until
			quote.WindowBound = false
		}
	}
	if note := strings.TrimSpace(input.Notes); note != "" {
		quote.Notes = &note
	}

	promoted := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		// Holding the application row makes concurrent submitters count each
		// other's committed quotes.
		locked, err := repo.LockForUpdate(ctx, app.ID)
		if err != nil {
			return err
		}
		if locked.Status != enums.ApplicationStatusAssigned && locked.Status != enums.ApplicationStatusQuoted {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "application is not open for quotes").
				WithDetails(map[string]string{"status": locked.Status.String()})
		}
		if err := repo.InsertQuote(ctx, quote); err != nil {
			return err
		}
		if locked.Status != enums.ApplicationStatusAssigned {
			return nil
		}
		pending, err := repo.CountPendingQuotes(ctx, app.ID)
		if err != nil {
			return err
		}
		if pending < int64(requiredQuotes(app)) {
			return nil
		}
		promoted, err = repo.PromoteQuoted(ctx, app.ID, now)
		if err != nil || !promoted {
			return err
		}
		from := enums.ApplicationStatusAssigned
		return s.audit(ctx, repo, app.ID, &from, enums.ApplicationStatusQuoted, SystemActor(), "")
	})
	if err != nil {
		if db.IsUniqueViolation(err, pendingPerAgencyIndex) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "agency already has a pending quote on this application")
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving quote")
	}

	s.logg.Info(s.logg.WithFields(s.logCtx(ctx, app), map[string]any{
		"quote_id":  quote.ID.String(),
		"agency_id": agency.ID.String(),
		"promoted":  promoted,
	}), "quote submitted")
	s.notify.Notify(ctx, notifications.User(app.UserID), enums.EventQuoteSubmitted, s.quoteEvent(app, quote))
	return quote, nil
}

func (s *service) validateQuote(input QuoteInput, now time.Time) error {
	switch {
	case !input.QuotedAmount.IsPositive():
		return pkgerrors.New(pkgerrors.CodeValidation, "quoted amount must be positive")
	case input.ServiceFee.IsNegative():
		return pkgerrors.New(pkgerrors.CodeValidation, "service fee must not be negative")
	case input.ProcessingDays < 0 || input.ProcessingDays > s.quotes.MaxProcessingDays:
		return pkgerrors.New(pkgerrors.CodeValidation, "processing days out of range").
			WithDetails(map[string]int{"max": s.quotes.MaxProcessingDays})
	case input.ValidUntil != nil && !input.ValidUntil.After(now):
		return pkgerrors.New(pkgerrors.CodeValidation, "quote validity must be in the future")
	}
	return nil
}

// requiredQuotes is the number of pending quotes that opens acceptance; never below one.
func requiredQuotes(app *models.ServiceApplication) int {
	if app.MinQuotesRequired < 1 {
		return 1
	}
	return app.MinQuotesRequired
}

// WithdrawQuote lets an agency pull its own pending quote.
func (s *service) WithdrawQuote(ctx context.Context, agency assignment.AgencyRef, quoteID uuid.UUID) (*models.ServiceQuote, error) {
	quote, err := s.loadQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.AgencyID == nil || *quote.AgencyID != agency.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "quote not found")
	}
	if err := s.repo.DecideQuote(ctx, quote.ID, enums.QuoteStatusWithdrawn, nil); err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only pending quotes can be withdrawn")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "withdrawing quote")
	}
	return s.loadQuote(ctx, quote.ID)
}

// ExtendQuoteWindow moves an open window's deadline and carries window-bound pending
// quotes along. A lapsed window is extended from now.
func (s *service) ExtendQuoteWindow(ctx context.Context, adminID, applicationID uuid.UUID, hours int) (*models.ServiceApplication, error) {
	if hours <= 0 || hours > s.quotes.MaxWindowExtensionHours {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "extension hours out of range").
			WithDetails(map[string]int{"max": s.quotes.MaxWindowExtensionHours})
	}
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != enums.ApplicationStatusAssigned && app.Status != enums.ApplicationStatusQuoted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "application has no open quote window")
	}
	base := s.clock()
	if app.QuoteDeadline != nil && app.QuoteDeadline.After(base) {
		base = app.QuoteDeadline.UTC()
	}
	deadline := base.Add(time.Duration(hours) * time.Hour)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		err := repo.Transition(ctx, app.ID, app.Version, []enums.ApplicationStatus{app.Status}, map[string]any{
			"quote_deadline":      deadline,
			"window_escalated_at": nil,
		})
		if err != nil {
			return err
		}
		if _, err := repo.ExtendBoundQuotes(ctx, app.ID, deadline); err != nil {
			return err
		}
		return s.audit(ctx, repo, app.ID, &app.Status, app.Status, AdminActor(adminID), "quote window extended to "+deadline.Format(time.RFC3339))
	})
	if err != nil {
		if db.IsNotFound(err) {
			return nil, staleErr()
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "extending quote window")
	}
	s.logg.Info(s.logg.WithField(s.logCtx(ctx, app), "quote_deadline", deadline), "quote window extended")
	return s.load(ctx, app.ID)
}

// AcceptQuote settles one pending quote. The version-checked update on the
// application and the one-accepted index together let exactly one acceptance win;
// every loser gets CONCURRENT_ACCEPTANCE_CONFLICT.
func (s *service) AcceptQuote(ctx context.Context, userID, quoteID uuid.UUID) (*models.ServiceApplication, error) {
	quote, err := s.loadQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	app, err := s.load(ctx, quote.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "quote not found")
	}
	ctx = s.logg.WithField(s.logCtx(ctx, app), "quote_id", quote.ID.String())

	switch {
	case app.AcceptedQuoteID != nil, quote.Status != enums.QuoteStatusPending:
		return nil, s.acceptConflict(ctx)
	case app.Status != enums.ApplicationStatusQuoted:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "application is not accepting offers").
			WithDetails(map[string]string{"status": app.Status.String()})
	case quote.IsExpiredAt(s.clock()) && quote.WindowBound:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "the quote window has closed; ask support to extend it")
	case quote.IsExpiredAt(s.clock()):
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "this offer has expired")
	}

	var overrides assignment.Overrides
	if quote.AgencyID != nil {
		overrides, err = s.assignments.Overrides(ctx, app.ID, *quote.AgencyID)
		if err != nil {
			return nil, err
		}
	}
	settlement, err := s.calc.Settle(ctx, quote.QuotedAmount, overrides.Resource, overrides.Assignment,
		commission.Rate{Type: app.CommissionType, Value: app.CommissionRate})
	if err != nil {
		return nil, err
	}

	now := s.clock()
	var expired []models.ServiceQuote
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		err := s.move(ctx, repo, app, enums.ApplicationStatusAccepted, UserActor(userID), "", map[string]any{
			"accepted_quote_id":   quote.ID,
			"assigned_agency_id":  quote.AgencyID,
			"quoted_amount":       settlement.QuotedAmount,
			"service_fee":         quote.ServiceFee,
			"platform_commission": settlement.PlatformCommission,
			"agency_earnings":     settlement.AgencyEarnings,
			"commission_source":   settlement.Source,
			"accepted_at":         now,
		})
		if err != nil {
			return err
		}
		err = repo.DecideQuote(ctx, quote.ID, enums.QuoteStatusAccepted, map[string]any{
			"platform_commission": settlement.PlatformCommission,
			"agency_earnings":     settlement.AgencyEarnings,
			"commission_source":   settlement.Source,
		})
		if err != nil {
			return err
		}
		expired, err = repo.CloseOpenQuotes(ctx, app.ID, &quote.ID, enums.QuoteStatusExpired)
		return err
	})
	if err != nil {
		if db.IsNotFound(err) || db.IsUniqueViolation(err, oneAcceptedIndex) {
			return nil, s.acceptConflict(ctx)
		}
		if typed := pkgerrors.As(err); typed != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "accepting quote")
	}

	s.metrics.IncQuoteAccepted(string(quote.Source))
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"platform_commission": settlement.PlatformCommission.StringFixed(2),
		"agency_earnings":     settlement.AgencyEarnings.StringFixed(2),
		"commission_source":   settlement.Source,
		"expired_quotes":      len(expired),
	}), "quote accepted")

	quote.Status = enums.QuoteStatusAccepted
	s.notify.Notify(ctx, notifications.User(app.UserID), enums.EventQuoteAccepted, s.quoteEvent(app, quote))
	if quote.AgencyID != nil {
		s.notify.Notify(ctx, notifications.Agency(*quote.AgencyID), enums.EventQuoteAccepted, s.quoteEvent(app, quote))
	}
	for i := range expired {
		lost := expired[i]
		lost.Status = enums.QuoteStatusExpired
		if lost.AgencyID != nil {
			s.notify.Notify(ctx, notifications.Agency(*lost.AgencyID), enums.EventQuoteExpired, s.quoteEvent(app, &lost))
		}
	}
	return s.load(ctx, app.ID)
}

func (s *service) acceptConflict(ctx context.Context) error {
	s.metrics.IncAcceptConflict()
	s.logg.Warn(ctx, "quote acceptance lost to a concurrent acceptance")
	return pkgerrors.New(pkgerrors.CodeAcceptanceConflict, "this offer is no longer available, please refresh")
}

func (s *service) loadQuote(ctx context.Context, id uuid.UUID) (*models.ServiceQuote, error) {
	quote, err := s.repo.FindQuote(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "quote not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading quote")
	}
	return quote, nil
}

func (s *service) quoteEvent(app *models.ServiceApplication, quote *models.ServiceQuote) *payloads.QuoteEvent {
	return &payloads.QuoteEvent{
		ApplicationID: app.ID,
		QuoteID:       quote.ID,
		AgencyID:      quote.AgencyID,
		Status:        quote.Status,
		QuotedAmount:  quote.QuotedAmount.StringFixed(2),
		Currency:      app.Currency,
	}
}
