package applications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/visamarket-backend/internal/notifications"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox/payloads"
)

const defaultSweepBatch = 100

// EscalateLapsedWindows flags assigned or quoted applications whose bidding window
// closed. Each window is escalated once; the application keeps its status so admins
// can extend the window or reassign.
func (s *service) EscalateLapsedWindows(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepBatch
	}
	now := s.clock()
	apps, err := s.repo.LapsedWindows(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing lapsed quote windows")
	}

	var errs error
	escalated := 0
	for i := range apps {
		app := &apps[i]
		pending, err := s.repo.CountPendingQuotes(ctx, app.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		ok, err := s.escalate(ctx, app, pending, now, "quote window lapsed")
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			escalated++
		}
	}
	return escalated, errs
}

func (s *service) escalate(ctx context.Context, app *models.ServiceApplication, pending int64, now time.Time, msg string) (bool, error) {
	stamped, err := s.repo.MarkEscalated(ctx, app.ID, now)
	if err != nil || !stamped {
		return false, err
	}
	event := &payloads.QuoteWindowEvent{
		ApplicationID:  app.ID,
		PendingQuotes:  int(pending),
		RequiredQuotes: requiredQuotes(app),
	}
	if app.QuoteDeadline != nil {
		event.QuoteDeadline = app.QuoteDeadline.UTC()
	}
	s.logg.Warn(s.logg.WithFields(s.logCtx(ctx, app), map[string]any{
		"pending_quotes":  pending,
		"required_quotes": event.RequiredQuotes,
	}), msg)
	s.notify.Notify(ctx, notifications.Admins(), enums.EventQuoteWindowEscalated, event)
	s.notify.Notify(ctx, notifications.User(app.UserID), enums.EventQuoteWindowEscalated, event)
	return true, nil
}

// ExpireStaleQuotes closes pending quotes whose own validity has passed. A quoted
// application left without any pending offer is escalated.
func (s *service) ExpireStaleQuotes(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepBatch
	}
	now := s.clock()
	quotes, err := s.repo.StaleQuotes(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing stale quotes")
	}

	var errs error
	expired := 0
	touched := make(map[uuid.UUID]*models.ServiceApplication)
	var order []uuid.UUID
	for i := range quotes {
		quote := &quotes[i]
		if err := s.repo.DecideQuote(ctx, quote.ID, enums.QuoteStatusExpired, nil); err != nil {
			if !db.IsNotFound(err) {
				errs = multierr.Append(errs, err)
			}
			continue
		}
		expired++
		quote.Status = enums.QuoteStatusExpired
		app, ok := touched[quote.ApplicationID]
		if !ok {
			app, err = s.repo.FindByID(ctx, quote.ApplicationID)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			touched[app.ID] = app
			order = append(order, app.ID)
		}
		if quote.AgencyID != nil {
			s.notify.Notify(ctx, notifications.Agency(*quote.AgencyID), enums.EventQuoteExpired, s.quoteEvent(app, quote))
		}
	}
	if expired > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", expired), "stale quotes expired")
	}

	for _, id := range order {
		app := touched[id]
		if app.Status != enums.ApplicationStatusQuoted || app.WindowEscalatedAt != nil {
			continue
		}
		pending, err := s.repo.CountPendingQuotes(ctx, app.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if pending > 0 {
			continue
		}
		if _, err := s.escalate(ctx, app, 0, now, "every offer expired"); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return expired, errs
}
