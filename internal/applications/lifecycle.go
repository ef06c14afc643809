package applications

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/internal/assignment"
	"github.com/angelmondragon/visamarket-backend/internal/notifications"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox/payloads"
)

// processor loads an application the actor may drive through milestones: the
// accepted agency or an admin.
func (s *service) processor(ctx context.Context, actor Actor, applicationID uuid.UUID) (*models.ServiceApplication, error) {
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		return app, nil
	case enums.ActorRoleAgency:
		ok, err := s.assignments.Can(ctx, assignment.AgencyRef{ID: actor.AgencyID}, app, assignment.CapabilityProcess)
		if err != nil {
			return nil, err
		}
		if ok {
			return app, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to process this application")
}

func (s *service) StartProcessing(ctx context.Context, actor Actor, applicationID uuid.UUID) (*models.ServiceApplication, error) {
	app, err := s.processor(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.move(ctx, s.repo.WithTx(tx), app, enums.ApplicationStatusInProgress, actor, "", map[string]any{
			"started_at": s.clock(),
		})
	})
	if err != nil {
		return nil, s.transitionErr(err, "starting processing")
	}
	s.logg.Info(s.logCtx(ctx, app), "processing started")
	s.notifyStatus(ctx, app, enums.ApplicationStatusAccepted, "")
	return s.load(ctx, app.ID)
}

// Complete finishes the work and credits the agency's assignment counters once.
func (s *service) Complete(ctx context.Context, actor Actor, applicationID uuid.UUID) (*models.ServiceApplication, error) {
	app, err := s.processor(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.acceptedOverrides(ctx, app)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := s.move(ctx, repo, app, enums.ApplicationStatusCompleted, actor, "", map[string]any{
			"completed_at": s.clock(),
		}); err != nil {
			return err
		}
		return s.applyCounters(ctx, tx, app, overrides, true)
	})
	if err != nil {
		return nil, s.transitionErr(err, "completing application")
	}
	s.logg.Info(s.logCtx(ctx, app), "application completed")
	s.notifyStatus(ctx, app, enums.ApplicationStatusInProgress, "")
	return s.load(ctx, app.ID)
}

// AddNote appends a timestamped progress note.
func (s *service) AddNote(ctx context.Context, actor Actor, applicationID uuid.UUID, note string) (*models.ServiceApplication, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "note must not be empty")
	}
	app, err := s.processor(ctx, actor, applicationID)
	if err != nil {
		return nil, err
	}
	switch app.Status {
	case enums.ApplicationStatusCancelled, enums.ApplicationStatusRejected:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "application is closed")
	}

	line := fmt.Sprintf("[%s] %s: %s", s.clock().Format("2006-01-02 15:04"), actor.Role, note)
	notes := line
	if app.Notes != nil && *app.Notes != "" {
		notes = *app.Notes + "\n" + line
	}
	err = s.repo.Transition(ctx, app.ID, app.Version, []enums.ApplicationStatus{app.Status}, map[string]any{"notes": notes})
	if err != nil {
		if db.IsNotFound(err) {
			return nil, staleErr()
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving note")
	}
	s.notify.Notify(ctx, notifications.User(app.UserID), enums.EventApplicationNoteAdded, &payloads.ApplicationEvent{
		ApplicationID:   app.ID,
		ServiceModuleID: app.ServiceModuleID,
		Status:          app.Status,
		Note:            note,
	})
	return s.load(ctx, app.ID)
}

// Cancel closes an application at the user's or an admin's request. Accepted work
// can only be cancelled by an admin with an explicit override.
func (s *service) Cancel(ctx context.Context, actor Actor, applicationID uuid.UUID, input CancelInput) (*models.ServiceApplication, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a cancellation reason is required")
	}
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	switch actor.Role {
	case enums.ActorRoleUser:
		if app.UserID != actor.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "application not found")
		}
		if !userCancellable(app.Status) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "application can no longer be cancelled").
				WithDetails(map[string]string{"status": app.Status.String()})
		}
	case enums.ActorRoleAdmin:
		if !userCancellable(app.Status) && !input.Override {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cancelling accepted work requires an override").
				WithDetails(map[string]string{"status": app.Status.String()})
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to cancel this application")
	}

	previous := app.Status
	var closed []models.ServiceQuote
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := s.move(ctx, repo, app, enums.ApplicationStatusCancelled, actor, reason, map[string]any{
			"cancelled_at":  s.clock(),
			"status_reason": reason,
		}); err != nil {
			return err
		}
		var err error
		closed, err = repo.CloseOpenQuotes(ctx, app.ID, nil, enums.QuoteStatusRejected)
		return err
	})
	if err != nil {
		return nil, s.transitionErr(err, "cancelling application")
	}
	s.logg.Info(s.logg.WithField(s.logCtx(ctx, app), "reason", reason), "application cancelled")
	s.notifyClosed(ctx, app, previous, reason, closed)
	return s.load(ctx, app.ID)
}

// Reject closes an application by admin decision. Rejecting accepted work counts
// against the agency's assignment once.
func (s *service) Reject(ctx context.Context, adminID, applicationID uuid.UUID, reason string) (*models.ServiceApplication, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a rejection reason is required")
	}
	app, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	overrides, err := s.acceptedOverrides(ctx, app)
	if err != nil {
		return nil, err
	}

	previous := app.Status
	var closed []models.ServiceQuote
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := s.move(ctx, repo, app, enums.ApplicationStatusRejected, AdminActor(adminID), reason, map[string]any{
			"rejected_at":   s.clock(),
			"status_reason": reason,
		}); err != nil {
			return err
		}
		var err error
		if closed, err = repo.CloseOpenQuotes(ctx, app.ID, nil, enums.QuoteStatusRejected); err != nil {
			return err
		}
		return s.applyCounters(ctx, tx, app, overrides, false)
	})
	if err != nil {
		return nil, s.transitionErr(err, "rejecting application")
	}
	s.logg.Info(s.logg.WithField(s.logCtx(ctx, app), "reason", reason), "application rejected")
	s.notifyClosed(ctx, app, previous, reason, closed)
	return s.load(ctx, app.ID)
}

// acceptedOverrides loads the grants behind the accepted agency, if there is one.
func (s *service) acceptedOverrides(ctx context.Context, app *models.ServiceApplication) (assignment.Overrides, error) {
	if app.AssignedAgencyID == nil {
		return assignment.Overrides{}, nil
	}
	return s.assignments.Overrides(ctx, app.ID, *app.AssignedAgencyID)
}

// applyCounters records the outcome on the accepted agency's country assignment,
// at most once per application.
func (s *service) applyCounters(ctx context.Context, tx *gorm.DB, app *models.ServiceApplication, overrides assignment.Overrides, approved bool) error {
	if app.AssignedAgencyID == nil || overrides.Assignment == nil {
		return nil
	}
	flipped, err := s.repo.WithTx(tx).ApplyCounters(ctx, app.ID)
	if err != nil || !flipped {
		return err
	}
	return s.eligibility.WithTx(tx).ApplyOutcome(ctx, overrides.Assignment.ID, approved, app.AgencyEarnings.Decimal)
}

func (s *service) transitionErr(err error, action string) error {
	if db.IsNotFound(err) {
		return staleErr()
	}
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
}

func (s *service) notifyStatus(ctx context.Context, app *models.ServiceApplication, previous enums.ApplicationStatus, reason string) {
	event := s.appEvent(app, reason)
	event.PreviousStatus = previous
	s.notify.Notify(ctx, notifications.User(app.UserID), enums.EventApplicationStatusChanged, event)
	if app.AssignedAgencyID != nil {
		s.notify.Notify(ctx, notifications.Agency(*app.AssignedAgencyID), enums.EventApplicationStatusChanged, event)
	}
}

func (s *service) notifyClosed(ctx context.Context, app *models.ServiceApplication, previous enums.ApplicationStatus, reason string, closed []models.ServiceQuote) {
	s.notifyStatus(ctx, app, previous, reason)
	for i := range closed {
		quote := closed[i]
		if quote.AgencyID == nil {
			continue
		}
		quote.Status = enums.QuoteStatusRejected
		s.notify.Notify(ctx, notifications.Agency(*quote.AgencyID), enums.EventQuoteRejected, s.quoteEvent(app, &quote))
	}
}
