// Package notifications delivers marketplace notifications through the outbox.
package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox/payloads"
)

// Recipient is re-exported so callers do not depend on the payload package.
type Recipient = payloads.Recipient

// Sink accepts notifications. Delivery is best-effort: implementations log failures
// and never return them, so a failed notification cannot undo a committed transition.
type Sink interface {
	Notify(ctx context.Context, recipient Recipient, event enums.OutboxEventType, payload any)
}

// User addresses an end user.
func User(id uuid.UUID) Recipient {
	return Recipient{Role: enums.ActorRoleUser, ID: &id}
}

// Agency addresses an agency.
func Agency(id uuid.UUID) Recipient {
	return Recipient{Role: enums.ActorRoleAgency, ID: &id}
}

// Admins addresses the administrator queue.
func Admins() Recipient {
	return Recipient{Role: enums.ActorRoleAdmin}
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OutboxSink writes each notification as an outbox row in its own short transaction.
// Callers invoke it after their own transaction committed.
type OutboxSink struct {
	db     *gorm.DB
	outbox emitter
	logg   *logger.Logger
}

// NewOutboxSink wires the sink.
func NewOutboxSink(db *gorm.DB, emit emitter, logg *logger.Logger) (*OutboxSink, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if emit == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &OutboxSink{db: db, outbox: emit, logg: logg}, nil
}

func (s *OutboxSink) Notify(ctx context.Context, recipient Recipient, event enums.OutboxEventType, payload any) {
	data, aggregateType, aggregateID, err := stamp(recipient, payload)
	if err == nil {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     event,
				AggregateType: aggregateType,
				AggregateID:   aggregateID,
				Data:          data,
			})
		})
	}
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_type":     event,
			"recipient_role": recipient.Role,
		})
		s.logg.WarnErr(logCtx, "notification dropped", err)
	}
}

// stamp returns a copy of the payload addressed to recipient and the aggregate it is about.
func stamp(recipient Recipient, payload any) (any, enums.OutboxAggregateType, uuid.UUID, error) {
	switch p := payload.(type) {
	case *payloads.ApplicationEvent:
		out := *p
		out.Recipient = recipient
		return out, enums.AggregateApplication, p.ApplicationID, nil
	case *payloads.QuoteEvent:
		out := *p
		out.Recipient = recipient
		return out, enums.AggregateQuote, p.QuoteID, nil
	case *payloads.QuoteWindowEvent:
		out := *p
		out.Recipient = recipient
		return out, enums.AggregateApplication, p.ApplicationID, nil
	case *payloads.ClaimDecisionEvent:
		out := *p
		out.Recipient = recipient
		return out, enums.AggregateAgencyResource, p.ResourceID, nil
	default:
		return nil, "", uuid.Nil, fmt.Errorf("unsupported notification payload %T", payload)
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Recipient, enums.OutboxEventType, any) {}
