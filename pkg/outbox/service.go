package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

// DomainEvent is what producers hand to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit stores event inside tx so it commits or rolls back with the state change
// that caused it. The envelope's event id is the outbox row id, which subscribers
// and the dead-letter table both key on.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	row, err := newOutboxRow(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return fmt.Errorf("insert outbox event %s: %w", event.EventType, err)
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       row.ID.String(),
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID.String(),
		}), "outbox event queued")
	}
	return nil
}

func newOutboxRow(event DomainEvent) (models.OutboxEvent, error) {
	switch {
	case !event.EventType.IsValid():
		return models.OutboxEvent{}, fmt.Errorf("unknown outbox event type %q", event.EventType)
	case event.AggregateID == uuid.Nil:
		return models.OutboxEvent{}, fmt.Errorf("aggregate id required")
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}

	version := event.Version
	if version == 0 {
		version = 1
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	id := uuid.New()
	payload, err := json.Marshal(PayloadEnvelope{
		Version:    version,
		EventID:    id.String(),
		OccurredAt: occurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	})
	if err != nil {
		return models.OutboxEvent{}, err
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}, nil
}
