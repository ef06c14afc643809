package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/pkg/config"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox"
	"github.com/angelmondragon/visamarket-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry; every marketplace event goes to the
// notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.NotificationTopic == "" {
		return nil, fmt.Errorf("notification topic is required")
	}
	topic := cfg.NotificationTopic
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}

	applicationEvent := func() any { return &payloads.ApplicationEvent{} }
	for _, eventType := range []enums.OutboxEventType{
		enums.EventApplicationSubmitted,
		enums.EventApplicationAssigned,
		enums.EventApplicationBroadcast,
		enums.EventApplicationUnassigned,
		enums.EventApplicationStatusChanged,
		enums.EventApplicationNoteAdded,
	} {
		reg.register(EventDescriptor{
			EventType:      eventType,
			AggregateType:  enums.AggregateApplication,
			Topic:          topic,
			PayloadFactory: applicationEvent,
		})
	}

	quoteEvent := func() any { return &payloads.QuoteEvent{} }
	for _, eventType := range []enums.OutboxEventType{
		enums.EventQuoteSubmitted,
		enums.EventQuoteAccepted,
		enums.EventQuoteRejected,
		enums.EventQuoteExpired,
	} {
		reg.register(EventDescriptor{
			EventType:      eventType,
			AggregateType:  enums.AggregateQuote,
			Topic:          topic,
			PayloadFactory: quoteEvent,
		})
	}

	reg.register(EventDescriptor{
		EventType:      enums.EventQuoteWindowEscalated,
		AggregateType:  enums.AggregateApplication,
		Topic:          topic,
		PayloadFactory: func() any { return &payloads.QuoteWindowEvent{} },
	})
	reg.register(EventDescriptor{
		EventType:      enums.EventResourceClaimDecided,
		AggregateType:  enums.AggregateAgencyResource,
		Topic:          topic,
		PayloadFactory: func() any { return &payloads.ClaimDecisionEvent{} },
	})

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Descriptor returns the descriptor registered for eventType.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
