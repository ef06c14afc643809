package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateApplication    OutboxAggregateType = "service_application"
	AggregateQuote          OutboxAggregateType = "service_quote"
	AggregateAgencyResource OutboxAggregateType = "agency_resource"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateApplication,
	AggregateQuote,
	AggregateAgencyResource,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a marketplace notification.
type OutboxEventType string

const (
	EventApplicationSubmitted     OutboxEventType = "application_submitted"
	EventApplicationAssigned      OutboxEventType = "application_assigned"
	EventApplicationBroadcast     OutboxEventType = "application_broadcast"
	EventApplicationUnassigned    OutboxEventType = "application_pending_assignment"
	EventApplicationStatusChanged OutboxEventType = "application_status_changed"
	EventApplicationNoteAdded     OutboxEventType = "application_note_added"
	EventQuoteSubmitted           OutboxEventType = "quote_submitted"
	EventQuoteAccepted            OutboxEventType = "quote_accepted"
	EventQuoteRejected            OutboxEventType = "quote_rejected"
	EventQuoteExpired             OutboxEventType = "quote_expired"
	EventQuoteWindowEscalated     OutboxEventType = "quote_window_escalated"
	EventResourceClaimDecided     OutboxEventType = "resource_claim_decided"
)

var validOutboxEventTypes = []OutboxEventType{
	EventApplicationSubmitted,
	EventApplicationAssigned,
	EventApplicationBroadcast,
	EventApplicationUnassigned,
	EventApplicationStatusChanged,
	EventApplicationNoteAdded,
	EventQuoteSubmitted,
	EventQuoteAccepted,
	EventQuoteRejected,
	EventQuoteExpired,
	EventQuoteWindowEscalated,
	EventResourceClaimDecided,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why a row was moved to the dead letter table.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
)
