package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// Recipient addresses one notification. A nil ID with the admin role is a broadcast
// to the administrator queue.
type Recipient struct {
	Role enums.ActorRole `json:"role"`
	ID   *uuid.UUID      `json:"id,omitempty"`
}

// ApplicationEvent covers submission, assignment, status changes and notes.
type ApplicationEvent struct {
	Recipient       Recipient               `json:"recipient"`
	ApplicationID   uuid.UUID               `json:"application_id"`
	ServiceModuleID uuid.UUID               `json:"service_module_id"`
	Status          enums.ApplicationStatus `json:"status"`
	PreviousStatus  enums.ApplicationStatus `json:"previous_status,omitempty"`
	Reason          string                  `json:"reason,omitempty"`
	QuoteDeadline   *time.Time              `json:"quote_deadline,omitempty"`
	Note            string                  `json:"note,omitempty"`
}

// QuoteEvent covers quote submission and the decision fan-out on acceptance.
type QuoteEvent struct {
	Recipient     Recipient         `json:"recipient"`
	ApplicationID uuid.UUID         `json:"application_id"`
	QuoteID       uuid.UUID         `json:"quote_id"`
	AgencyID      *uuid.UUID        `json:"agency_id,omitempty"`
	Status        enums.QuoteStatus `json:"status"`
	QuotedAmount  string            `json:"quoted_amount,omitempty"`
	Currency      string            `json:"currency,omitempty"`
}

// QuoteWindowEvent is raised once when a bidding window lapses short of quotes.
type QuoteWindowEvent struct {
	Recipient      Recipient `json:"recipient"`
	ApplicationID  uuid.UUID `json:"application_id"`
	QuoteDeadline  time.Time `json:"quote_deadline"`
	PendingQuotes  int       `json:"pending_quotes"`
	RequiredQuotes int       `json:"required_quotes"`
}

// ClaimDecisionEvent tells an agency how its resource claim was decided.
type ClaimDecisionEvent struct {
	Recipient    Recipient                 `json:"recipient"`
	ResourceID   uuid.UUID                 `json:"resource_id"`
	ResourceType string                    `json:"resource_type"`
	ResourceName string                    `json:"resource_name"`
	Status       enums.ResourceClaimStatus `json:"status"`
	Reason       string                    `json:"reason,omitempty"`
}
