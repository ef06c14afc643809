package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// ServiceApplication is a user's request for a service module, from form submission
// through bidding to fulfilment. Commission and bidding settings are snapshotted at
// creation so later module edits do not change a running application.
type ServiceApplication struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID               `gorm:"column:user_id;type:uuid;not null"`
	ServiceModuleID    uuid.UUID               `gorm:"column:service_module_id;type:uuid;not null"`
	Country            string                  `gorm:"column:country;not null;default:''"`
	VisaType           string                  `gorm:"column:visa_type;not null;default:''"`
	ResourceName       *string                 `gorm:"column:resource_name"`
	Status             enums.ApplicationStatus `gorm:"column:status;type:text;not null"`
	FormData           map[string]any          `gorm:"column:form_data;type:jsonb;serializer:json"`
	CommissionType     enums.CommissionType    `gorm:"column:commission_type;type:text;not null"`
	CommissionRate     decimal.Decimal         `gorm:"column:commission_rate;type:numeric(12,2);not null"`
	Currency           string                  `gorm:"column:currency;not null"`
	MinQuotesRequired  int                     `gorm:"column:min_quotes_required;not null"`
	QuoteTimeoutHours  int                     `gorm:"column:quote_timeout_hours;not null"`
	QuoteDeadline      *time.Time              `gorm:"column:quote_deadline"`
	WindowEscalatedAt  *time.Time              `gorm:"column:window_escalated_at"`
	AcceptedQuoteID    *uuid.UUID              `gorm:"column:accepted_quote_id;type:uuid"`
	AssignedAgencyID   *uuid.UUID              `gorm:"column:assigned_agency_id;type:uuid"`
	QuotedAmount       decimal.NullDecimal     `gorm:"column:quoted_amount;type:numeric(12,2)"`
	ServiceFee         decimal.NullDecimal     `gorm:"column:service_fee;type:numeric(12,2)"`
	PlatformCommission decimal.NullDecimal     `gorm:"column:platform_commission;type:numeric(12,2)"`
	AgencyEarnings     decimal.NullDecimal     `gorm:"column:agency_earnings;type:numeric(12,2)"`
	CommissionSource   *enums.CommissionSource `gorm:"column:commission_source;type:text"`
	Notes              *string                 `gorm:"column:notes"`
	StatusReason       *string                 `gorm:"column:status_reason"`
	CountersApplied    bool                    `gorm:"column:counters_applied;not null;default:false"`
	Version            int                     `gorm:"column:version;not null;default:0"`
	SubmittedAt        *time.Time              `gorm:"column:submitted_at"`
	AssignedAt         *time.Time              `gorm:"column:assigned_at"`
	QuotedAt           *time.Time              `gorm:"column:quoted_at"`
	AcceptedAt         *time.Time              `gorm:"column:accepted_at"`
	StartedAt          *time.Time              `gorm:"column:started_at"`
	CompletedAt        *time.Time              `gorm:"column:completed_at"`
	CancelledAt        *time.Time              `gorm:"column:cancelled_at"`
	RejectedAt         *time.Time              `gorm:"column:rejected_at"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// ApplicationEligibleAgency records an agency allowed to quote on an application.
type ApplicationEligibleAgency struct {
	ApplicationID uuid.UUID  `gorm:"column:application_id;type:uuid;primaryKey"`
	AgencyID      uuid.UUID  `gorm:"column:agency_id;type:uuid;primaryKey"`
	AssignmentID  *uuid.UUID `gorm:"column:assignment_id;type:uuid"`
	ResourceID    *uuid.UUID `gorm:"column:resource_id;type:uuid"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// ApplicationStatusEvent is one row of an application's audit trail.
type ApplicationStatusEvent struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ApplicationID uuid.UUID                `gorm:"column:application_id;type:uuid;not null"`
	FromStatus    *enums.ApplicationStatus `gorm:"column:from_status;type:text"`
	ToStatus      enums.ApplicationStatus  `gorm:"column:to_status;type:text;not null"`
	ActorRole     enums.ActorRole          `gorm:"column:actor_role;type:text;not null"`
	ActorID       *uuid.UUID               `gorm:"column:actor_id;type:uuid"`
	Reason        *string                  `gorm:"column:reason"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime"`
}
