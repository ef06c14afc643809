package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// ServiceQuote is an agency's priced, timed offer on an application.
type ServiceQuote struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ApplicationID      uuid.UUID               `gorm:"column:application_id;type:uuid;not null"`
	AgencyID           *uuid.UUID              `gorm:"column:agency_id;type:uuid"`
	Source             enums.QuoteSource       `gorm:"column:source;type:text;not null;default:'agency'"`
	QuotedAmount       decimal.Decimal         `gorm:"column:quoted_amount;type:numeric(12,2);not null"`
	ServiceFee         decimal.Decimal         `gorm:"column:service_fee;type:numeric(12,2);not null;default:0"`
	ProcessingDays     int                     `gorm:"column:processing_days;not null;default:0"`
	Notes              *string                 `gorm:"column:notes"`
	Status             enums.QuoteStatus       `gorm:"column:status;type:text;not null;default:'pending'"`
	ValidUntil         *time.Time              `gorm:"column:valid_until"`
	// WindowBound quotes expire with the application's quote window and follow
	// its extensions.
	WindowBound        bool                    `gorm:"column:window_bound;not null;default:false"`
	PlatformCommission decimal.NullDecimal     `gorm:"column:platform_commission;type:numeric(12,2)"`
	AgencyEarnings     decimal.NullDecimal     `gorm:"column:agency_earnings;type:numeric(12,2)"`
	CommissionSource   *enums.CommissionSource `gorm:"column:commission_source;type:text"`
	DecidedAt          *time.Time              `gorm:"column:decided_at"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// IsExpiredAt reports whether the quote's validity lapsed before now.
func (q ServiceQuote) IsExpiredAt(now time.Time) bool {
	return q.ValidUntil != nil && now.After(*q.ValidUntil)
}
