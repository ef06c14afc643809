package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// AgencyResource is an agency's claim over a named resource (a university, an embassy)
// inside an exclusive service module.
type AgencyResource struct {
	ID                    uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgencyID              uuid.UUID                 `gorm:"column:agency_id;type:uuid;not null"`
	ServiceModuleID       uuid.UUID                 `gorm:"column:service_module_id;type:uuid;not null"`
	ResourceType          string                    `gorm:"column:resource_type;not null"`
	ResourceName          string                    `gorm:"column:resource_name;not null"`
	NormalizedName        string                    `gorm:"column:normalized_name;not null"`
	IsPrimaryOwner        bool                      `gorm:"column:is_primary_owner;not null;default:false"`
	Status                enums.ResourceClaimStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	SpecialCommissionType *enums.CommissionType     `gorm:"column:special_commission_type;type:text"`
	SpecialCommissionRate decimal.NullDecimal       `gorm:"column:special_commission_rate;type:numeric(12,2)"`
	ReviewedBy            *uuid.UUID                `gorm:"column:reviewed_by;type:uuid"`
	ReviewedAt            *time.Time                `gorm:"column:reviewed_at"`
	RejectionReason       *string                   `gorm:"column:rejection_reason"`
	CreatedAt             time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// IsApproved reports whether the claim grants eligibility.
func (r AgencyResource) IsApproved() bool {
	return r.Status == enums.ResourceClaimApproved
}
