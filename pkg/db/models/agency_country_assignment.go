package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// AgencyCountryAssignment authorizes an agency to serve a module for a country and visa type.
type AgencyCountryAssignment struct {
	ID                     uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AgencyID               uuid.UUID             `gorm:"column:agency_id;type:uuid;not null"`
	ServiceModuleID        uuid.UUID             `gorm:"column:service_module_id;type:uuid;not null"`
	Country                string                `gorm:"column:country;not null"`
	VisaType               string                `gorm:"column:visa_type;not null;default:''"`
	CommissionType         *enums.CommissionType `gorm:"column:commission_type;type:text"`
	CommissionRate         decimal.NullDecimal   `gorm:"column:commission_rate;type:numeric(12,2)"`
	CanEditRequirements    bool                  `gorm:"column:can_edit_requirements;not null;default:false"`
	CanSetFees             bool                  `gorm:"column:can_set_fees;not null"`
	CanProcessApplications bool                  `gorm:"column:can_process_applications;not null"`
	IsActive               bool                  `gorm:"column:is_active;not null"`
	TotalApplications      int                   `gorm:"column:total_applications;not null;default:0"`
	ApprovedApplications   int                   `gorm:"column:approved_applications;not null;default:0"`
	RejectedApplications   int                   `gorm:"column:rejected_applications;not null;default:0"`
	TotalRevenue           decimal.Decimal       `gorm:"column:total_revenue;type:numeric(12,2);not null;default:0"`
	CreatedAt              time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// GlobalServiceAssignment names the single agency serving a global_single module.
type GlobalServiceAssignment struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ServiceModuleID uuid.UUID `gorm:"column:service_module_id;type:uuid;not null;unique"`
	AgencyID        uuid.UUID `gorm:"column:agency_id;type:uuid;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
