package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// ServiceModule is a sellable service together with its assignment and commission policy.
type ServiceModule struct {
	ID                     uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Slug                   string                `gorm:"column:slug;not null;unique"`
	Name                   string                `gorm:"column:name;not null"`
	Description            *string               `gorm:"column:description"`
	Category               *string               `gorm:"column:category"`
	AssignmentModel        enums.AssignmentModel `gorm:"column:assignment_model;type:text;not null"`
	AllowsMultipleAgencies bool                  `gorm:"column:allows_multiple_agencies;not null;default:false"`
	RequiresAdminApproval  bool                  `gorm:"column:requires_admin_approval;not null"`
	ResourceLocking        bool                  `gorm:"column:resource_locking;not null;default:false"`
	RequiresAgency         bool                  `gorm:"column:requires_agency;not null"`
	ResourceType           *string               `gorm:"column:resource_type"`
	CommissionType         enums.CommissionType  `gorm:"column:platform_commission_type;type:text;not null;default:'percentage'"`
	CommissionRate         decimal.Decimal       `gorm:"column:platform_commission_rate;type:numeric(12,2);not null"`
	Currency               string                `gorm:"column:currency;not null;default:'USD'"`
	QuoteTimeoutHours      int                   `gorm:"column:quote_timeout_hours;not null"`
	MinQuotesRequired      int                   `gorm:"column:min_quotes_required;not null"`
	IsActive               bool                  `gorm:"column:is_active;not null"`
	Fields                 []FormField           `gorm:"foreignKey:ServiceModuleID"`
	CreatedAt              time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
