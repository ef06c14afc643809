package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// FormField is one declarative input of a service module's application form.
type FormField struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ServiceModuleID uuid.UUID       `gorm:"column:service_module_id;type:uuid;not null"`
	Name            string          `gorm:"column:name;not null"`
	Label           string          `gorm:"column:label;not null"`
	Type            enums.FieldType `gorm:"column:field_type;type:text;not null"`
	Required        bool            `gorm:"column:is_required;not null;default:false"`
	ValidationRules string          `gorm:"column:validation_rules;not null;default:''"`
	Options         []string        `gorm:"column:options;type:jsonb;serializer:json"`
	ProfileTable    *string         `gorm:"column:profile_table"`
	ProfileColumn   *string         `gorm:"column:profile_column"`
	DependsOn       *string         `gorm:"column:depends_on"`
	DependsEquals   *string         `gorm:"column:depends_equals"`
	SortOrder       int             `gorm:"column:sort_order;not null;default:0"`
	GroupName       *string         `gorm:"column:group_name"`
	HelpText        *string         `gorm:"column:help_text"`
	Placeholder     *string         `gorm:"column:placeholder"`
	DefaultValue    *string         `gorm:"column:default_value"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
