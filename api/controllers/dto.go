package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/internal/forms"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

type formFieldDTO struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Label           string          `json:"label"`
	Type            enums.FieldType `json:"fieldType"`
	Required        bool            `json:"isRequired"`
	ValidationRules string          `json:"validationRules,omitempty"`
	Options         []string        `json:"options,omitempty"`
	ProfileTable    *string         `json:"profileTable,omitempty"`
	ProfileColumn   *string         `json:"profileColumn,omitempty"`
	DependsOn       *string         `json:"dependsOn,omitempty"`
	DependsEquals   *string         `json:"dependsEquals,omitempty"`
	SortOrder       int             `json:"sortOrder"`
	GroupName       *string         `json:"groupName,omitempty"`
	HelpText        *string         `json:"helpText,omitempty"`
	Placeholder     *string         `json:"placeholder,omitempty"`
	DefaultValue    *string         `json:"defaultValue,omitempty"`
}

type moduleDTO struct {
	ID                     uuid.UUID             `json:"id"`
	Slug                   string                `json:"slug"`
	Name                   string                `json:"name"`
	Description            *string               `json:"description,omitempty"`
	Category               *string               `json:"category,omitempty"`
	AssignmentModel        enums.AssignmentModel `json:"assignmentModel"`
	AllowsMultipleAgencies bool                  `json:"allowsMultipleAgencies"`
	RequiresAdminApproval  bool                  `json:"requiresAdminApproval"`
	ResourceLocking        bool                  `json:"resourceLocking"`
	RequiresAgency         bool                  `json:"requiresAgency"`
	ResourceType           *string               `json:"resourceType,omitempty"`
	CommissionType         enums.CommissionType  `json:"platformCommissionType"`
	CommissionRate         decimal.Decimal       `json:"platformCommissionRate"`
	Currency               string                `json:"currency"`
	QuoteTimeoutHours      int                   `json:"quoteTimeoutHours"`
	MinQuotesRequired      int                   `json:"minQuotesRequired"`
	IsActive               bool                  `json:"isActive"`
	Fields                 []formFieldDTO        `json:"fields,omitempty"`
	CreatedAt              time.Time             `json:"createdAt"`
	UpdatedAt              time.Time             `json:"updatedAt"`
}

func toModuleDTO(m *models.ServiceModule, withFields bool) moduleDTO {
	dto := moduleDTO{
		ID:                     m.ID,
		Slug:                   m.Slug,
		Name:                   m.Name,
		Description:            m.Description,
		Category:               m.Category,
		AssignmentModel:        m.AssignmentModel,
		AllowsMultipleAgencies: m.AllowsMultipleAgencies,
		RequiresAdminApproval:  m.RequiresAdminApproval,
		ResourceLocking:        m.ResourceLocking,
		RequiresAgency:         m.RequiresAgency,
		ResourceType:           m.ResourceType,
		CommissionType:         m.CommissionType,
		CommissionRate:         m.CommissionRate,
		Currency:               m.Currency,
		QuoteTimeoutHours:      m.QuoteTimeoutHours,
		MinQuotesRequired:      m.MinQuotesRequired,
		IsActive:               m.IsActive,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
	if withFields {
		dto.Fields = make([]formFieldDTO, 0, len(m.Fields))
		for _, f := range m.Fields {
			dto.Fields = append(dto.Fields, formFieldDTO{
				ID:              f.ID,
				Name:            f.Name,
				Label:           f.Label,
				Type:            f.Type,
				Required:        f.Required,
				ValidationRules: f.ValidationRules,
				Options:         f.Options,
				ProfileTable:    f.ProfileTable,
				ProfileColumn:   f.ProfileColumn,
				DependsOn:       f.DependsOn,
				DependsEquals:   f.DependsEquals,
				SortOrder:       f.SortOrder,
				GroupName:       f.GroupName,
				HelpText:        f.HelpText,
				Placeholder:     f.Placeholder,
				DefaultValue:    f.DefaultValue,
			})
		}
	}
	return dto
}

func toModuleDTOs(rows []models.ServiceModule) []moduleDTO {
	out := make([]moduleDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toModuleDTO(&rows[i], false))
	}
	return out
}

type schemaFieldDTO struct {
	Name         string          `json:"name"`
	Label        string          `json:"label"`
	Type         enums.FieldType `json:"fieldType"`
	Required     bool            `json:"isRequired"`
	Rules        []string        `json:"rules,omitempty"`
	Options      []string        `json:"options,omitempty"`
	Prefilled    bool            `json:"prefilled"`
	DependsOn    string          `json:"dependsOn,omitempty"`
	DependsValue string          `json:"dependsEquals,omitempty"`
	DefaultValue *string         `json:"defaultValue,omitempty"`
}

func toSchemaDTO(schema forms.Schema) []schemaFieldDTO {
	out := make([]schemaFieldDTO, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		dto := schemaFieldDTO{
			Name:         f.Name,
			Label:        f.Label,
			Type:         f.Type,
			Required:     f.Required,
			Options:      f.Options,
			Prefilled:    f.ProfileKey != nil,
			DefaultValue: f.DefaultValue,
		}
		for _, rule := range f.Rules {
			dto.Rules = append(dto.Rules, rule.String())
		}
		if f.Condition != nil {
			dto.DependsOn = f.Condition.DependsOn
			dto.DependsValue = f.Condition.Equals
		}
		out = append(out, dto)
	}
	return out
}

type applicationDTO struct {
	ID                 uuid.UUID               `json:"id"`
	UserID             uuid.UUID               `json:"userId"`
	ServiceModuleID    uuid.UUID               `json:"serviceModuleId"`
	Country            string                  `json:"country,omitempty"`
	VisaType           string                  `json:"visaType,omitempty"`
	ResourceName       *string                 `json:"resourceName,omitempty"`
	Status             enums.ApplicationStatus `json:"status"`
	FormData           map[string]any          `json:"formData,omitempty"`
	Currency           string                  `json:"currency"`
	QuoteDeadline      *time.Time              `json:"quoteDeadline,omitempty"`
	WindowEscalatedAt  *time.Time              `json:"windowEscalatedAt,omitempty"`
	AcceptedQuoteID    *uuid.UUID              `json:"acceptedQuoteId,omitempty"`
	AssignedAgencyID   *uuid.UUID              `json:"assignedAgencyId,omitempty"`
	QuotedAmount       decimal.NullDecimal     `json:"quotedAmount"`
	ServiceFee         decimal.NullDecimal     `json:"serviceFee"`
	PlatformCommission *decimal.Decimal        `json:"platformCommission,omitempty"`
	AgencyEarnings     *decimal.Decimal        `json:"agencyEarnings,omitempty"`
	CommissionSource   *enums.CommissionSource `json:"commissionSource,omitempty"`
	Notes              *string                 `json:"notes,omitempty"`
	StatusReason       *string                 `json:"statusReason,omitempty"`
	SubmittedAt        *time.Time              `json:"submittedAt,omitempty"`
	AcceptedAt         *time.Time              `json:"acceptedAt,omitempty"`
	CompletedAt        *time.Time              `json:"completedAt,omitempty"`
	CreatedAt          time.Time               `json:"createdAt"`
	UpdatedAt          time.Time               `json:"updatedAt"`
}

// toApplicationDTO hides the platform's cut from users; agencies and admins see it.
func toApplicationDTO(app *models.ServiceApplication, role enums.ActorRole) applicationDTO {
	dto := applicationDTO{
		ID:                app.ID,
		UserID:            app.UserID,
		ServiceModuleID:   app.ServiceModuleID,
		Country:           app.Country,
		VisaType:          app.VisaType,
		ResourceName:      app.ResourceName,
		Status:            app.Status,
		FormData:          app.FormData,
		Currency:          app.Currency,
		QuoteDeadline:     app.QuoteDeadline,
		WindowEscalatedAt: app.WindowEscalatedAt,
		AcceptedQuoteID:   app.AcceptedQuoteID,
		AssignedAgencyID:  app.AssignedAgencyID,
		QuotedAmount:      app.QuotedAmount,
		ServiceFee:        app.ServiceFee,
		Notes:             app.Notes,
		StatusReason:      app.StatusReason,
		SubmittedAt:       app.SubmittedAt,
		AcceptedAt:        app.AcceptedAt,
		CompletedAt:       app.CompletedAt,
		CreatedAt:         app.CreatedAt,
		UpdatedAt:         app.UpdatedAt,
	}
	if role != enums.ActorRoleUser {
		dto.PlatformCommission = nullableDecimal(app.PlatformCommission)
		dto.AgencyEarnings = nullableDecimal(app.AgencyEarnings)
		dto.CommissionSource = app.CommissionSource
	}
	return dto
}

func toApplicationDTOs(rows []models.ServiceApplication, role enums.ActorRole) []applicationDTO {
	out := make([]applicationDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toApplicationDTO(&rows[i], role))
	}
	return out
}

type quoteDTO struct {
	ID                 uuid.UUID               `json:"id"`
	ApplicationID      uuid.UUID               `json:"applicationId"`
	AgencyID           *uuid.UUID              `json:"agencyId,omitempty"`
	Source             enums.QuoteSource       `json:"source"`
	QuotedAmount       decimal.Decimal         `json:"quotedAmount"`
	ServiceFee         decimal.Decimal         `json:"serviceFee"`
	Total              decimal.Decimal         `json:"total"`
	ProcessingDays     int                     `json:"processingDays"`
	Notes              *string                 `json:"notes,omitempty"`
	Status             enums.QuoteStatus       `json:"status"`
	ValidUntil         *time.Time              `json:"validUntil,omitempty"`
	PlatformCommission *decimal.Decimal        `json:"platformCommission,omitempty"`
	AgencyEarnings     *decimal.Decimal        `json:"agencyEarnings,omitempty"`
	CommissionSource   *enums.CommissionSource `json:"commissionSource,omitempty"`
	DecidedAt          *time.Time              `json:"decidedAt,omitempty"`
	CreatedAt          time.Time               `json:"createdAt"`
}

func toQuoteDTO(q *models.ServiceQuote, role enums.ActorRole) quoteDTO {
	dto := quoteDTO{
		ID:             q.ID,
		ApplicationID:  q.ApplicationID,
		AgencyID:       q.AgencyID,
		Source:         q.Source,
		QuotedAmount:   q.QuotedAmount,
		ServiceFee:     q.ServiceFee,
		Total:          q.QuotedAmount.Add(q.ServiceFee),
		ProcessingDays: q.ProcessingDays,
		Notes:          q.Notes,
		Status:         q.Status,
		ValidUntil:     q.ValidUntil,
		DecidedAt:      q.DecidedAt,
		CreatedAt:      q.CreatedAt,
	}
	if role != enums.ActorRoleUser {
		dto.PlatformCommission = nullableDecimal(q.PlatformCommission)
		dto.AgencyEarnings = nullableDecimal(q.AgencyEarnings)
		dto.CommissionSource = q.CommissionSource
	}
	return dto
}

func toQuoteDTOs(rows []models.ServiceQuote, role enums.ActorRole) []quoteDTO {
	out := make([]quoteDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toQuoteDTO(&rows[i], role))
	}
	return out
}

type statusEventDTO struct {
	FromStatus *enums.ApplicationStatus `json:"fromStatus,omitempty"`
	ToStatus   enums.ApplicationStatus  `json:"toStatus"`
	ActorRole  enums.ActorRole          `json:"actorRole"`
	ActorID    *uuid.UUID               `json:"actorId,omitempty"`
	Reason     *string                  `json:"reason,omitempty"`
	CreatedAt  time.Time                `json:"createdAt"`
}

func toStatusEventDTOs(rows []models.ApplicationStatusEvent) []statusEventDTO {
	out := make([]statusEventDTO, 0, len(rows))
	for _, e := range rows {
		out = append(out, statusEventDTO{
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			ActorRole:  e.ActorRole,
			ActorID:    e.ActorID,
			Reason:     e.Reason,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

type resourceClaimDTO struct {
	ID                    uuid.UUID                 `json:"id"`
	AgencyID              uuid.UUID                 `json:"agencyId"`
	ServiceModuleID       uuid.UUID                 `json:"serviceModuleId"`
	ResourceType          string                    `json:"resourceType"`
	ResourceName          string                    `json:"resourceName"`
	IsPrimaryOwner        bool                      `json:"isPrimaryOwner"`
	Status                enums.ResourceClaimStatus `json:"status"`
	SpecialCommissionType *enums.CommissionType     `json:"specialCommissionType,omitempty"`
	SpecialCommissionRate decimal.NullDecimal       `json:"specialCommissionRate"`
	ReviewedAt            *time.Time                `json:"reviewedAt,omitempty"`
	RejectionReason       *string                   `json:"rejectionReason,omitempty"`
	CreatedAt             time.Time                 `json:"createdAt"`
}

func toResourceClaimDTO(r *models.AgencyResource) resourceClaimDTO {
	return resourceClaimDTO{
		ID:                    r.ID,
		AgencyID:              r.AgencyID,
		ServiceModuleID:       r.ServiceModuleID,
		ResourceType:          r.ResourceType,
		ResourceName:          r.ResourceName,
		IsPrimaryOwner:        r.IsPrimaryOwner,
		Status:                r.Status,
		SpecialCommissionType: r.SpecialCommissionType,
		SpecialCommissionRate: r.SpecialCommissionRate,
		ReviewedAt:            r.ReviewedAt,
		RejectionReason:       r.RejectionReason,
		CreatedAt:             r.CreatedAt,
	}
}

type countryAssignmentDTO struct {
	ID                     uuid.UUID             `json:"id"`
	AgencyID               uuid.UUID             `json:"agencyId"`
	ServiceModuleID        uuid.UUID             `json:"serviceModuleId"`
	Country                string                `json:"country"`
	VisaType               string                `json:"visaType,omitempty"`
	CommissionType         *enums.CommissionType `json:"commissionType,omitempty"`
	CommissionRate         decimal.NullDecimal   `json:"commissionRate"`
	CanEditRequirements    bool                  `json:"canEditRequirements"`
	CanSetFees             bool                  `json:"canSetFees"`
	CanProcessApplications bool                  `json:"canProcessApplications"`
	IsActive               bool                  `json:"isActive"`
	TotalApplications      int                   `json:"totalApplications"`
	ApprovedApplications   int                   `json:"approvedApplications"`
	RejectedApplications   int                   `json:"rejectedApplications"`
	TotalRevenue           decimal.Decimal       `json:"totalRevenue"`
}

func toCountryAssignmentDTO(a *models.AgencyCountryAssignment) countryAssignmentDTO {
	return countryAssignmentDTO{
		ID:                     a.ID,
		AgencyID:               a.AgencyID,
		ServiceModuleID:        a.ServiceModuleID,
		Country:                a.Country,
		VisaType:               a.VisaType,
		CommissionType:         a.CommissionType,
		CommissionRate:         a.CommissionRate,
		CanEditRequirements:    a.CanEditRequirements,
		CanSetFees:             a.CanSetFees,
		CanProcessApplications: a.CanProcessApplications,
		IsActive:               a.IsActive,
		TotalApplications:      a.TotalApplications,
		ApprovedApplications:   a.ApprovedApplications,
		RejectedApplications:   a.RejectedApplications,
		TotalRevenue:           a.TotalRevenue,
	}
}

type eligibleAgencyDTO struct {
	AgencyID     uuid.UUID  `json:"agencyId"`
	AssignmentID *uuid.UUID `json:"assignmentId,omitempty"`
	ResourceID   *uuid.UUID `json:"resourceId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

func toEligibleAgencyDTOs(rows []models.ApplicationEligibleAgency) []eligibleAgencyDTO {
	out := make([]eligibleAgencyDTO, 0, len(rows))
	for _, e := range rows {
		out = append(out, eligibleAgencyDTO{
			AgencyID:     e.AgencyID,
			AssignmentID: e.AssignmentID,
			ResourceID:   e.ResourceID,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

func nullableDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
