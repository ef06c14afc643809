package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/api/responses"
	"github.com/angelmondragon/visamarket-backend/api/validators"
	"github.com/angelmondragon/visamarket-backend/internal/catalog"
	"github.com/angelmondragon/visamarket-backend/internal/forms"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

// ListModules returns the active catalog.
func ListModules(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "catalog")
			return
		}
		rows, err := svc.ListModules(r.Context(), true)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toModuleDTOs(rows))
	}
}

// GetModule resolves {moduleId} as an id or a slug. Inactive modules are hidden.
func GetModule(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "catalog")
			return
		}
		module, err := lookupModule(r, svc)
		if err == nil && !module.IsActive {
			err = moduleNotFound()
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toModuleDTO(module, false))
	}
}

// ModuleSchema returns the compiled form of an active module.
func ModuleSchema(svc forms.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "forms")
			return
		}
		moduleID, err := validators.ParseUUIDParam(r, "moduleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		schema, err := svc.Schema(r.Context(), moduleID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"moduleId": moduleID, "fields": toSchemaDTO(schema)})
	}
}

type formFieldRequest struct {
	Name            string   `json:"name" validate:"required,max=64"`
	Label           string   `json:"label" validate:"required,max=200"`
	FieldType       string   `json:"fieldType" validate:"required"`
	IsRequired      bool     `json:"isRequired"`
	ValidationRules string   `json:"validationRules"`
	Options         []string `json:"options"`
	ProfileTable    *string  `json:"profileTable"`
	ProfileColumn   *string  `json:"profileColumn"`
	DependsOn       *string  `json:"dependsOn"`
	DependsEquals   *string  `json:"dependsEquals"`
	SortOrder       int      `json:"sortOrder"`
	GroupName       *string  `json:"groupName"`
	HelpText        *string  `json:"helpText"`
	Placeholder     *string  `json:"placeholder"`
	DefaultValue    *string  `json:"defaultValue"`
}

type moduleRequest struct {
	Slug                   string             `json:"slug" validate:"required,max=100"`
	Name                   string             `json:"name" validate:"required,max=200"`
	Description            *string            `json:"description"`
	Category               *string            `json:"category"`
	AssignmentModel        string             `json:"assignmentModel" validate:"required"`
	AllowsMultipleAgencies bool               `json:"allowsMultipleAgencies"`
	RequiresAdminApproval  bool               `json:"requiresAdminApproval"`
	ResourceLocking        bool               `json:"resourceLocking"`
	ResourceType           *string            `json:"resourceType"`
	CommissionType         string             `json:"platformCommissionType"`
	CommissionRate         decimal.Decimal    `json:"platformCommissionRate"`
	Currency               string             `json:"currency"`
	QuoteTimeoutHours      int                `json:"quoteTimeoutHours" validate:"min=0"`
	MinQuotesRequired      int                `json:"minQuotesRequired" validate:"min=0"`
	IsActive               bool               `json:"isActive"`
	Fields                 []formFieldRequest `json:"fields" validate:"dive"`
}

// toModel leaves enum checking to catalog.ValidateModule so every configuration
// problem is reported together.
func (p moduleRequest) toModel(id uuid.UUID) *models.ServiceModule {
	m := &models.ServiceModule{
		ID:                     id,
		Slug:                   p.Slug,
		Name:                   p.Name,
		Description:            p.Description,
		Category:               p.Category,
		AssignmentModel:        enums.AssignmentModel(strings.TrimSpace(p.AssignmentModel)),
		AllowsMultipleAgencies: p.AllowsMultipleAgencies,
		RequiresAdminApproval:  p.RequiresAdminApproval,
		ResourceLocking:        p.ResourceLocking,
		ResourceType:           p.ResourceType,
		CommissionType:         enums.CommissionType(strings.TrimSpace(p.CommissionType)),
		CommissionRate:         p.CommissionRate,
		Currency:               p.Currency,
		QuoteTimeoutHours:      p.QuoteTimeoutHours,
		MinQuotesRequired:      p.MinQuotesRequired,
		IsActive:               p.IsActive,
	}
	for _, f := range p.Fields {
		m.Fields = append(m.Fields, models.FormField{
			Name:            strings.TrimSpace(f.Name),
			Label:           strings.TrimSpace(f.Label),
			Type:            enums.FieldType(strings.TrimSpace(f.FieldType)),
			Required:        f.IsRequired,
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
	return m
}

// AdminListModules includes inactive modules.
func AdminListModules(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "catalog")
			return
		}
		rows, err := svc.ListModules(r.Context(), r.URL.Query().Get("active") == "true")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toModuleDTOs(rows))
	}
}

func AdminGetModule(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "catalog")
			return
		}
		module, err := lookupModule(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toModuleDTO(module, true))
	}
}

// AdminCreateModule creates a module with its form fields.
func AdminCreateModule(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "catalog")
			return
		}
		var payload moduleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		module, err := svc.SaveModule(r.Context(), payload.toModel(uuid.Nil))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, toModuleDTO(module, true))
	}
}

// AdminUpdateModule replaces a module and its whole field set.
func AdminUpdateModule(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "catalog")
			return
		}
		moduleID, err := validators.ParseUUIDParam(r, "moduleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload moduleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		module, err := svc.SaveModule(r.Context(), payload.toModel(moduleID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toModuleDTO(module, true))
	}
}

type moduleActiveRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

func AdminSetModuleActive(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "catalog")
			return
		}
		moduleID, err := validators.ParseUUIDParam(r, "moduleId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload moduleActiveRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SetActive(r.Context(), moduleID, *payload.IsActive); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": moduleID, "isActive": *payload.IsActive})
	}
}

func lookupModule(r *http.Request, svc catalog.Service) (*models.ServiceModule, error) {
	key := strings.TrimSpace(chi.URLParam(r, "moduleId"))
	if id, err := uuid.Parse(key); err == nil {
		return svc.GetModule(r.Context(), id)
	}
	return svc.GetModuleBySlug(r.Context(), key)
}

func moduleNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "service module not found")
}
