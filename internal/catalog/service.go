package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/internal/commission"
	"github.com/angelmondragon/visamarket-backend/internal/forms"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

var (
	slugRe     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)
)

const defaultCurrency = "USD"

// Service is the service catalog: module registry and save-time validation.
type Service interface {
	SaveModule(ctx context.Context, module *models.ServiceModule) (*models.ServiceModule, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	GetModule(ctx context.Context, id uuid.UUID) (*models.ServiceModule, error)
	GetModuleBySlug(ctx context.Context, slug string) (*models.ServiceModule, error)
	ListModules(ctx context.Context, activeOnly bool) ([]models.ServiceModule, error)
	FormFields(ctx context.Context, moduleID uuid.UUID) ([]models.FormField, error)
}

type service struct {
	repo  *Repository
	guard forms.ProfileGuard
	logg  *logger.Logger
	now   func() time.Time
}

// NewService builds the catalog. guard restricts profile mappings and may be nil.
func NewService(repo *Repository, guard forms.ProfileGuard, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, guard: guard, logg: logg, now: time.Now}, nil
}

func (s *service) SaveModule(ctx context.Context, module *models.ServiceModule) (*models.ServiceModule, error) {
	if module == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "module is required")
	}
	normalize(module)
	if err := ValidateModule(module, s.now(), s.guard); err != nil {
		return nil, err
	}

	creating := module.ID == uuid.Nil
	err := s.repo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if creating {
			return repo.Create(ctx, module)
		}
		return repo.Replace(ctx, module)
	})
	if err != nil {
		switch {
		case db.IsNotFound(err):
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "service module not found")
		case db.IsUniqueViolation(err, ""):
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "service module slug already in use")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving service module")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"service_module_id": module.ID.String(),
		"slug":              module.Slug,
		"assignment_model":  module.AssignmentModel.String(),
		"created":           creating,
	}), "service module saved")
	return s.GetModule(ctx, module.ID)
}

func (s *service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return mapLookupErr(err)
	}
	return nil
}

func (s *service) GetModule(ctx context.Context, id uuid.UUID) (*models.ServiceModule, error) {
	module, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return module, nil
}

func (s *service) GetModuleBySlug(ctx context.Context, slug string) (*models.ServiceModule, error) {
	module, err := s.repo.FindBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	if err != nil {
		return nil, mapLookupErr(err)
	}
	return module, nil
}

func (s *service) ListModules(ctx context.Context, activeOnly bool) ([]models.ServiceModule, error) {
	rows, err := s.repo.List(ctx, activeOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing service modules")
	}
	return rows, nil
}

// FormFields loads the field definitions of an active module.
func (s *service) FormFields(ctx context.Context, moduleID uuid.UUID) ([]models.FormField, error) {
	module, err := s.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if !module.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "service module not found")
	}
	return module.Fields, nil
}

func mapLookupErr(err error) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "service module not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading service module")
}

func normalize(m *models.ServiceModule) {
	m.Slug = strings.ToLower(strings.TrimSpace(m.Slug))
	m.Name = strings.TrimSpace(m.Name)
	m.Currency = strings.ToUpper(strings.TrimSpace(m.Currency))
	if m.Currency == "" {
		m.Currency = defaultCurrency
	}
	if m.CommissionType == "" {
		m.CommissionType = enums.CommissionTypePercentage
	}
	if m.ResourceType != nil {
		rt := strings.ToLower(strings.TrimSpace(*m.ResourceType))
		m.ResourceType = &rt
		if rt == "" {
			m.ResourceType = nil
		}
	}
	m.RequiresAgency = m.AssignmentModel.RequiresAgency()
}

// ValidateModule checks a module's policy, commission and form schema. Commission
// problems yield COMMISSION_RATE_INVALID; everything else is collected into one
// CONFIGURATION_ERROR.
func ValidateModule(m *models.ServiceModule, now time.Time, guard forms.ProfileGuard) error {
	if err := commission.ValidateRate(m.CommissionType, m.CommissionRate); err != nil {
		return err
	}

	var issues []forms.Issue
	add := func(field, msg string) {
		issues = append(issues, forms.Issue{Field: field, Message: msg})
	}

	if !slugRe.MatchString(m.Slug) {
		add("slug", "slug must be lowercase words joined by hyphens")
	}
	if m.Name == "" {
		add("name", "name is required")
	}
	if !currencyRe.MatchString(m.Currency) {
		add("currency", "currency must be a three-letter ISO code")
	}
	if !m.AssignmentModel.IsValid() {
		add("assignment_model", fmt.Sprintf("unknown assignment model %q", m.AssignmentModel))
	}
	if m.ResourceLocking && m.AssignmentModel != enums.AssignmentExclusiveResource {
		add("resource_locking", "resource locking requires the exclusive_resource model")
	}
	if m.AssignmentModel == enums.AssignmentExclusiveResource && !m.ResourceLocking {
		add("resource_locking", "exclusive_resource modules must lock resources")
	}
	if m.ResourceLocking && m.AllowsMultipleAgencies {
		add("allows_multiple_agencies", "a locked resource cannot be served by multiple agencies")
	}
	if m.ResourceLocking && m.ResourceType == nil {
		add("resource_type", "resource type is required when resources are locked")
	}
	if m.QuoteTimeoutHours <= 0 {
		add("quote_timeout_hours", "quote timeout must be positive")
	}
	if m.MinQuotesRequired < 0 {
		add("min_quotes_required", "minimum quotes cannot be negative")
	}

	if _, err := forms.Compile(m.Fields, now, guard); err != nil {
		var serr *forms.SchemaError
		if !errors.As(err, &serr) {
			return err
		}
		for _, issue := range serr.Issues {
			add("fields."+issue.Field, issue.Message)
		}
	}

	if len(issues) > 0 {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "service module configuration is invalid").WithDetails(issues)
	}
	return nil
}
