package assignment

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/visamarket-backend/internal/commission"
	"github.com/angelmondragon/visamarket-backend/pkg/db"
	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

const (
	primaryOwnerIndex     = "ux_agency_resources_primary_owner"
	activeAssignmentIndex = "ux_agency_country_assignments_active"
	defaultProviderWait   = 4 * time.Second
)

var countryRe = regexp.MustCompile(`^[A-Z]{2}$`)

// AgencyRef identifies an agency acting on the marketplace.
type AgencyRef struct {
	ID uuid.UUID
}

// Capability is an action an agency may be allowed to take on an application.
type Capability string

const (
	// CapabilityQuote allows submitting and withdrawing quotes.
	CapabilityQuote Capability = "quote"
	// CapabilityProcess allows milestones and notes on an accepted application.
	CapabilityProcess Capability = "process"
)

// CapabilityChecker answers whether an agency may act on an application.
type CapabilityChecker interface {
	Can(ctx context.Context, agency AgencyRef, app *models.ServiceApplication, capability Capability) (bool, error)
}

// ClaimOutcome is the result of a resource claim attempt.
type ClaimOutcome string

const (
	ClaimOutcomeClaimed        ClaimOutcome = "claimed"
	ClaimOutcomeAlreadyClaimed ClaimOutcome = "already_claimed"
)

// ClaimResult carries the claim written on success.
type ClaimResult struct {
	Outcome  ClaimOutcome
	Resource *models.AgencyResource
}

// Err maps an AlreadyClaimed outcome to its user-facing error.
func (r ClaimResult) Err() error {
	if r.Outcome == ClaimOutcomeAlreadyClaimed {
		return pkgerrors.New(pkgerrors.CodeResourceClaimConflict, "this resource is already represented by another partner")
	}
	return nil
}

// AssignmentInput creates a country assignment. Nil capability flags default to true.
type AssignmentInput struct {
	AgencyID               uuid.UUID
	ModuleID               uuid.UUID
	Country                string
	VisaType               string
	CommissionType         *enums.CommissionType
	CommissionRate         decimal.NullDecimal
	CanEditRequirements    bool
	CanSetFees             *bool
	CanProcessApplications *bool
}

// Overrides are the grants an accepted agency's commission may come from.
type Overrides struct {
	Resource   *models.AgencyResource
	Assignment *models.AgencyCountryAssignment
}

// ModuleSource loads service modules.
type ModuleSource interface {
	GetModule(ctx context.Context, id uuid.UUID) (*models.ServiceModule, error)
}

// Service resolves eligibility and manages the grants behind it.
type Service interface {
	CapabilityChecker

	ResolveEligibleAgencies(ctx context.Context, app *models.ServiceApplication, module *models.ServiceModule) (Result, error)
	Overrides(ctx context.Context, applicationID, agencyID uuid.UUID) (Overrides, error)
	EligibleAgencies(ctx context.Context, applicationID uuid.UUID) ([]models.ApplicationEligibleAgency, error)

	ClaimResource(ctx context.Context, agency AgencyRef, moduleID uuid.UUID, resourceName string) (ClaimResult, error)
	ApproveClaim(ctx context.Context, claimID, adminID uuid.UUID) (*models.AgencyResource, error)
	RejectClaim(ctx context.Context, claimID, adminID uuid.UUID, reason string) (*models.AgencyResource, error)
	SetResourceCommission(ctx context.Context, claimID uuid.UUID, commissionType *enums.CommissionType, rate decimal.NullDecimal) (*models.AgencyResource, error)
	ListClaims(ctx context.Context, moduleID uuid.UUID, status *enums.ResourceClaimStatus) ([]models.AgencyResource, error)

	CreateCountryAssignment(ctx context.Context, input AssignmentInput) (*models.AgencyCountryAssignment, error)
	DeactivateCountryAssignment(ctx context.Context, id uuid.UUID) error
	ListCountryAssignments(ctx context.Context, moduleID uuid.UUID, activeOnly bool) ([]models.AgencyCountryAssignment, error)
	SetGlobalAssignment(ctx context.Context, moduleID, agencyID uuid.UUID) (*models.GlobalServiceAssignment, error)
}

// Config wires optional collaborators.
type Config struct {
	Provider        ExternalQuoteProvider
	ProviderTimeout time.Duration
	Metrics         providerMetrics
	Logger          *logger.Logger
}

type service struct {
	repo            *Repository
	modules         ModuleSource
	provider        ExternalQuoteProvider
	providerTimeout time.Duration
	metrics         providerMetrics
	logg            *logger.Logger
	now             func() time.Time
}

// NewService builds the assignment resolver.
func NewService(repo *Repository, modules ModuleSource, cfg Config) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("assignment repository required")
	}
	if modules == nil {
		return nil, fmt.Errorf("module source required")
	}
	svc := &service{
		repo:            repo,
		modules:         modules,
		provider:        cfg.Provider,
		providerTimeout: cfg.ProviderTimeout,
		metrics:         cfg.Metrics,
		logg:            cfg.Logger,
		now:             time.Now,
	}
	if svc.providerTimeout <= 0 {
		svc.providerTimeout = defaultProviderWait
	}
	if svc.metrics == nil {
		svc.metrics = nopMetrics{}
	}
	if svc.logg == nil {
		svc.logg = logger.Nop()
	}
	return svc, nil
}

type nopMetrics struct{}

func (nopMetrics) ObserveProvider(string, time.Duration) {}
func (nopMetrics) IncProviderFallback()                  {}

func (s *service) ClaimResource(ctx context.Context, agency AgencyRef, moduleID uuid.UUID, resourceName string) (ClaimResult, error) {
	if agency.ID == uuid.Nil {
		return ClaimResult{}, pkgerrors.New(pkgerrors.CodeForbidden, "agency identity required")
	}
	module, err := s.modules.GetModule(ctx, moduleID)
	if err != nil {
		return ClaimResult{}, err
	}
	if !module.IsActive {
		return ClaimResult{}, pkgerrors.New(pkgerrors.CodeNotFound, "service module not found")
	}
	if !module.ResourceLocking || module.ResourceType == nil {
		return ClaimResult{}, pkgerrors.New(pkgerrors.CodeValidation, "this service does not accept resource claims")
	}
	display := strings.Join(strings.Fields(resourceName), " ")
	normalized := NormalizeResourceName(resourceName)
	if normalized == "" {
		return ClaimResult{}, pkgerrors.New(pkgerrors.CodeValidation, "resource name is required")
	}

	now := s.now().UTC()
	claim := &models.AgencyResource{
		AgencyID:        agency.ID,
		ServiceModuleID: module.ID,
		ResourceType:    *module.ResourceType,
		ResourceName:    display,
		NormalizedName:  normalized,
		IsPrimaryOwner:  true,
		Status:          enums.ResourceClaimPending,
	}
	if !module.RequiresAdminApproval {
		claim.Status = enums.ResourceClaimApproved
		claim.ReviewedAt = &now
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"agency_id":         agency.ID.String(),
		"service_module_id": module.ID.String(),
		"resource":          normalized,
	})
	if err := s.repo.InsertClaim(ctx, claim); err != nil {
		if db.IsUniqueViolation(err, primaryOwnerIndex) {
			s.logg.Info(ctx, "resource claim lost to existing owner")
			return ClaimResult{Outcome: ClaimOutcomeAlreadyClaimed}, nil
		}
		return ClaimResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "inserting resource claim")
	}
	s.logg.Info(ctx, "resource claimed")
	return ClaimResult{Outcome: ClaimOutcomeClaimed, Resource: claim}, nil
}

func (s *service) ApproveClaim(ctx context.Context, claimID, adminID uuid.UUID) (*models.AgencyResource, error) {
	return s.review(ctx, claimID, adminID, enums.ResourceClaimApproved, nil)
}

func (s *service) RejectClaim(ctx context.Context, claimID, adminID uuid.UUID, reason string) (*models.AgencyResource, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason is required")
	}
	return s.review(ctx, claimID, adminID, enums.ResourceClaimRejected, &reason)
}

func (s *service) review(ctx context.Context, claimID, adminID uuid.UUID, status enums.ResourceClaimStatus, reason *string) (*models.AgencyResource, error) {
	claim, err := s.repo.FindClaim(ctx, claimID)
	if err != nil {
		return nil, claimLookupErr(err)
	}
	if claim.Status != enums.ResourceClaimPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "resource claim already reviewed").
			WithDetails(map[string]string{"status": string(claim.Status)})
	}
	if err := s.repo.ReviewClaim(ctx, claimID, status, adminID, reason, s.now().UTC()); err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "resource claim already reviewed")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reviewing resource claim")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"claim_id": claimID.String(),
		"status":   string(status),
	}), "resource claim reviewed")

	updated, err := s.repo.FindClaim(ctx, claimID)
	if err != nil {
		return nil, claimLookupErr(err)
	}
	return updated, nil
}

func (s *service) SetResourceCommission(ctx context.Context, claimID uuid.UUID, commissionType *enums.CommissionType, rate decimal.NullDecimal) (*models.AgencyResource, error) {
	if err := commission.ValidateOverride(commissionType, rate); err != nil {
		return nil, err
	}
	if err := s.repo.SetClaimCommission(ctx, claimID, commissionType, rate); err != nil {
		return nil, claimLookupErr(err)
	}
	claim, err := s.repo.FindClaim(ctx, claimID)
	if err != nil {
		return nil, claimLookupErr(err)
	}
	return claim, nil
}

func (s *service) ListClaims(ctx context.Context, moduleID uuid.UUID, status *enums.ResourceClaimStatus) ([]models.AgencyResource, error) {
	rows, err := s.repo.ListClaims(ctx, moduleID, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing resource claims")
	}
	return rows, nil
}

func (s *service) CreateCountryAssignment(ctx context.Context, input AssignmentInput) (*models.AgencyCountryAssignment, error) {
	if input.AgencyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agency id is required")
	}
	module, err := s.modules.GetModule(ctx, input.ModuleID)
	if err != nil {
		return nil, err
	}
	switch module.AssignmentModel {
	case enums.AssignmentCompetitive, enums.AssignmentMultiCountry, enums.AssignmentHybrid:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service module does not use country assignments").
			WithDetails(map[string]string{"assignmentModel": module.AssignmentModel.String()})
	}
	country := strings.ToUpper(strings.TrimSpace(input.Country))
	if !countryRe.MatchString(country) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "country must be an ISO-3166 alpha-2 code")
	}
	if err := commission.ValidateOverride(input.CommissionType, input.CommissionRate); err != nil {
		return nil, err
	}

	row := &models.AgencyCountryAssignment{
		AgencyID:               input.AgencyID,
		ServiceModuleID:        module.ID,
		Country:                country,
		VisaType:               strings.ToLower(strings.TrimSpace(input.VisaType)),
		CommissionType:         input.CommissionType,
		CommissionRate:         input.CommissionRate,
		CanEditRequirements:    input.CanEditRequirements,
		CanSetFees:             boolOr(input.CanSetFees, true),
		CanProcessApplications: boolOr(input.CanProcessApplications, true),
		IsActive:               true,
	}
	if err := s.repo.CreateAssignment(ctx, row); err != nil {
		if db.IsUniqueViolation(err, activeAssignmentIndex) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "agency already holds an active assignment for this country and visa type")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating country assignment")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"assignment_id":     row.ID.String(),
		"agency_id":         row.AgencyID.String(),
		"service_module_id": row.ServiceModuleID.String(),
		"country":           row.Country,
	}), "country assignment created")
	return row, nil
}

func (s *service) DeactivateCountryAssignment(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeactivateAssignment(ctx, id); err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "active assignment not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivating assignment")
	}
	return nil
}

func (s *service) ListCountryAssignments(ctx context.Context, moduleID uuid.UUID, activeOnly bool) ([]models.AgencyCountryAssignment, error) {
	rows, err := s.repo.ListAssignments(ctx, moduleID, activeOnly)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing assignments")
	}
	return rows, nil
}

func (s *service) SetGlobalAssignment(ctx context.Context, moduleID, agencyID uuid.UUID) (*models.GlobalServiceAssignment, error) {
	if agencyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agency id is required")
	}
	module, err := s.modules.GetModule(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	if module.AssignmentModel != enums.AssignmentGlobalSingle {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service module is not served by a single global agency")
	}
	if err := s.repo.UpsertGlobalAssignment(ctx, &models.GlobalServiceAssignment{ServiceModuleID: moduleID, AgencyID: agencyID}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "setting global assignment")
	}
	row, err := s.repo.GlobalAssignment(ctx, moduleID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading global assignment")
	}
	return row, nil
}

// Can checks eligibility-based capabilities. Quoting requires a row in the
// application's eligible set whose grant is still live; processing requires being
// the accepted agency.
func (s *service) Can(ctx context.Context, agency AgencyRef, app *models.ServiceApplication, capability Capability) (bool, error) {
	if app == nil || agency.ID == uuid.Nil {
		return false, nil
	}
	switch capability {
	case CapabilityProcess:
		return app.AssignedAgencyID != nil && *app.AssignedAgencyID == agency.ID, nil
	case CapabilityQuote:
		row, err := s.repo.Eligible(ctx, app.ID, agency.ID)
		if err != nil {
			if db.IsNotFound(err) {
				return false, nil
			}
			return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading eligibility")
		}
		if row.AssignmentID != nil {
			assignment, err := s.repo.FindAssignment(ctx, *row.AssignmentID)
			if err != nil {
				if db.IsNotFound(err) {
					return false, nil
				}
				return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading assignment")
			}
			return assignment.IsActive && assignment.CanProcessApplications && assignment.CanSetFees, nil
		}
		if row.ResourceID != nil {
			claim, err := s.repo.FindClaim(ctx, *row.ResourceID)
			if err != nil {
				if db.IsNotFound(err) {
					return false, nil
				}
				return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading resource claim")
			}
			return claim.IsApproved() && claim.IsPrimaryOwner, nil
		}
		return true, nil
	}
	return false, nil
}

// Overrides loads the resource claim and assignment that made agencyID eligible.
func (s *service) Overrides(ctx context.Context, applicationID, agencyID uuid.UUID) (Overrides, error) {
	var out Overrides
	row, err := s.repo.Eligible(ctx, applicationID, agencyID)
	if err != nil {
		if db.IsNotFound(err) {
			return out, nil
		}
		return out, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading eligibility")
	}
	if row.ResourceID != nil {
		claim, err := s.repo.FindClaim(ctx, *row.ResourceID)
		if err != nil && !db.IsNotFound(err) {
			return out, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading resource claim")
		}
		out.Resource = claim
	}
	if row.AssignmentID != nil {
		assignment, err := s.repo.FindAssignment(ctx, *row.AssignmentID)
		if err != nil && !db.IsNotFound(err) {
			return out, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading assignment")
		}
		out.Assignment = assignment
	}
	return out, nil
}

// EligibleAgencies lists the agencies an application was resolved to, with the grant
// that admitted each one.
func (s *service) EligibleAgencies(ctx context.Context, applicationID uuid.UUID) ([]models.ApplicationEligibleAgency, error) {
	rows, err := s.repo.EligibleAgencies(ctx, applicationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading eligible agencies")
	}
	return rows, nil
}

func claimLookupErr(err error) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "resource claim not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading resource claim")
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
