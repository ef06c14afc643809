package assignment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// Repository persists agency assignments, resource claims and eligible sets.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to a GORM handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// DB exposes the bound handle.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// ProcessingAssignments returns active, processing-capable assignments for a module
// and country. A non-empty visaType also matches assignments with an empty visa type.
func (r *Repository) ProcessingAssignments(ctx context.Context, moduleID uuid.UUID, country, visaType string, anyVisaType bool) ([]models.AgencyCountryAssignment, error) {
	query := r.db.WithContext(ctx).
		Where("service_module_id = ? AND country = ?", moduleID, country).
		Where("is_active = ? AND can_process_applications = ?", true, true)
	if !anyVisaType {
		query = query.Where("visa_type = ? OR visa_type = ''", visaType)
	}
	var rows []models.AgencyCountryAssignment
	if err := query.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindAssignment loads an assignment by id.
func (r *Repository) FindAssignment(ctx context.Context, id uuid.UUID) (*models.AgencyCountryAssignment, error) {
	var row models.AgencyCountryAssignment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// CreateAssignment inserts a country assignment.
func (r *Repository) CreateAssignment(ctx context.Context, a *models.AgencyCountryAssignment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

// DeactivateAssignment flips an assignment inactive.
func (r *Repository) DeactivateAssignment(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.AgencyCountryAssignment{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListAssignments returns a module's assignments, active ones only when asked.
func (r *Repository) ListAssignments(ctx context.Context, moduleID uuid.UUID, activeOnly bool) ([]models.AgencyCountryAssignment, error) {
	query := r.db.WithContext(ctx).Where("service_module_id = ?", moduleID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []models.AgencyCountryAssignment
	if err := query.Order("country ASC").Order("visa_type ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ApplyOutcome adds one finished application to an assignment's counters.
func (r *Repository) ApplyOutcome(ctx context.Context, id uuid.UUID, approved bool, revenue decimal.Decimal) error {
	updates := map[string]any{
		"total_applications": gorm.Expr("total_applications + 1"),
		"updated_at":         time.Now().UTC(),
	}
	if approved {
		updates["approved_applications"] = gorm.Expr("approved_applications + 1")
		updates["total_revenue"] = gorm.Expr("total_revenue + ?", revenue)
	} else {
		updates["rejected_applications"] = gorm.Expr("rejected_applications + 1")
	}
	return r.db.WithContext(ctx).Model(&models.AgencyCountryAssignment{}).Where("id = ?", id).Updates(updates).Error
}

// GlobalAssignment returns the single agency of a global_single module.
func (r *Repository) GlobalAssignment(ctx context.Context, moduleID uuid.UUID) (*models.GlobalServiceAssignment, error) {
	var row models.GlobalServiceAssignment
	if err := r.db.WithContext(ctx).Where("service_module_id = ?", moduleID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertGlobalAssignment sets or replaces a module's global agency.
func (r *Repository) UpsertGlobalAssignment(ctx context.Context, g *models.GlobalServiceAssignment) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "service_module_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"agency_id", "updated_at"}),
	}).Create(g).Error
}

// InsertClaim writes a claim. A primary-owner claim competes on the partial unique index.
func (r *Repository) InsertClaim(ctx context.Context, claim *models.AgencyResource) error {
	return r.db.WithContext(ctx).Create(claim).Error
}

// PrimaryClaim returns the current primary owner of a named resource.
func (r *Repository) PrimaryClaim(ctx context.Context, moduleID uuid.UUID, resourceType, normalizedName string) (*models.AgencyResource, error) {
	var row models.AgencyResource
	err := r.db.WithContext(ctx).
		Where("service_module_id = ? AND resource_type = ? AND normalized_name = ? AND is_primary_owner = ?",
			moduleID, resourceType, normalizedName, true).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindClaim loads a claim by id.
func (r *Repository) FindClaim(ctx context.Context, id uuid.UUID) (*models.AgencyResource, error) {
	var row models.AgencyResource
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// ListClaims returns a module's claims, optionally filtered by status.
func (r *Repository) ListClaims(ctx context.Context, moduleID uuid.UUID, status *enums.ResourceClaimStatus) ([]models.AgencyResource, error) {
	query := r.db.WithContext(ctx).Where("service_module_id = ?", moduleID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var rows []models.AgencyResource
	if err := query.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ReviewClaim records an admin decision on a pending claim. Rejection releases the
// primary-owner slot.
func (r *Repository) ReviewClaim(ctx context.Context, id uuid.UUID, status enums.ResourceClaimStatus, reviewer uuid.UUID, reason *string, at time.Time) error {
	updates := map[string]any{
		"status":           status,
		"reviewed_by":      reviewer,
		"reviewed_at":      at,
		"rejection_reason": reason,
		"updated_at":       at,
	}
	if status == enums.ResourceClaimRejected {
		updates["is_primary_owner"] = false
	}
	res := r.db.WithContext(ctx).Model(&models.AgencyResource{}).
		Where("id = ? AND status = ?", id, enums.ResourceClaimPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetClaimCommission stores a resource-level commission override.
func (r *Repository) SetClaimCommission(ctx context.Context, id uuid.UUID, commissionType *enums.CommissionType, rate decimal.NullDecimal) error {
	res := r.db.WithContext(ctx).Model(&models.AgencyResource{}).Where("id = ?", id).Updates(map[string]any{
		"special_commission_type": commissionType,
		"special_commission_rate": rate,
		"updated_at":              time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SaveEligible records the eligible set of an application, replacing any previous one.
func (r *Repository) SaveEligible(ctx context.Context, applicationID uuid.UUID, candidates []Candidate) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("application_id = ?", applicationID).Delete(&models.ApplicationEligibleAgency{}).Error; err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	rows := make([]models.ApplicationEligibleAgency, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, models.ApplicationEligibleAgency{
			ApplicationID: applicationID,
			AgencyID:      c.AgencyID,
			AssignmentID:  c.AssignmentID,
			ResourceID:    c.ResourceID,
		})
	}
	return db.Create(&rows).Error
}

// Eligible returns the eligibility row of one agency, if any.
func (r *Repository) Eligible(ctx context.Context, applicationID, agencyID uuid.UUID) (*models.ApplicationEligibleAgency, error) {
	var row models.ApplicationEligibleAgency
	err := r.db.WithContext(ctx).
		Where("application_id = ? AND agency_id = ?", applicationID, agencyID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// EligibleAgencies lists an application's eligible set.
func (r *Repository) EligibleAgencies(ctx context.Context, applicationID uuid.UUID) ([]models.ApplicationEligibleAgency, error) {
	var rows []models.ApplicationEligibleAgency
	err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("agency_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
