package applications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
	"github.com/angelmondragon/visamarket-backend/pkg/enums"
)

// Repository persists applications, their quotes and audit trail.
type Repository struct {
	db *gorm.DB
}

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

func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Create inserts an application.
func (r *Repository) Create(ctx context.Context, app *models.ServiceApplication) error {
	return r.db.WithContext(ctx).Create(app).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceApplication, error) {
	var app models.ServiceApplication
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&app).Error; err != nil {
		return nil, err
	}
	return &app, nil
}

// Transition moves an application out of one of from, provided its version still
// matches. It bumps the version and returns gorm.ErrRecordNotFound when the guard fails.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, version int, from []enums.ApplicationStatus, updates map[string]any) error {
	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")
	values["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.ServiceApplication{}).
		Where("id = ? AND version = ? AND status IN ?", id, version, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// LockForUpdate reads an application and, on Postgres, holds its row lock until the
// surrounding transaction ends.
func (r *Repository) LockForUpdate(ctx context.Context, id uuid.UUID) (*models.ServiceApplication, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row models.ServiceApplication
	if err := query.Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// PromoteQuoted moves an assigned application to quoted regardless of version.
// It reports whether this call made the move.
func (r *Repository) PromoteQuoted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ServiceApplication{}).
		Where("id = ? AND status = ?", id, enums.ApplicationStatusAssigned).
		Updates(map[string]any{
			"status":     enums.ApplicationStatusQuoted,
			"quoted_at":  at,
			"version":    gorm.Expr("version + 1"),
			"updated_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkEscalated stamps a lapsed window once; it reports whether this call stamped it.
func (r *Repository) MarkEscalated(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ServiceApplication{}).
		Where("id = ? AND window_escalated_at IS NULL", id).
		Update("window_escalated_at", at)
	return res.RowsAffected == 1, res.Error
}

// SetStatusReason records why a parked application is still waiting.
func (r *Repository) SetStatusReason(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.ServiceApplication{}).
		Where("id = ?", id).
		Update("status_reason", reason).Error
}

// ListFilter narrows application listings.
type ListFilter struct {
	UserID   *uuid.UUID
	AgencyID *uuid.UUID
	ModuleID *uuid.UUID
	Statuses []enums.ApplicationStatus
	Limit    int
}

// List returns applications newest first. An agency filter matches applications the
// agency is eligible for or was accepted on.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.ServiceApplication, error) {
	query := r.db.WithContext(ctx).Model(&models.ServiceApplication{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.AgencyID != nil {
		query = query.Where(
			"(assigned_agency_id = ? OR id IN (?))",
			*filter.AgencyID,
			r.db.Model(&models.ApplicationEligibleAgency{}).Select("application_id").Where("agency_id = ?", *filter.AgencyID),
		)
	}
	if filter.ModuleID != nil {
		query = query.Where("service_module_id = ?", *filter.ModuleID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []models.ServiceApplication
	err := query.Order("created_at DESC").Order("id ASC").Find(&rows).Error
	return rows, err
}

// LapsedWindows lists assigned or quoted applications whose deadline passed and that
// were not escalated yet.
func (r *Repository) LapsedWindows(ctx context.Context, now time.Time, limit int) ([]models.ServiceApplication, error) {
	var rows []models.ServiceApplication
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.ApplicationStatus{enums.ApplicationStatusAssigned, enums.ApplicationStatusQuoted}).
		Where("quote_deadline IS NOT NULL AND quote_deadline < ? AND window_escalated_at IS NULL", now).
		Order("quote_deadline ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// InsertEvent appends one audit trail row.
func (r *Repository) InsertEvent(ctx context.Context, event *models.ApplicationStatusEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *Repository) Events(ctx context.Context, applicationID uuid.UUID) ([]models.ApplicationStatusEvent, error) {
	var rows []models.ApplicationStatusEvent
	err := r.db.WithContext(ctx).
		Where("application_id = ?", applicationID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) InsertQuote(ctx context.Context, quote *models.ServiceQuote) error {
	return r.db.WithContext(ctx).Create(quote).Error
}

func (r *Repository) FindQuote(ctx context.Context, id uuid.UUID) (*models.ServiceQuote, error) {
	var quote models.ServiceQuote
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&quote).Error; err != nil {
		return nil, err
	}
	return &quote, nil
}

// Quotes lists an application's quotes, optionally only one agency's.
func (r *Repository) Quotes(ctx context.Context, applicationID uuid.UUID, agencyID *uuid.UUID) ([]models.ServiceQuote, error) {
	query := r.db.WithContext(ctx).Where("application_id = ?", applicationID)
	if agencyID != nil {
		query = query.Where("agency_id = ?", *agencyID)
	}
	var rows []models.ServiceQuote
	err := query.Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (r *Repository) CountPendingQuotes(ctx context.Context, applicationID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ServiceQuote{}).
		Where("application_id = ? AND status = ?", applicationID, enums.QuoteStatusPending).
		Count(&count).Error
	return count, err
}

// DecideQuote moves a pending quote to status. It returns gorm.ErrRecordNotFound when
// the quote is no longer pending.
func (r *Repository) DecideQuote(ctx context.Context, id uuid.UUID, status enums.QuoteStatus, updates map[string]any) error {
	values := map[string]any{
		"status":     status,
		"decided_at": time.Now().UTC(),
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.ServiceQuote{}).
		Where("id = ? AND status = ?", id, enums.QuoteStatusPending).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CloseOpenQuotes moves every pending quote of an application, except keep, to status
// and returns the agencies affected.
func (r *Repository) CloseOpenQuotes(ctx context.Context, applicationID uuid.UUID, keep *uuid.UUID, status enums.QuoteStatus) ([]models.ServiceQuote, error) {
	query := r.db.WithContext(ctx).
		Where("application_id = ? AND status = ?", applicationID, enums.QuoteStatusPending)
	if keep != nil {
		query = query.Where("id <> ?", *keep)
	}
	var open []models.ServiceQuote
	if err := query.Find(&open).Error; err != nil {
		return nil, err
	}
	if len(open) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(open))
	for _, q := range open {
		ids = append(ids, q.ID)
	}
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).
		Model(&models.ServiceQuote{}).
		Where("id IN ? AND status = ?", ids, enums.QuoteStatusPending).
		Updates(map[string]any{"status": status, "decided_at": now, "updated_at": now}).Error
	if err != nil {
		return nil, err
	}
	return open, nil
}

// StaleQuotes lists pending quotes whose own validity lapsed before now. Window-bound
// quotes are left to the window escalation.
func (r *Repository) StaleQuotes(ctx context.Context, now time.Time, limit int) ([]models.ServiceQuote, error) {
	var rows []models.ServiceQuote
	err := r.db.WithContext(ctx).
		Where("status = ? AND window_bound = ? AND valid_until IS NOT NULL AND valid_until < ?", enums.QuoteStatusPending, false, now).
		Order("valid_until ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ExtendBoundQuotes moves the validity of an application's pending window-bound quotes
// to deadline.
func (r *Repository) ExtendBoundQuotes(ctx context.Context, applicationID uuid.UUID, deadline time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ServiceQuote{}).
		Where("application_id = ? AND status = ? AND window_bound = ?", applicationID, enums.QuoteStatusPending, true).
		Updates(map[string]any{"valid_until": deadline, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// ApplyCounters flips counters_applied once; it reports whether this call flipped it.
func (r *Repository) ApplyCounters(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ServiceApplication{}).
		Where("id = ? AND counters_applied = ?", id, false).
		Update("counters_applied", true)
	return res.RowsAffected == 1, res.Error
}
