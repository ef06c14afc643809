package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/pkg/db/models"
)

// Repository persists service modules and their form fields.
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

// DB exposes the bound handle so callers can open a transaction.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Create inserts a module together with its fields.
func (r *Repository) Create(ctx context.Context, module *models.ServiceModule) error {
	db := r.db.WithContext(ctx)
	if err := db.Omit("Fields").Create(module).Error; err != nil {
		return err
	}
	return r.insertFields(db, module.ID, module.Fields)
}

// Replace overwrites a module's columns and swaps its field set.
func (r *Repository) Replace(ctx context.Context, module *models.ServiceModule) error {
	db := r.db.WithContext(ctx)
	res := db.Model(module).Select("*").Omit("Fields", "ID", "CreatedAt").Updates(module)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	if err := db.Where("service_module_id = ?", module.ID).Delete(&models.FormField{}).Error; err != nil {
		return err
	}
	return r.insertFields(db, module.ID, module.Fields)
}

func (r *Repository) insertFields(db *gorm.DB, moduleID uuid.UUID, fields []models.FormField) error {
	if len(fields) == 0 {
		return nil
	}
	for i := range fields {
		fields[i].ID = uuid.Nil
		fields[i].ServiceModuleID = moduleID
	}
	return db.Create(&fields).Error
}

// SetActive toggles a module's availability.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := r.db.WithContext(ctx).Model(&models.ServiceModule{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// FindByID loads a module with its ordered fields.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ServiceModule, error) {
	var module models.ServiceModule
	if err := r.withFields(ctx).Where("id = ?", id).First(&module).Error; err != nil {
		return nil, err
	}
	return &module, nil
}

// FindBySlug loads a module by slug with its ordered fields.
func (r *Repository) FindBySlug(ctx context.Context, slug string) (*models.ServiceModule, error) {
	var module models.ServiceModule
	if err := r.withFields(ctx).Where("slug = ?", slug).First(&module).Error; err != nil {
		return nil, err
	}
	return &module, nil
}

// List returns modules ordered by name, optionally active ones only. Fields are not loaded.
func (r *Repository) List(ctx context.Context, activeOnly bool) ([]models.ServiceModule, error) {
	query := r.db.WithContext(ctx).Model(&models.ServiceModule{})
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []models.ServiceModule
	if err := query.Order("name ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Fields returns a module's fields in sort order, name as tiebreaker.
func (r *Repository) Fields(ctx context.Context, moduleID uuid.UUID) ([]models.FormField, error) {
	var rows []models.FormField
	err := r.db.WithContext(ctx).
		Where("service_module_id = ?", moduleID).
		Order("sort_order ASC").Order("name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) withFields(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Fields", func(db *gorm.DB) *gorm.DB {
		return db.Order("sort_order ASC").Order("name ASC")
	})
}
