package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (m *ServiceModule) BeforeCreate(*gorm.DB) error { ensureID(&m.ID); return nil }
func (f *FormField) BeforeCreate(*gorm.DB) error { ensureID(&f.ID); return nil }
func (r *AgencyResource) BeforeCreate(*gorm.DB) error { ensureID(&r.ID); return nil }
func (a *AgencyCountryAssignment) BeforeCreate(*gorm.DB) error { ensureID(&a.ID); return nil }
func (g *GlobalServiceAssignment) BeforeCreate(*gorm.DB) error { ensureID(&g.ID); return nil }
func (a *ServiceApplication) BeforeCreate(*gorm.DB) error { ensureID(&a.ID); return nil }
func (e *ApplicationStatusEvent) BeforeCreate(*gorm.DB) error { ensureID(&e.ID); return nil }
func (q *ServiceQuote) BeforeCreate(*gorm.DB) error { ensureID(&q.ID); return nil }
func (e *OutboxEvent) BeforeCreate(*gorm.DB) error { ensureID(&e.ID); return nil }
func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error { ensureID(&d.ID); return nil }
