// Package dbtest opens in-memory SQLite databases carrying the marketplace schema
// for repository and service tests.
package dbtest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// schema mirrors pkg/migrate/migrations in SQLite syntax, partial indexes included.
var schema = []string{
	`CREATE TABLE service_modules (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT,
		assignment_model TEXT NOT NULL,
		allows_multiple_agencies BOOLEAN NOT NULL DEFAULT 0,
		requires_admin_approval BOOLEAN NOT NULL DEFAULT 1,
		resource_locking BOOLEAN NOT NULL DEFAULT 0,
		requires_agency BOOLEAN NOT NULL DEFAULT 1,
		resource_type TEXT,
		platform_commission_type TEXT NOT NULL DEFAULT 'percentage',
		platform_commission_rate TEXT NOT NULL DEFAULT '0',
		currency TEXT NOT NULL DEFAULT 'USD',
		quote_timeout_hours INTEGER NOT NULL DEFAULT 48,
		min_quotes_required INTEGER NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE form_fields (
		id TEXT PRIMARY KEY,
		service_module_id TEXT NOT NULL,
		name TEXT NOT NULL,
		label TEXT NOT NULL,
		field_type TEXT NOT NULL,
		is_required BOOLEAN NOT NULL DEFAULT 0,
		validation_rules TEXT NOT NULL DEFAULT '',
		options TEXT,
		profile_table TEXT,
		profile_column TEXT,
		depends_on TEXT,
		depends_equals TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		group_name TEXT,
		help_text TEXT,
		placeholder TEXT,
		default_value TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_form_fields_module_name ON form_fields (service_module_id, name)`,
	`CREATE TABLE agency_country_assignments (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL,
		service_module_id TEXT NOT NULL,
		country TEXT NOT NULL,
		visa_type TEXT NOT NULL DEFAULT '',
		commission_type TEXT,
		commission_rate TEXT,
		can_edit_requirements BOOLEAN NOT NULL DEFAULT 0,
		can_set_fees BOOLEAN NOT NULL DEFAULT 1,
		can_process_applications BOOLEAN NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		total_applications INTEGER NOT NULL DEFAULT 0,
		approved_applications INTEGER NOT NULL DEFAULT 0,
		rejected_applications INTEGER NOT NULL DEFAULT 0,
		total_revenue TEXT NOT NULL DEFAULT '0',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_agency_country_assignments_active
		ON agency_country_assignments (agency_id, service_module_id, country, visa_type)
		WHERE is_active`,
	`CREATE TABLE global_service_assignments (
		id TEXT PRIMARY KEY,
		service_module_id TEXT NOT NULL UNIQUE,
		agency_id TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE agency_resources (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL,
		service_module_id TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_name TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		is_primary_owner BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		special_commission_type TEXT,
		special_commission_rate TEXT,
		reviewed_by TEXT,
		reviewed_at DATETIME,
		rejection_reason TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_agency_resources_primary_owner
		ON agency_resources (service_module_id, resource_type, normalized_name)
		WHERE is_primary_owner`,
	`CREATE TABLE service_applications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		service_module_id TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		visa_type TEXT NOT NULL DEFAULT '',
		resource_name TEXT,
		status TEXT NOT NULL,
		form_data TEXT,
		commission_type TEXT NOT NULL,
		commission_rate TEXT NOT NULL,
		currency TEXT NOT NULL,
		min_quotes_required INTEGER NOT NULL,
		quote_timeout_hours INTEGER NOT NULL,
		quote_deadline DATETIME,
		window_escalated_at DATETIME,
		accepted_quote_id TEXT,
		assigned_agency_id TEXT,
		quoted_amount TEXT,
		service_fee TEXT,
		platform_commission TEXT,
		agency_earnings TEXT,
		commission_source TEXT,
		notes TEXT,
		status_reason TEXT,
		counters_applied BOOLEAN NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		submitted_at DATETIME,
		assigned_at DATETIME,
		quoted_at DATETIME,
		accepted_at DATETIME,
		started_at DATETIME,
		completed_at DATETIME,
		cancelled_at DATETIME,
		rejected_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE application_eligible_agencies (
		application_id TEXT NOT NULL,
		agency_id TEXT NOT NULL,
		assignment_id TEXT,
		resource_id TEXT,
		created_at DATETIME,
		PRIMARY KEY (application_id, agency_id)
	)`,
	`CREATE TABLE application_status_events (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL,
		from_status TEXT,
		to_status TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		actor_id TEXT,
		reason TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE service_quotes (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL,
		agency_id TEXT,
		source TEXT NOT NULL DEFAULT 'agency',
		quoted_amount TEXT NOT NULL,
		service_fee TEXT NOT NULL DEFAULT '0',
		processing_days INTEGER NOT NULL DEFAULT 0,
		notes TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		valid_until DATETIME,
		window_bound BOOLEAN NOT NULL DEFAULT 0,
		platform_commission TEXT,
		agency_earnings TEXT,
		commission_source TEXT,
		decided_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_service_quotes_pending_per_agency
		ON service_quotes (application_id, agency_id)
		WHERE status = 'pending'`,
	`CREATE UNIQUE INDEX ux_service_quotes_one_accepted
		ON service_quotes (application_id)
		WHERE status = 'accepted'`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_outbox_dlq_event ON outbox_dlq (event_id)`,
}

// Open returns a fresh in-memory database with the full schema. The pool is capped
// at one connection so concurrent callers serialize the way row locks would.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:visamarket_%d?mode=memory&cache=shared&_busy_timeout=5000", dbSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return conn
}
