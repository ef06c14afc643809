package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/pkg/logger"
)

type testModel struct {
	ID   int
	Name string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := Wrap(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestPing(t *testing.T) {
	client := Wrap(newTestDB(t))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestIsUniqueViolation_SQLite(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&testModel{Name: "dup"}).Error; err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	err := db.Create(&testModel{Name: "dup"}).Error
	if err == nil {
		t.Fatal("expected duplicate insert to fail")
	}
	if !IsUniqueViolation(err, "ux_anything") {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestIsUniqueViolation_Postgres(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_agency_resources_primary_owner"}
	wrapped := fmt.Errorf("insert claim: %w", pgErr)

	if !IsUniqueViolation(wrapped, "ux_agency_resources_primary_owner") {
		t.Fatal("expected constraint match")
	}
	if IsUniqueViolation(wrapped, "ux_other") {
		t.Fatal("expected constraint mismatch to be reported")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatal("nil error is not a violation")
	}
}

func TestQueryLoggerReportsFailuresAndSlowStatements(t *testing.T) {
	var buf bytes.Buffer
	q := newQueryLogger(logger.New(logger.Options{ServiceName: "test", Output: &buf}), 100*time.Millisecond)
	stmt := func() (string, int64) { return "SELECT 1", 0 }
	ctx := context.Background()

	q.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	q.Trace(ctx, time.Now(), stmt, nil)
	if buf.Len() != 0 {
		t.Fatalf("expected silence, got %s", buf.String())
	}

	q.Trace(ctx, time.Now(), stmt, errors.New("relation does not exist"))
	if !strings.Contains(buf.String(), "db.query_failed") {
		t.Fatalf("expected failure log, got %s", buf.String())
	}

	buf.Reset()
	q.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	out := buf.String()
	if !strings.Contains(out, "db.slow_query") || !strings.Contains(out, "SELECT 1") {
		t.Fatalf("expected slow query log, got %s", out)
	}
}
