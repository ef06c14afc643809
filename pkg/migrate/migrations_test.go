package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/angelmondragon/visamarket-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestEmbeddedMigrationsMatchSourceDir(t *testing.T) {
	files, err := migrate.Embedded().Files()
	if err != nil {
		t.Fatalf("embedded files: %v", err)
	}
	if err := migrate.ValidateFS(files); err != nil {
		t.Fatalf("validate embedded: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	for _, path := range onDisk {
		if _, err := fs.Stat(files, filepath.Base(path)); err != nil {
			t.Errorf("%s not embedded: %v", path, err)
		}
	}
}

func TestValidateFSReportsEveryProblem(t *testing.T) {
	files := fstest.MapFS{
		"bad-name.sql":                 {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260101000000_first.sql":     {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260101000000_duplicate.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260102000000_no_down.sql":   {Data: []byte("-- +goose Up\n-- +goose StatementBegin\n")},
		"README.md":                    {Data: []byte("ignored")},
	}
	err := migrate.ValidateFS(files)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"bad-name.sql", "already used", `missing "-- +goose Down"`, "StatementBegin"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	path, err := migrate.CreateSQLMigration(dir, "Add Quote Notes!", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20260304050607_add_quote_notes.sql" {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration invalid: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "add quote notes", now); err == nil {
		t.Fatal("expected collision error")
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!", now); err == nil {
		t.Fatal("expected empty slug error")
	}
}

func TestQuoteMigrationGuardsAcceptance(t *testing.T) {
	content := readMigration(t, "*_create_service_quotes.sql")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS service_quotes",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_service_quotes_pending_per_agency",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_service_quotes_one_accepted",
		"WHERE status = 'accepted'",
		"DROP TABLE IF EXISTS service_quotes",
	}
	assertContains(t, content, checks)
}

func TestAssignmentMigrationEnforcesSingleOwner(t *testing.T) {
	content := readMigration(t, "*_create_agency_assignments.sql")
	checks := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_agency_resources_primary_owner",
		"ON agency_resources (service_module_id, resource_type, normalized_name)",
		"WHERE is_primary_owner",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_agency_country_assignments_active",
		"CHECK (status <> 'rejected' OR NOT is_primary_owner)",
	}
	assertContains(t, content, checks)
}

func TestCatalogMigrationRejectsContradictoryLocking(t *testing.T) {
	content := readMigration(t, "*_create_service_catalog.sql")
	checks := []string{
		"NOT resource_locking OR (assignment_model = 'exclusive_resource' AND NOT allows_multiple_agencies)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_form_fields_module_name",
	}
	assertContains(t, content, checks)
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
