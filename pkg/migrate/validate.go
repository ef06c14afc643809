package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

var migrationFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// ValidateDir checks the migrations on disk.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS checks naming, version uniqueness and goose annotations of every .sql
// file at the root of fsys. All problems are reported together.
func ValidateFS(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	var errs error
	versions := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		match := migrationFileRe.FindStringSubmatch(name)
		if match == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		if prev, dup := versions[match[1]]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s: version %s already used by %s", name, match[1], prev))
		}
		versions[match[1]] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		errs = multierr.Append(errs, checkAnnotations(name, string(body)))
	}
	return errs
}

func checkAnnotations(name, sql string) error {
	var errs error
	for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
		if !strings.Contains(sql, marker) {
			errs = multierr.Append(errs, fmt.Errorf("%s: missing %q", name, marker))
		}
	}
	begins := strings.Count(sql, "-- +goose StatementBegin")
	ends := strings.Count(sql, "-- +goose StatementEnd")
	if begins != ends {
		errs = multierr.Append(errs, fmt.Errorf("%s: %d StatementBegin vs %d StatementEnd", name, begins, ends))
	}
	return errs
}
