// Package migrate owns the goose schema for the marketplace. The SQL files are
// compiled into every binary so the API and workers can migrate without a checkout.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
)

// SourceDir is where new migrations are written during development.
const SourceDir = "pkg/migrate/migrations"

const embeddedDir = "migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// goose keeps its dialect and base filesystem in package globals.
var gooseMu sync.Mutex

// Source selects the migration files a command runs against.
type Source struct {
	fsys fs.FS
	dir  string
}

// Embedded is the schema compiled into the binary.
func Embedded() Source {
	return Source{fsys: embedded, dir: embeddedDir}
}

// Dir reads migrations from disk, for running freshly created files.
func Dir(path string) Source {
	return Source{fsys: os.DirFS(path), dir: "."}
}

// Files exposes the source for validation.
func (s Source) Files() (fs.FS, error) {
	if s.dir == "." {
		return s.fsys, nil
	}
	return fs.Sub(s.fsys, s.dir)
}

// Run executes a goose command such as up, down, status or redo.
func Run(ctx context.Context, db *sql.DB, src Source, command string, args ...string) error {
	return withGoose(db, src, func() error {
		if err := goose.RunContext(ctx, command, db, src.dir, args...); err != nil {
			return fmt.Errorf("goose %s: %w", command, err)
		}
		return nil
	})
}

// MigrateToVersion moves the schema up or down until it sits at target.
func MigrateToVersion(ctx context.Context, db *sql.DB, src Source, target string) error {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil || version < 0 {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", target)
	}
	return withGoose(db, src, func() error {
		current, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		switch {
		case current < version:
			err = goose.UpToContext(ctx, db, src.dir, version)
		case current > version:
			err = goose.DownToContext(ctx, db, src.dir, version)
		}
		if err != nil {
			return fmt.Errorf("migrate %d -> %d: %w", current, version, err)
		}
		return nil
	})
}

func withGoose(db *sql.DB, src Source, fn func() error) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if src.fsys == nil {
		return fmt.Errorf("migration source is required")
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(src.fsys)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return fn()
}
