// Package profiles reads stored user profile attributes that application forms
// may pre-fill from.
package profiles

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Key addresses one profile attribute.
type Key struct {
	Table  string
	Column string
}

func (k Key) String() string {
	return k.Table + "." + k.Column
}

// Snapshot holds profile values read at one point in time.
type Snapshot map[Key]any

// Get returns the stored value; absent and NULL values both report false.
func (s Snapshot) Get(key Key) (any, bool) {
	v, ok := s[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Store returns read-consistent profile snapshots.
type Store interface {
	Snapshot(ctx context.Context, userID uuid.UUID, keys []Key) (Snapshot, error)
}

// Reader is a Store over relational profile tables. Only allow-listed tables are read.
type Reader struct {
	db           *gorm.DB
	allowed      map[string]struct{}
	userIDColumn string
	keyColumns   map[string]string
	txOptions    *sql.TxOptions
}

// ReaderOption customizes a Reader.
type ReaderOption func(*Reader)

// WithKeyColumn overrides the column matched against the user id for one table.
func WithKeyColumn(table, column string) ReaderOption {
	return func(r *Reader) { r.keyColumns[table] = column }
}

// WithTxOptions replaces the snapshot transaction options. Nil uses the driver default.
func WithTxOptions(opts *sql.TxOptions) ReaderOption {
	return func(r *Reader) { r.txOptions = opts }
}

// NewReader builds a Reader. The users table is keyed by its primary key. Snapshots run
// in a read-only repeatable-read transaction unless WithTxOptions says otherwise.
func NewReader(db *gorm.DB, allowedTables []string, userIDColumn string, opts ...ReaderOption) (*Reader, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	if userIDColumn == "" {
		userIDColumn = "user_id"
	}
	if !identifierRe.MatchString(userIDColumn) {
		return nil, fmt.Errorf("invalid user id column %q", userIDColumn)
	}
	r := &Reader{
		db:           db,
		allowed:      make(map[string]struct{}, len(allowedTables)),
		userIDColumn: userIDColumn,
		keyColumns:   map[string]string{"users": "id"},
		txOptions:    &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	}
	for _, table := range allowedTables {
		table = strings.TrimSpace(table)
		if table == "" {
			continue
		}
		if !identifierRe.MatchString(table) {
			return nil, fmt.Errorf("invalid profile table %q", table)
		}
		r.allowed[table] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Allows reports whether a key may be mapped from a form field.
func (r *Reader) Allows(key Key) bool {
	if !identifierRe.MatchString(key.Table) || !identifierRe.MatchString(key.Column) {
		return false
	}
	_, ok := r.allowed[key.Table]
	return ok
}

// Snapshot reads every requested key inside one transaction.
func (r *Reader) Snapshot(ctx context.Context, userID uuid.UUID, keys []Key) (Snapshot, error) {
	out := Snapshot{}
	if len(keys) == 0 {
		return out, nil
	}

	byTable := map[string][]string{}
	for _, key := range keys {
		if !r.Allows(key) {
			return nil, fmt.Errorf("profile key %s is not readable", key)
		}
		byTable[key.Table] = appendUnique(byTable[key.Table], key.Column)
	}
	tables := make([]string, 0, len(byTable))
	for table := range byTable {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	read := func(tx *gorm.DB) error {
		for _, table := range tables {
			columns := byTable[table]
			var rows []map[string]any
			err := tx.Table(table).
				Select(columns).
				Where(clause.Eq{Column: clause.Column{Name: r.keyColumn(table)}, Value: userID.String()}).
				Limit(1).
				Find(&rows).Error
			if err != nil {
				return fmt.Errorf("read profile table %s: %w", table, err)
			}
			if len(rows) == 0 {
				continue
			}
			for _, column := range columns {
				out[Key{Table: table, Column: column}] = normalize(rows[0][column])
			}
		}
		return nil
	}

	var err error
	if r.txOptions != nil {
		err = r.db.WithContext(ctx).Transaction(read, r.txOptions)
	} else {
		err = r.db.WithContext(ctx).Transaction(read)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Reader) keyColumn(table string) string {
	if col, ok := r.keyColumns[table]; ok {
		return col
	}
	return r.userIDColumn
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	default:
		return v
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
