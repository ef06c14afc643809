package profiles

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/visamarket-backend/pkg/db/dbtest"
)

func seedProfiles(t *testing.T, db *gorm.DB, userID uuid.UUID) {
	t.Helper()
	stmts := []string{
		`CREATE TABLE users (id TEXT PRIMARY KEY, first_name TEXT, email TEXT)`,
		`CREATE TABLE user_passports (id INTEGER PRIMARY KEY, user_id TEXT, passport_number TEXT, nationality TEXT)`,
		`CREATE TABLE secrets (user_id TEXT, token TEXT)`,
	}
	for _, stmt := range stmts {
		require.NoError(t, db.Exec(stmt).Error)
	}
	require.NoError(t, db.Exec(`INSERT INTO users (id, first_name, email) VALUES (?, ?, ?)`, userID.String(), "Mali", "mali@example.com").Error)
	require.NoError(t, db.Exec(`INSERT INTO user_passports (user_id, passport_number, nationality) VALUES (?, ?, NULL)`, userID.String(), "P1234567").Error)
}

func TestReaderSnapshotReadsAllowedKeys(t *testing.T) {
	db := dbtest.Open(t)
	userID := uuid.New()
	seedProfiles(t, db, userID)

	reader, err := NewReader(db, []string{"users", "user_passports"}, "user_id")
	require.NoError(t, err)

	keys := []Key{
		{Table: "users", Column: "first_name"},
		{Table: "user_passports", Column: "passport_number"},
		{Table: "user_passports", Column: "nationality"},
	}
	snap, err := reader.Snapshot(context.Background(), userID, keys)
	require.NoError(t, err)

	v, ok := snap.Get(keys[0])
	require.True(t, ok)
	assert.Equal(t, "Mali", v)

	v, ok = snap.Get(keys[1])
	require.True(t, ok)
	assert.Equal(t, "P1234567", v)

	_, ok = snap.Get(keys[2])
	assert.False(t, ok, "NULL columns report absent")
}

func TestReaderSnapshotMissingUserIsEmpty(t *testing.T) {
	db := dbtest.Open(t)
	seedProfiles(t, db, uuid.New())

	reader, err := NewReader(db, []string{"users"}, "")
	require.NoError(t, err)

	snap, err := reader.Snapshot(context.Background(), uuid.New(), []Key{{Table: "users", Column: "first_name"}})
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestReaderRejectsTablesOutsideAllowList(t *testing.T) {
	db := dbtest.Open(t)
	userID := uuid.New()
	seedProfiles(t, db, userID)

	reader, err := NewReader(db, []string{"users"}, "user_id")
	require.NoError(t, err)

	_, err = reader.Snapshot(context.Background(), userID, []Key{{Table: "secrets", Column: "token"}})
	assert.Error(t, err)
	assert.False(t, reader.Allows(Key{Table: "users", Column: "first_name; DROP TABLE users"}))
}

func TestNewReaderValidatesIdentifiers(t *testing.T) {
	_, err := NewReader(dbtest.Open(t), []string{"users", "bad-table"}, "user_id")
	assert.Error(t, err)
}

func TestReaderSnapshotsUseRepeatableRead(t *testing.T) {
	db := dbtest.Open(t)
	reader, err := NewReader(db, []string{"users"}, "user_id")
	require.NoError(t, err)
	require.NotNil(t, reader.txOptions)
	assert.Equal(t, sql.LevelRepeatableRead, reader.txOptions.Isolation)
	assert.True(t, reader.txOptions.ReadOnly)

	serializable := &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: true}
	reader, err = NewReader(db, []string{"users"}, "user_id", WithTxOptions(serializable))
	require.NoError(t, err)
	assert.Same(t, serializable, reader.txOptions)

	userID := uuid.New()
	seedProfiles(t, db, userID)
	reader, err = NewReader(db, []string{"users"}, "user_id")
	require.NoError(t, err)
	snap, err := reader.Snapshot(context.Background(), userID, []Key{{Table: "users", Column: "first_name"}})
	require.NoError(t, err)
	assert.NotEmpty(t, snap)
}
