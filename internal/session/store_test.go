package session

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signoffws/internal/database"
	"signoffws/pkg/types"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoSession)

	store.Put("sid-1", &types.User{ID: 7, Name: "Ada", Role: "student"})
	user, err := store.Lookup(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)

	// A session holding no usable user record is an auth failure.
	store.Put("sid-2", &types.User{})
	_, err = store.Lookup(ctx, "sid-2")
	assert.ErrorIs(t, err, ErrNoSession)

	store.Delete("sid-1")
	_, err = store.Lookup(ctx, "sid-1")
	assert.ErrorIs(t, err, ErrNoSession)
}

func newSessionDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE users (
			user_id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL
		);
		CREATE TABLE sessions (
			session_id TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			expires_at TEXT
		);
	`)
	require.NoError(t, err)
	return db
}

func TestSQLStore_Lookup(t *testing.T) {
	db := newSessionDB(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO users (user_id, name, role) VALUES (7, 'Ada', 'student'), (9, 'Grace', 'ta')`)
	require.NoError(t, err)

	future := time.Now().UTC().Add(time.Hour).Format("2006-01-02 15:04:05")
	past := time.Now().UTC().Add(-time.Hour).Format("2006-01-02 15:04:05")
	_, err = db.Exec(`INSERT INTO sessions (session_id, user_id, expires_at) VALUES
		('live', 7, ?), ('expired', 7, ?), ('forever', 9, NULL), ('orphan', 999, NULL)`, future, past)
	require.NoError(t, err)

	store := NewSQLStore(db, database.DialectSQLite)

	user, err := store.Lookup(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "Ada", user.Name)
	assert.Equal(t, "student", user.Role)

	user, err = store.Lookup(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, int64(9), user.ID)

	_, err = store.Lookup(ctx, "expired")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = store.Lookup(ctx, "orphan")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = store.Lookup(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNoSession)
}
