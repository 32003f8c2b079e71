package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"signoffws/internal/database"
	"signoffws/pkg/types"
)

// SQLStore reads sessions from the shared relational database: a sessions
// table keyed by session_id joined to users. Expired rows are treated as
// absent.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewSQLStore creates a store backed by the shared database handle.
func NewSQLStore(db *sql.DB, dialect database.Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Lookup implements Store.
func (s *SQLStore) Lookup(ctx context.Context, sessionID string) (*types.User, error) {
	b := database.NewBuilder(s.dialect)
	b.Write("SELECT u.user_id, u.name, u.role FROM sessions s JOIN users u ON u.user_id = s.user_id WHERE s.session_id = ")
	b.Bind(sessionID)
	b.Write(" AND (s.expires_at IS NULL OR s.expires_at > ")
	b.Bind(time.Now().UTC().Format("2006-01-02 15:04:05"))
	b.Write(")")

	var user types.User
	var name, role sql.NullString
	err := s.db.QueryRowContext(ctx, b.SQL(), b.Args()...).Scan(&user.ID, &name, &role)
	if err == sql.ErrNoRows {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if user.ID <= 0 {
		return nil, ErrNoSession
	}

	user.Name = name.String
	user.Role = role.String
	return &user, nil
}
