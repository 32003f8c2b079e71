package poller

import (
	"context"
	"database/sql"
	"fmt"

	"signoffws/internal/database"
	"signoffws/pkg/types"
)

// DefaultTALimit bounds TA-assignment catch-up bursts per poll.
const DefaultTALimit = 20

// TAPoller reads ta_assignments rows for a single student, ordered by the
// key column resolved at startup, or by a synthetic monotonic expression
// when the table declares no usable key.
type TAPoller struct {
	db      *sql.DB
	dialect database.Dialect
	caps    Capabilities
	limit   int
}

// NewTAPoller builds a poller over the shared handle. A limit of zero
// selects DefaultTALimit.
func NewTAPoller(db *sql.DB, dialect database.Dialect, caps Capabilities, limit int) *TAPoller {
	if limit <= 0 {
		limit = DefaultTALimit
	}
	return &TAPoller{db: db, dialect: dialect, caps: caps, limit: limit}
}

// Fetch returns assignment events for the student newer than the cursor,
// plus the advanced cursor value covering every fetched row. Only rows
// whose student matches userID are ever returned.
func (p *TAPoller) Fetch(ctx context.Context, userID, cursor int64) ([]types.TAEvent, int64, error) {
	if !p.caps.TATableExists || userID <= 0 {
		return nil, cursor, nil
	}

	b := database.NewBuilder(p.dialect)
	nativeKey := p.caps.TAKeyColumn != ""

	if nativeKey {
		keyExpr := "ta." + p.caps.TAKeyColumn
		b.Write("SELECT ").Write(p.dialect.CastBigint(keyExpr)).Write(" AS event_id")
		b.Write(", ta.queue_id, ta.student_user_id, ta.ta_user_id, ta.started_at, tu.name AS ta_name")
		b.Write(" FROM ta_assignments ta JOIN users tu ON tu.user_id = ta.ta_user_id")
		b.Write(" WHERE ta.student_user_id = ").Bind(userID)
		b.Write(" AND ").Write(keyExpr).Write(" > ").Bind(cursor)
		b.Write(" ORDER BY ").Write(keyExpr).Write(" ASC")
	} else {
		expr := "(" + p.dialect.EpochExpr("ta.started_at") + " * 1000) + ta.queue_id"
		b.Write("SELECT ").Write(p.dialect.CastBigint(expr)).Write(" AS event_id")
		b.Write(", ta.queue_id, ta.student_user_id, ta.ta_user_id, ta.started_at, tu.name AS ta_name")
		b.Write(" FROM ta_assignments ta JOIN users tu ON tu.user_id = ta.ta_user_id")
		b.Write(" WHERE ta.student_user_id = ").Bind(userID)
		b.Write(" AND ").Write(expr).Write(" > ").Bind(cursor)
		b.Write(" ORDER BY ta.started_at ASC")
	}
	b.Write(fmt.Sprintf(" LIMIT %d", p.limit))

	rows, err := p.db.QueryContext(ctx, b.SQL(), b.Args()...)
	if err != nil {
		return nil, cursor, fmt.Errorf("ta assignment poll: %w", err)
	}
	defer rows.Close()

	var events []types.TAEvent
	next := cursor
	for rows.Next() {
		var (
			eventID   int64
			queueID   sql.NullInt64
			studentID sql.NullInt64
			taUserID  sql.NullInt64
			startedAt sql.NullString
			taName    sql.NullString
		)
		if err := rows.Scan(&eventID, &queueID, &studentID, &taUserID, &startedAt, &taName); err != nil {
			return nil, cursor, fmt.Errorf("ta assignment scan: %w", err)
		}
		if eventID <= next {
			continue
		}
		next = eventID

		ev := types.TAEvent{
			QueueID:   queueID.Int64,
			UserID:    studentID.Int64,
			TAUserID:  taUserID.Int64,
			TAName:    taName.String,
			StartedAt: startedAt.String,
		}
		if nativeKey {
			id := eventID
			ev.AssignmentID = &id
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, fmt.Errorf("ta assignment rows: %w", err)
	}
	return events, next, nil
}
