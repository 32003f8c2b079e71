// Package poller turns the shared change_log and ta_assignments tables into
// per-connection event streams. Both tables are owned and written by the
// CRUD tier; this subsystem is a read-only consumer.
package poller

import (
	"context"
	"database/sql"

	"signoffws/internal/database"
)

// taFallbackKey is the conventional key column name tried when the
// assignments table declares no primary or unique key.
const taFallbackKey = "ta_assignment_id"

// Capabilities describes the parts of the surrounding schema that vary
// across deployments. Resolved once at startup and immutable afterwards;
// query construction branches on it instead of probing per request.
type Capabilities struct {
	// HasPayload is true when change_log carries the optional
	// payload_json column.
	HasPayload bool

	// TATableExists is true when the ta_assignments table is present.
	TATableExists bool

	// TAKeyColumn is the ordering/cursor column for ta_assignments: its
	// declared primary or unique key, else the conventional fallback
	// column if present, else empty, which selects the synthetic
	// timestamp ordering expression.
	TAKeyColumn string
}

// Probe inspects the schema once. Probe failures degrade to "absent"
// rather than erroring: the pollers must work against the narrowest schema.
func Probe(ctx context.Context, db *sql.DB, d database.Dialect) Capabilities {
	caps := Capabilities{
		HasPayload:    columnExists(ctx, db, d, "change_log", "payload_json"),
		TATableExists: tableExists(ctx, db, d, "ta_assignments"),
	}
	if !caps.TATableExists {
		return caps
	}

	if col := keyColumn(ctx, db, d, "ta_assignments"); col != "" {
		caps.TAKeyColumn = col
	} else if columnExists(ctx, db, d, "ta_assignments", taFallbackKey) {
		caps.TAKeyColumn = taFallbackKey
	}
	return caps
}

func tableExists(ctx context.Context, db *sql.DB, d database.Dialect, table string) bool {
	var query string
	switch d {
	case database.DialectMySQL:
		query = "SELECT COUNT(*) FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
	case database.DialectPostgres:
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	default:
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}

	var count int
	if err := db.QueryRowContext(ctx, query, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func columnExists(ctx context.Context, db *sql.DB, d database.Dialect, table, column string) bool {
	if d == database.DialectSQLite {
		return sqliteColumns(ctx, db, table)[column]
	}

	var query string
	switch d {
	case database.DialectMySQL:
		query = "SELECT COUNT(*) FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?"
	default:
		query = "SELECT COUNT(*) FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2"
	}

	var count int
	if err := db.QueryRowContext(ctx, query, table, column).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// keyColumn resolves the table's declared primary or unique key column,
// preferring the primary key, or "" when it has neither.
func keyColumn(ctx context.Context, db *sql.DB, d database.Dialect, table string) string {
	switch d {
	case database.DialectMySQL:
		return scanOneString(ctx, db,
			`SELECT COLUMN_NAME FROM information_schema.COLUMNS
			 WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_KEY IN ('PRI','UNI')
			 ORDER BY FIELD(COLUMN_KEY,'PRI','UNI'), ORDINAL_POSITION LIMIT 1`, table)
	case database.DialectPostgres:
		return scanOneString(ctx, db,
			`SELECT kcu.column_name FROM information_schema.table_constraints tc
			 JOIN information_schema.key_column_usage kcu
			   ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
			 WHERE tc.table_schema = current_schema() AND tc.table_name = $1
			   AND tc.constraint_type IN ('PRIMARY KEY','UNIQUE')
			 ORDER BY CASE tc.constraint_type WHEN 'PRIMARY KEY' THEN 0 ELSE 1 END, kcu.ordinal_position
			 LIMIT 1`, table)
	default:
		return sqlitePrimaryKey(ctx, db, table)
	}
}

func scanOneString(ctx context.Context, db *sql.DB, query, arg string) string {
	var col string
	if err := db.QueryRowContext(ctx, query, arg).Scan(&col); err != nil {
		return ""
	}
	return col
}

func sqliteColumns(ctx context.Context, db *sql.DB, table string) map[string]bool {
	columns := make(map[string]bool)
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return columns
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if rows.Scan(&name) == nil {
			columns[name] = true
		}
	}
	return columns
}

func sqlitePrimaryKey(ctx context.Context, db *sql.DB, table string) string {
	var col string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk LIMIT 1", table).Scan(&col)
	if err != nil {
		return ""
	}
	return col
}
