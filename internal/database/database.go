package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect identifies the SQL flavor behind the shared handle. The pollers
// and the schema probe branch query construction on it.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectMySQL
	DialectPostgres
)

// DialectForDriver maps a database/sql driver name to its dialect.
func DialectForDriver(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3":
		return DialectSQLite, nil
	case "mysql":
		return DialectMySQL, nil
	case "postgres":
		return DialectPostgres, nil
	default:
		return 0, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open opens the shared database handle. The subsystem uses one connection,
// synchronously, from the event-loop goroutine; the pool is pinned to a
// single connection to keep that contract visible at the driver level.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return nil, 0, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s database: %w", driver, err)
	}
	db.SetMaxOpenConns(1)

	return db, dialect, nil
}

// Placeholder returns the n-th (1-based) statement placeholder.
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// EpochExpr returns an expression yielding the unix timestamp of a
// datetime column.
func (d Dialect) EpochExpr(column string) string {
	switch d {
	case DialectMySQL:
		return "UNIX_TIMESTAMP(" + column + ")"
	case DialectPostgres:
		return "CAST(EXTRACT(EPOCH FROM " + column + ") AS BIGINT)"
	default:
		return "CAST(strftime('%s', " + column + ") AS INTEGER)"
	}
}

// CastBigint wraps expr in the dialect's 64-bit integer cast.
func (d Dialect) CastBigint(expr string) string {
	switch d {
	case DialectMySQL:
		return "CAST(" + expr + " AS UNSIGNED)"
	case DialectPostgres:
		return "CAST(" + expr + " AS BIGINT)"
	default:
		return "CAST(" + expr + " AS INTEGER)"
	}
}

// Builder accumulates a SQL string with dialect-correct placeholders and
// the matching argument list.
type Builder struct {
	sql     strings.Builder
	args    []any
	dialect Dialect
	n       int
}

// NewBuilder returns a Builder for the dialect.
func NewBuilder(d Dialect) *Builder {
	return &Builder{dialect: d}
}

// Write appends raw SQL text.
func (b *Builder) Write(s string) *Builder {
	b.sql.WriteString(s)
	return b
}

// Bind appends a placeholder for v and records it as the next argument.
func (b *Builder) Bind(v any) *Builder {
	b.n++
	b.args = append(b.args, v)
	b.sql.WriteString(b.dialect.Placeholder(b.n))
	return b
}

// BindList appends a comma-separated placeholder list for vs.
func (b *Builder) BindList(vs []any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.sql.WriteString(",")
		}
		b.Bind(v)
	}
	return b
}

// SQL returns the accumulated statement text.
func (b *Builder) SQL() string {
	return b.sql.String()
}

// Args returns the accumulated arguments.
func (b *Builder) Args() []any {
	return b.args
}
