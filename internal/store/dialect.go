package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"serialspec/internal/config"
)

// Dialect covers what differs between the supported databases: connection
// setup, parameter and list spelling, schema inspection, and how values and
// errors come back from the driver.
type Dialect interface {
	// DriverName is the database/sql driver to open ("pgx" or "sqlite").
	DriverName() string

	// Configure tunes a freshly opened pool.
	Configure(ctx context.Context, db *sql.DB, cfg config.DatabaseConfig) error

	NewParamBuilder() ParamBuilder

	// Alias quotes an output column name. Dotted names such as "school.name"
	// stay one identifier.
	Alias(name string) string

	// In matches column against values. An empty list matches nothing.
	In(column string, pb ParamBuilder, values []any) string

	// NotIn excludes values from column. An empty list excludes nothing.
	NotIn(column string, pb ParamBuilder, values []any) string

	// ILike is a case-insensitive LIKE.
	ILike(column string, pb ParamBuilder, pattern string) string

	// CountRows is a scalar subquery counting the rows of from that satisfy
	// every condition.
	CountRows(from string, conds []string) string

	// DecodeBools turns the stored form of the named boolean columns into bool.
	DecodeBools(row map[string]any, fields []string)

	// MapError wraps driver errors that have a sentinel in this package.
	MapError(err error) error

	// ColumnType maps a metadata field type to a DDL column type.
	ColumnType(fieldType string, precision int) string

	// Literal renders a column default.
	Literal(v any) string

	SystemTablesSQL() string

	// Columns lists the columns of table with their types. A missing table
	// has none.
	Columns(ctx context.Context, q Querier, table string) (map[string]string, error)
}

// ParamBuilder numbers query parameters in the order they are added.
type ParamBuilder interface {
	// Add appends v and returns its placeholder.
	Add(v any) string

	Params() []any
}

// NewDialect returns the dialect for driver. Anything but "sqlite" is
// PostgreSQL.
func NewDialect(driver string) Dialect {
	if driver == "sqlite" {
		return sqliteDialect{}
	}
	return postgresDialect{}
}

// params renders placeholders as mark followed by the 1-based position:
// "$1" for PostgreSQL, "?1" for SQLite.
type params struct {
	mark   string
	values []any
}

func (p *params) Add(v any) string {
	p.values = append(p.values, v)
	return fmt.Sprintf("%s%d", p.mark, len(p.values))
}

func (p *params) Params() []any { return p.values }

// sqlBase holds the SQL both databases spell the same way.
type sqlBase struct{}

func (sqlBase) Alias(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (sqlBase) CountRows(from string, conds []string) string {
	return fmt.Sprintf("(SELECT COUNT(*) FROM %s WHERE %s)", from, strings.Join(conds, " AND "))
}

func (sqlBase) Literal(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int, int64, float64:
		return fmt.Sprint(val)
	}
	return fmt.Sprintf("'%v'", v)
}

// systemTablesSQL is the metadata DDL with the JSON and timestamp column
// types, and the current-time default, of one database.
func systemTablesSQL(jsonType, timeType, now string) string {
	r := strings.NewReplacer("{json}", jsonType, "{time}", timeType, "{now}", now)
	return r.Replace(`
CREATE TABLE IF NOT EXISTS _entities (
    name        TEXT PRIMARY KEY,
    table_name  TEXT NOT NULL UNIQUE,
    definition  {json} NOT NULL,
    created_at  {time} DEFAULT {now},
    updated_at  {time} DEFAULT {now}
);

CREATE TABLE IF NOT EXISTS _relations (
    name        TEXT PRIMARY KEY,
    source      TEXT NOT NULL REFERENCES _entities(name) ON DELETE CASCADE,
    target      TEXT NOT NULL REFERENCES _entities(name) ON DELETE CASCADE,
    definition  {json} NOT NULL,
    created_at  {time} DEFAULT {now},
    updated_at  {time} DEFAULT {now}
);
`)
}

// scanColumns reads (name, type) pairs from a schema query.
func scanColumns(rows *sql.Rows, scan func(*sql.Rows) (string, string, error)) (map[string]string, error) {
	defer rows.Close()
	cols := make(map[string]string)
	for rows.Next() {
		name, typ, err := scan(rows)
		if err != nil {
			return nil, err
		}
		cols[name] = typ
	}
	return cols, rows.Err()
}
