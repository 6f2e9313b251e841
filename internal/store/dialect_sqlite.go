package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"serialspec/internal/config"
)

var sqliteColumnTypes = map[string]string{
	"int":     "INTEGER",
	"integer": "INTEGER",
	"bigint":  "INTEGER",
	"boolean": "INTEGER",
	"float":   "REAL",
	"decimal": "REAL",
}

// sqliteDialect talks to SQLite through modernc.org/sqlite. Lists expand to
// one parameter per value and booleans are stored as integers.
type sqliteDialect struct{ sqlBase }

func (sqliteDialect) DriverName() string { return "sqlite" }

// Configure allows a single connection: SQLite has one writer, and a shared
// in-memory database lives only as long as its connection.
func (sqliteDialect) Configure(ctx context.Context, db *sql.DB, cfg config.DatabaseConfig) error {
	db.SetMaxOpenConns(1)
	pragmas := []string{"PRAGMA foreign_keys=ON"}
	if !cfg.Memory {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (sqliteDialect) NewParamBuilder() ParamBuilder { return &params{mark: "?"} }

func (sqliteDialect) In(column string, pb ParamBuilder, values []any) string {
	return expandList(column, "IN", "1=0", pb, values)
}

func (sqliteDialect) NotIn(column string, pb ParamBuilder, values []any) string {
	return expandList(column, "NOT IN", "1=1", pb, values)
}

func expandList(column, op, empty string, pb ParamBuilder, values []any) string {
	if len(values) == 0 {
		return empty
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = pb.Add(v)
	}
	return column + " " + op + " (" + strings.Join(marks, ", ") + ")"
}

// ILike uses LIKE, which SQLite already matches case-insensitively for ASCII.
func (sqliteDialect) ILike(column string, pb ParamBuilder, pattern string) string {
	return column + " LIKE " + pb.Add(pattern)
}

func (sqliteDialect) DecodeBools(row map[string]any, fields []string) {
	for _, f := range fields {
		switch n := row[f].(type) {
		case int64:
			row[f] = n != 0
		case int:
			row[f] = n != 0
		case float64:
			row[f] = n != 0
		}
	}
}

func (sqliteDialect) MapError(err error) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

func (sqliteDialect) ColumnType(fieldType string, _ int) string {
	if t, ok := sqliteColumnTypes[fieldType]; ok {
		return t
	}
	return "TEXT"
}

func (d sqliteDialect) Literal(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "1"
		}
		return "0"
	}
	return d.sqlBase.Literal(v)
}

func (sqliteDialect) SystemTablesSQL() string {
	return systemTablesSQL("TEXT", "TEXT", "(datetime('now'))")
}

func (sqliteDialect) Columns(ctx context.Context, q Querier, table string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?1)", table)
	if err != nil {
		return nil, err
	}
	return scanColumns(rows, func(r *sql.Rows) (name, typ string, err error) {
		err = r.Scan(&name, &typ)
		return
	})
}
