package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"serialspec/internal/config"
)

const pgUniqueViolation = "23505"

var pgColumnTypes = map[string]string{
	"string":    "TEXT",
	"text":      "TEXT",
	"int":       "INTEGER",
	"integer":   "INTEGER",
	"bigint":    "BIGINT",
	"float":     "DOUBLE PRECISION",
	"decimal":   "NUMERIC",
	"boolean":   "BOOLEAN",
	"uuid":      "UUID",
	"timestamp": "TIMESTAMPTZ",
	"date":      "DATE",
	"json":      "JSONB",
}

// postgresDialect talks to PostgreSQL through pgx's database/sql driver.
// Lists are bound as a single array parameter.
type postgresDialect struct{ sqlBase }

func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) Configure(_ context.Context, db *sql.DB, cfg config.DatabaseConfig) error {
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
	}
	return nil
}

func (postgresDialect) NewParamBuilder() ParamBuilder { return &params{mark: "$"} }

func (postgresDialect) In(column string, pb ParamBuilder, values []any) string {
	return column + " = ANY(" + pb.Add(values) + ")"
}

func (postgresDialect) NotIn(column string, pb ParamBuilder, values []any) string {
	return column + " != ALL(" + pb.Add(values) + ")"
}

func (postgresDialect) ILike(column string, pb ParamBuilder, pattern string) string {
	return column + " ILIKE " + pb.Add(pattern)
}

// DecodeBools is a no-op: pgx returns native booleans.
func (postgresDialect) DecodeBools(map[string]any, []string) {}

func (postgresDialect) MapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

func (postgresDialect) ColumnType(fieldType string, precision int) string {
	if fieldType == "decimal" && precision > 0 {
		return fmt.Sprintf("NUMERIC(18,%d)", precision)
	}
	if t, ok := pgColumnTypes[fieldType]; ok {
		return t
	}
	return "TEXT"
}

func (postgresDialect) SystemTablesSQL() string {
	return systemTablesSQL("JSONB", "TIMESTAMPTZ", "NOW()")
}

func (postgresDialect) Columns(ctx context.Context, q Querier, table string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 AND table_schema = current_schema()`,
		table)
	if err != nil {
		return nil, err
	}
	return scanColumns(rows, func(r *sql.Rows) (name, typ string, err error) {
		err = r.Scan(&name, &typ)
		return
	})
}
