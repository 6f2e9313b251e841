package instrument

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Querier matches store.Querier; declared here so the store package does not
// depend on instrumentation.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Recorder wraps a Querier, counting and logging every statement it runs.
// One Recorder is used per request; Count then reports that request's queries.
type Recorder struct {
	q      Querier
	logger *zap.Logger
	count  atomic.Int64
}

func NewRecorder(q Querier, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{q: q, logger: logger}
}

// Count returns the number of statements run so far.
func (r *Recorder) Count() int {
	return int(r.count.Load())
}

func (r *Recorder) observe(ctx context.Context, query string, start time.Time, err error) {
	n := r.count.Add(1)
	fields := []zap.Field{
		zap.Int64("n", n),
		zap.String("sql", query),
		zap.Duration("duration", time.Since(start)),
	}
	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Debug("query", fields...)
}

func (r *Recorder) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := r.q.QueryContext(ctx, query, args...)
	r.observe(ctx, query, start, err)
	return rows, err
}

func (r *Recorder) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := r.q.QueryRowContext(ctx, query, args...)
	r.observe(ctx, query, start, row.Err())
	return row
}

func (r *Recorder) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := r.q.ExecContext(ctx, query, args...)
	r.observe(ctx, query, start, err)
	return res, err
}
