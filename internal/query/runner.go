// Package query executes one SQL statement against a configured source and
// materializes the complete result.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/reportmailer/internal/dialect"
	"github.com/reportmailer/internal/models"
)

const DefaultConnectTimeout = 3 * time.Second

// Result is a fully materialized result set. HasColumns is false for
// statements that return no result set.
type Result struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	HasColumns bool     `json:"has_columns"`
}

// Empty reports whether the result carries no rows.
func (r *Result) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// QueryError reports a statement the source rejected or a result that could
// not be read.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("query failed: %v", e.Err) }

func (e *QueryError) Unwrap() error { return e.Err }

// Runner opens one connection per execution and always releases it.
type Runner struct {
	ConnectTimeout time.Duration
	Location       *time.Location
	Now            func() time.Time
	Resolve        func(models.Backend) (dialect.Adapter, error)
	logger         *slog.Logger
}

func NewRunner(connectTimeout time.Duration, loc *time.Location, logger *slog.Logger) *Runner {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Runner{
		ConnectTimeout: connectTimeout,
		Location:       loc,
		Now:            time.Now,
		Resolve:        dialect.For,
		logger:         logger,
	}
}

func (r *Runner) adapter(backend models.Backend) (dialect.Adapter, error) {
	a, err := r.Resolve(backend)
	if err != nil {
		return nil, &dialect.ConnectionError{Backend: backend, Err: err}
	}
	return a, nil
}

// Run substitutes date macros, adapts placeholders for the connection's
// backend, executes sqlText once and returns every row.
func (r *Runner) Run(ctx context.Context, conn models.DatabaseConnection, sqlText string, params map[string]string) (*Result, error) {
	a, err := r.adapter(conn.Backend)
	if err != nil {
		return nil, err
	}

	expanded := dialect.ApplyDateMacros(sqlText, r.Now().In(r.Location))
	stmt, args := a.Adapt(expanded, params)

	db, err := a.Open(ctx, conn, r.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	start := time.Now()
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &QueryError{Err: err}
	}
	defer rows.Close()

	result, err := materialize(rows)
	if err != nil {
		return nil, &QueryError{Err: err}
	}

	if r.logger != nil {
		r.logger.Debug("query executed",
			"backend", conn.Backend,
			"connection", conn.Name,
			"rows", len(result.Rows),
			"duration", time.Since(start))
	}
	return result, nil
}

// TestConnection opens and pings the source within the connect timeout.
func (r *Runner) TestConnection(ctx context.Context, conn models.DatabaseConnection) error {
	a, err := r.adapter(conn.Backend)
	if err != nil {
		return err
	}
	db, err := a.Open(ctx, conn, r.ConnectTimeout)
	if err != nil {
		return err
	}
	return db.Close()
}

func materialize(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := &Result{Columns: cols, Rows: [][]any{}, HasColumns: len(cols) > 0}
	if !result.HasColumns {
		return result, rows.Err()
	}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
