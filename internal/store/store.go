package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"time"
)

// Dialect selects the SQL flavour of the underlying driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Repository is the single data store for systems, metrics and logs.
// Queries are written with $N placeholders and rebound for sqlite.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{
		db:      db,
		dialect: dialect,
		now: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// WithClock replaces the time source used for stored timestamps.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = func() time.Time {
		return now().UTC().Truncate(time.Microsecond)
	}
	return r
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

func (r *Repository) rebind(query string) string {
	if r.dialect != SQLite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

func (r *Repository) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, r.rebind(query), args...)
}

func (r *Repository) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, r.rebind(query), args...)
}

func (r *Repository) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, r.rebind(query), args...)
}

// insert runs an INSERT and returns the new row id.
func (r *Repository) insert(ctx context.Context, q querier, query string, args ...any) (int64, error) {
	if r.dialect == Postgres {
		var id int64
		err := q.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := r.exec(ctx, q, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repository) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := r.queryRow(ctx, r.db, query, args...).Scan(&n)
	return n, err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
