package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"infra-monitor/pkg/models"
)

const logColumns = `id, system_id, level, message, source, timestamp, is_resolved`

func scanLog(row rowScanner) (models.Log, error) {
	var l models.Log
	var source sql.NullString
	if err := row.Scan(&l.ID, &l.SystemID, &l.Level, &l.Message, &source, &l.Timestamp, &l.IsResolved); err != nil {
		return models.Log{}, err
	}
	l.Source = stringPtr(source)
	l.Timestamp = l.Timestamp.UTC()
	return l, nil
}

func collectLogs(rows *sql.Rows) ([]models.Log, error) {
	defer rows.Close()
	logs := []models.Log{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListLogs returns logs newest first; SystemID and Level filters are ANDed.
func (r *Repository) ListLogs(ctx context.Context, filter models.LogFilter) ([]models.Log, error) {
	var where []string
	var args []any
	if filter.SystemID > 0 {
		args = append(args, filter.SystemID)
		where = append(where, fmt.Sprintf("system_id = $%d", len(args)))
	}
	if filter.Level != "" {
		args = append(args, string(filter.Level))
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}

	query := `SELECT ` + logColumns + ` FROM logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY timestamp DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.query(ctx, r.db, query, args...)
	if err != nil {
		return nil, err
	}
	return collectLogs(rows)
}

func (r *Repository) GetLog(ctx context.Context, id int64) (models.Log, error) {
	return r.getLog(ctx, r.db, id)
}

func (r *Repository) getLog(ctx context.Context, q querier, id int64) (models.Log, error) {
	l, err := scanLog(r.queryRow(ctx, q, `SELECT `+logColumns+` FROM logs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Log{}, ErrNotFound
	}
	return l, err
}

func (r *Repository) CreateLog(ctx context.Context, in models.NewLog) (models.Log, error) {
	id, err := r.insertLog(ctx, r.db, in, r.now())
	if err != nil {
		return models.Log{}, err
	}
	return r.GetLog(ctx, id)
}

func (r *Repository) insertLog(ctx context.Context, q querier, in models.NewLog, at time.Time) (int64, error) {
	level := in.Level
	if level == "" {
		level = models.LevelInfo
	}

	id, err := r.insert(ctx, q,
		`INSERT INTO logs (system_id, level, message, source, timestamp, is_resolved)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		in.SystemID, string(level), in.Message, nullString(in.Source), at, false,
	)
	if err != nil {
		return 0, fmt.Errorf("insert log: %w", err)
	}
	return id, nil
}

// ResolveLog marks a log resolved. Resolving is one-way and idempotent.
func (r *Repository) ResolveLog(ctx context.Context, id int64) (models.Log, error) {
	res, err := r.exec(ctx, r.db, `UPDATE logs SET is_resolved = $1 WHERE id = $2`, true, id)
	if err != nil {
		return models.Log{}, fmt.Errorf("resolve log %d: %w", id, err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return models.Log{}, err
	}
	return r.GetLog(ctx, id)
}

func (r *Repository) CountLogs(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM logs`)
}

// LogsBefore pages through logs older than cutoff in id order, starting
// after afterID.
func (r *Repository) LogsBefore(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]models.Log, error) {
	rows, err := r.query(ctx, r.db,
		`SELECT `+logColumns+` FROM logs WHERE timestamp < $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		cutoff.UTC(), afterID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectLogs(rows)
}

func (r *Repository) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.exec(ctx, r.db, `DELETE FROM logs WHERE timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}
