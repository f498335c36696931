package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"infra-monitor/pkg/models"
)

const metricColumns = `id, system_id, cpu_usage, memory_usage, disk_usage, network_in, network_out, data, timestamp`

func scanMetric(row rowScanner) (models.Metric, error) {
	var m models.Metric
	var data []byte
	if err := row.Scan(&m.ID, &m.SystemID, &m.CPUUsage, &m.MemoryUsage, &m.DiskUsage,
		&m.NetworkIn, &m.NetworkOut, &data, &m.Timestamp); err != nil {
		return models.Metric{}, err
	}
	if len(data) > 0 {
		m.Data = json.RawMessage(data)
	}
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

func collectMetrics(rows *sql.Rows) ([]models.Metric, error) {
	defer rows.Close()
	metrics := []models.Metric{}
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// jsonParam binds a JSON payload as text; lib/pq would send []byte as bytea.
func jsonParam(data json.RawMessage) any {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return string(data)
}

// ListMetrics returns metrics newest first, capped at filter.Limit.
func (r *Repository) ListMetrics(ctx context.Context, filter models.MetricFilter) ([]models.Metric, error) {
	var where []string
	var args []any
	if filter.SystemID > 0 {
		args = append(args, filter.SystemID)
		where = append(where, fmt.Sprintf("system_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}

	query := `SELECT ` + metricColumns + ` FROM metrics`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(filter.Limit))
	query += fmt.Sprintf(` ORDER BY timestamp DESC, id DESC LIMIT $%d`, len(args))

	rows, err := r.query(ctx, r.db, query, args...)
	if err != nil {
		return nil, err
	}
	return collectMetrics(rows)
}

func (r *Repository) GetMetric(ctx context.Context, id int64) (models.Metric, error) {
	return r.getMetric(ctx, r.db, id)
}

func (r *Repository) getMetric(ctx context.Context, q querier, id int64) (models.Metric, error) {
	m, err := scanMetric(r.queryRow(ctx, q, `SELECT `+metricColumns+` FROM metrics WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Metric{}, ErrNotFound
	}
	return m, err
}

func (r *Repository) insertMetric(ctx context.Context, q querier, in models.NewMetric, at time.Time) (int64, error) {
	return r.insert(ctx, q,
		`INSERT INTO metrics (system_id, cpu_usage, memory_usage, disk_usage, network_in, network_out, data, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		in.SystemID, in.CPUUsage, in.MemoryUsage, in.DiskUsage, in.NetworkIn, in.NetworkOut, jsonParam(in.Data), at,
	)
}

// CreateMetric appends a metric stamped with the current time.
func (r *Repository) CreateMetric(ctx context.Context, in models.NewMetric) (models.Metric, error) {
	id, err := r.insertMetric(ctx, r.db, in, r.now())
	if err != nil {
		return models.Metric{}, fmt.Errorf("insert metric: %w", err)
	}
	return r.GetMetric(ctx, id)
}

// CreateMetrics inserts a batch in one transaction: either every metric
// is stored or none is.
func (r *Repository) CreateMetrics(ctx context.Context, batch []models.NewMetric) ([]models.Metric, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin metrics batch: %w", err)
	}
	defer tx.Rollback()

	at := r.now()
	created := make([]models.Metric, 0, len(batch))
	for i, in := range batch {
		id, err := r.insertMetric(ctx, tx, in, at)
		if err != nil {
			return nil, fmt.Errorf("insert metric %d of batch: %w", i, err)
		}
		m, err := r.getMetric(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		created = append(created, m)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit metrics batch: %w", err)
	}
	return created, nil
}

// LatestMetrics returns the newest metric of every registered system that
// has one, ordered by system id.
func (r *Repository) LatestMetrics(ctx context.Context) ([]models.Metric, error) {
	rows, err := r.query(ctx, r.db, `
		SELECT m.id, m.system_id, m.cpu_usage, m.memory_usage, m.disk_usage,
		       m.network_in, m.network_out, m.data, m.timestamp
		FROM metrics m
		WHERE EXISTS (SELECT 1 FROM systems s WHERE s.id = m.system_id)
		AND m.id = (
			SELECT l.id FROM metrics l
			WHERE l.system_id = m.system_id
			ORDER BY l.timestamp DESC, l.id DESC
			LIMIT 1
		)
		ORDER BY m.system_id ASC`)
	if err != nil {
		return nil, err
	}
	return collectMetrics(rows)
}

// LatestMetric returns the newest metric of one system.
func (r *Repository) LatestMetric(ctx context.Context, systemID int64) (models.Metric, error) {
	m, err := scanMetric(r.queryRow(ctx, r.db,
		`SELECT `+metricColumns+` FROM metrics WHERE system_id = $1 ORDER BY timestamp DESC, id DESC LIMIT 1`, systemID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Metric{}, ErrNotFound
	}
	return m, err
}

func (r *Repository) CountMetrics(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM metrics`)
}

func (r *Repository) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.exec(ctx, r.db, `DELETE FROM metrics WHERE timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete metrics before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return res.RowsAffected()
}
