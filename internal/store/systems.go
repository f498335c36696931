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

const systemColumns = `id, name, type, ip_address, status, version, last_seen, created_at`

func scanSystem(row rowScanner) (models.System, error) {
	var s models.System
	var version sql.NullString
	if err := row.Scan(&s.ID, &s.Name, &s.Type, &s.IPAddress, &s.Status, &version, &s.LastSeen, &s.CreatedAt); err != nil {
		return models.System{}, err
	}
	s.Version = stringPtr(version)
	s.LastSeen = s.LastSeen.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

// ListSystems returns systems in registration order.
func (r *Repository) ListSystems(ctx context.Context, filter models.SystemFilter) ([]models.System, error) {
	var where []string
	var args []any
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + systemColumns + ` FROM systems`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`

	rows, err := r.query(ctx, r.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	systems := []models.System{}
	for rows.Next() {
		s, err := scanSystem(rows)
		if err != nil {
			return nil, err
		}
		systems = append(systems, s)
	}
	return systems, rows.Err()
}

func (r *Repository) GetSystem(ctx context.Context, id int64) (models.System, error) {
	return r.getSystem(ctx, r.db, id)
}

func (r *Repository) getSystem(ctx context.Context, q querier, id int64) (models.System, error) {
	s, err := scanSystem(r.queryRow(ctx, q, `SELECT `+systemColumns+` FROM systems WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.System{}, ErrNotFound
	}
	return s, err
}

// FindSystemByName returns the oldest system registered under name.
func (r *Repository) FindSystemByName(ctx context.Context, name string) (models.System, error) {
	s, err := scanSystem(r.queryRow(ctx, r.db,
		`SELECT `+systemColumns+` FROM systems WHERE name = $1 ORDER BY id ASC LIMIT 1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return models.System{}, ErrNotFound
	}
	return s, err
}

func (r *Repository) SystemExists(ctx context.Context, id int64) (bool, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM systems WHERE id = $1`, id)
	return n > 0, err
}

// CreateSystem registers a system; lastSeen and createdAt are set to now.
func (r *Repository) CreateSystem(ctx context.Context, in models.NewSystem) (models.System, error) {
	status := in.Status
	if status == "" {
		status = models.StatusOnline
	}
	now := r.now()

	id, err := r.insert(ctx, r.db,
		`INSERT INTO systems (name, type, ip_address, status, version, last_seen, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.Name, string(in.Type), in.IPAddress, string(status), nullString(in.Version), now, now,
	)
	if err != nil {
		return models.System{}, fmt.Errorf("insert system: %w", err)
	}
	return r.GetSystem(ctx, id)
}

// UpdateSystem applies a partial update and returns the merged row.
func (r *Repository) UpdateSystem(ctx context.Context, id int64, patch models.SystemPatch) (models.System, error) {
	if patch.Empty() {
		return r.GetSystem(ctx, id)
	}

	var sets []string
	var args []any
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Type != nil {
		set("type", string(*patch.Type))
	}
	if patch.IPAddress != nil {
		set("ip_address", *patch.IPAddress)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.Version != nil {
		set("version", *patch.Version)
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE systems SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := r.exec(ctx, r.db, query, args...)
	if err != nil {
		return models.System{}, fmt.Errorf("update system %d: %w", id, err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return models.System{}, err
	}
	return r.GetSystem(ctx, id)
}

// TouchSystem records a heartbeat: lastSeen becomes now and an offline
// system comes back online. The returned change is non-nil only for that
// transition, which is also written to the log stream.
func (r *Repository) TouchSystem(ctx context.Context, id int64) (models.System, *models.StatusChange, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.System{}, nil, fmt.Errorf("begin heartbeat: %w", err)
	}
	defer tx.Rollback()

	prev, err := r.getSystem(ctx, tx, id)
	if err != nil {
		return models.System{}, nil, err
	}

	at := r.now()
	if _, err := r.exec(ctx, tx,
		`UPDATE systems SET last_seen = $1,
		 status = CASE WHEN status = 'offline' THEN 'online' ELSE status END
		 WHERE id = $2`, at, id); err != nil {
		return models.System{}, nil, fmt.Errorf("touch system %d: %w", id, err)
	}

	var change *models.StatusChange
	if prev.Status == models.StatusOffline {
		c, err := r.recordStatusChange(ctx, tx, id, prev.Status, models.StatusOnline, at)
		if err != nil {
			return models.System{}, nil, err
		}
		change = &c
	}

	system, err := r.getSystem(ctx, tx, id)
	if err != nil {
		return models.System{}, nil, err
	}
	if err := tx.Commit(); err != nil {
		return models.System{}, nil, fmt.Errorf("commit heartbeat: %w", err)
	}
	return system, change, nil
}

// DeleteSystem removes the system row only; its metrics and logs stay.
func (r *Repository) DeleteSystem(ctx context.Context, id int64) error {
	res, err := r.exec(ctx, r.db, `DELETE FROM systems WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete system %d: %w", id, err)
	}
	return affectedOrNotFound(res)
}

func (r *Repository) CountSystemsByStatus(ctx context.Context) (models.SystemCounts, error) {
	rows, err := r.query(ctx, r.db, `SELECT status, COUNT(*) FROM systems GROUP BY status`)
	if err != nil {
		return models.SystemCounts{}, err
	}
	defer rows.Close()

	var counts models.SystemCounts
	for rows.Next() {
		var status models.SystemStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return models.SystemCounts{}, err
		}
		counts.Total += n
		switch status {
		case models.StatusOnline:
			counts.Online = n
		case models.StatusOffline:
			counts.Offline = n
		case models.StatusWarning:
			counts.Warning = n
		}
	}
	return counts, rows.Err()
}

// MarkStaleSystemsOffline flips every system not seen since before to
// offline and logs a warning for each transition.
func (r *Repository) MarkStaleSystemsOffline(ctx context.Context, before time.Time) ([]models.StatusChange, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin staleness sweep: %w", err)
	}
	defer tx.Rollback()

	rows, err := r.query(ctx, tx,
		`SELECT id, status FROM systems WHERE status <> 'offline' AND last_seen < $1 ORDER BY id ASC`, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("find stale systems: %w", err)
	}
	type stale struct {
		id     int64
		status models.SystemStatus
	}
	var found []stale
	for rows.Next() {
		var st stale
		if err := rows.Scan(&st.id, &st.status); err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	at := r.now()
	changes := []models.StatusChange{}
	for _, st := range found {
		if _, err := r.exec(ctx, tx, `UPDATE systems SET status = 'offline' WHERE id = $1`, st.id); err != nil {
			return nil, fmt.Errorf("mark system %d offline: %w", st.id, err)
		}
		change, err := r.recordStatusChange(ctx, tx, st.id, st.status, models.StatusOffline, at)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit staleness sweep: %w", err)
	}
	return changes, nil
}

// StatusMonitorSource is the log source of status transitions.
const StatusMonitorSource = "status_monitor"

func (r *Repository) recordStatusChange(ctx context.Context, q querier, systemID int64, from, to models.SystemStatus, at time.Time) (models.StatusChange, error) {
	level := models.LevelInfo
	if to == models.StatusOffline {
		level = models.LevelWarning
	}
	source := StatusMonitorSource
	id, err := r.insertLog(ctx, q, models.NewLog{
		SystemID: systemID,
		Level:    level,
		Message:  fmt.Sprintf("System status changed from %s to %s", from, to),
		Source:   &source,
	}, at)
	if err != nil {
		return models.StatusChange{}, err
	}
	entry, err := r.getLog(ctx, q, id)
	if err != nil {
		return models.StatusChange{}, err
	}
	return models.StatusChange{SystemID: systemID, From: from, To: to, Log: entry}, nil
}
