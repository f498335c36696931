package store

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS systems (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(20) NOT NULL,
		ip_address VARCHAR(45) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'online',
		version VARCHAR(100),
		last_seen TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metrics (
		id BIGSERIAL PRIMARY KEY,
		system_id BIGINT NOT NULL,
		cpu_usage DOUBLE PRECISION NOT NULL,
		memory_usage DOUBLE PRECISION NOT NULL,
		disk_usage DOUBLE PRECISION NOT NULL,
		network_in DOUBLE PRECISION NOT NULL DEFAULT 0,
		network_out DOUBLE PRECISION NOT NULL DEFAULT 0,
		data JSONB,
		timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id BIGSERIAL PRIMARY KEY,
		system_id BIGINT NOT NULL,
		level VARCHAR(20) NOT NULL DEFAULT 'info',
		message TEXT NOT NULL,
		source VARCHAR(255),
		timestamp TIMESTAMPTZ NOT NULL,
		is_resolved BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_system_ts ON metrics (system_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_ts ON metrics (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_system_ts ON logs (system_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_ts ON logs (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_systems_name ON systems (name)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS systems (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		ip_address TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'online',
		version TEXT,
		last_seen TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		system_id INTEGER NOT NULL,
		cpu_usage REAL NOT NULL,
		memory_usage REAL NOT NULL,
		disk_usage REAL NOT NULL,
		network_in REAL NOT NULL DEFAULT 0,
		network_out REAL NOT NULL DEFAULT 0,
		data TEXT,
		timestamp TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		system_id INTEGER NOT NULL,
		level TEXT NOT NULL DEFAULT 'info',
		message TEXT NOT NULL,
		source TEXT,
		timestamp TIMESTAMP NOT NULL,
		is_resolved BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_system_ts ON metrics (system_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_ts ON metrics (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_system_ts ON logs (system_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_ts ON logs (timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_systems_name ON systems (name)`,
}

// Migrate creates the schema if it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	stmts := postgresSchema
	if r.dialect == SQLite {
		stmts = sqliteSchema
	}
	for i, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
