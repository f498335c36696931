package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"infra-monitor/pkg/config"

	_ "github.com/lib/pq"
)

const connectTimeout = 10 * time.Second

// NewPostgresConnection opens the shared store pool sized by DB_MAX_OPEN_CONNS
// and DB_MAX_IDLE_CONNS.
func NewPostgresConnection(cfg *config.Config) (*sql.DB, error) {
	conn, err := sql.Open("postgres", cfg.GetPostgresConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	conn.SetMaxOpenConns(cfg.DBMaxOpenConns)
	conn.SetMaxIdleConns(cfg.DBMaxIdleConns)
	conn.SetConnMaxLifetime(5 * time.Minute)
	conn.SetConnMaxIdleTime(time.Minute)

	if err := ping(conn, "postgres"); err != nil {
		return nil, err
	}
	return conn, nil
}

// ping closes conn when the database cannot be reached within connectTimeout.
func ping(conn *sql.DB, driver string) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping %s: %w", driver, err)
	}
	return nil
}
