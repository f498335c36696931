package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"infra-monitor/pkg/config"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteConnection opens (creating if needed) a single-file database,
// used for local runs and tests.
func NewSQLiteConnection(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	if err := ping(db, "sqlite"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Open connects to the database selected by DB_DRIVER.
func Open(cfg *config.Config) (*sql.DB, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		return NewSQLiteConnection(cfg.SQLitePath)
	default:
		return NewPostgresConnection(cfg)
	}
}
