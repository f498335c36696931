package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"infra-monitor/internal/store"
	"infra-monitor/pkg/config"
	"infra-monitor/pkg/db"
	"infra-monitor/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig reads the configuration and initializes the process logger
// from it.
func loadConfig(port string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if port != "" {
		cfg.Port = port
	}
	// .env is only merged by config.Load, so the logger is built afterwards.
	if err := logger.Init(cfg.Environment, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Configuration loaded",
		logger.String("environment", cfg.Environment),
		logger.String("port", cfg.Port),
	)
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Repository, func(), error) {
	conn, err := db.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Connected to database", logger.String("driver", cfg.DBDriver))

	closeFn := func() {
		if err := conn.Close(); err != nil {
			logger.Error("Error closing database connection", logger.Err(err))
		}
	}
	dialect := store.Postgres
	if cfg.DBDriver == config.DriverSQLite {
		dialect = store.SQLite
	}
	return store.NewRepository(conn, dialect), closeFn, nil
}

// serveHTTP runs handler until ctx is cancelled, then drains in-flight
// requests.
func serveHTTP(ctx context.Context, name string, cfg *config.Config, handler http.Handler) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting "+name,
			logger.String("port", cfg.Port),
			logger.String("address", fmt.Sprintf("http://localhost:%s", cfg.Port)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.Err(err))
	}

	logger.Info(name + " stopped")
	return nil
}
