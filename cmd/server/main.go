// Command server runs the cadence playback service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stwalsh4118/cadence/internal/config"
	"github.com/stwalsh4118/cadence/internal/db"
	"github.com/stwalsh4118/cadence/internal/logger"
	"github.com/stwalsh4118/cadence/internal/resolver"
	"github.com/stwalsh4118/cadence/internal/server"
)

const (
	migrationsPath  = "file://./migrations"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		logger.Log.Error().Err(err).Msg("Server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		logger.Init("info", false)
		return err
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)

	database, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	sqlDB, err := database.GetSQLDB()
	if err != nil {
		return err
	}
	if err := db.RunMigrations(sqlDB, migrationsPath); err != nil {
		return err
	}

	// nothing from a previous run can still be queued, so every artifact is orphaned
	if cfg.Resolver.Mode == config.ResolverModeDownload {
		if _, err := resolver.SweepArtifacts(cfg.Resolver.ArtifactDir, time.Now()); err != nil {
			logger.Log.Warn().Err(err).Msg("Failed to sweep artifacts")
		}
	}

	srv := server.New(cfg, database)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
