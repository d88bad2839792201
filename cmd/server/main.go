// Package main is the entry point for the Tradewind automated trading pipeline.
// The application turns agent trading signals into executed venue orders:
// signals are scored and queued, drained into validated order previews,
// confirmed into live orders, polled to completion, and rolled up into
// per-agent performance metrics.
//
// The application follows clean architecture principles:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Service layer for business logic
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/database"
	"github.com/ametov/tradewind/internal/di"
	"github.com/ametov/tradewind/internal/server"
	"github.com/ametov/tradewind/pkg/logger"
)

// main orchestrates the system startup sequence:
// 1. Loads configuration from environment variables
// 2. Initializes logging
// 3. Wires all dependencies via the DI container (databases, repositories, services, jobs)
// 4. Starts the HTTP server for API endpoints
// 5. Starts the quote stream (if configured) and the job scheduler
// 6. Waits for a shutdown signal and performs graceful shutdown
//
// The application uses a 3-database architecture:
// - ledger.db: Completed order audit trail
// - agents.db: Agent registry, signal log, performance metrics
// - cache.db: Ephemeral pipeline state (queue, previews, quotes, tracked orders)
func main() {
	// Load configuration first to get log level
	// Configuration is loaded from environment variables (.env file)
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		// This ensures we can log the configuration error even if config loading fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger with config level
	// Dev mode switches from JSON to human-readable console output
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Tradewind")

	// Wire all dependencies using DI container
	// This initializes databases, repositories, services, and scheduler jobs:
	// - Databases are initialized first (3-database architecture)
	// - Repositories are created with database connections
	// - Services are created with repository dependencies
	// - Jobs are registered on the scheduler with their cadences
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// Cleanup databases on exit
	// All 3 databases must be properly closed to ensure WAL checkpoints are
	// written and database integrity is maintained.
	defer container.LedgerDB.Close()
	defer container.AgentsDB.Close()
	defer container.CacheDB.Close()

	// Initialize HTTP server
	// The HTTP server provides REST API endpoints for:
	// - Signal intake and queue inspection
	// - Order previews (create, confirm, cancel) and order history
	// - Agent positions and performance metrics
	// - Server-sent event stream for pipeline events
	// - System health (databases, queue depths, resource usage)
	srv := server.New(cfg.Port, server.Deps{
		Dispatcher:  container.Dispatcher,
		Previews:    container.Confirmations,
		Orders:      container.Executions,
		Tracker:     container.Tracker,
		Positions:   container.Positions,
		Performance: container.Performance,
		Bus:         container.EventBus,
		Databases: map[string]*database.DB{
			"ledger": container.LedgerDB,
			"agents": container.AgentsDB,
			"cache":  container.CacheDB,
		},
	}, log)

	// Start server in goroutine
	// The HTTP server runs in a separate goroutine so it doesn't block the
	// main thread while the background components start.
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Start the quote stream if one is configured. The stream reconnects in
	// the background, so a venue outage at boot does not block startup.
	if container.PriceStream != nil {
		if err := container.PriceStream.Start(); err != nil {
			log.Warn().Err(err).Msg("Quote stream failed to start, continuing without it")
		} else {
			log.Info().Msg("Quote stream started")
		}
	}

	// Start the scheduler: queue drains, position checks, preview sweeps,
	// order reconciliation and database housekeeping.
	container.Scheduler.Start()

	// Wait for interrupt signal
	// The application blocks here until it receives SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop the scheduler first so no new work enters the pipeline, then the
	// fill pollers, then the quote stream. Orders still pending at the venue
	// are picked up by the reconcile job on next startup.
	container.Scheduler.Stop()
	container.Tracker.Stop()
	if container.PriceStream != nil {
		if err := container.PriceStream.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping quote stream")
		}
	}

	// Graceful shutdown
	// The HTTP server is given up to 10 seconds to finish processing
	// in-flight requests before it is forced to close.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
