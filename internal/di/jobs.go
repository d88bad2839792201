// Package di provides dependency injection for scheduler jobs.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/database"
	"github.com/ametov/tradewind/internal/modules/confirmation"
	"github.com/ametov/tradewind/internal/modules/execution"
	"github.com/ametov/tradewind/internal/queue"
	"github.com/ametov/tradewind/internal/reliability"
	"github.com/ametov/tradewind/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers all recurring jobs.
// The scheduler is stored on the container but not started; main starts
// it once the HTTP server is up.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	sched := scheduler.New(log)

	// Pipeline cadence
	if err := sched.AddEvery(cfg.Dispatch.DrainInterval, queue.NewDrainJob(container.Worker, log)); err != nil {
		return err
	}
	if err := sched.AddEvery(cfg.Positions.CheckInterval, container.Monitor); err != nil {
		return err
	}
	if err := sched.AddEvery(cfg.Confirmation.SweepInterval, confirmation.NewSweepJob(container.Confirmations, log)); err != nil {
		return err
	}
	if err := sched.AddEvery(time.Minute, execution.NewReconcileJob(container.OrderRepo, container.Tracker, log)); err != nil {
		return err
	}

	// Housekeeping
	databases := []*database.DB{container.LedgerDB, container.AgentsDB, container.CacheDB}
	if err := sched.AddEvery(5*time.Minute, cache.NewCleanupJob(container.CacheRepo, log)); err != nil {
		return err
	}
	if err := sched.AddEvery(time.Hour, scheduler.NewWALCheckpointJob(databases, log)); err != nil {
		return err
	}
	if err := sched.AddEvery(5*time.Minute, scheduler.NewHealthCheckJob(databases, log)); err != nil {
		return err
	}

	byName := map[string]*database.DB{
		"ledger": container.LedgerDB,
		"agents": container.AgentsDB,
		"cache":  container.CacheDB,
	}
	if err := sched.AddJob("0 30 2 * * *", reliability.NewMaintenanceJob(byName, cfg.DataDir, log)); err != nil {
		return err
	}

	// Off-site backups only when a bucket is configured. cache.db is
	// rebuildable state, so only the durable databases ship off-site.
	if cfg.Backup.Bucket != "" {
		storage, err := reliability.NewS3Client(context.Background(), cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to initialize backup storage: %w", err)
		}
		durable := map[string]*database.DB{
			"ledger": container.LedgerDB,
			"agents": container.AgentsDB,
		}
		container.Backups = reliability.NewBackupService(durable, storage, cfg.Backup.Retention, log)
		if err := sched.AddJob("0 0 3 * * *", reliability.NewBackupJob(container.Backups, log)); err != nil {
			return err
		}
	}

	container.Scheduler = sched

	log.Info().Msg("All jobs registered")

	return nil
}
