package reliability

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/database"
)

// MaintenanceJob is the nightly upkeep pass: full integrity checks, WAL
// truncation, a VACUUM of the mutable databases and a disk space check.
// It runs during quiet hours; VACUUM rewrites whole files.
type MaintenanceJob struct {
	databases map[string]*database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewMaintenanceJob creates the daily maintenance job. dataDir is the
// directory holding the database files, used for the disk space check.
func NewMaintenanceJob(databases map[string]*database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("job", "daily_maintenance").Logger(),
	}
}

// Name returns the job name.
func (j *MaintenanceJob) Name() string {
	return "daily_maintenance"
}

// Run executes the maintenance pass. Integrity failures and critically
// low disk space are errors; everything else is logged and skipped.
func (j *MaintenanceJob) Run() error {
	j.log.Info().Msg("Starting daily maintenance")
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for name, db := range j.databases {
		j.log.Debug().Str("database", name).Msg("Running integrity check")

		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("Integrity check failed")
			return fmt.Errorf("integrity check failed for %s: %w", name, err)
		}
	}

	for name, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	for name, db := range j.databases {
		// The ledger is append-only; rewriting it reclaims nothing.
		if db.Profile() == database.ProfileLedger {
			j.log.Debug().Str("database", name).Msg("Skipping VACUUM for append-only ledger")
			continue
		}

		if err := j.vacuumDatabase(name, db); err != nil {
			j.log.Error().Err(err).Str("database", name).Msg("VACUUM failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	j.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Msg("Daily maintenance completed")

	return nil
}

func (j *MaintenanceJob) vacuumDatabase(name string, db *database.DB) error {
	before, err := db.GetStats()
	if err != nil {
		return err
	}

	if err := db.Vacuum(); err != nil {
		return err
	}

	after, err := db.GetStats()
	if err != nil {
		return err
	}

	j.log.Info().
		Str("database", name).
		Int64("size_before", before.SizeBytes).
		Int64("size_after", after.SizeBytes).
		Msg("VACUUM completed")

	return nil
}

// checkDiskSpace fails the run when free space drops below half a
// gigabyte; a full disk corrupts SQLite databases mid-write.
func (j *MaintenanceJob) checkDiskSpace() error {
	stat := syscall.Statfs_t{}
	if err := syscall.Statfs(j.dataDir, &stat); err != nil {
		return fmt.Errorf("failed to stat filesystem: %w", err)
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	availableGB := float64(availableBytes) / 1e9

	if availableGB < 0.5 {
		j.log.Error().Float64("available_gb", availableGB).Msg("Insufficient disk space for safe operation")
		return fmt.Errorf("only %.2f GB free under %s", availableGB, j.dataDir)
	}

	if availableGB < 5.0 {
		j.log.Warn().Float64("available_gb", availableGB).Msg("Disk space running low")
	}

	j.log.Debug().Float64("available_gb", availableGB).Msg("Disk space check passed")
	return nil
}
