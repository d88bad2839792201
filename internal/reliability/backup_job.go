package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BackupJob ships a fresh archive off-site and prunes old ones. The DI
// container only registers it when a bucket is configured.
type BackupJob struct {
	service *BackupService
	log     zerolog.Logger
}

// NewBackupJob creates the scheduled backup job.
func NewBackupJob(service *BackupService, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service: service,
		log:     log.With().Str("job", "ledger_backup").Logger(),
	}
}

// Name returns the job name.
func (j *BackupJob) Name() string {
	return "ledger_backup"
}

// Run creates and uploads one archive, then rotates remote history.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	archive, err := j.service.CreateAndUploadBackup(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("Backup failed")
		return err
	}

	if err := j.service.RotateOldBackups(ctx); err != nil {
		// The archive already shipped; rotation catches up next run.
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}

	j.log.Info().Str("archive", archive).Msg("Backup job completed")
	return nil
}
