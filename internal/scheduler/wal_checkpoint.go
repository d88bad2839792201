package scheduler

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/database"
)

// walFrameWarning is the WAL length, in frames, above which passive
// checkpoints are considered to be falling behind writers.
const walFrameWarning = 1000

// WALCheckpointJob runs a passive checkpoint on every core database.
// Passive checkpoints never block writers; sustained WAL growth past
// the warning threshold usually means a long-lived reader is pinning
// the log.
type WALCheckpointJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewWALCheckpointJob creates the WAL checkpoint job.
func NewWALCheckpointJob(databases []*database.DB, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{
		databases: databases,
		log:       log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name.
func (j *WALCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checkpoints each database in turn. A failure on one database does
// not skip the others.
func (j *WALCheckpointJob) Run() error {
	var failed []string

	for _, db := range j.databases {
		var busy, logFrames, checkpointed int
		row := db.QueryRow("PRAGMA wal_checkpoint(PASSIVE)")
		if err := row.Scan(&busy, &logFrames, &checkpointed); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			failed = append(failed, db.Name())
			continue
		}

		if busy != 0 {
			j.log.Debug().Str("database", db.Name()).Msg("Checkpoint incomplete, database busy")
		}

		if logFrames > walFrameWarning {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", logFrames).
				Int("checkpointed_frames", checkpointed).
				Msg("WAL file is large, checkpoint may be needed")
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("wal checkpoint failed for: %s", strings.Join(failed, ", "))
	}

	j.log.Debug().Int("databases", len(j.databases)).Msg("WAL checkpoint pass completed")
	return nil
}
