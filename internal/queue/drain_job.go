package queue

import (
	"context"

	"github.com/rs/zerolog"
)

// DrainJob runs one drain cycle per scheduler tick.
type DrainJob struct {
	worker *Worker
	log    zerolog.Logger
}

// NewDrainJob creates the scheduled queue drain job.
func NewDrainJob(worker *Worker, log zerolog.Logger) *DrainJob {
	return &DrainJob{
		worker: worker,
		log:    log.With().Str("job", "queue_drain").Logger(),
	}
}

// Name returns the job name.
func (j *DrainJob) Name() string {
	return "queue_drain"
}

// Run executes one drain cycle.
func (j *DrainJob) Run() error {
	stats, err := j.worker.ProcessQueue(context.Background())
	if err != nil {
		j.log.Error().Err(err).Msg("Queue drain failed")
		return err
	}

	if stats.Failed > 0 {
		j.log.Warn().
			Int("failed", stats.Failed).
			Int("processed", stats.Processed).
			Msg("Drain cycle had failures")
	}

	return nil
}
