package confirmation

import (
	"github.com/rs/zerolog"
)

// SweepJob periodically settles previews whose TTL elapsed with nobody
// reading them. Lazy expiry on reads handles the common case; this is
// the safety net for previews nobody asks about again.
type SweepJob struct {
	service *Service
	log     zerolog.Logger
}

// NewSweepJob creates a new preview sweep job.
func NewSweepJob(service *Service, log zerolog.Logger) *SweepJob {
	return &SweepJob{
		service: service,
		log:     log.With().Str("job", "preview_sweep").Logger(),
	}
}

// Name returns the job identifier for scheduler logs.
func (j *SweepJob) Name() string {
	return "preview_sweep"
}

// Run settles stale previews and prunes settled rows past retention.
func (j *SweepJob) Run() error {
	expired, err := j.service.SweepExpired()
	if err != nil {
		j.log.Error().Err(err).Msg("Preview sweep failed")
		return err
	}

	if expired > 0 {
		j.log.Warn().Int("expired", expired).Msg("Previews expired unconfirmed")
	}

	return nil
}
