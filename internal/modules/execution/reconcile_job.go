package execution

import (
	"github.com/rs/zerolog"
)

// reconcileBatch caps how many orphans one run re-adopts.
const reconcileBatch = 50

// ReconcileJob re-adopts unsettled orders whose polling session died with
// the process or was aborted by venue failures. Timed-out orders are
// excluded: their outcome was already reported.
type ReconcileJob struct {
	repo    *Repository
	tracker *Tracker
	log     zerolog.Logger
}

// NewReconcileJob creates the order reconcile job.
func NewReconcileJob(repo *Repository, tracker *Tracker, log zerolog.Logger) *ReconcileJob {
	return &ReconcileJob{
		repo:    repo,
		tracker: tracker,
		log:     log.With().Str("job", "order_reconcile").Logger(),
	}
}

// Name returns the job name.
func (j *ReconcileJob) Name() string {
	return "order_reconcile"
}

// Run finds unsettled orders and restarts tracking for them. Orders that
// already have a live polling session are skipped by the tracker itself.
func (j *ReconcileJob) Run() error {
	orders, err := j.repo.GetUnsettled(reconcileBatch)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to load unsettled orders")
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	for i := range orders {
		j.tracker.Track(&orders[i])
	}

	j.log.Info().Int("count", len(orders)).Msg("Re-adopted unsettled orders")
	return nil
}
