package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/database"
)

// HealthCheckJob pings every core database and records size statistics.
// It is a liveness probe, not an integrity pass; deep integrity checks
// belong to the maintenance jobs.
type HealthCheckJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewHealthCheckJob creates the database health check job.
func NewHealthCheckJob(databases []*database.DB, log zerolog.Logger) *HealthCheckJob {
	return &HealthCheckJob{
		databases: databases,
		log:       log.With().Str("job", "health_check").Logger(),
	}
}

// Name returns the job name.
func (j *HealthCheckJob) Name() string {
	return "health_check"
}

// Run pings each database and logs its on-disk footprint.
func (j *HealthCheckJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var unhealthy []string

	for _, db := range j.databases {
		if err := db.QuickCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database ping failed")
			unhealthy = append(unhealthy, db.Name())
			continue
		}

		stats, err := db.GetStats()
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read database stats")
			continue
		}

		j.log.Debug().
			Str("database", db.Name()).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_bytes", stats.WALSizeBytes).
			Int64("freelist_pages", stats.FreelistCount).
			Msg("Database healthy")
	}

	if len(unhealthy) > 0 {
		return fmt.Errorf("health check failed for: %s", strings.Join(unhealthy, ", "))
	}

	return nil
}
