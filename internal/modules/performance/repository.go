// Package performance maintains rolling per-agent trade statistics,
// recomputed from the order ledger whenever an order completes.
package performance

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/domain"
)

const metricColumns = `agent_id, total_trades, winning_trades, win_rate, total_pnl, max_drawdown, sharpe_ratio, last_updated`

// Repository persists per-agent metrics in agents.db.
type Repository struct {
	agentsDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new performance metrics repository.
func NewRepository(agentsDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		agentsDB: agentsDB,
		log:      log.With().Str("repo", "performance").Logger(),
	}
}

// Upsert writes the agent's metrics row, replacing any previous one.
func (r *Repository) Upsert(metrics *domain.PerformanceMetrics) error {
	if metrics.AgentID == "" {
		return fmt.Errorf("agent id is required")
	}
	if metrics.LastUpdated.IsZero() {
		metrics.LastUpdated = time.Now().UTC()
	}

	query := `
		INSERT INTO performance_metrics (` + metricColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			total_trades   = excluded.total_trades,
			winning_trades = excluded.winning_trades,
			win_rate       = excluded.win_rate,
			total_pnl      = excluded.total_pnl,
			max_drawdown   = excluded.max_drawdown,
			sharpe_ratio   = excluded.sharpe_ratio,
			last_updated   = excluded.last_updated
	`

	_, err := r.agentsDB.Exec(query,
		metrics.AgentID,
		metrics.TotalTrades,
		metrics.WinningTrades,
		metrics.WinRate,
		metrics.TotalPnL,
		metrics.MaxDrawdown,
		metrics.SharpeRatio,
		metrics.LastUpdated.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert performance metrics: %w", err)
	}

	return nil
}

// GetByAgent retrieves the agent's metrics row. Returns nil if none exists.
func (r *Repository) GetByAgent(agentID string) (*domain.PerformanceMetrics, error) {
	query := "SELECT " + metricColumns + " FROM performance_metrics WHERE agent_id = ?"

	metrics, err := scanMetrics(r.agentsDB.QueryRow(query, agentID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get performance metrics: %w", err)
	}

	return metrics, nil
}

func scanMetrics(row *sql.Row) (*domain.PerformanceMetrics, error) {
	var metrics domain.PerformanceMetrics
	var lastUpdated string

	err := row.Scan(
		&metrics.AgentID,
		&metrics.TotalTrades,
		&metrics.WinningTrades,
		&metrics.WinRate,
		&metrics.TotalPnL,
		&metrics.MaxDrawdown,
		&metrics.SharpeRatio,
		&lastUpdated,
	)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, lastUpdated); err == nil {
		metrics.LastUpdated = t
	}

	return &metrics, nil
}
