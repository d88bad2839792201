// Package signals stores trading signals and their lifecycle status.
// The signals table in agents.db is the canonical record; the dispatch
// queue in cache.db only references rows here by id.
package signals

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/domain"
)

// signalColumns lists the columns of the signals table.
// Order must match the scan helpers below.
const signalColumns = `id, agent_id, symbol, recommendation, confidence, target_price, stop_loss, priority, reasoning, status, failure_reason, created_at`

// Repository handles signal persistence over agents.db.
type Repository struct {
	agentsDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new signal repository.
func NewRepository(agentsDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		agentsDB: agentsDB,
		log:      log.With().Str("repo", "signals").Logger(),
	}
}

// Create inserts a new signal record.
func (r *Repository) Create(signal *domain.TradingSignal) error {
	if signal.ID == "" {
		return fmt.Errorf("signal id is required")
	}
	if signal.Confidence < 0 || signal.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %f", signal.Confidence)
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}
	if signal.Status == "" {
		signal.Status = domain.SignalStatusPending
	}

	query := `
		INSERT INTO signals
		(id, agent_id, symbol, recommendation, confidence, target_price, stop_loss,
		 priority, reasoning, status, failure_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.agentsDB.Exec(query,
		signal.ID,
		signal.AgentID,
		signal.Symbol,
		string(signal.Recommendation),
		signal.Confidence,
		nullFloat64Ptr(signal.TargetPrice),
		nullFloat64Ptr(signal.StopLoss),
		signal.Priority,
		nullString(signal.Reasoning),
		string(signal.Status),
		nullString(signal.FailureReason),
		signal.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create signal: %w", err)
	}

	return nil
}

// GetByID retrieves a signal. Returns nil with no error when missing.
func (r *Repository) GetByID(id string) (*domain.TradingSignal, error) {
	query := "SELECT " + signalColumns + " FROM signals WHERE id = ?"

	row := r.agentsDB.QueryRow(query, id)
	signal, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}

	return &signal, nil
}

// UpdateStatus transitions a signal's status. Terminal rows are never
// touched: the WHERE clause excludes them, so a late transition against
// an executed, cancelled or failed signal is a silent no-op.
func (r *Repository) UpdateStatus(id string, status domain.SignalStatus, failureReason string) error {
	query := `
		UPDATE signals
		SET status = ?, failure_reason = ?
		WHERE id = ?
		  AND status NOT IN ('executed', 'cancelled', 'failed')
	`

	result, err := r.agentsDB.Exec(query, string(status), nullString(failureReason), id)
	if err != nil {
		return fmt.Errorf("failed to update signal status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		r.log.Debug().
			Str("signal_id", id).
			Str("status", string(status)).
			Msg("Signal status not updated, row missing or already terminal")
	}

	return nil
}

// CountByStatus returns signal counts grouped by status.
func (r *Repository) CountByStatus() (map[domain.SignalStatus]int, error) {
	query := "SELECT status, COUNT(*) FROM signals GROUP BY status"

	rows, err := r.agentsDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to count signals by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SignalStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.SignalStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

// GetRecentByAgent returns an agent's signals, newest first.
func (r *Repository) GetRecentByAgent(agentID string, limit int) ([]domain.TradingSignal, error) {
	query := `
		SELECT ` + signalColumns + ` FROM signals
		WHERE agent_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.agentsDB.Query(query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get signals by agent: %w", err)
	}
	defer rows.Close()

	var result []domain.TradingSignal
	for rows.Next() {
		signal, err := scanSignalFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		result = append(result, signal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}

	return result, nil
}

func scanSignal(row *sql.Row) (domain.TradingSignal, error) {
	var signal domain.TradingSignal
	var recommendation, status, createdAt string
	var targetPrice, stopLoss sql.NullFloat64
	var reasoning, failureReason sql.NullString

	err := row.Scan(
		&signal.ID,
		&signal.AgentID,
		&signal.Symbol,
		&recommendation,
		&signal.Confidence,
		&targetPrice,
		&stopLoss,
		&signal.Priority,
		&reasoning,
		&status,
		&failureReason,
		&createdAt,
	)
	if err != nil {
		return signal, err
	}

	applySignalNullables(&signal, recommendation, status, createdAt, targetPrice, stopLoss, reasoning, failureReason)
	return signal, nil
}

func scanSignalFromRows(rows *sql.Rows) (domain.TradingSignal, error) {
	var signal domain.TradingSignal
	var recommendation, status, createdAt string
	var targetPrice, stopLoss sql.NullFloat64
	var reasoning, failureReason sql.NullString

	err := rows.Scan(
		&signal.ID,
		&signal.AgentID,
		&signal.Symbol,
		&recommendation,
		&signal.Confidence,
		&targetPrice,
		&stopLoss,
		&signal.Priority,
		&reasoning,
		&status,
		&failureReason,
		&createdAt,
	)
	if err != nil {
		return signal, err
	}

	applySignalNullables(&signal, recommendation, status, createdAt, targetPrice, stopLoss, reasoning, failureReason)
	return signal, nil
}

func applySignalNullables(signal *domain.TradingSignal, recommendation, status, createdAt string, targetPrice, stopLoss sql.NullFloat64, reasoning, failureReason sql.NullString) {
	signal.Recommendation = domain.Recommendation(recommendation)
	signal.Status = domain.SignalStatus(status)
	if targetPrice.Valid {
		signal.TargetPrice = &targetPrice.Float64
	}
	if stopLoss.Valid {
		signal.StopLoss = &stopLoss.Float64
	}
	if reasoning.Valid {
		signal.Reasoning = reasoning.String
	}
	if failureReason.Valid {
		signal.FailureReason = failureReason.String
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		signal.CreatedAt = t
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
