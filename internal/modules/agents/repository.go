// Package agents stores trading agent profiles. Agent risk settings
// drive signal priority, confirmation thresholds, and exit rules, so
// most pipeline stages read from here.
package agents

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/domain"
)

// agentColumns lists the columns of the agents table.
// Order must match the scan helpers below.
const agentColumns = `id, user_id, name, risk_tolerance, max_position_size, stop_loss_percent, take_profit_percent, confirmation_required, auto_confirm_threshold, active, created_at`

// Repository handles agent persistence over agents.db.
type Repository struct {
	agentsDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new agent repository.
func NewRepository(agentsDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		agentsDB: agentsDB,
		log:      log.With().Str("repo", "agents").Logger(),
	}
}

// Create inserts a new agent.
func (r *Repository) Create(agent *domain.Agent) error {
	if agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if agent.RiskTolerance < 1 || agent.RiskTolerance > 5 {
		return fmt.Errorf("risk tolerance must be between 1 and 5, got %d", agent.RiskTolerance)
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO agents
		(id, user_id, name, risk_tolerance, max_position_size, stop_loss_percent,
		 take_profit_percent, confirmation_required, auto_confirm_threshold, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.agentsDB.Exec(query,
		agent.ID,
		agent.UserID,
		agent.Name,
		agent.RiskTolerance,
		agent.MaxPositionSize,
		nullFloat64Ptr(agent.StopLossPercent),
		nullFloat64Ptr(agent.TakeProfitPercent),
		boolToInt(agent.ConfirmationRequired),
		agent.AutoConfirmThreshold,
		boolToInt(agent.Active),
		agent.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	r.log.Info().
		Str("agent_id", agent.ID).
		Str("name", agent.Name).
		Int("risk_tolerance", agent.RiskTolerance).
		Msg("Agent created")

	return nil
}

// GetByID retrieves an agent. Returns nil with no error when missing.
func (r *Repository) GetByID(id string) (*domain.Agent, error) {
	query := "SELECT " + agentColumns + " FROM agents WHERE id = ?"

	row := r.agentsDB.QueryRow(query, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	return &agent, nil
}

// ListActive returns all active agents.
func (r *Repository) ListActive() ([]domain.Agent, error) {
	query := "SELECT " + agentColumns + " FROM agents WHERE active = 1 ORDER BY created_at ASC"

	rows, err := r.agentsDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active agents: %w", err)
	}
	defer rows.Close()

	var result []domain.Agent
	for rows.Next() {
		agent, err := scanAgentFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		result = append(result, agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}

	return result, nil
}

// SetActive enables or disables an agent. Disabled agents stop producing
// signals and drop out of position monitoring.
func (r *Repository) SetActive(id string, active bool) error {
	result, err := r.agentsDB.Exec("UPDATE agents SET active = ? WHERE id = ?", boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to update agent active flag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("agent %s not found", id)
	}

	return nil
}

func scanAgent(row *sql.Row) (domain.Agent, error) {
	var agent domain.Agent
	var stopLoss, takeProfit sql.NullFloat64
	var confirmationRequired, active int
	var createdAt string

	err := row.Scan(
		&agent.ID,
		&agent.UserID,
		&agent.Name,
		&agent.RiskTolerance,
		&agent.MaxPositionSize,
		&stopLoss,
		&takeProfit,
		&confirmationRequired,
		&agent.AutoConfirmThreshold,
		&active,
		&createdAt,
	)
	if err != nil {
		return agent, err
	}

	applyAgentNullables(&agent, stopLoss, takeProfit, confirmationRequired, active, createdAt)
	return agent, nil
}

func scanAgentFromRows(rows *sql.Rows) (domain.Agent, error) {
	var agent domain.Agent
	var stopLoss, takeProfit sql.NullFloat64
	var confirmationRequired, active int
	var createdAt string

	err := rows.Scan(
		&agent.ID,
		&agent.UserID,
		&agent.Name,
		&agent.RiskTolerance,
		&agent.MaxPositionSize,
		&stopLoss,
		&takeProfit,
		&confirmationRequired,
		&agent.AutoConfirmThreshold,
		&active,
		&createdAt,
	)
	if err != nil {
		return agent, err
	}

	applyAgentNullables(&agent, stopLoss, takeProfit, confirmationRequired, active, createdAt)
	return agent, nil
}

func applyAgentNullables(agent *domain.Agent, stopLoss, takeProfit sql.NullFloat64, confirmationRequired, active int, createdAt string) {
	if stopLoss.Valid {
		agent.StopLossPercent = &stopLoss.Float64
	}
	if takeProfit.Valid {
		agent.TakeProfitPercent = &takeProfit.Float64
	}
	agent.ConfirmationRequired = confirmationRequired != 0
	agent.Active = active != 0
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		agent.CreatedAt = t
	}
}

func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
