package performance

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
	"github.com/ametov/tradewind/internal/events"
)

// OrderLedger serves the completed orders metrics are computed from.
type OrderLedger interface {
	CompletedSince(agentID string, cutoff time.Time) ([]domain.TrackedOrder, error)
}

// Service recomputes an agent's metrics from the ledger on every completed
// order. Recomputing from the canonical store instead of accumulating makes
// event re-delivery harmless: the ledger holds at most one row per order id,
// so the same event always produces the same metrics.
type Service struct {
	orders OrderLedger
	repo   *Repository
	cfg    config.PerformanceConfig
	log    zerolog.Logger
}

// NewService creates a new performance service.
func NewService(orders OrderLedger, repo *Repository, cfg config.PerformanceConfig, log zerolog.Logger) *Service {
	return &Service{
		orders: orders,
		repo:   repo,
		cfg:    cfg,
		log:    log.With().Str("service", "performance").Logger(),
	}
}

// HandleOrderCompleted is the OrderCompleted consumer.
func (s *Service) HandleOrderCompleted(event *events.Event) {
	data, ok := event.GetTypedData().(*events.OrderCompletedData)
	if !ok {
		s.log.Warn().Msg("Order completion event carried no typed payload")
		return
	}
	if data.TimedOut {
		// Nothing settled; the ledger row is still open
		return
	}
	if data.AgentID == "" {
		return
	}
	if data.Status != string(domain.OrderStatusFilled) {
		// Only fills move the stats; failures never enter the series
		return
	}

	metrics, err := s.Recompute(data.AgentID)
	if err != nil {
		s.log.Error().Err(err).
			Str("agent_id", data.AgentID).
			Str("order_id", data.OrderID).
			Msg("Metrics recompute failed")
		return
	}

	s.log.Debug().
		Str("agent_id", data.AgentID).
		Int("total_trades", metrics.TotalTrades).
		Float64("total_pnl", metrics.TotalPnL).
		Msg("Metrics recomputed")
}

// Recompute rebuilds the agent's metrics from filled orders inside the
// lookback window and persists the result.
func (s *Service) Recompute(agentID string) (*domain.PerformanceMetrics, error) {
	var cutoff time.Time
	if s.cfg.Lookback > 0 {
		cutoff = time.Now().UTC().Add(-s.cfg.Lookback)
	}

	completed, err := s.orders.CompletedSince(agentID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed orders for %s: %w", agentID, err)
	}

	fills := make([]domain.TrackedOrder, 0, len(completed))
	for _, order := range completed {
		if order.Status == domain.OrderStatusFilled {
			fills = append(fills, order)
		}
	}

	metrics := buildMetrics(agentID, fills, s.cfg)
	if err := s.repo.Upsert(metrics); err != nil {
		return nil, err
	}

	return metrics, nil
}

// GetAgentPerformance returns the stored metrics row, computing one on the
// spot for agents that have never completed an order.
func (s *Service) GetAgentPerformance(agentID string) (*domain.PerformanceMetrics, error) {
	metrics, err := s.repo.GetByAgent(agentID)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		return s.Recompute(agentID)
	}
	return metrics, nil
}
