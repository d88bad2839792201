package positions

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
	"github.com/ametov/tradewind/internal/events"
	"github.com/ametov/tradewind/internal/marketdata"
)

// monitorRunTimeout bounds one monitoring pass across all agents.
const monitorRunTimeout = 30 * time.Second

// AgentSource lists the agents whose positions get monitored.
type AgentSource interface {
	ListActive() ([]domain.Agent, error)
}

// OrderSubmitter hands a closing order to execution. Exits skip the
// confirmation gate: the monitor already decided.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, preview *domain.OrderPreview) (*domain.TrackedOrder, error)
}

// pnlMark is the last recorded unrealized P&L for one position, kept in
// the pnl_marks cache table so change materiality survives restarts.
type pnlMark struct {
	TradeID   string    `msgpack:"trade_id"`
	PnL       float64   `msgpack:"pnl"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// MonitorJob walks every active agent's open positions on each tick,
// records P&L marks, publishes material changes, and submits closing
// orders when the exit advisor says so.
type MonitorJob struct {
	agents    AgentSource
	positions *Service
	advisor   domain.ExitAdvisor
	market    *marketdata.Service
	cache     *cache.Repository
	executor  OrderSubmitter
	events    *events.Manager
	cfg       config.PositionsConfig
	log       zerolog.Logger
}

// NewMonitorJob creates the position monitor job.
func NewMonitorJob(agents AgentSource, positions *Service, advisor domain.ExitAdvisor, market *marketdata.Service, cacheRepo *cache.Repository, executor OrderSubmitter, eventManager *events.Manager, cfg config.PositionsConfig, log zerolog.Logger) *MonitorJob {
	return &MonitorJob{
		agents:    agents,
		positions: positions,
		advisor:   advisor,
		market:    market,
		cache:     cacheRepo,
		executor:  executor,
		events:    eventManager,
		cfg:       cfg,
		log:       log.With().Str("job", "position_monitor").Logger(),
	}
}

// Name returns the job name.
func (j *MonitorJob) Name() string {
	return "position_monitor"
}

// Run performs one monitoring pass.
func (j *MonitorJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), monitorRunTimeout)
	defer cancel()

	active, err := j.agents.ListActive()
	if err != nil {
		return fmt.Errorf("failed to list active agents: %w", err)
	}

	for i := range active {
		j.checkAgent(ctx, &active[i])
	}
	return nil
}

func (j *MonitorJob) checkAgent(ctx context.Context, agent *domain.Agent) {
	open, err := j.positions.GetAgentPositions(ctx, agent.ID)
	if err != nil {
		j.log.Error().Err(err).Str("agent_id", agent.ID).Msg("Position derivation failed")
		return
	}

	for i := range open {
		position := &open[i]
		j.recordPnL(agent, position)
		j.adviseExit(ctx, agent, position)
	}
}

// recordPnL refreshes the position's mark on every check and publishes a
// PnLChanged event only when the move against the previous mark clears
// the materiality threshold.
func (j *MonitorJob) recordPnL(agent *domain.Agent, position *domain.Position) {
	var previous pnlMark
	had, err := j.cache.Get("pnl_marks", position.TradeID, &previous)
	if err != nil {
		j.log.Warn().Err(err).Str("trade_id", position.TradeID).Msg("PnL mark read failed")
	}

	mark := pnlMark{
		TradeID:   position.TradeID,
		PnL:       position.UnrealizedPnL,
		UpdatedAt: time.Now().UTC(),
	}
	if err := j.cache.Store("pnl_marks", position.TradeID, mark, cache.TTLPnLMark); err != nil {
		j.log.Warn().Err(err).Str("trade_id", position.TradeID).Msg("PnL mark write failed")
	}

	if !had {
		// First observation has nothing to compare against
		return
	}

	changePercent, material := relativeChange(previous.PnL, position.UnrealizedPnL, j.cfg.MaterialityThreshold)
	if !material {
		return
	}

	j.events.EmitTyped(events.PnLChanged, "positions", &events.PnLChangedData{
		AgentID:       agent.ID,
		TradeID:       position.TradeID,
		Symbol:        position.Symbol,
		PreviousPnL:   previous.PnL,
		CurrentPnL:    position.UnrealizedPnL,
		ChangePercent: changePercent,
	})

	j.log.Debug().
		Str("agent_id", agent.ID).
		Str("trade_id", position.TradeID).
		Float64("previous_pnl", previous.PnL).
		Float64("current_pnl", position.UnrealizedPnL).
		Float64("change_percent", changePercent).
		Msg("Material PnL change")
}

func (j *MonitorJob) adviseExit(ctx context.Context, agent *domain.Agent, position *domain.Position) {
	market, err := j.market.Conditions(ctx, position.Symbol)
	if err != nil {
		j.log.Debug().Err(err).Str("symbol", position.Symbol).Msg("No market conditions for exit check")
		market = nil
	}

	decision, err := j.advisor.AnalyzeExit(ctx, agent, position, market)
	if err != nil {
		j.log.Error().Err(err).Str("trade_id", position.TradeID).Msg("Exit analysis failed")
		return
	}
	if decision.Action == domain.ExitActionHold {
		return
	}

	j.events.EmitTyped(events.ExitDecided, "positions", &events.ExitDecidedData{
		AgentID:    agent.ID,
		TradeID:    position.TradeID,
		Symbol:     position.Symbol,
		Action:     string(decision.Action),
		Urgency:    decision.Urgency,
		Confidence: decision.Confidence,
		Reason:     decision.Reasoning,
	})

	amount := position.Quantity
	if decision.Action == domain.ExitActionPartialExit {
		amount = position.Quantity / 2
	}
	if amount <= minLotQuantity {
		return
	}

	j.submitClose(ctx, agent, position, decision, amount)
}

// submitClose sends a market sell for the decided amount. The unsettled
// sell reserves the position's quantity, so the next tick cannot exit
// the same lot again while this order is in flight.
func (j *MonitorJob) submitClose(ctx context.Context, agent *domain.Agent, position *domain.Position, decision *domain.ExitDecision, amount float64) {
	now := time.Now().UTC()
	preview := &domain.OrderPreview{
		UserID:        agent.UserID,
		AgentID:       agent.ID,
		Symbol:        position.Symbol,
		Side:          domain.OrderSideSell,
		OrderType:     domain.OrderTypeMarket,
		Amount:        amount,
		EstimatedCost: amount * position.CurrentPrice,
		Status:        domain.PreviewStatusConfirmed,
		Reason:        decision.Reasoning,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Minute),
	}

	order, err := j.executor.SubmitOrder(ctx, preview)
	if err != nil {
		j.log.Error().Err(err).
			Str("agent_id", agent.ID).
			Str("trade_id", position.TradeID).
			Str("symbol", position.Symbol).
			Msg("Closing order submission failed")
		return
	}

	j.log.Info().
		Str("agent_id", agent.ID).
		Str("trade_id", position.TradeID).
		Str("order_id", order.OrderID).
		Str("symbol", position.Symbol).
		Str("action", string(decision.Action)).
		Float64("amount", amount).
		Msg("Closing order submitted")
}

// relativeChange returns the signed percent change between marks and
// whether it clears the threshold. A move off a zero mark is always
// material; the magnitude is reported as a full swing.
func relativeChange(previous, current, threshold float64) (float64, bool) {
	if previous == 0 {
		if current == 0 {
			return 0, false
		}
		change := 100.0
		if current < 0 {
			change = -100
		}
		return change, true
	}

	change := (current - previous) / math.Abs(previous) * 100
	return change, math.Abs(change) >= threshold
}
