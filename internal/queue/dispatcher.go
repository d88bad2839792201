package queue

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
	"github.com/ametov/tradewind/internal/events"
	"github.com/ametov/tradewind/internal/modules/agents"
	"github.com/ametov/tradewind/internal/modules/signals"
)

// EnqueueResult reports the admission decision for one signal.
type EnqueueResult struct {
	SignalID string `json:"signal_id"`
	Queued   bool   `json:"queued"`
	Queue    Name   `json:"queue,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Stats is the queue stats snapshot exposed over the API.
type Stats struct {
	PriorityDepth int                         `json:"priority_depth"`
	StandardDepth int                         `json:"standard_depth"`
	SignalCounts  map[domain.SignalStatus]int `json:"signal_counts"`
}

// Dispatcher admits signals into the dispatch queues. Admission is
// strict: HOLD recommendations and low-confidence signals are rejected
// outright and never queued.
type Dispatcher struct {
	repo       *Repository
	signalRepo *signals.Repository
	agentRepo  *agents.Repository
	source     domain.SignalSource
	events     *events.Manager
	cfg        config.DispatchConfig
	log        zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(repo *Repository, signalRepo *signals.Repository, agentRepo *agents.Repository, source domain.SignalSource, eventManager *events.Manager, cfg config.DispatchConfig, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		signalRepo: signalRepo,
		agentRepo:  agentRepo,
		source:     source,
		events:     eventManager,
		cfg:        cfg,
		log:        log.With().Str("service", "dispatcher").Logger(),
	}
}

// ComputePriority blends signal confidence with the agent's risk
// tolerance. A cautious agent (low tolerance) gets the full risk weight;
// an aggressive one gets a fifth of it. Clamped to [0, 100].
func ComputePriority(confidence float64, riskTolerance int, cfg config.DispatchConfig) int {
	if riskTolerance < 1 {
		riskTolerance = 1
	}
	if riskTolerance > 5 {
		riskTolerance = 5
	}

	riskFactor := float64(6-riskTolerance) / 5
	score := confidence*cfg.ConfidenceWeight + riskFactor*cfg.RiskWeight

	return int(math.Max(0, math.Min(100, math.Round(score))))
}

// GenerateAndQueue asks the signal source for a fresh signal, persists
// it, and attempts admission. The signal is persisted even when
// admission rejects it, so callers can always inspect the outcome.
func (d *Dispatcher) GenerateAndQueue(ctx context.Context, agentID, symbol string) (*EnqueueResult, error) {
	agent, err := d.agentRepo.GetByID(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}
	if !agent.Active {
		return nil, fmt.Errorf("agent %s is not active", agentID)
	}

	signal, err := d.source.Generate(ctx, agent, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signal: %w", err)
	}

	return d.Enqueue(signal, agent)
}

// Enqueue persists a signal and admits it into a queue. Rejected
// signals are stored cancelled with the rejection reason.
func (d *Dispatcher) Enqueue(signal *domain.TradingSignal, agent *domain.Agent) (*EnqueueResult, error) {
	reason := d.admissionFailure(signal)
	if reason == "" {
		signal.Priority = ComputePriority(signal.Confidence, agent.RiskTolerance, d.cfg)
	}

	if err := d.signalRepo.Create(signal); err != nil {
		return nil, fmt.Errorf("failed to persist signal: %w", err)
	}

	if reason != "" {
		if err := d.signalRepo.UpdateStatus(signal.ID, domain.SignalStatusCancelled, reason); err != nil {
			return nil, fmt.Errorf("failed to cancel rejected signal: %w", err)
		}

		d.log.Debug().
			Str("signal_id", signal.ID).
			Str("reason", reason).
			Msg("Signal rejected at admission")

		return &EnqueueResult{SignalID: signal.ID, Queued: false, Reason: reason}, nil
	}

	queue := Standard
	if signal.Priority >= d.cfg.PriorityCutoff {
		queue = Priority
	}

	if err := d.repo.Push(signal.ID, queue, signal.Priority, d.cfg.FreshnessWindow); err != nil {
		return nil, fmt.Errorf("failed to enqueue signal: %w", err)
	}

	d.events.EmitTyped(events.SignalGenerated, "dispatcher", &events.SignalGeneratedData{
		SignalID:       signal.ID,
		AgentID:        signal.AgentID,
		Symbol:         signal.Symbol,
		Recommendation: string(signal.Recommendation),
		Confidence:     signal.Confidence,
		Priority:       signal.Priority,
		Queue:          string(queue),
	})

	d.log.Info().
		Str("signal_id", signal.ID).
		Str("symbol", signal.Symbol).
		Str("queue", string(queue)).
		Int("priority", signal.Priority).
		Msg("Signal queued")

	return &EnqueueResult{
		SignalID: signal.ID,
		Queued:   true,
		Queue:    queue,
		Priority: signal.Priority,
	}, nil
}

// admissionFailure returns a rejection reason, or "" when the signal
// is admissible.
func (d *Dispatcher) admissionFailure(signal *domain.TradingSignal) string {
	if signal.Recommendation == domain.RecommendationHold {
		return "HOLD signals are not queued"
	}
	if signal.Confidence < d.cfg.MinConfidence {
		return fmt.Sprintf("confidence %.2f below minimum %.2f", signal.Confidence, d.cfg.MinConfidence)
	}
	return ""
}

// Stats returns queue depths and signal counts by status.
func (d *Dispatcher) Stats() (*Stats, error) {
	depths, err := d.repo.Depths()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue depths: %w", err)
	}

	counts, err := d.signalRepo.CountByStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to count signals: %w", err)
	}

	return &Stats{
		PriorityDepth: depths[Priority],
		StandardDepth: depths[Standard],
		SignalCounts:  counts,
	}, nil
}
