package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
	"github.com/ametov/tradewind/internal/events"
	"github.com/ametov/tradewind/internal/modules/agents"
	"github.com/ametov/tradewind/internal/modules/signals"
)

// PreviewCreator hands admitted signals to order confirmation.
// Implemented by the confirmation service; declared here so the queue
// package does not depend on it.
type PreviewCreator interface {
	CreateFromSignal(ctx context.Context, signal *domain.TradingSignal, agent *domain.Agent) (*domain.OrderPreview, error)
}

// DrainStats summarizes one drain cycle.
type DrainStats struct {
	Processed int // signals popped and examined
	Handed    int // signals handed to confirmation
	Failed    int // signals marked failed
	Expired   int // queue rows dropped for expiry before examination
}

// Worker drains the dispatch queues in priority-first batches and hands
// viable signals to order confirmation. Signals that fail the
// should-execute checks are marked failed and never retried; staleness
// makes retrying the same signal incorrect.
type Worker struct {
	repo       *Repository
	signalRepo *signals.Repository
	agentRepo  *agents.Repository
	previews   PreviewCreator
	events     *events.Manager
	cfg        config.DispatchConfig
	log        zerolog.Logger
}

// NewWorker creates a queue worker.
func NewWorker(repo *Repository, signalRepo *signals.Repository, agentRepo *agents.Repository, previews PreviewCreator, eventManager *events.Manager, cfg config.DispatchConfig, log zerolog.Logger) *Worker {
	return &Worker{
		repo:       repo,
		signalRepo: signalRepo,
		agentRepo:  agentRepo,
		previews:   previews,
		events:     eventManager,
		cfg:        cfg,
		log:        log.With().Str("service", "queue_worker").Logger(),
	}
}

// ProcessQueue runs one batch drain cycle: expired rows are dropped,
// then up to BatchSize signals are popped from the priority queue and
// up to BatchSize from the standard queue. Draining both queues each
// cycle keeps standard-signal latency bounded no matter how deep the
// priority backlog gets.
func (w *Worker) ProcessQueue(ctx context.Context) (*DrainStats, error) {
	stats := &DrainStats{}

	expired, err := w.repo.PopExpired(100)
	if err != nil {
		return stats, fmt.Errorf("failed to drop expired queue rows: %w", err)
	}
	for _, item := range expired {
		stats.Expired++
		w.failBySignalID(item.SignalID, "signal aged out before processing")
	}

	for _, queue := range []Name{Priority, Standard} {
		items, err := w.repo.PopBatch(queue, w.cfg.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to pop %s batch: %w", queue, err)
		}

		for _, item := range items {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			w.processItem(ctx, item, stats)
		}
	}

	if stats.Processed > 0 || stats.Expired > 0 {
		w.log.Debug().
			Int("processed", stats.Processed).
			Int("handed", stats.Handed).
			Int("failed", stats.Failed).
			Int("expired", stats.Expired).
			Msg("Drain cycle finished")
	}

	return stats, nil
}

func (w *Worker) processItem(ctx context.Context, item Item, stats *DrainStats) {
	stats.Processed++

	signal, err := w.signalRepo.GetByID(item.SignalID)
	if err != nil {
		w.log.Error().Err(err).Str("signal_id", item.SignalID).Msg("Failed to load queued signal")
		return
	}
	if signal == nil {
		w.log.Warn().Str("signal_id", item.SignalID).Msg("Queued signal no longer exists")
		return
	}
	if signal.Status.IsTerminal() {
		// Duplicate delivery; the first pass already settled this signal
		return
	}

	// Should-execute checks are re-run at dequeue time rather than
	// trusted from enqueue, since the signal may have aged meanwhile.
	if reason := w.shouldExecuteFailure(signal); reason != "" {
		w.failSignal(signal, reason)
		stats.Failed++
		return
	}

	if err := w.signalRepo.UpdateStatus(signal.ID, domain.SignalStatusProcessing, ""); err != nil {
		w.log.Error().Err(err).Str("signal_id", signal.ID).Msg("Failed to mark signal processing")
		return
	}

	agent, err := w.agentRepo.GetByID(signal.AgentID)
	if err != nil {
		w.log.Error().Err(err).Str("signal_id", signal.ID).Msg("Failed to load agent for signal")
		return
	}
	if agent == nil {
		w.failSignal(signal, fmt.Sprintf("agent %s not found", signal.AgentID))
		stats.Failed++
		return
	}
	if !agent.Active {
		w.failSignal(signal, fmt.Sprintf("agent %s is not active", signal.AgentID))
		stats.Failed++
		return
	}

	preview, err := w.previews.CreateFromSignal(ctx, signal, agent)
	if err != nil {
		w.failSignal(signal, fmt.Sprintf("failed to create order preview: %v", err))
		stats.Failed++
		return
	}

	switch preview.Status {
	case domain.PreviewStatusCancelled:
		reason := preview.Reason
		if reason == "" {
			reason = "order preview was cancelled"
		}
		w.failSignal(signal, reason)
		stats.Failed++
	case domain.PreviewStatusExecuted:
		// Auto-confirm carried the preview all the way to execution
		if err := w.signalRepo.UpdateStatus(signal.ID, domain.SignalStatusExecuted, ""); err != nil {
			w.log.Error().Err(err).Str("signal_id", signal.ID).Msg("Failed to mark signal executed")
		}
		stats.Handed++
	default:
		// Preview awaits manual confirmation; the confirmation service
		// settles the signal when the preview reaches a terminal state.
		stats.Handed++
	}
}

// shouldExecuteFailure returns a failure reason, or "" when the signal
// is still viable.
func (w *Worker) shouldExecuteFailure(signal *domain.TradingSignal) string {
	age := time.Since(signal.CreatedAt)
	if age > w.cfg.FreshnessWindow {
		return fmt.Sprintf("signal aged out: %.0fs old, window is %.0fs", age.Seconds(), w.cfg.FreshnessWindow.Seconds())
	}
	if signal.Recommendation == domain.RecommendationHold {
		return "HOLD signals are not executed"
	}
	if signal.Confidence < w.cfg.MinConfidence {
		return fmt.Sprintf("confidence %.2f below minimum %.2f", signal.Confidence, w.cfg.MinConfidence)
	}
	return ""
}

func (w *Worker) failSignal(signal *domain.TradingSignal, reason string) {
	if err := w.signalRepo.UpdateStatus(signal.ID, domain.SignalStatusFailed, reason); err != nil {
		w.log.Error().Err(err).Str("signal_id", signal.ID).Msg("Failed to mark signal failed")
		return
	}

	w.events.EmitTyped(events.SignalFailed, "queue_worker", &events.SignalFailedData{
		SignalID: signal.ID,
		AgentID:  signal.AgentID,
		Symbol:   signal.Symbol,
		Reason:   reason,
	})

	w.log.Info().
		Str("signal_id", signal.ID).
		Str("symbol", signal.Symbol).
		Str("reason", reason).
		Msg("Signal failed")
}

func (w *Worker) failBySignalID(signalID, reason string) {
	signal, err := w.signalRepo.GetByID(signalID)
	if err != nil || signal == nil {
		w.log.Warn().Str("signal_id", signalID).Msg("Expired queue row references unknown signal")
		return
	}
	if signal.Status.IsTerminal() {
		return
	}
	w.failSignal(signal, reason)
}
