package confirmation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
	"github.com/ametov/tradewind/internal/events"
)

// AgentProvider supplies agent configuration to validation and the
// auto-confirm policy.
type AgentProvider interface {
	GetByID(id string) (*domain.Agent, error)
}

// SignalWriter records a signal's final disposition once its preview
// settles. Implementations must leave terminal signals untouched.
type SignalWriter interface {
	UpdateStatus(id string, status domain.SignalStatus, failureReason string) error
}

// OrderSubmitter hands a confirmed preview to execution and returns the
// tracked venue order.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, preview *domain.OrderPreview) (*domain.TrackedOrder, error)
}

// Service drives previews through pending, confirmed and executed.
// Confirmation always re-validates against the current book, and the
// pending to confirmed swap has exactly one winner no matter how many
// callers race it.
type Service struct {
	repo      *Repository
	validator domain.OrderValidator
	venue     domain.VenueClient
	agents    AgentProvider
	signals   SignalWriter
	executor  OrderSubmitter
	events    *events.Manager
	cfg       config.ConfirmationConfig
	log       zerolog.Logger
}

// NewService creates a new confirmation service.
func NewService(
	repo *Repository,
	validator domain.OrderValidator,
	venue domain.VenueClient,
	agents AgentProvider,
	signals SignalWriter,
	executor OrderSubmitter,
	eventManager *events.Manager,
	cfg config.ConfirmationConfig,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		venue:     venue,
		agents:    agents,
		signals:   signals,
		executor:  executor,
		events:    eventManager,
		cfg:       cfg,
		log:       log.With().Str("service", "confirmation").Logger(),
	}
}

// CreatePreview validates an order request and materializes a preview.
// Requests the validator rejects still produce a preview, created
// already cancelled with the findings as the reason. Previews that pass
// the auto-confirm policy are confirmed inline before this returns.
func (s *Service) CreatePreview(ctx context.Context, req *domain.OrderRequest) (*domain.OrderPreview, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("order request requires a user id")
	}
	if req.Symbol == "" {
		return nil, fmt.Errorf("order request requires a symbol")
	}
	if req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell {
		return nil, fmt.Errorf("invalid order side %q", req.Side)
	}
	if req.OrderType == "" {
		req.OrderType = domain.OrderTypeMarket
	}

	result, err := s.validator.Validate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to validate order request: %w", err)
	}

	now := time.Now().UTC()
	preview := &domain.OrderPreview{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		AgentID:          req.AgentID,
		SignalID:         req.SignalID,
		Symbol:           req.Symbol,
		Side:             req.Side,
		OrderType:        req.OrderType,
		Amount:           req.Amount,
		Price:            req.Price,
		EstimatedCost:    result.EstimatedCost,
		EstimatedFees:    result.EstimatedFees,
		SlippageEstimate: result.SlippageEstimate,
		RiskLevel:        riskLevelFor(result),
		Warnings:         result.Warnings,
		Status:           domain.PreviewStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.PreviewTTL),
	}
	if result.AdjustedAmount != nil {
		preview.Amount = *result.AdjustedAmount
	}

	if !result.IsValid {
		// Rejections are materialized, not dropped: the caller gets a row
		// they can inspect, with the validator's findings as the reason.
		preview.Status = domain.PreviewStatusCancelled
		preview.Reason = strings.Join(result.Errors, "; ")
		if err := s.repo.Create(preview); err != nil {
			return nil, fmt.Errorf("failed to store rejected preview: %w", err)
		}

		s.log.Info().
			Str("preview_id", preview.ID).
			Str("symbol", preview.Symbol).
			Str("side", string(preview.Side)).
			Str("reason", preview.Reason).
			Msg("Order preview rejected by validation")

		return preview, nil
	}

	agent, err := s.loadAgent(req.AgentID)
	if err != nil {
		return nil, err
	}
	preview.AutoConfirm = s.shouldAutoConfirm(agent, preview)

	if err := s.repo.Create(preview); err != nil {
		return nil, fmt.Errorf("failed to store order preview: %w", err)
	}

	s.log.Info().
		Str("preview_id", preview.ID).
		Str("symbol", preview.Symbol).
		Str("side", string(preview.Side)).
		Float64("amount", preview.Amount).
		Float64("estimated_cost", preview.EstimatedCost).
		Str("risk_level", string(preview.RiskLevel)).
		Bool("auto_confirm", preview.AutoConfirm).
		Msg("Order preview created")

	if preview.AutoConfirm {
		return s.ConfirmOrder(ctx, preview.ID)
	}

	return preview, nil
}

// CreateFromSignal turns a dispatched signal into an order preview,
// sizing the order by scaling the agent's position budget with signal
// confidence. Re-delivered signals reuse the preview the first delivery
// produced instead of creating a second one.
func (s *Service) CreateFromSignal(ctx context.Context, signal *domain.TradingSignal, agent *domain.Agent) (*domain.OrderPreview, error) {
	existing, err := s.repo.GetBySignalID(signal.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var side domain.OrderSide
	switch signal.Recommendation {
	case domain.RecommendationBuy:
		side = domain.OrderSideBuy
	case domain.RecommendationSell:
		side = domain.OrderSideSell
	default:
		return nil, fmt.Errorf("signal %s carries no tradable recommendation", signal.ID)
	}

	quote, err := s.venue.GetQuote(ctx, signal.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", signal.Symbol, err)
	}
	if quote.Last <= 0 {
		return nil, fmt.Errorf("no tradable price for %s", signal.Symbol)
	}

	positionValue := agent.MaxPositionSize * signal.Confidence
	req := &domain.OrderRequest{
		UserID:    agent.UserID,
		AgentID:   agent.ID,
		SignalID:  signal.ID,
		Symbol:    signal.Symbol,
		Side:      side,
		OrderType: domain.OrderTypeMarket,
		Amount:    positionValue / quote.Last,
	}

	return s.CreatePreview(ctx, req)
}

// ConfirmOrder commits a pending preview: re-validate, swap to
// confirmed, submit to execution. Settled previews come back unchanged
// with their stored outcome, so repeated confirms never reach the venue
// twice.
func (s *Service) ConfirmOrder(ctx context.Context, previewID string) (*domain.OrderPreview, error) {
	preview, err := s.repo.GetByID(previewID)
	if err != nil {
		return nil, err
	}
	if preview == nil {
		return nil, fmt.Errorf("preview %s not found", previewID)
	}
	if preview.Status != domain.PreviewStatusPending {
		return preview, nil
	}

	// Markets move between preview and confirm, so validation always runs
	// again against the current book.
	result, err := s.validator.Validate(ctx, orderRequestFrom(preview))
	if err != nil {
		return nil, fmt.Errorf("failed to re-validate preview %s: %w", previewID, err)
	}
	if !result.IsValid {
		reason := strings.Join(result.Errors, "; ")
		return s.cancel(preview, domain.PreviewStatusPending, reason, domain.SignalStatusFailed)
	}
	if result.AdjustedAmount != nil && *result.AdjustedAmount < preview.Amount {
		// The user confirmed a specific amount; trading less than that
		// behind their back is worse than telling them to retry.
		reason := fmt.Sprintf("available balance no longer covers amount %.8f", preview.Amount)
		return s.cancel(preview, domain.PreviewStatusPending, reason, domain.SignalStatusFailed)
	}

	// Exactly one of several racing confirms wins this swap; losers
	// observe the winner's outcome instead of submitting twice.
	won, err := s.repo.Transition(preview.ID, domain.PreviewStatusPending, domain.PreviewStatusConfirmed, "")
	if err != nil {
		return nil, err
	}
	if !won {
		return s.repo.GetByID(previewID)
	}
	preview.Status = domain.PreviewStatusConfirmed

	s.log.Info().
		Str("preview_id", preview.ID).
		Str("symbol", preview.Symbol).
		Str("side", string(preview.Side)).
		Float64("amount", preview.Amount).
		Float64("estimated_cost", preview.EstimatedCost).
		Msg("Order preview confirmed")

	order, err := s.executor.SubmitOrder(ctx, preview)
	if err != nil {
		reason := fmt.Sprintf("execution failed: %v", err)
		return s.cancel(preview, domain.PreviewStatusConfirmed, reason, domain.SignalStatusFailed)
	}

	executed, err := s.repo.SetExecuted(preview.ID, order.OrderID)
	if err != nil {
		return nil, err
	}
	if executed {
		preview.Status = domain.PreviewStatusExecuted
		preview.OrderID = order.OrderID
	} else {
		// The sweep retired the row mid-flight. The order is live either
		// way, so the signal still counts as executed.
		s.log.Warn().
			Str("preview_id", preview.ID).
			Str("order_id", order.OrderID).
			Msg("Order submitted but preview was settled concurrently")
	}
	s.settleSignal(preview, domain.SignalStatusExecuted, "")

	s.log.Info().
		Str("preview_id", preview.ID).
		Str("order_id", order.OrderID).
		Str("symbol", preview.Symbol).
		Msg("Order preview executed")

	return preview, nil
}

// CancelPreview cancels a pending preview. Settled previews come back
// unchanged; a confirmed preview is already executing and stays put.
func (s *Service) CancelPreview(previewID string) (*domain.OrderPreview, error) {
	preview, err := s.repo.GetByID(previewID)
	if err != nil {
		return nil, err
	}
	if preview == nil {
		return nil, fmt.Errorf("preview %s not found", previewID)
	}
	if preview.Status.IsTerminal() {
		return preview, nil
	}
	if preview.Status == domain.PreviewStatusConfirmed {
		return preview, fmt.Errorf("preview %s is already confirmed and executing", previewID)
	}

	return s.cancel(preview, domain.PreviewStatusPending, "cancelled by user", domain.SignalStatusCancelled)
}

// GetPreview returns a preview by id, nil when missing. Reads settle
// elapsed TTLs, so callers never see a pending preview past its expiry.
func (s *Service) GetPreview(previewID string) (*domain.OrderPreview, error) {
	return s.repo.GetByID(previewID)
}

// SweepExpired settles previews whose TTL elapsed with nobody reading
// them and prunes settled rows past retention. Runs on a schedule as
// the safety net behind lazy expiry.
func (s *Service) SweepExpired() (int, error) {
	now := time.Now().UTC()

	expired, err := s.repo.ExpireStale(now)
	if err != nil {
		return 0, err
	}

	if s.signals != nil {
		for _, p := range expired {
			if p.SignalID == "" {
				continue
			}
			if err := s.signals.UpdateStatus(p.SignalID, domain.SignalStatusCancelled, expiredReason); err != nil {
				s.log.Error().Err(err).
					Str("signal_id", p.SignalID).
					Msg("Failed to settle signal for expired preview")
			}
		}
	}

	purged, err := s.repo.PurgeSettled(now.Add(-settledRetention))
	if err != nil {
		return len(expired), err
	}

	if len(expired) > 0 || purged > 0 {
		s.log.Info().
			Int("expired", len(expired)).
			Int64("purged", purged).
			Msg("Preview sweep finished")
	}

	return len(expired), nil
}

// cancel moves a preview to cancelled with a compare-and-swap and writes
// the originating signal's disposition. Losing the swap means another
// writer settled the row; their outcome is returned instead.
func (s *Service) cancel(preview *domain.OrderPreview, from domain.PreviewStatus, reason string, signalStatus domain.SignalStatus) (*domain.OrderPreview, error) {
	won, err := s.repo.Transition(preview.ID, from, domain.PreviewStatusCancelled, reason)
	if err != nil {
		return nil, err
	}
	if !won {
		return s.repo.GetByID(preview.ID)
	}
	preview.Status = domain.PreviewStatusCancelled
	preview.Reason = reason

	s.settleSignal(preview, signalStatus, reason)

	s.log.Warn().
		Str("preview_id", preview.ID).
		Str("symbol", preview.Symbol).
		Str("reason", reason).
		Msg("Order preview cancelled")

	return preview, nil
}

// settleSignal writes the signal's final disposition once its preview
// settles. Terminal signals are never overwritten, so duplicate calls
// are harmless.
func (s *Service) settleSignal(preview *domain.OrderPreview, status domain.SignalStatus, reason string) {
	if preview.SignalID == "" || s.signals == nil {
		return
	}

	if err := s.signals.UpdateStatus(preview.SignalID, status, reason); err != nil {
		s.log.Error().Err(err).
			Str("signal_id", preview.SignalID).
			Str("status", string(status)).
			Msg("Failed to settle signal")
	}

	if status == domain.SignalStatusFailed && s.events != nil {
		s.events.EmitTyped(events.SignalFailed, "confirmation", &events.SignalFailedData{
			SignalID: preview.SignalID,
			AgentID:  preview.AgentID,
			Symbol:   preview.Symbol,
			Reason:   reason,
		})
	}
}

func (s *Service) loadAgent(agentID string) (*domain.Agent, error) {
	if agentID == "" || s.agents == nil {
		return nil, nil
	}
	agent, err := s.agents.GetByID(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", agentID, err)
	}
	return agent, nil
}

// shouldAutoConfirm decides at creation time whether the preview skips
// manual confirmation. Evaluated exactly once; the verdict is stored on
// the preview.
func (s *Service) shouldAutoConfirm(agent *domain.Agent, preview *domain.OrderPreview) bool {
	threshold := s.cfg.AutoConfirmThreshold
	confirmationRequired := false
	if agent != nil {
		confirmationRequired = agent.ConfirmationRequired
		if agent.AutoConfirmThreshold > 0 {
			threshold = agent.AutoConfirmThreshold
		}
	}

	if confirmationRequired && preview.EstimatedCost > threshold {
		return false
	}

	// Any one of these forces a human decision regardless of cost.
	if preview.RiskLevel == domain.RiskLevelHigh {
		return false
	}
	if preview.EstimatedCost > s.cfg.MaxAutoPositionValue {
		return false
	}
	if hasVolatilityWarning(preview.Warnings) {
		return false
	}
	if preview.SlippageEstimate > s.cfg.MaxAutoSlippage {
		return false
	}

	return true
}

// riskLevelFor maps validator findings onto a risk tier. Any error or a
// pile of warnings is HIGH, a warning or two is MEDIUM, silence is LOW.
func riskLevelFor(result *domain.ValidationResult) domain.RiskLevel {
	if len(result.Errors) > 0 || len(result.Warnings) >= 3 {
		return domain.RiskLevelHigh
	}
	if len(result.Warnings) > 0 {
		return domain.RiskLevelMedium
	}
	return domain.RiskLevelLow
}

func hasVolatilityWarning(warnings []string) bool {
	for _, warning := range warnings {
		if strings.Contains(strings.ToLower(warning), "volatility") {
			return true
		}
	}
	return false
}

// orderRequestFrom rebuilds the validation request for a stored preview.
func orderRequestFrom(preview *domain.OrderPreview) *domain.OrderRequest {
	return &domain.OrderRequest{
		UserID:    preview.UserID,
		AgentID:   preview.AgentID,
		SignalID:  preview.SignalID,
		Symbol:    preview.Symbol,
		Side:      preview.Side,
		OrderType: preview.OrderType,
		Amount:    preview.Amount,
		Price:     preview.Price,
	}
}
