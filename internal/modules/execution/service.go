package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
)

// Service submits confirmed previews to the venue and hands the resulting
// orders to the tracker.
type Service struct {
	repo    *Repository
	venue   domain.VenueClient
	cache   *cache.Repository
	tracker *Tracker
	cfg     config.ExecutionConfig
	log     zerolog.Logger
}

// NewService creates the execution service.
func NewService(repo *Repository, venue domain.VenueClient, cacheRepo *cache.Repository, tracker *Tracker, cfg config.ExecutionConfig, log zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		venue:   venue,
		cache:   cacheRepo,
		tracker: tracker,
		cfg:     cfg,
		log:     log.With().Str("service", "execution").Logger(),
	}
}

// SubmitOrder places the previewed order at the venue, records it in the
// ledger, and starts tracking it. A venue rejection still leaves a failed
// record behind so the ledger never loses a submission attempt.
func (s *Service) SubmitOrder(ctx context.Context, preview *domain.OrderPreview) (*domain.TrackedOrder, error) {
	if preview == nil {
		return nil, fmt.Errorf("preview is required")
	}

	var result *domain.VenueOrderResult
	var err error
	switch preview.OrderType {
	case domain.OrderTypeLimit:
		if preview.Price == nil {
			return nil, fmt.Errorf("limit preview %s carries no price", preview.ID)
		}
		result, err = s.venue.SubmitLimitOrder(ctx, preview.Symbol, preview.Side, preview.Amount, *preview.Price)
	default:
		result, err = s.venue.SubmitMarketOrder(ctx, preview.Symbol, preview.Side, preview.Amount)
	}
	if err != nil {
		s.recordRejected(preview, err)
		return nil, fmt.Errorf("failed to submit %s order for %s: %w", preview.Side, preview.Symbol, err)
	}

	order := &domain.TrackedOrder{
		OrderID:       result.OrderID,
		UserID:        preview.UserID,
		AgentID:       preview.AgentID,
		PreviewID:     preview.ID,
		SignalID:      preview.SignalID,
		Symbol:        preview.Symbol,
		Side:          preview.Side,
		Amount:        preview.Amount,
		ExpectedPrice: expectedPriceFor(preview),
		Status:        domain.OrderStatusPending,
		Timestamp:     time.Now().UTC(),
	}
	if result.Status != "" {
		order.Status = result.Status
	}

	if err := s.repo.Create(order); err != nil {
		// The venue accepted the order, so it is live regardless of our
		// bookkeeping. Track it anyway and let the logs scream.
		s.log.Error().Err(err).
			Str("order_id", order.OrderID).
			Str("preview_id", preview.ID).
			Msg("Failed to record submitted order")
	}

	if err := s.cache.Store("tracked_orders", order.OrderID, order, cache.TTLTrackedOrder); err != nil {
		s.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("Tracked order cache write failed")
	}

	s.tracker.Track(order)

	s.log.Info().
		Str("order_id", order.OrderID).
		Str("preview_id", preview.ID).
		Str("agent_id", preview.AgentID).
		Str("symbol", preview.Symbol).
		Str("side", string(preview.Side)).
		Float64("amount", preview.Amount).
		Msg("Order submitted")

	return order, nil
}

// GetOrderHistory returns a user's orders from the ledger, newest first.
func (s *Service) GetOrderHistory(userID string, limit int) ([]domain.TrackedOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.GetHistoryByUser(userID, limit)
}

// GetOrder returns a single tracked order. Nil when unknown.
func (s *Service) GetOrder(orderID string) (*domain.TrackedOrder, error) {
	return s.repo.GetByOrderID(orderID)
}

// recordRejected materializes a failed ledger row for a submission the
// venue refused. There is no venue order id, so the row gets a synthetic
// one; the preview id links it back to the confirmation trail.
func (s *Service) recordRejected(preview *domain.OrderPreview, submitErr error) {
	now := time.Now().UTC()
	order := &domain.TrackedOrder{
		OrderID:       "rejected-" + uuid.New().String(),
		UserID:        preview.UserID,
		AgentID:       preview.AgentID,
		PreviewID:     preview.ID,
		SignalID:      preview.SignalID,
		Symbol:        preview.Symbol,
		Side:          preview.Side,
		Amount:        preview.Amount,
		ExpectedPrice: expectedPriceFor(preview),
		Status:        domain.OrderStatusFailed,
		Timestamp:     now,
		CompletedAt:   &now,
	}

	if err := s.repo.Create(order); err != nil {
		s.log.Error().Err(err).
			Str("preview_id", preview.ID).
			Msg("Failed to record rejected order")
	}

	s.log.Warn().Err(submitErr).
		Str("order_id", order.OrderID).
		Str("preview_id", preview.ID).
		Str("symbol", preview.Symbol).
		Msg("Order rejected by venue")
}

// expectedPriceFor derives the reference price profit is measured
// against: the limit price when there is one, otherwise the per-unit
// cost estimated at validation time.
func expectedPriceFor(preview *domain.OrderPreview) *float64 {
	if preview.OrderType == domain.OrderTypeLimit && preview.Price != nil {
		return preview.Price
	}
	if preview.Amount > 0 && preview.EstimatedCost > 0 {
		expected := preview.EstimatedCost / preview.Amount
		return &expected
	}
	return nil
}
