package signals

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/domain"
	"github.com/ametov/tradewind/internal/marketdata"
)

const (
	// Momentum past this fraction of the moving average triggers a
	// directional recommendation; anything inside the band is HOLD.
	momentumThreshold = 0.01

	baseConfidence = 0.5
	maxConfidence  = 0.95

	// Default target and stop distances for generated signals
	targetDistance = 0.03
	stopDistance   = 0.02
)

// MomentumSource generates signals from price momentum. It is the
// built-in signal source; external agent ensembles submit signals
// through the API instead.
type MomentumSource struct {
	market *marketdata.Service
	log    zerolog.Logger
}

// NewMomentumSource creates a momentum-based signal source.
func NewMomentumSource(market *marketdata.Service, log zerolog.Logger) *MomentumSource {
	return &MomentumSource{
		market: market,
		log:    log.With().Str("component", "momentum_source").Logger(),
	}
}

// Generate produces a signal for the symbol from current market
// conditions. HOLD signals are still returned; admission to the queue
// is the dispatcher's call, not ours.
func (s *MomentumSource) Generate(ctx context.Context, agent *domain.Agent, symbol string) (*domain.TradingSignal, error) {
	conditions, err := s.market.Conditions(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to read market conditions: %w", err)
	}

	recommendation := domain.RecommendationHold
	var targetPrice, stopLoss *float64

	m := conditions.Momentum
	if m >= momentumThreshold {
		recommendation = domain.RecommendationBuy
	} else if m <= -momentumThreshold {
		recommendation = domain.RecommendationSell
	}

	// Stronger momentum, higher confidence
	confidence := baseConfidence + math.Min(math.Abs(m)*20, maxConfidence-baseConfidence)

	// Choppy markets make momentum less trustworthy
	if conditions.VolatilityRatio >= marketdata.HighVolatilityRatio {
		confidence *= 0.85
	}

	if recommendation == domain.RecommendationBuy {
		target := conditions.LastPrice * (1 + targetDistance)
		stop := conditions.LastPrice * (1 - stopDistance)
		targetPrice, stopLoss = &target, &stop
	} else if recommendation == domain.RecommendationSell {
		target := conditions.LastPrice * (1 - targetDistance)
		stop := conditions.LastPrice * (1 + stopDistance)
		targetPrice, stopLoss = &target, &stop
	}

	signal := &domain.TradingSignal{
		ID:             uuid.New().String(),
		AgentID:        agent.ID,
		Symbol:         symbol,
		Recommendation: recommendation,
		Confidence:     confidence,
		TargetPrice:    targetPrice,
		StopLoss:       stopLoss,
		Reasoning:      describeConditions(conditions),
		Status:         domain.SignalStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	s.log.Debug().
		Str("signal_id", signal.ID).
		Str("symbol", symbol).
		Str("recommendation", string(recommendation)).
		Float64("confidence", confidence).
		Msg("Signal generated")

	return signal, nil
}

func describeConditions(c *domain.MarketConditions) string {
	return fmt.Sprintf("momentum %.2f%% vs 20-bar average, volatility %.2f%% of price",
		c.Momentum*100, c.VolatilityRatio*100)
}
