package marketdata

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/domain"
)

const (
	// candleHistory is how many bars indicator math works over.
	candleHistory = 50
	// volatilityPeriod is the ATR lookback.
	volatilityPeriod = 14
	// momentumPeriod is the SMA lookback.
	momentumPeriod = 20

	// HighVolatilityRatio marks a market rough enough to warrant a
	// validator warning (ATR above 3% of price).
	HighVolatilityRatio = 0.03
)

// Service provides cached candle access and derived market conditions.
type Service struct {
	venue domain.VenueClient
	cache *cache.Repository
	log   zerolog.Logger
}

// NewService creates a new market data service.
func NewService(venue domain.VenueClient, cacheRepo *cache.Repository, log zerolog.Logger) *Service {
	return &Service{
		venue: venue,
		cache: cacheRepo,
		log:   log.With().Str("service", "marketdata").Logger(),
	}
}

// GetCandles returns recent bars for a symbol, cache-first.
// Stale cached bars are served when the venue is unreachable.
func (s *Service) GetCandles(ctx context.Context, symbol string) ([]domain.Candle, error) {
	var candles []domain.Candle
	found, err := s.cache.GetIfFresh("candles", symbol, &candles)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Candle cache read failed")
	}
	if found && len(candles) > 0 {
		return candles, nil
	}

	candles, err = s.venue.GetCandles(ctx, symbol, candleHistory)
	if err != nil {
		// Fall back to stale bars rather than failing the caller outright
		var stale []domain.Candle
		if ok, cacheErr := s.cache.Get("candles", symbol, &stale); cacheErr == nil && ok && len(stale) > 0 {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Venue candles unavailable, serving stale cache")
			return stale, nil
		}
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", symbol, err)
	}

	if err := s.cache.Store("candles", symbol, candles, cache.TTLCandles); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Candle cache write failed")
	}

	return candles, nil
}

// Conditions derives the market context handed to the exit advisor and
// the pre-trade validator.
func (s *Service) Conditions(ctx context.Context, symbol string) (*domain.MarketConditions, error) {
	candles, err := s.GetCandles(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candle data for %s", symbol)
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	conditions := &domain.MarketConditions{
		Symbol:    symbol,
		LastPrice: closes[len(closes)-1],
	}

	if ratio := VolatilityRatio(highs, lows, closes, volatilityPeriod); ratio != nil {
		conditions.VolatilityRatio = *ratio
	}
	if momentum := Momentum(closes, momentumPeriod); momentum != nil {
		conditions.Momentum = *momentum
	}

	return conditions, nil
}

// Volatile reports whether the symbol currently trades rough enough to
// trigger the volatility manual-confirmation rule.
func (s *Service) Volatile(ctx context.Context, symbol string) bool {
	conditions, err := s.Conditions(ctx, symbol)
	if err != nil {
		s.log.Debug().Err(err).Str("symbol", symbol).Msg("Volatility check skipped")
		return false
	}
	return conditions.VolatilityRatio >= HighVolatilityRatio
}
