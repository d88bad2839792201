// Package marketdata provides candle access with caching and the indicator
// helpers built on top of it.
package marketdata

import (
	"github.com/markcheno/go-talib"
)

// VolatilityRatio returns ATR divided by the latest close, a unitless gauge
// of how rough the market currently is. Returns nil if there is not enough
// data for the period.
func VolatilityRatio(highs, lows, closes []float64, period int) *float64 {
	if len(closes) < period+1 || len(highs) != len(closes) || len(lows) != len(closes) {
		return nil
	}

	atr := talib.Atr(highs, lows, closes, period)
	if len(atr) == 0 {
		return nil
	}

	last := atr[len(atr)-1]
	lastClose := closes[len(closes)-1]
	if isNaN(last) || lastClose <= 0 {
		return nil
	}

	ratio := last / lastClose
	return &ratio
}

// Momentum returns the relative distance of the latest close from its SMA:
// (close - sma) / sma. Positive values mean price is running above trend.
// Returns nil if there is not enough data for the period.
func Momentum(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}

	sma := talib.Sma(closes, period)
	if len(sma) == 0 {
		return nil
	}

	last := sma[len(sma)-1]
	if isNaN(last) || last <= 0 {
		return nil
	}

	m := (closes[len(closes)-1] - last) / last
	return &m
}

// isNaN checks if a float64 is NaN
func isNaN(f float64) bool {
	return f != f
}
