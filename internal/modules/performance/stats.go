package performance

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
)

// buildMetrics aggregates filled orders, oldest first, into one metrics row.
// WinRate is a fraction of trades won; MaxDrawdown is in account currency.
func buildMetrics(agentID string, fills []domain.TrackedOrder, cfg config.PerformanceConfig) *domain.PerformanceMetrics {
	metrics := &domain.PerformanceMetrics{
		AgentID:     agentID,
		TotalTrades: len(fills),
		LastUpdated: time.Now().UTC(),
	}

	profits := make([]float64, 0, len(fills))
	returns := make([]float64, 0, len(fills))
	for i := range fills {
		order := &fills[i]
		if order.Profit == nil {
			// Fill settled without a resolvable price; it counts as a
			// trade but cannot contribute to the series
			continue
		}

		profit := *order.Profit
		profits = append(profits, profit)
		metrics.TotalPnL += profit
		if profit > 0 {
			metrics.WinningTrades++
		}
		if order.ActualFillPrice != nil && *order.ActualFillPrice > 0 && order.Amount > 0 {
			returns = append(returns, profit/(*order.ActualFillPrice*order.Amount))
		}
	}

	if metrics.TotalTrades > 0 {
		metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	}
	metrics.MaxDrawdown = maxDrawdown(profits)
	metrics.SharpeRatio = sharpeRatio(returns, cfg.RiskFreeRate, cfg.PeriodsPerYear)

	return metrics
}

// maxDrawdown is the largest peak-to-trough drop of the cumulative PnL
// series. The equity curve starts at zero, so a losing first trade is
// already a drawdown.
func maxDrawdown(profits []float64) float64 {
	var equity, peak, worst float64
	for _, profit := range profits {
		equity += profit
		if equity > peak {
			peak = equity
		}
		if drop := peak - equity; drop > worst {
			worst = drop
		}
	}
	return worst
}

// sharpeRatio is the annualized mean/stddev of per-trade returns.
// Zero when there are too few trades or no variance to divide by.
func sharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) float64 {
	if len(returns) < 2 || periodsPerYear < 1 {
		return 0
	}

	stdDev := stat.StdDev(returns, nil)
	if stdDev == 0 {
		return 0
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sharpe := (stat.Mean(returns, nil) - periodicRiskFree) / stdDev
	return sharpe * math.Sqrt(float64(periodsPerYear))
}
