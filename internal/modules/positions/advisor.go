package positions

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
	"github.com/ametov/tradewind/internal/marketdata"
)

// approachingStopRatio is how close to the stop (as a fraction of it) a
// losing position must be before volatility alone can trigger a trim.
const approachingStopRatio = 0.75

// RuleAdvisor decides exits from the per-risk-level rule table, with
// agent-level overrides taking precedence. It is deliberately dumb:
// thresholds in, verdict out.
type RuleAdvisor struct {
	rules *config.ExitRules
	log   zerolog.Logger
}

// NewRuleAdvisor creates a rule-table exit advisor.
func NewRuleAdvisor(rules *config.ExitRules, log zerolog.Logger) *RuleAdvisor {
	return &RuleAdvisor{
		rules: rules,
		log:   log.With().Str("component", "exit_advisor").Logger(),
	}
}

// AnalyzeExit checks the position against stop-loss and take-profit
// thresholds. Market conditions refine the verdict: positive momentum
// turns a take-profit into a partial exit, elevated volatility trims a
// position drifting toward its stop.
func (a *RuleAdvisor) AnalyzeExit(ctx context.Context, agent *domain.Agent, position *domain.Position, market *domain.MarketConditions) (*domain.ExitDecision, error) {
	rule := a.rules.ForLevel(agent.RiskTolerance)
	stopLoss := rule.StopLossPercent
	takeProfit := rule.TakeProfitPercent
	if agent.StopLossPercent != nil && *agent.StopLossPercent > 0 {
		stopLoss = *agent.StopLossPercent
	}
	if agent.TakeProfitPercent != nil && *agent.TakeProfitPercent > 0 {
		takeProfit = *agent.TakeProfitPercent
	}

	momentum := 0.0
	volatility := 0.0
	if market != nil {
		momentum = market.Momentum
		volatility = market.VolatilityRatio
	}

	pnl := position.UnrealizedPnLPercent

	if pnl <= -stopLoss {
		return &domain.ExitDecision{
			Action:     domain.ExitActionExitNow,
			Confidence: 0.95,
			Urgency:    "high",
			Reasoning:  fmt.Sprintf("stop loss breached: down %.2f%% against a %.2f%% limit", -pnl, stopLoss),
		}, nil
	}

	if pnl >= takeProfit {
		if momentum > 0 {
			return &domain.ExitDecision{
				Action:     domain.ExitActionPartialExit,
				Confidence: 0.8,
				Urgency:    "medium",
				Reasoning:  fmt.Sprintf("take profit reached at %.2f%% with price still above trend", pnl),
			}, nil
		}
		return &domain.ExitDecision{
			Action:     domain.ExitActionExitNow,
			Confidence: 0.85,
			Urgency:    "medium",
			Reasoning:  fmt.Sprintf("take profit reached at %.2f%% with momentum gone", pnl),
		}, nil
	}

	if pnl <= -stopLoss*approachingStopRatio && volatility >= marketdata.HighVolatilityRatio {
		return &domain.ExitDecision{
			Action:     domain.ExitActionPartialExit,
			Confidence: 0.6,
			Urgency:    "medium",
			Reasoning:  fmt.Sprintf("down %.2f%% and approaching the %.2f%% stop in a volatile market", -pnl, stopLoss),
		}, nil
	}

	return &domain.ExitDecision{
		Action:     domain.ExitActionHold,
		Confidence: 0.5,
		Urgency:    "low",
	}, nil
}
