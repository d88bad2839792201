package positions

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
)

func newTestAdvisor() *RuleAdvisor {
	return NewRuleAdvisor(config.DefaultExitRules(), zerolog.New(nil).Level(zerolog.Disabled))
}

func advisorAgent(risk int) *domain.Agent {
	return &domain.Agent{
		ID:            "agent-1",
		UserID:        "user-1",
		Name:          "test agent",
		RiskTolerance: risk,
		Active:        true,
	}
}

func positionAtPnL(pnlPercent float64) *domain.Position {
	entry := 100.0
	current := entry * (1 + pnlPercent/100)
	return &domain.Position{
		AgentID:              "agent-1",
		TradeID:              "ord-1",
		Symbol:               "BTC/USDT",
		Side:                 domain.OrderSideBuy,
		Quantity:             1,
		EntryPrice:           entry,
		CurrentPrice:         current,
		UnrealizedPnL:        current - entry,
		UnrealizedPnLPercent: pnlPercent,
	}
}

func calmMarket() *domain.MarketConditions {
	return &domain.MarketConditions{Symbol: "BTC/USDT", LastPrice: 100, VolatilityRatio: 0.01, Momentum: 0}
}

func TestAdvisorExitsOnStopLossBreach(t *testing.T) {
	advisor := newTestAdvisor()

	// Risk level 3 stops out at 5%
	decision, err := advisor.AnalyzeExit(context.Background(), advisorAgent(3), positionAtPnL(-6), calmMarket())
	require.NoError(t, err)
	assert.Equal(t, domain.ExitActionExitNow, decision.Action)
	assert.Equal(t, "high", decision.Urgency)
	assert.Contains(t, decision.Reasoning, "stop loss breached")
}

func TestAdvisorRiskLevelsMoveTheStop(t *testing.T) {
	advisor := newTestAdvisor()

	cases := []struct {
		risk   int
		pnl    float64
		action domain.ExitAction
	}{
		{1, -3, domain.ExitActionExitNow}, // conservative stops at 2%
		{3, -3, domain.ExitActionHold},    // moderate stop is 5%
		{5, -3, domain.ExitActionHold},    // aggressive stop is 12%
		{5, -13, domain.ExitActionExitNow},
	}

	for _, tc := range cases {
		decision, err := advisor.AnalyzeExit(context.Background(), advisorAgent(tc.risk), positionAtPnL(tc.pnl), calmMarket())
		require.NoError(t, err)
		assert.Equal(t, tc.action, decision.Action, "risk %d pnl %.1f", tc.risk, tc.pnl)
	}
}

func TestAdvisorTakeProfitTrimsWhileTrendHolds(t *testing.T) {
	advisor := newTestAdvisor()

	market := calmMarket()
	market.Momentum = 0.05

	decision, err := advisor.AnalyzeExit(context.Background(), advisorAgent(3), positionAtPnL(12), market)
	require.NoError(t, err)
	assert.Equal(t, domain.ExitActionPartialExit, decision.Action)
	assert.Equal(t, "medium", decision.Urgency)
}

func TestAdvisorTakeProfitExitsWhenMomentumGone(t *testing.T) {
	advisor := newTestAdvisor()

	market := calmMarket()
	market.Momentum = -0.02

	decision, err := advisor.AnalyzeExit(context.Background(), advisorAgent(3), positionAtPnL(12), market)
	require.NoError(t, err)
	assert.Equal(t, domain.ExitActionExitNow, decision.Action)
	assert.Contains(t, decision.Reasoning, "momentum gone")
}

func TestAdvisorTrimsNearStopInVolatileMarket(t *testing.T) {
	advisor := newTestAdvisor()

	market := calmMarket()
	market.VolatilityRatio = 0.05

	// Down 4% against a 5% stop: inside the approach band
	decision, err := advisor.AnalyzeExit(context.Background(), advisorAgent(3), positionAtPnL(-4), market)
	require.NoError(t, err)
	assert.Equal(t, domain.ExitActionPartialExit, decision.Action)
	assert.Contains(t, decision.Reasoning, "volatile")

	// The same drawdown in a calm market holds
	decision, err = advisor.AnalyzeExit(context.Background(), advisorAgent(3), positionAtPnL(-4), calmMarket())
	require.NoError(t, err)
	assert.Equal(t, domain.ExitActionHold, decision.Action)
}

func TestAdvisorHoldsQuietPosition(t *testing.T) {
	advisor := newTestAdvisor()

	decision, err := advisor.AnalyzeExit(context.Background(), advisorAgent(3), positionAtPnL(1), calmMarket())
	require.NoError(t, err)
	assert.Equal(t, domain.ExitActionHold, decision.Action)
	assert.Equal(t, "low", decision.Urgency)
}

func TestAdvisorAgentOverridesRuleTable(t *testing.T) {
	advisor := newTestAdvisor()

	stopLoss := 1.0
	takeProfit := 2.0
	agent := advisorAgent(3)
	agent.StopLossPercent = &stopLoss
	agent.TakeProfitPercent = &takeProfit

	decision, err := advisor.AnalyzeExit(context.Background(), agent, positionAtPnL(-1.5), calmMarket())
	require.NoError(t, err)
	assert.Equal(t, domain.ExitActionExitNow, decision.Action)

	decision, err = advisor.AnalyzeExit(context.Background(), agent, positionAtPnL(2.5), calmMarket())
	require.NoError(t, err)
	assert.Equal(t, domain.ExitActionExitNow, decision.Action)
}

func TestAdvisorTreatsMissingMarketAsCalm(t *testing.T) {
	advisor := newTestAdvisor()

	decision, err := advisor.AnalyzeExit(context.Background(), advisorAgent(3), positionAtPnL(12), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ExitActionExitNow, decision.Action)
}
