// Package domain provides core domain models and types.
package domain

import "time"

// Recommendation is the action a signal proposes.
type Recommendation string

const (
	RecommendationBuy  Recommendation = "BUY"
	RecommendationSell Recommendation = "SELL"
	RecommendationHold Recommendation = "HOLD"
)

// SignalStatus tracks a signal through the dispatch pipeline.
type SignalStatus string

const (
	SignalStatusPending    SignalStatus = "pending"
	SignalStatusProcessing SignalStatus = "processing"
	SignalStatusExecuted   SignalStatus = "executed"
	SignalStatusCancelled  SignalStatus = "cancelled"
	SignalStatusFailed     SignalStatus = "failed"
)

// IsTerminal reports whether no further signal transition may occur.
func (s SignalStatus) IsTerminal() bool {
	return s == SignalStatusExecuted || s == SignalStatusCancelled || s == SignalStatusFailed
}

// TradingSignal is the unit of work entering the pipeline.
// Immutable once its status is terminal.
type TradingSignal struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agent_id"`
	Symbol         string         `json:"symbol"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"` // [0,1]
	TargetPrice    *float64       `json:"target_price,omitempty"`
	StopLoss       *float64       `json:"stop_loss,omitempty"`
	Priority       int            `json:"priority"` // [0,100]
	Reasoning      string         `json:"reasoning,omitempty"`
	Status         SignalStatus   `json:"status"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Sign returns +1 for buy and -1 for sell, used in profit math.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// RiskLevel is the tier assigned to a preview from validator findings.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "LOW"
	RiskLevelMedium RiskLevel = "MEDIUM"
	RiskLevelHigh   RiskLevel = "HIGH"
)

// PreviewStatus tracks an order preview through its state machine.
type PreviewStatus string

const (
	PreviewStatusPending   PreviewStatus = "pending"
	PreviewStatusConfirmed PreviewStatus = "confirmed"
	PreviewStatusCancelled PreviewStatus = "cancelled"
	PreviewStatusExpired   PreviewStatus = "expired"
	PreviewStatusExecuted  PreviewStatus = "executed"
)

// IsTerminal reports whether the preview can transition no further.
// confirmed is not terminal: it still moves to executed or cancelled.
func (s PreviewStatus) IsTerminal() bool {
	return s == PreviewStatusCancelled || s == PreviewStatusExpired || s == PreviewStatusExecuted
}

// OrderRequest is the input to preview creation.
type OrderRequest struct {
	UserID    string    `json:"user_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	SignalID  string    `json:"signal_id,omitempty"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	OrderType OrderType `json:"order_type"`
	Amount    float64   `json:"amount"`
	Price     *float64  `json:"price,omitempty"` // required for limit orders
}

// OrderPreview is a materialized, time-boxed intent to trade.
// Owned by the confirmation component until handed to execution.
type OrderPreview struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	AgentID          string        `json:"agent_id,omitempty"`
	SignalID         string        `json:"signal_id,omitempty"`
	Symbol           string        `json:"symbol"`
	Side             OrderSide     `json:"side"`
	OrderType        OrderType     `json:"order_type"`
	Amount           float64       `json:"amount"`
	Price            *float64      `json:"price,omitempty"`
	EstimatedCost    float64       `json:"estimated_cost"`
	EstimatedFees    float64       `json:"estimated_fees"`
	SlippageEstimate float64       `json:"slippage_estimate"`
	RiskLevel        RiskLevel     `json:"risk_level"`
	Warnings         []string      `json:"warnings,omitempty"`
	AutoConfirm      bool          `json:"auto_confirm"`
	Status           PreviewStatus `json:"status"`
	Reason           string        `json:"reason,omitempty"` // cancellation or failure reason
	OrderID          string        `json:"order_id,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
}

// Expired reports whether the preview TTL has elapsed at t.
func (p *OrderPreview) Expired(t time.Time) bool {
	return t.After(p.ExpiresAt)
}

// OrderStatus tracks a venue order through reconciliation.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusFailed          OrderStatus = "failed"
)

// IsTerminal reports whether the venue will not change this status again.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusFailed
}

// TrackedOrder is a venue-submitted order under reconciliation, keyed by
// the venue-assigned OrderID. One poller owns an OrderID at a time.
type TrackedOrder struct {
	OrderID         string      `json:"order_id"`
	UserID          string      `json:"user_id"`
	AgentID         string      `json:"agent_id,omitempty"`
	PreviewID       string      `json:"preview_id,omitempty"`
	SignalID        string      `json:"signal_id,omitempty"`
	Symbol          string      `json:"symbol"`
	Side            OrderSide   `json:"side"`
	Amount          float64     `json:"amount"`
	ExpectedPrice   *float64    `json:"expected_price,omitempty"`
	ActualFillPrice *float64    `json:"actual_fill_price,omitempty"`
	Status          OrderStatus `json:"status"`
	Profit          *float64    `json:"profit,omitempty"`
	Fees            *float64    `json:"fees,omitempty"`
	TimedOut        bool        `json:"timed_out"` // tracking window elapsed without a terminal status
	Timestamp       time.Time   `json:"timestamp"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

// Position is derived per agent from filled orders plus a live price.
// Recomputed every monitoring tick, never a source of truth.
type Position struct {
	AgentID              string    `json:"agent_id"`
	TradeID              string    `json:"trade_id"` // originating order id
	Symbol               string    `json:"symbol"`
	Side                 OrderSide `json:"side"`
	Quantity             float64   `json:"quantity"`
	EntryPrice           float64   `json:"entry_price"`
	CurrentPrice         float64   `json:"current_price"`
	UnrealizedPnL        float64   `json:"unrealized_pnl"`
	UnrealizedPnLPercent float64   `json:"unrealized_pnl_percent"`
	OpenedAt             time.Time `json:"opened_at"`
}

// PnLChange describes a material move in a position's unrealized P&L.
// Emitted on the event bus, not stored.
type PnLChange struct {
	AgentID       string    `json:"agent_id"`
	TradeID       string    `json:"trade_id"`
	Position      Position  `json:"position"`
	PreviousPnL   float64   `json:"previous_pnl"`
	CurrentPnL    float64   `json:"current_pnl"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// ExitAction is what the exit advisor recommends for a position.
type ExitAction string

const (
	ExitActionHold        ExitAction = "HOLD"
	ExitActionPartialExit ExitAction = "PARTIAL_EXIT"
	ExitActionExitNow     ExitAction = "EXIT_NOW"
)

// ExitDecision is the advisor's verdict for one position.
type ExitDecision struct {
	Action     ExitAction `json:"action"`
	Confidence float64    `json:"confidence"`
	Urgency    string     `json:"urgency"` // low, medium, high
	Reasoning  string     `json:"reasoning,omitempty"`
}

// PerformanceMetrics holds rolling per-agent trade statistics.
type PerformanceMetrics struct {
	AgentID       string    `json:"agent_id"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	WinRate       float64   `json:"win_rate"`
	TotalPnL      float64   `json:"total_pnl"`
	MaxDrawdown   float64   `json:"max_drawdown"`
	SharpeRatio   float64   `json:"sharpe_ratio"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Agent is the pipeline-facing slice of an agent's configuration.
// CRUD for agents lives outside this service; the pipeline only reads.
type Agent struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Name                 string    `json:"name"`
	RiskTolerance        int       `json:"risk_tolerance"` // 1 (conservative) .. 5 (aggressive)
	MaxPositionSize      float64   `json:"max_position_size"`
	StopLossPercent      *float64  `json:"stop_loss_percent,omitempty"`
	TakeProfitPercent    *float64  `json:"take_profit_percent,omitempty"`
	ConfirmationRequired bool      `json:"confirmation_required"`
	AutoConfirmThreshold float64   `json:"auto_confirm_threshold"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
}

// ValidationResult is the pre-trade validator's verdict on an order request.
type ValidationResult struct {
	IsValid          bool     `json:"is_valid"`
	AdjustedAmount   *float64 `json:"adjusted_amount,omitempty"`
	EstimatedCost    float64  `json:"estimated_cost"`
	EstimatedFees    float64  `json:"estimated_fees"`
	SlippageEstimate float64  `json:"slippage_estimate"`
	Errors           []string `json:"errors,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
}

// MarketConditions summarizes the market context handed to the exit advisor.
type MarketConditions struct {
	Symbol          string  `json:"symbol"`
	LastPrice       float64 `json:"last_price"`
	VolatilityRatio float64 `json:"volatility_ratio"` // ATR / price
	Momentum        float64 `json:"momentum"`         // price vs SMA, relative
}
