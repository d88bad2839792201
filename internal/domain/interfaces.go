package domain

import (
	"context"
	"time"
)

// VenueOrderResult is the venue's acknowledgement of a new order.
type VenueOrderResult struct {
	OrderID string      `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

// VenueOrderState is a point-in-time view of an order on the venue.
type VenueOrderState struct {
	OrderID      string      `json:"order_id"`
	Status       OrderStatus `json:"status"`
	Filled       float64     `json:"filled"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	Fee          float64     `json:"fee"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Quote is the venue's latest price for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Last      float64   `json:"last"`
	Timestamp time.Time `json:"timestamp"`
}

// Balance holds free amounts per quote currency for one user.
type Balance struct {
	UserID string             `json:"user_id"`
	Free   map[string]float64 `json:"free"`
}

// Candle is one OHLCV bar, used by indicator helpers.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// VenueClient abstracts the exchange venue. Request signing and
// venue-specific wire formats live behind implementations of this interface.
type VenueClient interface {
	// Trading operations
	SubmitMarketOrder(ctx context.Context, symbol string, side OrderSide, amount float64) (*VenueOrderResult, error)
	SubmitLimitOrder(ctx context.Context, symbol string, side OrderSide, amount, price float64) (*VenueOrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (*VenueOrderState, error)
	GetOrderHistory(ctx context.Context, userID string, limit int) ([]VenueOrderState, error)

	// Market data operations
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)

	// Account operations
	GetBalance(ctx context.Context, userID string) (*Balance, error)
}

// SignalSource produces trading signals for an agent. The production source
// is an external model ensemble; this interface treats it as opaque.
type SignalSource interface {
	Generate(ctx context.Context, agent *Agent, symbol string) (*TradingSignal, error)
}

// OrderValidator runs pre-trade checks (balance sufficiency, venue minimum
// size, position limits) against current market state.
type OrderValidator interface {
	Validate(ctx context.Context, req *OrderRequest) (*ValidationResult, error)
}

// ExitAdvisor evaluates whether a position should be closed.
type ExitAdvisor interface {
	AnalyzeExit(ctx context.Context, agent *Agent, position *Position, market *MarketConditions) (*ExitDecision, error)
}
