// Package venue provides exchange venue clients: a paper venue for
// development and tests, an HTTP client for real deployments, and a
// websocket price stream feeding the quote cache.
package venue

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/domain"
)

const (
	paperFeeRate  = 0.001  // taker fee fraction applied to fills
	paperSlippage = 0.0005 // market order slippage fraction
	paperSpread   = 0.0002 // half-spread used for quotes
)

// PaperVenue simulates order execution with virtual balances.
// It is the default venue when no VENUE_URL is configured and the venue
// used by pipeline tests. Fills are deterministic: market orders fill on
// submission at the current price plus slippage, limit orders fill when
// the price crosses the limit. Balances are seeded fixtures consulted
// during validation; fills do not move them.
type PaperVenue struct {
	mu       sync.Mutex
	log      zerolog.Logger
	balances map[string]map[string]float64 // userID -> currency -> free
	orders   map[string]*paperOrder
	prices   map[string]float64
	holding  bool // keep new orders pending until ReleaseAll (timeout simulations)
	seq      int
}

type paperOrder struct {
	state     domain.VenueOrderState
	symbol    string
	side      domain.OrderSide
	amount    float64
	limit     *float64
	createdAt time.Time
}

// NewPaperVenue creates a paper venue with no balances or prices seeded.
func NewPaperVenue(log zerolog.Logger) *PaperVenue {
	return &PaperVenue{
		log:      log.With().Str("client", "paper_venue").Logger(),
		balances: make(map[string]map[string]float64),
		orders:   make(map[string]*paperOrder),
		prices:   make(map[string]float64),
	}
}

// SeedBalance credits a virtual account.
func (p *PaperVenue) SeedBalance(userID, currency string, amount float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balances[userID] == nil {
		p.balances[userID] = make(map[string]float64)
	}
	p.balances[userID][currency] += amount
}

// SetPrice updates the current market price for a symbol.
func (p *PaperVenue) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// HoldFills keeps newly submitted orders pending until ReleaseAll.
// Used to exercise tracking-timeout behavior.
func (p *PaperVenue) HoldFills(hold bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holding = hold
}

// ReleaseAll fills every pending order at current prices.
func (p *PaperVenue) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.holding = false
	for _, order := range p.orders {
		if order.state.Status == domain.OrderStatusPending {
			if price, ok := p.prices[order.symbol]; ok && marketable(order.side, order.limit, price) {
				p.fillLocked(order, price)
			}
		}
	}
}

// FailOrder transitions a pending order to failed, simulating a venue
// side rejection after acceptance.
func (p *PaperVenue) FailOrder(orderID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if order, ok := p.orders[orderID]; ok && order.state.Status == domain.OrderStatusPending {
		order.state.Status = domain.OrderStatusFailed
		order.state.UpdatedAt = time.Now()
	}
}

// SubmitMarketOrder executes a market order at the current price.
func (p *PaperVenue) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, amount float64) (*domain.VenueOrderResult, error) {
	return p.submit(ctx, symbol, side, amount, nil)
}

// SubmitLimitOrder places a limit order; it fills when marketable.
func (p *PaperVenue) SubmitLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, amount, price float64) (*domain.VenueOrderResult, error) {
	return p.submit(ctx, symbol, side, amount, &price)
}

func (p *PaperVenue) submit(_ context.Context, symbol string, side domain.OrderSide, amount float64, limit *float64) (*domain.VenueOrderResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %f", amount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no price available for %s", symbol)
	}

	p.seq++
	order := &paperOrder{
		state: domain.VenueOrderState{
			OrderID:   fmt.Sprintf("paper-%d", p.seq),
			Status:    domain.OrderStatusPending,
			UpdatedAt: time.Now(),
		},
		symbol:    symbol,
		side:      side,
		amount:    amount,
		limit:     limit,
		createdAt: time.Now(),
	}
	p.orders[order.state.OrderID] = order

	if !p.holding && marketable(side, limit, price) {
		p.fillLocked(order, price)
	}

	return &domain.VenueOrderResult{
		OrderID: order.state.OrderID,
		Status:  order.state.Status,
	}, nil
}

// marketable reports whether an order executes at the current price.
// Market orders (nil limit) always do.
func marketable(side domain.OrderSide, limit *float64, price float64) bool {
	if limit == nil {
		return true
	}
	if side == domain.OrderSideBuy {
		return *limit >= price
	}
	return *limit <= price
}

// fillLocked fills an order at the given price. Caller holds p.mu.
func (p *PaperVenue) fillLocked(order *paperOrder, price float64) {
	fillPrice := price
	if order.limit == nil {
		// Market orders pay slippage in the direction of the trade
		fillPrice = price * (1 + paperSlippage*order.side.Sign())
	} else {
		fillPrice = *order.limit
	}

	order.state.Status = domain.OrderStatusFilled
	order.state.Filled = order.amount
	order.state.AvgFillPrice = fillPrice
	order.state.Fee = fillPrice * order.amount * paperFeeRate
	order.state.UpdatedAt = time.Now()

	p.log.Debug().
		Str("order_id", order.state.OrderID).
		Str("symbol", order.symbol).
		Float64("fill_price", fillPrice).
		Msg("Paper order filled")
}

// GetOrderStatus returns the current state of an order, re-evaluating
// pending limit orders against the latest price first.
func (p *PaperVenue) GetOrderStatus(ctx context.Context, orderID string) (*domain.VenueOrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}

	if order.state.Status == domain.OrderStatusPending && !p.holding {
		if price, ok := p.prices[order.symbol]; ok && marketable(order.side, order.limit, price) {
			p.fillLocked(order, price)
		}
	}

	state := order.state
	return &state, nil
}

// GetOrderHistory returns recent orders, newest first. The paper venue
// keeps a single book, so userID only caps the result like limit does.
func (p *PaperVenue) GetOrderHistory(ctx context.Context, userID string, limit int) ([]domain.VenueOrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make([]domain.VenueOrderState, 0, len(p.orders))
	for _, order := range p.orders {
		states = append(states, order.state)
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})

	if limit > 0 && len(states) > limit {
		states = states[:limit]
	}
	return states, nil
}

// GetQuote returns the current price with a synthetic spread.
func (p *PaperVenue) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no price available for %s", symbol)
	}

	return &domain.Quote{
		Symbol:    symbol,
		Bid:       price * (1 - paperSpread),
		Ask:       price * (1 + paperSpread),
		Last:      price,
		Timestamp: time.Now(),
	}, nil
}

// GetCandles returns a deterministic synthetic bar series ending at the
// current price. The walk is seeded from the symbol so indicator math in
// tests is stable across runs.
func (p *PaperVenue) GetCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	p.mu.Lock()
	price, ok := p.prices[symbol]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no price available for %s", symbol)
	}
	if limit <= 0 {
		limit = 50
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	// Walk backwards from the current price so the series ends at it
	closes := make([]float64, limit)
	closes[limit-1] = price
	for i := limit - 2; i >= 0; i-- {
		drift := 1 + (rng.Float64()-0.5)*0.01
		closes[i] = closes[i+1] * drift
	}

	now := time.Now().Truncate(time.Minute)
	candles := make([]domain.Candle, limit)
	for i, c := range closes {
		wick := c * 0.002 * (0.5 + rng.Float64())
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		candles[i] = domain.Candle{
			Timestamp: now.Add(-time.Duration(limit-1-i) * time.Minute),
			Open:      open,
			High:      maxFloat(open, c) + wick,
			Low:       minFloat(open, c) - wick,
			Close:     c,
			Volume:    1000 + rng.Float64()*5000,
		}
	}

	return candles, nil
}

// GetBalance returns a copy of a user's free balances.
func (p *PaperVenue) GetBalance(ctx context.Context, userID string) (*domain.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := make(map[string]float64)
	for currency, amount := range p.balances[userID] {
		free[currency] = amount
	}

	return &domain.Balance{UserID: userID, Free: free}, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
