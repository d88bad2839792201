package confirmation

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
	"github.com/ametov/tradewind/internal/marketdata"
)

const (
	// minOrderValue is the venue's minimum notional order size in quote units.
	minOrderValue = 10.0

	// nearLimitRatio flags orders approaching the agent's position cap.
	nearLimitRatio = 0.8

	// minAdjustRatio bounds how far an order may be shaved down to fit the
	// available balance. Bigger shortfalls are rejected instead.
	minAdjustRatio = 0.9
)

// Validator runs pre-trade checks against live venue state. Deterministic
// rejections land in the result's Errors; venue outages surface as Go
// errors so callers can tell the two apart.
type Validator struct {
	venue  domain.VenueClient
	market *marketdata.Service
	agents AgentProvider
	cfg    config.ConfirmationConfig
	log    zerolog.Logger
}

// NewValidator creates the default pre-trade validator. The market data
// service is optional; without it the volatility check is skipped.
func NewValidator(venue domain.VenueClient, market *marketdata.Service, agents AgentProvider, cfg config.ConfirmationConfig, log zerolog.Logger) *Validator {
	return &Validator{
		venue:  venue,
		market: market,
		agents: agents,
		cfg:    cfg,
		log:    log.With().Str("component", "order_validator").Logger(),
	}
}

// Validate checks an order request for shape, balance sufficiency, venue
// minimum size and agent position limits, and estimates cost, fees and
// slippage from the current quote.
func (v *Validator) Validate(ctx context.Context, req *domain.OrderRequest) (*domain.ValidationResult, error) {
	result := &domain.ValidationResult{IsValid: true}

	if req.Amount <= 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, "amount must be positive")
		return result, nil
	}
	if req.OrderType == domain.OrderTypeLimit && req.Price == nil {
		result.IsValid = false
		result.Errors = append(result.Errors, "limit orders require a price")
		return result, nil
	}

	quote, err := v.venue.GetQuote(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", req.Symbol, err)
	}

	price := quote.Last
	if req.OrderType == domain.OrderTypeLimit && req.Price != nil {
		price = *req.Price
	}
	if price <= 0 {
		result.IsValid = false
		result.Errors = append(result.Errors, fmt.Sprintf("no tradable price for %s", req.Symbol))
		return result, nil
	}

	result.EstimatedCost = req.Amount * price
	result.EstimatedFees = result.EstimatedCost * v.cfg.FeeRate
	if req.OrderType == domain.OrderTypeMarket {
		// Market orders eat roughly the half-spread.
		if mid := (quote.Bid + quote.Ask) / 2; mid > 0 {
			result.SlippageEstimate = math.Abs(quote.Ask-quote.Bid) / mid / 2 * 100
		}
	}

	if result.EstimatedCost < minOrderValue {
		result.IsValid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("order value %.2f below venue minimum %.2f", result.EstimatedCost, minOrderValue))
	}

	if err := v.checkBalance(ctx, req, price, result); err != nil {
		return nil, err
	}

	if err := v.checkPositionLimit(req, result); err != nil {
		return nil, err
	}

	if v.market != nil && v.market.Volatile(ctx, req.Symbol) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("volatility elevated for %s", req.Symbol))
	}

	if len(result.Errors) > 0 {
		result.IsValid = false
	}

	v.log.Debug().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("amount", req.Amount).
		Float64("estimated_cost", result.EstimatedCost).
		Bool("valid", result.IsValid).
		Int("warnings", len(result.Warnings)).
		Msg("Order request validated")

	return result, nil
}

// checkBalance verifies the user can fund the order. A small shortfall on
// a buy shaves the amount down instead of rejecting outright.
func (v *Validator) checkBalance(ctx context.Context, req *domain.OrderRequest, price float64, result *domain.ValidationResult) error {
	balance, err := v.venue.GetBalance(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("failed to fetch balance for %s: %w", req.UserID, err)
	}

	base, quoteCurrency := splitSymbol(req.Symbol)

	if req.Side == domain.OrderSideBuy {
		needed := result.EstimatedCost + result.EstimatedFees
		free := balance.Free[quoteCurrency]
		if free >= needed {
			return nil
		}

		affordable := free / (price * (1 + v.cfg.FeeRate))
		if affordable >= req.Amount*minAdjustRatio && affordable*price >= minOrderValue {
			adjusted := affordable
			result.AdjustedAmount = &adjusted
			result.EstimatedCost = adjusted * price
			result.EstimatedFees = result.EstimatedCost * v.cfg.FeeRate
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("amount reduced to %.8f to fit available %s balance", adjusted, quoteCurrency))
			return nil
		}

		result.Errors = append(result.Errors,
			fmt.Sprintf("insufficient %s balance: need %.2f, have %.2f", quoteCurrency, needed, free))
		return nil
	}

	if free := balance.Free[base]; free < req.Amount {
		result.Errors = append(result.Errors,
			fmt.Sprintf("insufficient %s balance: need %.8f, have %.8f", base, req.Amount, free))
	}
	return nil
}

// checkPositionLimit enforces the agent's position cap when the request
// carries an agent. Requests placed directly by users have no cap here.
func (v *Validator) checkPositionLimit(req *domain.OrderRequest, result *domain.ValidationResult) error {
	if req.AgentID == "" || v.agents == nil {
		return nil
	}

	agent, err := v.agents.GetByID(req.AgentID)
	if err != nil {
		return fmt.Errorf("failed to load agent %s: %w", req.AgentID, err)
	}
	if agent == nil || agent.MaxPositionSize <= 0 {
		return nil
	}

	if result.EstimatedCost > agent.MaxPositionSize {
		result.Errors = append(result.Errors,
			fmt.Sprintf("order value %.2f exceeds agent position limit %.2f", result.EstimatedCost, agent.MaxPositionSize))
	} else if result.EstimatedCost > agent.MaxPositionSize*nearLimitRatio {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("order value %.2f within %.0f%% of agent position limit", result.EstimatedCost, (1-nearLimitRatio)*100))
	}
	return nil
}

// splitSymbol breaks "BTC/USDT" into base and quote currencies.
func splitSymbol(symbol string) (string, string) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return symbol, "USDT"
	}
	return parts[0], parts[1]
}
