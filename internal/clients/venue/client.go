package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ametov/tradewind/internal/domain"
)

const requestTimeout = 30 * time.Second

// Client talks to a venue's REST API. All calls share one rate limiter
// so burst traffic from pollers cannot trip the venue's request caps.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient creates a venue REST client. requestsPerSecond bounds the
// sustained request rate; bursts of one are allowed.
func NewClient(baseURL, apiKey, apiSecret string, requestsPerSecond float64, log zerolog.Logger) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		log:        log.With().Str("client", "venue").Logger(),
	}
}

// envelope is the venue's standard response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error,omitempty"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if c.apiSecret != "" {
		req.Header.Set("X-Api-Secret", c.apiSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("venue returned status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("venue error: %s", env.Error)
	}
	if dest != nil {
		if err := json.Unmarshal(env.Data, dest); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

type orderRequest struct {
	Symbol string   `json:"symbol"`
	Side   string   `json:"side"`
	Type   string   `json:"type"`
	Amount float64  `json:"amount"`
	Price  *float64 `json:"price,omitempty"`
}

// SubmitMarketOrder sends a market order to the venue.
func (c *Client) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, amount float64) (*domain.VenueOrderResult, error) {
	return c.submitOrder(ctx, orderRequest{
		Symbol: symbol,
		Side:   string(side),
		Type:   string(domain.OrderTypeMarket),
		Amount: amount,
	})
}

// SubmitLimitOrder sends a limit order to the venue.
func (c *Client) SubmitLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, amount, price float64) (*domain.VenueOrderResult, error) {
	return c.submitOrder(ctx, orderRequest{
		Symbol: symbol,
		Side:   string(side),
		Type:   string(domain.OrderTypeLimit),
		Amount: amount,
		Price:  &price,
	})
}

func (c *Client) submitOrder(ctx context.Context, req orderRequest) (*domain.VenueOrderResult, error) {
	c.log.Debug().
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("type", req.Type).
		Float64("amount", req.Amount).
		Msg("Submitting order to venue")

	var result domain.VenueOrderResult
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/orders", nil, req, &result); err != nil {
		return nil, fmt.Errorf("failed to submit order: %w", err)
	}
	return &result, nil
}

// GetOrderStatus fetches the current state of one order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*domain.VenueOrderState, error) {
	var state domain.VenueOrderState
	path := "/api/v1/orders/" + url.PathEscape(orderID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &state); err != nil {
		return nil, fmt.Errorf("failed to get order status: %w", err)
	}
	return &state, nil
}

// GetOrderHistory fetches recent orders for a user, newest first.
func (c *Client) GetOrderHistory(ctx context.Context, userID string, limit int) ([]domain.VenueOrderState, error) {
	params := url.Values{}
	if userID != "" {
		params.Set("user_id", userID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var states []domain.VenueOrderState
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/orders", params, nil, &states); err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	return states, nil
}

// GetQuote fetches the current quote for a symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var quote domain.Quote
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/quote", params, nil, &quote); err != nil {
		return nil, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	return &quote, nil
}

// GetCandles fetches up to limit one-minute bars for a symbol.
func (c *Client) GetCandles(ctx context.Context, symbol string, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var candles []domain.Candle
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/candles", params, nil, &candles); err != nil {
		return nil, fmt.Errorf("failed to get candles for %s: %w", symbol, err)
	}
	return candles, nil
}

// GetBalance fetches free balances for a user.
func (c *Client) GetBalance(ctx context.Context, userID string) (*domain.Balance, error) {
	var balance domain.Balance
	path := "/api/v1/balances/" + url.PathEscape(userID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &balance); err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &balance, nil
}
