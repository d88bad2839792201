package venue

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametov/tradewind/internal/domain"
)

func newTestVenue() *PaperVenue {
	return NewPaperVenue(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestPaperVenueMarketOrderFillsImmediately(t *testing.T) {
	venue := newTestVenue()
	venue.SetPrice("BTC/USDT", 50000)

	result, err := venue.SubmitMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.1)
	require.NoError(t, err)
	assert.NotEmpty(t, result.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, result.Status)

	state, err := venue.GetOrderStatus(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, state.Status)
	assert.Equal(t, 0.1, state.Filled)
	// Buys pay slippage above the mark price
	assert.Greater(t, state.AvgFillPrice, 50000.0)
	assert.Greater(t, state.Fee, 0.0)
}

func TestPaperVenueSellSlippageIsNegative(t *testing.T) {
	venue := newTestVenue()
	venue.SetPrice("ETH/USDT", 3000)

	result, err := venue.SubmitMarketOrder(context.Background(), "ETH/USDT", domain.OrderSideSell, 1)
	require.NoError(t, err)

	state, err := venue.GetOrderStatus(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Less(t, state.AvgFillPrice, 3000.0)
}

func TestPaperVenueRejectsUnknownSymbol(t *testing.T) {
	venue := newTestVenue()

	_, err := venue.SubmitMarketOrder(context.Background(), "DOGE/USDT", domain.OrderSideBuy, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no price available")
}

func TestPaperVenueRejectsNonPositiveAmount(t *testing.T) {
	venue := newTestVenue()
	venue.SetPrice("BTC/USDT", 50000)

	_, err := venue.SubmitMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0)
	require.Error(t, err)
}

func TestPaperVenueLimitOrderWaitsForPrice(t *testing.T) {
	venue := newTestVenue()
	venue.SetPrice("BTC/USDT", 50000)

	// Buy limit below market stays pending
	result, err := venue.SubmitLimitOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.1, 49000)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, result.Status)

	state, err := venue.GetOrderStatus(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, state.Status)

	// Price crosses the limit, next status check fills at the limit price
	venue.SetPrice("BTC/USDT", 48900)
	state, err = venue.GetOrderStatus(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, state.Status)
	assert.Equal(t, 49000.0, state.AvgFillPrice)
}

func TestPaperVenueHoldFills(t *testing.T) {
	venue := newTestVenue()
	venue.SetPrice("BTC/USDT", 50000)
	venue.HoldFills(true)

	result, err := venue.SubmitMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.1)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, result.Status)

	state, err := venue.GetOrderStatus(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, state.Status)

	venue.ReleaseAll()

	state, err = venue.GetOrderStatus(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, state.Status)
}

func TestPaperVenueFailOrder(t *testing.T) {
	venue := newTestVenue()
	venue.SetPrice("BTC/USDT", 50000)
	venue.HoldFills(true)

	result, err := venue.SubmitMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.1)
	require.NoError(t, err)

	venue.FailOrder(result.OrderID)

	state, err := venue.GetOrderStatus(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, state.Status)
}

func TestPaperVenueGetQuote(t *testing.T) {
	venue := newTestVenue()
	venue.SetPrice("BTC/USDT", 50000)

	quote, err := venue.GetQuote(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", quote.Symbol)
	assert.Equal(t, 50000.0, quote.Last)
	assert.Less(t, quote.Bid, quote.Ask)
}

func TestPaperVenueCandlesAreDeterministic(t *testing.T) {
	venue := newTestVenue()
	venue.SetPrice("BTC/USDT", 50000)

	first, err := venue.GetCandles(context.Background(), "BTC/USDT", 30)
	require.NoError(t, err)
	require.Len(t, first, 30)

	second, err := venue.GetCandles(context.Background(), "BTC/USDT", 30)
	require.NoError(t, err)

	for i := range first {
		assert.Equal(t, first[i].Close, second[i].Close)
		assert.GreaterOrEqual(t, first[i].High, first[i].Low)
	}

	// Series ends at the current price
	assert.Equal(t, 50000.0, first[len(first)-1].Close)
}

func TestPaperVenueBalances(t *testing.T) {
	venue := newTestVenue()
	venue.SeedBalance("user-1", "USDT", 10000)
	venue.SeedBalance("user-1", "USDT", 5000)

	balance, err := venue.GetBalance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 15000.0, balance.Free["USDT"])

	empty, err := venue.GetBalance(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Empty(t, empty.Free)
}

func TestPaperVenueOrderHistoryNewestFirst(t *testing.T) {
	venue := newTestVenue()
	venue.SetPrice("BTC/USDT", 50000)

	for i := 0; i < 5; i++ {
		_, err := venue.SubmitMarketOrder(context.Background(), "BTC/USDT", domain.OrderSideBuy, 0.01)
		require.NoError(t, err)
	}

	history, err := venue.GetOrderHistory(context.Background(), "", 3)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].UpdatedAt.After(history[i-1].UpdatedAt))
	}
}
