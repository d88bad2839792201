package positions

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/clients/venue"
	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
)

const positionsCacheSchema = `
CREATE TABLE quotes (key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL, created_at INTEGER NOT NULL);
CREATE TABLE candles (key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL, created_at INTEGER NOT NULL);
CREATE TABLE pnl_marks (key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL, created_at INTEGER NOT NULL);
`

const positionsAgentsSchema = `
CREATE TABLE agents (
    id                     TEXT PRIMARY KEY,
    user_id                TEXT NOT NULL,
    name                   TEXT NOT NULL,
    risk_tolerance         INTEGER NOT NULL DEFAULT 3,
    max_position_size      REAL NOT NULL DEFAULT 100,
    stop_loss_percent      REAL,
    take_profit_percent    REAL,
    confirmation_required  INTEGER NOT NULL DEFAULT 0,
    auto_confirm_threshold REAL NOT NULL DEFAULT 50,
    active                 INTEGER NOT NULL DEFAULT 1,
    created_at             TEXT NOT NULL
);
`

func openPositionsTestDB(t *testing.T, schema string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)

	return db
}

func testPositionsConfig() config.PositionsConfig {
	return config.PositionsConfig{
		CheckInterval:        10 * time.Second,
		MaterialityThreshold: 0.5,
		QuoteTTL:             5 * time.Second,
	}
}

// stubOrderSource serves canned ledger views keyed by agent.
type stubOrderSource struct {
	mu        sync.Mutex
	filled    []domain.TrackedOrder
	unsettled []domain.TrackedOrder
}

func (s *stubOrderSource) addFill(orderID, agentID, symbol string, side domain.OrderSide, amount, fillPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := time.Now().UTC()
	s.filled = append(s.filled, domain.TrackedOrder{
		OrderID:         orderID,
		UserID:          "user-1",
		AgentID:         agentID,
		Symbol:          symbol,
		Side:            side,
		Amount:          amount,
		ActualFillPrice: &fillPrice,
		Status:          domain.OrderStatusFilled,
		Timestamp:       completed.Add(-time.Duration(len(s.filled)+1) * time.Minute),
		CompletedAt:     &completed,
	})
}

func (s *stubOrderSource) addUnsettledSell(agentID, symbol string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unsettled = append(s.unsettled, domain.TrackedOrder{
		OrderID:   "open-sell",
		UserID:    "user-1",
		AgentID:   agentID,
		Symbol:    symbol,
		Side:      domain.OrderSideSell,
		Amount:    amount,
		Status:    domain.OrderStatusPending,
		Timestamp: time.Now().UTC(),
	})
}

func (s *stubOrderSource) GetFilledByAgent(agentID string) ([]domain.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TrackedOrder
	for _, order := range s.filled {
		if order.AgentID == agentID {
			out = append(out, order)
		}
	}
	return out, nil
}

func (s *stubOrderSource) GetUnsettledByAgent(agentID string) ([]domain.TrackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TrackedOrder
	for _, order := range s.unsettled {
		if order.AgentID == agentID {
			out = append(out, order)
		}
	}
	return out, nil
}

func newPositionsService(t *testing.T, source *stubOrderSource, paper *venue.PaperVenue) (*Service, *cache.Repository) {
	t.Helper()

	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	cacheRepo := cache.NewRepository(openPositionsTestDB(t, positionsCacheSchema))
	service := NewService(source, paper, cacheRepo, testPositionsConfig(), nopLog)
	return service, cacheRepo
}

func TestPositionsDeriveFromFills(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	paper := venue.NewPaperVenue(nopLog)
	paper.SetPrice("BTC/USDT", 52000)

	source := &stubOrderSource{}
	source.addFill("ord-1", "agent-1", "BTC/USDT", domain.OrderSideBuy, 0.5, 50000)

	service, _ := newPositionsService(t, source, paper)

	positions, err := service.GetAgentPositions(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)

	p := positions[0]
	assert.Equal(t, "ord-1", p.TradeID)
	assert.Equal(t, "agent-1", p.AgentID)
	assert.Equal(t, domain.OrderSideBuy, p.Side)
	assert.InDelta(t, 0.5, p.Quantity, 1e-9)
	assert.InDelta(t, 50000.0, p.EntryPrice, 1e-9)
	assert.InDelta(t, 52000.0, p.CurrentPrice, 1e-9)
	assert.InDelta(t, 1000.0, p.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 4.0, p.UnrealizedPnLPercent, 1e-9)
}

func TestSellsConsumeLotsOldestFirst(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	paper := venue.NewPaperVenue(nopLog)
	paper.SetPrice("ETH/USDT", 120)

	source := &stubOrderSource{}
	source.addFill("ord-1", "agent-1", "ETH/USDT", domain.OrderSideBuy, 1.0, 100)
	source.addFill("ord-2", "agent-1", "ETH/USDT", domain.OrderSideBuy, 1.0, 110)
	source.addFill("ord-3", "agent-1", "ETH/USDT", domain.OrderSideSell, 1.5, 120)

	service, _ := newPositionsService(t, source, paper)

	positions, err := service.GetAgentPositions(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "ord-2", positions[0].TradeID)
	assert.InDelta(t, 0.5, positions[0].Quantity, 1e-9)
	assert.InDelta(t, 110.0, positions[0].EntryPrice, 1e-9)
}

func TestUnsettledSellsReserveQuantity(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	paper := venue.NewPaperVenue(nopLog)
	paper.SetPrice("BTC/USDT", 50000)

	source := &stubOrderSource{}
	source.addFill("ord-1", "agent-1", "BTC/USDT", domain.OrderSideBuy, 1.0, 50000)
	source.addUnsettledSell("agent-1", "BTC/USDT", 0.4)

	service, _ := newPositionsService(t, source, paper)

	positions, err := service.GetAgentPositions(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.6, positions[0].Quantity, 1e-9)

	// A second in-flight sell covering the rest hides the position entirely
	source.addUnsettledSell("agent-1", "BTC/USDT", 0.6)
	positions, err = service.GetAgentPositions(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPositionsPreferFreshCachedQuote(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	paper := venue.NewPaperVenue(nopLog)
	paper.SetPrice("BTC/USDT", 50000)

	source := &stubOrderSource{}
	source.addFill("ord-1", "agent-1", "BTC/USDT", domain.OrderSideBuy, 1.0, 50000)

	service, cacheRepo := newPositionsService(t, source, paper)

	seeded := domain.Quote{Symbol: "BTC/USDT", Bid: 50990, Ask: 51010, Last: 51000, Timestamp: time.Now()}
	require.NoError(t, cacheRepo.Store("quotes", "BTC/USDT", seeded, time.Minute))

	positions, err := service.GetAgentPositions(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 51000.0, positions[0].CurrentPrice, 1e-9)

	require.NoError(t, cacheRepo.Delete("quotes", "BTC/USDT"))

	positions, err = service.GetAgentPositions(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 50000.0, positions[0].CurrentPrice, 1e-9)
}

func TestPositionsServeStaleQuoteWhenVenueFails(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	paper := venue.NewPaperVenue(nopLog) // no price for the symbol

	source := &stubOrderSource{}
	source.addFill("ord-1", "agent-1", "ETH/USDT", domain.OrderSideBuy, 1.0, 2900)

	service, cacheRepo := newPositionsService(t, source, paper)

	stale := domain.Quote{Symbol: "ETH/USDT", Last: 3000, Timestamp: time.Now().Add(-time.Minute)}
	require.NoError(t, cacheRepo.Store("quotes", "ETH/USDT", stale, -time.Second))

	positions, err := service.GetAgentPositions(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 3000.0, positions[0].CurrentPrice, 1e-9)
}

func TestPositionsSkipSymbolsWithoutPrice(t *testing.T) {
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	paper := venue.NewPaperVenue(nopLog)
	paper.SetPrice("BTC/USDT", 50000)

	source := &stubOrderSource{}
	source.addFill("ord-1", "agent-1", "BTC/USDT", domain.OrderSideBuy, 1.0, 49000)
	source.addFill("ord-2", "agent-1", "DOGE/USDT", domain.OrderSideBuy, 100, 0.1)

	service, _ := newPositionsService(t, source, paper)

	positions, err := service.GetAgentPositions(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTC/USDT", positions[0].Symbol)
}
