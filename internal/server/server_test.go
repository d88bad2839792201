package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/clients/venue"
	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/database"
	"github.com/ametov/tradewind/internal/domain"
	"github.com/ametov/tradewind/internal/events"
	"github.com/ametov/tradewind/internal/marketdata"
	"github.com/ametov/tradewind/internal/modules/agents"
	"github.com/ametov/tradewind/internal/modules/confirmation"
	"github.com/ametov/tradewind/internal/modules/execution"
	"github.com/ametov/tradewind/internal/modules/performance"
	"github.com/ametov/tradewind/internal/modules/positions"
	"github.com/ametov/tradewind/internal/modules/signals"
	"github.com/ametov/tradewind/internal/queue"
)

// serverFixture wires the full pipeline over temp databases and the
// paper venue, the way the container does in production.
type serverFixture struct {
	srv      *Server
	paper    *venue.PaperVenue
	agents   *agents.Repository
	previews *confirmation.Repository
	orders   *execution.Repository
	manager  *events.Manager
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	nopLog := zerolog.New(nil).Level(zerolog.Disabled)
	dir := t.TempDir()

	open := func(name string, profile database.DatabaseProfile) *database.DB {
		db, err := database.New(database.Config{
			Path:    filepath.Join(dir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		require.NoError(t, db.Migrate())
		return db
	}

	ledgerDB := open("ledger", database.ProfileLedger)
	agentsDB := open("agents", database.ProfileStandard)
	cacheDB := open("cache", database.ProfileCache)

	paper := venue.NewPaperVenue(nopLog)
	paper.SetPrice("BTC/USDT", 50000)
	paper.SeedBalance("user-1", "USDT", 100000)

	cacheRepo := cache.NewRepository(cacheDB.Conn())
	agentRepo := agents.NewRepository(agentsDB.Conn(), nopLog)
	signalRepo := signals.NewRepository(agentsDB.Conn(), nopLog)
	queueRepo := queue.NewRepository(cacheDB.Conn(), nopLog)
	previewRepo := confirmation.NewRepository(cacheDB.Conn(), nopLog)
	orderRepo := execution.NewRepository(ledgerDB.Conn(), nopLog)
	perfRepo := performance.NewRepository(agentsDB.Conn(), nopLog)

	bus := events.NewBus(nopLog)
	manager := events.NewManager(bus, nopLog)

	market := marketdata.NewService(paper, cacheRepo, nopLog)
	source := signals.NewMomentumSource(market, nopLog)

	dispatchCfg := config.DispatchConfig{
		MinConfidence:    0.6,
		PriorityCutoff:   80,
		ConfidenceWeight: 70,
		RiskWeight:       30,
		BatchSize:        5,
		FreshnessWindow:  300 * time.Second,
	}
	confirmCfg := config.ConfirmationConfig{
		PreviewTTL:           time.Minute,
		AutoConfirmThreshold: 50,
		MaxAutoPositionValue: 1000,
		MaxAutoSlippage:      0.5,
		FeeRate:              0.001,
	}
	execCfg := config.ExecutionConfig{
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  100,
	}
	posCfg := config.PositionsConfig{
		CheckInterval:        10 * time.Second,
		MaterialityThreshold: 0.5,
		QuoteTTL:             5 * time.Second,
	}
	perfCfg := config.PerformanceConfig{
		Lookback:       720 * time.Hour,
		PeriodsPerYear: 252,
	}

	dispatcher := queue.NewDispatcher(queueRepo, signalRepo, agentRepo, source, manager, dispatchCfg, nopLog)
	validator := confirmation.NewValidator(paper, market, agentRepo, confirmCfg, nopLog)
	tracker := execution.NewTracker(paper, orderRepo, cacheRepo, manager, execCfg, nopLog)
	t.Cleanup(tracker.Stop)
	orderService := execution.NewService(orderRepo, paper, cacheRepo, tracker, execCfg, nopLog)
	previewService := confirmation.NewService(previewRepo, validator, paper, agentRepo, signalRepo, orderService, manager, confirmCfg, nopLog)
	positionService := positions.NewService(orderRepo, paper, cacheRepo, posCfg, nopLog)
	perfService := performance.NewService(orderRepo, perfRepo, perfCfg, nopLog)

	srv := New(0, Deps{
		Dispatcher:  dispatcher,
		Previews:    previewService,
		Orders:      orderService,
		Tracker:     tracker,
		Positions:   positionService,
		Performance: perfService,
		Bus:         bus,
		Databases: map[string]*database.DB{
			"ledger": ledgerDB,
			"agents": agentsDB,
			"cache":  cacheDB,
		},
	}, nopLog)

	return &serverFixture{
		srv:      srv,
		paper:    paper,
		agents:   agentRepo,
		previews: previewRepo,
		orders:   orderRepo,
		manager:  manager,
	}
}

func (f *serverFixture) seedAgent(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.agents.Create(&domain.Agent{
		ID:                   id,
		UserID:               "user-1",
		Name:                 "test agent",
		RiskTolerance:        3,
		MaxPositionSize:      100,
		AutoConfirmThreshold: 50,
		Active:               true,
		CreatedAt:            time.Now().UTC(),
	}))
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestLivenessEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := doRequest(t, f.srv.Router(), http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestGenerateSignalValidatesInput(t *testing.T) {
	f := newServerFixture(t)
	router := f.srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/api/signals/generate",
		map[string]string{"symbol": "BTC/USDT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/signals/generate",
		map[string]string{"agent_id": "agent-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/signals/generate",
		strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateSignalPersistsOutcome(t *testing.T) {
	f := newServerFixture(t)
	f.seedAgent(t, "agent-gen")

	rec := doRequest(t, f.srv.Router(), http.MethodPost, "/api/signals/generate",
		map[string]string{"agent_id": "agent-gen", "symbol": "BTC/USDT"})

	require.Equal(t, http.StatusOK, rec.Code)
	var result queue.EnqueueResult
	decodeJSON(t, rec, &result)
	assert.NotEmpty(t, result.SignalID)
	if !result.Queued {
		assert.NotEmpty(t, result.Reason)
	}
}

func TestGenerateSignalForUnknownAgentFails(t *testing.T) {
	f := newServerFixture(t)

	rec := doRequest(t, f.srv.Router(), http.MethodPost, "/api/signals/generate",
		map[string]string{"agent_id": "missing", "symbol": "BTC/USDT"})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Contains(t, body["error"], "not found")
}

func TestQueueStatsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := doRequest(t, f.srv.Router(), http.MethodGet, "/api/queue/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats queue.Stats
	decodeJSON(t, rec, &stats)
	assert.Equal(t, 0, stats.PriorityDepth)
	assert.Equal(t, 0, stats.StandardDepth)
}

func TestPreviewLifecycleOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	router := f.srv.Router()

	// Cost lands above MaxAutoPositionValue, so the preview waits for a
	// manual confirm instead of auto-confirming on creation.
	rec := doRequest(t, router, http.MethodPost, "/api/orders/preview", domain.OrderRequest{
		UserID:    "user-1",
		Symbol:    "BTC/USDT",
		Side:      domain.OrderSideBuy,
		OrderType: domain.OrderTypeMarket,
		Amount:    0.05,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var preview domain.OrderPreview
	decodeJSON(t, rec, &preview)
	require.NotEmpty(t, preview.ID)
	assert.Equal(t, domain.PreviewStatusPending, preview.Status)
	assert.Positive(t, preview.EstimatedCost)

	rec = doRequest(t, router, http.MethodGet, "/api/orders/preview/"+preview.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched domain.OrderPreview
	decodeJSON(t, rec, &fetched)
	assert.Equal(t, preview.ID, fetched.ID)

	rec = doRequest(t, router, http.MethodPost, "/api/orders/preview/"+preview.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled domain.OrderPreview
	decodeJSON(t, rec, &cancelled)
	assert.Equal(t, domain.PreviewStatusCancelled, cancelled.Status)

	// Confirming a settled preview returns its stored outcome unchanged
	rec = doRequest(t, router, http.MethodPost, "/api/orders/preview/"+preview.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var confirmed domain.OrderPreview
	decodeJSON(t, rec, &confirmed)
	assert.Equal(t, domain.PreviewStatusCancelled, confirmed.Status)
	assert.Empty(t, confirmed.OrderID)
}

func TestPreviewEndpointsReturn404ForUnknownID(t *testing.T) {
	f := newServerFixture(t)
	router := f.srv.Router()

	for _, tc := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/orders/preview/nope"},
		{http.MethodPost, "/api/orders/preview/nope/confirm"},
		{http.MethodPost, "/api/orders/preview/nope/cancel"},
	} {
		rec := doRequest(t, router, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestCreatePreviewValidatesInput(t *testing.T) {
	f := newServerFixture(t)
	router := f.srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/api/orders/preview", domain.OrderRequest{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
		Amount: 0.01,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/orders/preview", domain.OrderRequest{
		UserID: "user-1",
		Symbol: "BTC/USDT",
		Side:   domain.OrderSide("short"),
		Amount: 0.01,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePreviewMaterializesRejections(t *testing.T) {
	f := newServerFixture(t)

	// No balance seeded for this user, so validation fails
	rec := doRequest(t, f.srv.Router(), http.MethodPost, "/api/orders/preview", domain.OrderRequest{
		UserID:    "user-broke",
		Symbol:    "BTC/USDT",
		Side:      domain.OrderSideBuy,
		OrderType: domain.OrderTypeMarket,
		Amount:    0.01,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var preview domain.OrderPreview
	decodeJSON(t, rec, &preview)
	assert.Equal(t, domain.PreviewStatusCancelled, preview.Status)
	assert.NotEmpty(t, preview.Reason)
}

func TestConfirmPreviewExecutesOrder(t *testing.T) {
	f := newServerFixture(t)
	router := f.srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/api/orders/preview", domain.OrderRequest{
		UserID:    "user-1",
		Symbol:    "BTC/USDT",
		Side:      domain.OrderSideBuy,
		OrderType: domain.OrderTypeMarket,
		Amount:    0.05,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var preview domain.OrderPreview
	decodeJSON(t, rec, &preview)
	require.Equal(t, domain.PreviewStatusPending, preview.Status)

	rec = doRequest(t, router, http.MethodPost, "/api/orders/preview/"+preview.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var confirmed domain.OrderPreview
	decodeJSON(t, rec, &confirmed)
	assert.Equal(t, domain.PreviewStatusExecuted, confirmed.Status)
	require.NotEmpty(t, confirmed.OrderID)

	// The paper venue fills immediately; the poller settles the ledger row
	require.Eventually(t, func() bool {
		order, err := f.orders.GetByOrderID(confirmed.OrderID)
		return err == nil && order != nil && order.Status == domain.OrderStatusFilled
	}, 3*time.Second, 20*time.Millisecond)

	rec = doRequest(t, router, http.MethodGet, "/api/orders/history?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Orders []domain.TrackedOrder `json:"orders"`
		Count  int                   `json:"count"`
	}
	decodeJSON(t, rec, &history)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, confirmed.OrderID, history.Orders[0].OrderID)
}

func TestCancelConfirmedPreviewConflicts(t *testing.T) {
	f := newServerFixture(t)

	// A confirmed preview is mid-execution; only the repo can put one
	// in that state without racing the executor.
	require.NoError(t, f.previews.Create(&domain.OrderPreview{
		ID:        "prev-confirmed",
		UserID:    "user-1",
		Symbol:    "BTC/USDT",
		Side:      domain.OrderSideBuy,
		OrderType: domain.OrderTypeMarket,
		Amount:    0.01,
		Status:    domain.PreviewStatusConfirmed,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Minute),
	}))

	rec := doRequest(t, f.srv.Router(), http.MethodPost, "/api/orders/preview/prev-confirmed/cancel", nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	var body map[string]string
	decodeJSON(t, rec, &body)
	assert.Contains(t, body["error"], "already confirmed")
}

func TestOrderHistoryValidatesQuery(t *testing.T) {
	f := newServerFixture(t)
	router := f.srv.Router()

	rec := doRequest(t, router, http.MethodGet, "/api/orders/history", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/orders/history?user_id=user-1&limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/orders/history?user_id=user-1&limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentPositionsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	fill := 50000.0
	now := time.Now().UTC()
	require.NoError(t, f.orders.Create(&domain.TrackedOrder{
		OrderID:         "ord-pos-1",
		UserID:          "user-1",
		AgentID:         "agent-pos",
		Symbol:          "BTC/USDT",
		Side:            domain.OrderSideBuy,
		Amount:          0.5,
		ActualFillPrice: &fill,
		Status:          domain.OrderStatusFilled,
		Timestamp:       now,
		CompletedAt:     &now,
	}))

	rec := doRequest(t, f.srv.Router(), http.MethodGet, "/api/agents/agent-pos/positions", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		AgentID   string            `json:"agent_id"`
		Positions []domain.Position `json:"positions"`
		Count     int               `json:"count"`
	}
	decodeJSON(t, rec, &body)
	assert.Equal(t, "agent-pos", body.AgentID)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "BTC/USDT", body.Positions[0].Symbol)
	assert.InDelta(t, 0.5, body.Positions[0].Quantity, 1e-9)
}

func TestAgentPerformanceSeedsZeroRow(t *testing.T) {
	f := newServerFixture(t)

	rec := doRequest(t, f.srv.Router(), http.MethodGet, "/api/agents/agent-fresh/performance", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var metrics domain.PerformanceMetrics
	decodeJSON(t, rec, &metrics)
	assert.Equal(t, "agent-fresh", metrics.AgentID)
	assert.Equal(t, 0, metrics.TotalTrades)
	assert.Zero(t, metrics.TotalPnL)
}

func TestSystemHealthReportsComponents(t *testing.T) {
	f := newServerFixture(t)

	rec := doRequest(t, f.srv.Router(), http.MethodGet, "/api/system/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status          string            `json:"status"`
		UptimeSeconds   int64             `json:"uptime_seconds"`
		Databases       map[string]string `json:"databases"`
		Queue           map[string]int    `json:"queue"`
		InflightPollers int               `json:"inflight_pollers"`
	}
	decodeJSON(t, rec, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Len(t, body.Databases, 3)
	for name, state := range body.Databases {
		assert.Equal(t, "ok", state, name)
	}
	assert.Equal(t, 0, body.Queue["priority_depth"])
	assert.Equal(t, 0, body.InflightPollers)
}

func TestEventsStreamDeliversEvents(t *testing.T) {
	f := newServerFixture(t)
	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/api/events/stream?types=PNL_CHANGED", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	// The connected message arrives before any events
	first := readSSEData(t, reader)
	assert.Contains(t, first, "connected")

	f.manager.EmitTyped(events.PnLChanged, "positions", &events.PnLChangedData{
		AgentID:       "agent-1",
		TradeID:       "ord-1",
		Symbol:        "BTC/USDT",
		PreviousPnL:   10,
		CurrentPnL:    12,
		ChangePercent: 20,
	})

	event := readSSEData(t, reader)
	assert.Contains(t, event, "PNL_CHANGED")
	assert.Contains(t, event, "BTC/USDT")
}

func TestEventsStreamFiltersTypes(t *testing.T) {
	f := newServerFixture(t)
	ts := httptest.NewServer(f.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/api/events/stream?types=ORDER_COMPLETED", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	_ = readSSEData(t, reader) // connected

	// An event outside the filter is never forwarded
	f.manager.EmitTyped(events.PnLChanged, "positions", &events.PnLChangedData{
		AgentID: "agent-1",
		TradeID: "ord-1",
		Symbol:  "BTC/USDT",
	})
	f.manager.EmitTyped(events.OrderCompleted, "execution", &events.OrderCompletedData{
		OrderID: "ord-through",
		AgentID: "agent-1",
		Symbol:  "BTC/USDT",
	})

	event := readSSEData(t, reader)
	assert.Contains(t, event, "ORDER_COMPLETED")
	assert.NotContains(t, event, "PNL_CHANGED")
}

// readSSEData returns the next data payload from an SSE stream,
// skipping blank keepalive lines.
func readSSEData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}
