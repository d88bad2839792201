package execution

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
	"github.com/ametov/tradewind/internal/events"
)

const (
	// pollRequestTimeout bounds a single status call, not the whole session.
	pollRequestTimeout = 10 * time.Second

	// maxConsecutivePollErrors aborts a session the venue keeps failing.
	// The order stays unsettled so the reconcile job picks it up again.
	maxConsecutivePollErrors = 10

	// fillPriceScanDepth is how far back the order history fallback looks.
	fillPriceScanDepth = 50
)

// Tracker polls submitted orders until they settle, time out, or the
// venue stops answering. Each order id has exactly one polling goroutine.
type Tracker struct {
	venue  domain.VenueClient
	repo   *Repository
	cache  *cache.Repository
	events *events.Manager
	cfg    config.ExecutionConfig
	log    zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTracker creates an order tracker.
func NewTracker(venue domain.VenueClient, repo *Repository, cacheRepo *cache.Repository, eventManager *events.Manager, cfg config.ExecutionConfig, log zerolog.Logger) *Tracker {
	return &Tracker{
		venue:    venue,
		repo:     repo,
		cache:    cacheRepo,
		events:   eventManager,
		cfg:      cfg,
		log:      log.With().Str("component", "order_tracker").Logger(),
		inflight: make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Track starts a polling session for the order. Calling it again while a
// session for the same order id is running is a no-op, so submissions and
// reconcile sweeps can overlap safely.
func (t *Tracker) Track(order *domain.TrackedOrder) {
	t.mu.Lock()
	if _, running := t.inflight[order.OrderID]; running {
		t.mu.Unlock()
		return
	}
	t.inflight[order.OrderID] = struct{}{}
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.release(order.OrderID)
		t.poll(order)
	}()
}

// Stop halts all polling sessions and waits for them to exit. Orders
// still in flight stay unsettled and are re-adopted by the reconcile job
// on the next start.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
	t.wg.Wait()
}

func (t *Tracker) release(orderID string) {
	t.mu.Lock()
	delete(t.inflight, orderID)
	t.mu.Unlock()
}

// InFlight reports how many polling sessions are currently running.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// poll checks the order immediately, then at the configured interval up
// to the attempt cap. Three exits: a terminal status settles the order,
// an exhausted cap reports a timeout, repeated venue failures abort.
func (t *Tracker) poll(order *domain.TrackedOrder) {
	lastStatus := order.Status
	consecutiveErrors := 0

	for attempt := 0; attempt < t.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-t.stopCh:
				return
			case <-time.After(t.cfg.PollInterval):
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), pollRequestTimeout)
		state, err := t.venue.GetOrderStatus(ctx, order.OrderID)
		cancel()
		if err != nil {
			consecutiveErrors++
			t.log.Warn().Err(err).
				Str("order_id", order.OrderID).
				Int("attempt", attempt+1).
				Msg("Order status poll failed")
			if consecutiveErrors >= maxConsecutivePollErrors {
				t.abort(order, lastStatus, err)
				return
			}
			continue
		}
		consecutiveErrors = 0
		lastStatus = state.Status
		t.cacheSnapshot(order, state)

		if state.Status.IsTerminal() {
			t.complete(order, state)
			return
		}
	}

	t.timeout(order, lastStatus)
}

// complete settles a terminal order: resolve the fill price, derive
// profit against the expected price, persist, publish.
func (t *Tracker) complete(order *domain.TrackedOrder, state *domain.VenueOrderState) {
	now := time.Now().UTC()
	order.Status = state.Status
	order.CompletedAt = &now

	if state.Status == domain.OrderStatusFilled {
		fillPrice := state.AvgFillPrice
		if fillPrice <= 0 {
			fillPrice = t.resolveFillPrice(order)
		}
		if fillPrice > 0 {
			order.ActualFillPrice = &fillPrice
			if order.ExpectedPrice != nil {
				profit := (fillPrice - *order.ExpectedPrice) * order.Amount * order.Side.Sign()
				order.Profit = &profit
			}
		} else {
			t.log.Warn().
				Str("order_id", order.OrderID).
				Msg("Filled order settled without a resolvable fill price")
		}
		if state.Fee > 0 {
			fee := state.Fee
			order.Fees = &fee
		}
	}

	recorded, err := t.repo.RecordCompletion(order)
	if err != nil {
		t.log.Error().Err(err).
			Str("order_id", order.OrderID).
			Msg("Failed to record order completion")
	} else if !recorded {
		// Someone already settled this order. Consumers are idempotent,
		// no need to publish twice.
		return
	}

	if err := t.cache.Store("tracked_orders", order.OrderID, order, cache.TTLTrackedOrder); err != nil {
		t.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("Tracked order cache write failed")
	}

	t.events.EmitTyped(events.OrderCompleted, "execution", &events.OrderCompletedData{
		OrderID:         order.OrderID,
		UserID:          order.UserID,
		AgentID:         order.AgentID,
		Symbol:          order.Symbol,
		Side:            string(order.Side),
		Status:          string(order.Status),
		Amount:          order.Amount,
		ActualFillPrice: order.ActualFillPrice,
		Profit:          order.Profit,
		Fees:            order.Fees,
		TimedOut:        false,
	})

	t.log.Info().
		Str("order_id", order.OrderID).
		Str("agent_id", order.AgentID).
		Str("symbol", order.Symbol).
		Str("status", string(order.Status)).
		Msg("Order settled")
}

// timeout reports an order whose tracking window elapsed. This is an
// expected condition, not an error: the order keeps its last observed
// status in the ledger and the completion event carries the flag.
func (t *Tracker) timeout(order *domain.TrackedOrder, lastStatus domain.OrderStatus) {
	if err := t.repo.MarkTimedOut(order.OrderID, lastStatus); err != nil {
		t.log.Error().Err(err).
			Str("order_id", order.OrderID).
			Msg("Failed to mark order timed out")
	}

	t.events.EmitTyped(events.OrderCompleted, "execution", &events.OrderCompletedData{
		OrderID:  order.OrderID,
		UserID:   order.UserID,
		AgentID:  order.AgentID,
		Symbol:   order.Symbol,
		Side:     string(order.Side),
		Status:   string(lastStatus),
		Amount:   order.Amount,
		TimedOut: true,
	})

	t.log.Warn().
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("last_status", string(lastStatus)).
		Int("attempts", t.cfg.MaxAttempts).
		Msg("Order tracking timed out before a terminal status")
}

// abort gives up on a session the venue keeps failing. The order stays
// unsettled in the ledger, so the reconcile job retries it later with a
// fresh attempt budget.
func (t *Tracker) abort(order *domain.TrackedOrder, lastStatus domain.OrderStatus, err error) {
	t.events.EmitError("execution", err, map[string]interface{}{
		"order_id": order.OrderID,
		"symbol":   order.Symbol,
	})
	t.log.Error().Err(err).
		Str("order_id", order.OrderID).
		Str("last_status", string(lastStatus)).
		Msg("Order tracking aborted after repeated poll failures")
}

// cacheSnapshot keeps the tracked-order cache current with the latest
// observed state. The cache is the first stop when a terminal update
// arrives without a fill price.
func (t *Tracker) cacheSnapshot(order *domain.TrackedOrder, state *domain.VenueOrderState) {
	snapshot := *order
	snapshot.Status = state.Status
	if state.AvgFillPrice > 0 {
		price := state.AvgFillPrice
		snapshot.ActualFillPrice = &price
	}
	if state.Fee > 0 {
		fee := state.Fee
		snapshot.Fees = &fee
	}

	if err := t.cache.Store("tracked_orders", order.OrderID, &snapshot, cache.TTLTrackedOrder); err != nil {
		t.log.Warn().Err(err).Str("order_id", order.OrderID).Msg("Tracked order cache write failed")
	}
}

// resolveFillPrice recovers a fill price for a filled order whose status
// update did not carry one. Cheapest source first: the cached tracked
// order, then a direct status call, then a scan of recent order history.
func (t *Tracker) resolveFillPrice(order *domain.TrackedOrder) float64 {
	var cached domain.TrackedOrder
	if found, err := t.cache.Get("tracked_orders", order.OrderID, &cached); err == nil && found {
		if cached.ActualFillPrice != nil && *cached.ActualFillPrice > 0 {
			return *cached.ActualFillPrice
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), pollRequestTimeout)
	defer cancel()

	if state, err := t.venue.GetOrderStatus(ctx, order.OrderID); err == nil && state.AvgFillPrice > 0 {
		return state.AvgFillPrice
	}

	history, err := t.venue.GetOrderHistory(ctx, order.UserID, fillPriceScanDepth)
	if err != nil {
		t.log.Warn().Err(err).
			Str("order_id", order.OrderID).
			Msg("Order history scan for fill price failed")
		return 0
	}
	for _, state := range history {
		if state.OrderID == order.OrderID && state.AvgFillPrice > 0 {
			return state.AvgFillPrice
		}
	}

	return 0
}
