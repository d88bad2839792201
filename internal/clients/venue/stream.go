package venue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/domain"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// No tick for this long means the feed is effectively down
	streamStaleThreshold = time.Minute
)

// PriceStream maintains a websocket subscription to the venue's quote
// feed and writes each tick into the quotes cache. Consumers read quotes
// through the cache; when the stream is down they fall back to REST.
type PriceStream struct {
	url        string
	symbols    []string
	httpClient *http.Client // forced to HTTP/1.1 for the upgrade handshake
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	cache *cache.Repository
	log   zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	tickMu   sync.RWMutex
	lastTick time.Time
}

// createHTTP1Client creates an HTTP client that forces HTTP/1.1.
// Proxies that negotiate HTTP/2 via TLS ALPN break the websocket
// upgrade, so only http/1.1 is advertised.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewPriceStream creates a quote stream for the given symbols.
func NewPriceStream(url string, symbols []string, cacheRepo *cache.Repository, log zerolog.Logger) *PriceStream {
	return &PriceStream{
		url:        url,
		symbols:    symbols,
		httpClient: createHTTP1Client(),
		cache:      cacheRepo,
		log:        log.With().Str("component", "price_stream").Logger(),
		stopChan:   make(chan struct{}),
	}
}

// Start connects and begins the read loop. A failed initial connection
// is not fatal; reconnection continues in the background.
func (ps *PriceStream) Start() error {
	ps.log.Info().Str("url", ps.url).Int("symbols", len(ps.symbols)).Msg("Starting price stream")

	if err := ps.Connect(); err != nil {
		ps.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go ps.reconnectLoop()
		return err
	}

	ps.mu.RLock()
	ctx := ps.connCtx
	ps.mu.RUnlock()
	go ps.readMessages(ctx)

	return nil
}

// Stop gracefully shuts down the stream.
func (ps *PriceStream) Stop() error {
	ps.mu.Lock()
	if ps.stopped {
		ps.mu.Unlock()
		return nil
	}
	ps.stopped = true
	ps.mu.Unlock()

	ps.log.Info().Msg("Stopping price stream")
	close(ps.stopChan)
	return ps.Disconnect()
}

// Connect dials the feed and subscribes to the configured symbols.
func (ps *PriceStream) Connect() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, ps.url, &websocket.DialOptions{
		HTTPClient: ps.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	ps.conn = conn
	ps.connCtx = connCtx
	ps.cancelFunc = connCancel
	ps.connected = true

	if err := ps.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		ps.conn = nil
		ps.connCtx = nil
		ps.cancelFunc = nil
		ps.connected = false
		return fmt.Errorf("failed to subscribe to quotes: %w", err)
	}

	ps.log.Info().Msg("Connected to venue quote stream")
	return nil
}

// Disconnect closes the websocket connection.
func (ps *PriceStream) Disconnect() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.conn == nil {
		return nil
	}

	if ps.cancelFunc != nil {
		ps.cancelFunc()
		ps.cancelFunc = nil
	}

	err := ps.conn.Close(websocket.StatusNormalClosure, "")
	ps.conn = nil
	ps.connCtx = nil
	ps.connected = false

	if err != nil {
		return fmt.Errorf("error closing websocket: %w", err)
	}
	return nil
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

func (ps *PriceStream) subscribe(ctx context.Context) error {
	msg := subscribeMessage{Op: "subscribe", Channel: "quotes", Symbols: ps.symbols}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := ps.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription: %w", err)
	}
	return nil
}

func (ps *PriceStream) readMessages(ctx context.Context) {
	defer func() {
		ps.mu.RLock()
		stopped := ps.stopped
		ps.mu.RUnlock()
		if !stopped {
			go ps.reconnectLoop()
		}
	}()

	for {
		select {
		case <-ps.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		ps.mu.RLock()
		conn := ps.conn
		ps.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				ps.log.Info().Int("status", int(closeStatus)).Msg("Stream closed normally")
			} else if ctx.Err() == nil {
				ps.log.Error().Err(err).Msg("Unexpected stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := ps.handleMessage(message); err != nil {
			ps.log.Error().Err(err).Msg("Failed to handle stream message")
			// Keep reading despite bad frames
		}
	}
}

type streamQuote struct {
	Symbol    string  `json:"symbol"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Last      float64 `json:"last"`
	Timestamp int64   `json:"ts"`
}

func (ps *PriceStream) handleMessage(message []byte) error {
	var tick streamQuote
	if err := json.Unmarshal(message, &tick); err != nil {
		return fmt.Errorf("failed to parse quote frame: %w", err)
	}
	if tick.Symbol == "" {
		return nil
	}

	quote := domain.Quote{
		Symbol:    tick.Symbol,
		Bid:       tick.Bid,
		Ask:       tick.Ask,
		Last:      tick.Last,
		Timestamp: time.UnixMilli(tick.Timestamp),
	}
	if tick.Timestamp == 0 {
		quote.Timestamp = time.Now()
	}

	if err := ps.cache.Store("quotes", tick.Symbol, quote, cache.TTLQuote); err != nil {
		return fmt.Errorf("failed to cache quote: %w", err)
	}

	ps.tickMu.Lock()
	ps.lastTick = time.Now()
	ps.tickMu.Unlock()

	return nil
}

// reconnectLoop retries with exponential backoff until stopped.
func (ps *PriceStream) reconnectLoop() {
	ps.mu.Lock()
	if ps.reconnecting || ps.stopped {
		ps.mu.Unlock()
		return
	}
	ps.reconnecting = true
	ps.mu.Unlock()

	defer func() {
		ps.mu.Lock()
		ps.reconnecting = false
		ps.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-ps.stopChan:
			return
		default:
		}

		ps.mu.RLock()
		stopped := ps.stopped
		ps.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := calculateBackoff(attempt)

		if attempt <= maxReconnectAttempts {
			ps.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to quote stream")
		} else {
			ps.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to quote stream (past max attempts, still trying)")
		}

		select {
		case <-time.After(delay):
		case <-ps.stopChan:
			return
		}

		if err := ps.Connect(); err != nil {
			ps.log.Error().Err(err).Int("attempt", attempt).Msg("Reconnection failed")
			continue
		}

		ps.log.Info().Int("attempt", attempt).Msg("Reconnected to quote stream")

		ps.mu.RLock()
		ctx := ps.connCtx
		ps.mu.RUnlock()
		go ps.readMessages(ctx)
		return
	}
}

func calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// IsConnected reports the current connection state.
func (ps *PriceStream) IsConnected() bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.connected
}

// IsStale reports whether no tick has arrived within the staleness
// threshold. Used by the health check.
func (ps *PriceStream) IsStale() bool {
	ps.tickMu.RLock()
	defer ps.tickMu.RUnlock()

	if ps.lastTick.IsZero() {
		return true
	}
	return time.Since(ps.lastTick) > streamStaleThreshold
}
