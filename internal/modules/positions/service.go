// Package positions derives open positions from the order ledger and
// watches them for material P&L moves and exit conditions. Positions are
// recomputed from filled orders on every check; nothing here is a source
// of truth.
package positions

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/domain"
)

// minLotQuantity is the dust threshold below which a lot counts as closed.
const minLotQuantity = 1e-9

// OrderSource supplies the ledger views position derivation needs:
// settled fills to build lots from, unsettled orders to reserve against.
type OrderSource interface {
	GetFilledByAgent(agentID string) ([]domain.TrackedOrder, error)
	GetUnsettledByAgent(agentID string) ([]domain.TrackedOrder, error)
}

// Service derives an agent's open positions and prices them.
type Service struct {
	orders OrderSource
	venue  domain.VenueClient
	cache  *cache.Repository
	cfg    config.PositionsConfig
	log    zerolog.Logger
}

// NewService creates the positions service.
func NewService(orders OrderSource, venue domain.VenueClient, cacheRepo *cache.Repository, cfg config.PositionsConfig, log zerolog.Logger) *Service {
	return &Service{
		orders: orders,
		venue:  venue,
		cache:  cacheRepo,
		cfg:    cfg,
		log:    log.With().Str("service", "positions").Logger(),
	}
}

// GetAgentPositions rebuilds the agent's open positions from filled
// orders and prices them with the current quote. Symbols without a
// resolvable price are skipped rather than failing the whole set.
func (s *Service) GetAgentPositions(ctx context.Context, agentID string) ([]domain.Position, error) {
	filled, err := s.orders.GetFilledByAgent(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load filled orders: %w", err)
	}
	unsettled, err := s.orders.GetUnsettledByAgent(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unsettled orders: %w", err)
	}

	lots := deriveLots(filled, unsettled)
	if len(lots) == 0 {
		return nil, nil
	}

	positions := make([]domain.Position, 0, len(lots))
	for _, l := range lots {
		quote, err := s.quote(ctx, l.order.Symbol)
		if err != nil {
			s.log.Warn().Err(err).
				Str("agent_id", agentID).
				Str("symbol", l.order.Symbol).
				Msg("No price for open position, skipping")
			continue
		}

		entry := *l.order.ActualFillPrice
		pnl := (quote.Last - entry) * l.remaining
		pnlPercent := 0.0
		if entry > 0 {
			pnlPercent = (quote.Last - entry) / entry * 100
		}

		openedAt := l.order.Timestamp
		if l.order.CompletedAt != nil {
			openedAt = *l.order.CompletedAt
		}

		positions = append(positions, domain.Position{
			AgentID:              agentID,
			TradeID:              l.order.OrderID,
			Symbol:               l.order.Symbol,
			Side:                 domain.OrderSideBuy,
			Quantity:             l.remaining,
			EntryPrice:           entry,
			CurrentPrice:         quote.Last,
			UnrealizedPnL:        pnl,
			UnrealizedPnLPercent: pnlPercent,
			OpenedAt:             openedAt,
		})
	}

	return positions, nil
}

// quote returns the symbol's price, serving the short-lived cache first
// so a monitoring pass over many positions does not hammer the venue.
func (s *Service) quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var cached domain.Quote
	found, err := s.cache.GetIfFresh("quotes", symbol, &cached)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Quote cache read failed")
	}
	if found {
		return &cached, nil
	}

	quote, err := s.venue.GetQuote(ctx, symbol)
	if err != nil {
		// A stale price still beats dropping the position from the check
		var stale domain.Quote
		if ok, cacheErr := s.cache.Get("quotes", symbol, &stale); cacheErr == nil && ok {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("Venue quote unavailable, serving stale cache")
			return &stale, nil
		}
		return nil, fmt.Errorf("failed to fetch quote for %s: %w", symbol, err)
	}

	ttl := s.cfg.QuoteTTL
	if ttl <= 0 {
		ttl = cache.TTLQuote
	}
	if err := s.cache.Store("quotes", symbol, quote, ttl); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Quote cache write failed")
	}

	return quote, nil
}

// lot is an open slice of a filled buy order.
type lot struct {
	order     *domain.TrackedOrder
	remaining float64
}

// deriveLots replays the agent's fills oldest-first: buys open lots,
// sells consume them FIFO per symbol. Unsettled sells reserve quantity
// the same way, so a position with a closing order in flight does not
// look open and cannot be exited twice.
func deriveLots(filled, unsettled []domain.TrackedOrder) []lot {
	bySymbol := make(map[string][]*lot)
	var ordered []*lot

	for i := range filled {
		order := &filled[i]
		switch order.Side {
		case domain.OrderSideBuy:
			if order.ActualFillPrice == nil || *order.ActualFillPrice <= 0 {
				continue
			}
			l := &lot{order: order, remaining: order.Amount}
			bySymbol[order.Symbol] = append(bySymbol[order.Symbol], l)
			ordered = append(ordered, l)
		case domain.OrderSideSell:
			consume(bySymbol, order.Symbol, order.Amount)
		}
	}

	for i := range unsettled {
		order := &unsettled[i]
		if order.Side == domain.OrderSideSell {
			consume(bySymbol, order.Symbol, order.Amount)
		}
	}

	open := make([]lot, 0, len(ordered))
	for _, l := range ordered {
		if l.remaining > minLotQuantity {
			open = append(open, *l)
		}
	}
	return open
}

// consume applies a sell to a symbol's open lots, oldest first.
func consume(bySymbol map[string][]*lot, symbol string, amount float64) {
	for _, l := range bySymbol[symbol] {
		if amount <= minLotQuantity {
			return
		}
		take := l.remaining
		if take > amount {
			take = amount
		}
		l.remaining -= take
		amount -= take
	}
}
