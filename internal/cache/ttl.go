package cache

import "time"

// TTL constants per cached data type.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// TTLQuote bounds venue price-lookup rate during position checks.
	TTLQuote = 5 * time.Second

	// TTLCandles covers indicator inputs; bars move slowly relative to quotes.
	TTLCandles = time.Minute

	// TTLTrackedOrder covers the active polling window plus slack. A crashed
	// poller leaves nothing behind once this elapses.
	TTLTrackedOrder = 10 * time.Minute

	// TTLPnLMark keeps last-recorded P&L across monitor cycles; positions
	// closed for a day stop carrying marks.
	TTLPnLMark = 24 * time.Hour
)
