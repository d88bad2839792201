/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the HTTP server for access to services.
 */
package di

import (
	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/clients/venue"
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
	"github.com/ametov/tradewind/internal/reliability"
	"github.com/ametov/tradewind/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * This is the single source of truth for all service instances.
 * The container is created by Wire() and handed to the HTTP server.
 *
 * Architecture:
 * - Databases: 3-database architecture (ledger, agents, cache)
 * - Clients: venue client (paper or HTTP) plus an optional quote stream
 * - Repositories: data access layer (queue, previews, orders, metrics, etc.)
 * - Services: pipeline stages (dispatch, confirmation, execution, positions, performance)
 * - Scheduler: cron runner driving the recurring jobs
 *
 * All dependencies are injected via constructor injection.
 */
type Container struct {
	// Databases (3-database architecture)
	// Each database uses SQLite with WAL mode and profile-specific PRAGMAs
	LedgerDB *database.DB // Completed order audit trail
	AgentsDB *database.DB // Agent registry, signal log, performance metrics
	CacheDB  *database.DB // Ephemeral pipeline state (queue, previews, quotes, tracked orders)

	// Clients - venue integrations
	Venue       domain.VenueClient // Order submission and market data (paper or HTTP)
	PriceStream *venue.PriceStream // Quote stream feeding the cache (nil unless configured)

	// Repositories - data access layer
	CacheRepo   *cache.Repository        // Quotes, candles, PnL marks (cache.db)
	AgentRepo   *agents.Repository       // Trading agents (agents.db)
	SignalRepo  *signals.Repository      // Signal log (agents.db)
	QueueRepo   *queue.Repository        // Signal queue (cache.db)
	PreviewRepo *confirmation.Repository // Order previews (cache.db)
	OrderRepo   *execution.Repository    // Completed orders (ledger.db)
	MetricsRepo *performance.Repository  // Per-agent performance metrics (agents.db)

	// Events - in-process pub/sub
	EventBus     *events.Bus
	EventManager *events.Manager

	// Services - pipeline stages
	MarketData    *marketdata.Service   // Cached quote/candle reads over the venue
	SignalSource  domain.SignalSource   // Momentum signal generator
	Dispatcher    *queue.Dispatcher     // Signal admission, scoring and enqueue
	Worker        *queue.Worker         // Batch drain from queue into previews
	Validator     domain.OrderValidator // Pre-trade checks
	Confirmations *confirmation.Service // Preview lifecycle and confirm-to-execute handoff
	Tracker       *execution.Tracker    // Fill polling for submitted orders
	Executions    *execution.Service    // Order submission
	Positions     *positions.Service    // Open exposure derived from the ledger
	ExitAdvisor   domain.ExitAdvisor    // Stop-loss/take-profit rule tables
	Monitor       *positions.MonitorJob // Recurring position check and exit trigger
	Performance   *performance.Service  // Metrics recomputed on order completion

	// Backups - off-site database copies (nil unless a bucket is configured)
	Backups *reliability.BackupService

	// Scheduler - recurring job runner
	Scheduler *scheduler.Scheduler
}
