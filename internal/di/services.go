// Package di provides dependency injection for service implementations.
package di

import (
	"fmt"

	"github.com/ametov/tradewind/internal/clients/venue"
	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/events"
	"github.com/ametov/tradewind/internal/marketdata"
	"github.com/ametov/tradewind/internal/modules/confirmation"
	"github.com/ametov/tradewind/internal/modules/execution"
	"github.com/ametov/tradewind/internal/modules/performance"
	"github.com/ametov/tradewind/internal/modules/positions"
	"github.com/ametov/tradewind/internal/modules/signals"
	"github.com/ametov/tradewind/internal/queue"
	"github.com/rs/zerolog"
)

// InitializeServices creates all services and stores them in the container.
// Construction order follows the dependency graph: events and venue first,
// then market data, then the pipeline stages from execution backwards so
// each stage can hand its successor to the one before it.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Event bus and typed emitter
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	// Venue client. An empty URL selects the built-in paper venue, which
	// fills orders locally against seeded balances.
	if cfg.VenueURL == "" {
		container.Venue = venue.NewPaperVenue(log)
		log.Info().Msg("No venue URL configured, using paper venue")
	} else {
		container.Venue = venue.NewClient(cfg.VenueURL, cfg.VenueAPIKey, cfg.VenueAPISecret, cfg.VenueRateLimit, log)
	}

	// Optional quote stream. Keeps the cache warm so position checks skip
	// REST lookups for the subscribed symbols.
	if cfg.VenueStreamURL != "" {
		container.PriceStream = venue.NewPriceStream(cfg.VenueStreamURL, cfg.VenueStreamSymbols, container.CacheRepo, log)
	}

	// Market data reads (needs venue and cache)
	container.MarketData = marketdata.NewService(container.Venue, container.CacheRepo, log)

	// Signal generation (needs market data)
	container.SignalSource = signals.NewMomentumSource(container.MarketData, log)

	// Dispatcher: admission, priority scoring and enqueue
	container.Dispatcher = queue.NewDispatcher(
		container.QueueRepo,
		container.SignalRepo,
		container.AgentRepo,
		container.SignalSource,
		container.EventManager,
		cfg.Dispatch,
		log,
	)

	// Execution: fill tracking first, then the submission service that feeds it
	container.Tracker = execution.NewTracker(
		container.Venue,
		container.OrderRepo,
		container.CacheRepo,
		container.EventManager,
		cfg.Execution,
		log,
	)
	container.Executions = execution.NewService(
		container.OrderRepo,
		container.Venue,
		container.CacheRepo,
		container.Tracker,
		cfg.Execution,
		log,
	)

	// Confirmation: pre-trade validation and the preview lifecycle
	container.Validator = confirmation.NewValidator(
		container.Venue,
		container.MarketData,
		container.AgentRepo,
		cfg.Confirmation,
		log,
	)
	container.Confirmations = confirmation.NewService(
		container.PreviewRepo,
		container.Validator,
		container.Venue,
		container.AgentRepo,
		container.SignalRepo,
		container.Executions,
		container.EventManager,
		cfg.Confirmation,
		log,
	)

	// Queue worker drains signal batches into previews
	container.Worker = queue.NewWorker(
		container.QueueRepo,
		container.SignalRepo,
		container.AgentRepo,
		container.Confirmations,
		container.EventManager,
		cfg.Dispatch,
		log,
	)

	// Positions: open exposure and unrealized PnL derived from the ledger
	container.Positions = positions.NewService(
		container.OrderRepo,
		container.Venue,
		container.CacheRepo,
		cfg.Positions,
		log,
	)

	// Exit rules. Missing path falls back to the built-in tables; a present
	// but malformed file is a configuration error worth failing startup over.
	rules, err := config.LoadExitRules(cfg.ExitRulesPath)
	if err != nil {
		return fmt.Errorf("failed to load exit rules: %w", err)
	}
	container.ExitAdvisor = positions.NewRuleAdvisor(rules, log)

	// Position monitor: recurring check that feeds exits straight to execution
	container.Monitor = positions.NewMonitorJob(
		container.AgentRepo,
		container.Positions,
		container.ExitAdvisor,
		container.MarketData,
		container.CacheRepo,
		container.Executions,
		container.EventManager,
		cfg.Positions,
		log,
	)

	// Performance: metrics recomputed from the ledger on every completion event
	container.Performance = performance.NewService(
		container.OrderRepo,
		container.MetricsRepo,
		cfg.Performance,
		log,
	)
	container.EventBus.Subscribe(events.OrderCompleted, container.Performance.HandleOrderCompleted)

	log.Info().Msg("All services initialized")

	return nil
}
