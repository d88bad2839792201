// Package di provides dependency injection for repository implementations.
package di

import (
	"fmt"

	"github.com/ametov/tradewind/internal/cache"
	"github.com/ametov/tradewind/internal/modules/agents"
	"github.com/ametov/tradewind/internal/modules/confirmation"
	"github.com/ametov/tradewind/internal/modules/execution"
	"github.com/ametov/tradewind/internal/modules/performance"
	"github.com/ametov/tradewind/internal/modules/signals"
	"github.com/ametov/tradewind/internal/queue"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates all repositories and stores them in the container
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	// Cache repository (needs cacheDB) - quotes, candles, PnL marks
	container.CacheRepo = cache.NewRepository(container.CacheDB.Conn())

	// Agent repository (needs agentsDB)
	container.AgentRepo = agents.NewRepository(container.AgentsDB.Conn(), log)

	// Signal repository (needs agentsDB) - signals live next to the agents that emit them
	container.SignalRepo = signals.NewRepository(container.AgentsDB.Conn(), log)

	// Queue repository (needs cacheDB) - queued signals are rebuildable state
	container.QueueRepo = queue.NewRepository(container.CacheDB.Conn(), log)

	// Preview repository (needs cacheDB) - previews expire, so they live with cache state
	container.PreviewRepo = confirmation.NewRepository(container.CacheDB.Conn(), log)

	// Order repository (needs ledgerDB) - completed orders are the audit trail
	container.OrderRepo = execution.NewRepository(container.LedgerDB.Conn(), log)

	// Performance metrics repository (needs agentsDB)
	container.MetricsRepo = performance.NewRepository(container.AgentsDB.Conn(), log)

	log.Info().Msg("All repositories initialized")

	return nil
}
