// Package di provides dependency injection for database connections.
package di

import (
	"fmt"

	"github.com/ametov/tradewind/internal/config"
	"github.com/ametov/tradewind/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases initializes all 3 databases and applies schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. ledger.db - Completed order audit trail
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/ledger.db",
		Profile: database.ProfileLedger, // Maximum safety for the audit trail
		Name:    "ledger",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	// 2. agents.db - Agent registry, signal log, performance metrics
	agentsDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/agents.db",
		Profile: database.ProfileStandard,
		Name:    "agents",
	})
	if err != nil {
		ledgerDB.Close()
		return nil, fmt.Errorf("failed to initialize agents database: %w", err)
	}
	container.AgentsDB = agentsDB

	// 3. cache.db - Ephemeral pipeline state (queue, previews, quotes, tracked orders)
	cacheDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/cache.db",
		Profile: database.ProfileCache, // Maximum speed for ephemeral data
		Name:    "cache",
	})
	if err != nil {
		ledgerDB.Close()
		agentsDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	// Apply schemas to all databases (single source of truth)
	for _, db := range []*database.DB{ledgerDB, agentsDB, cacheDB} {
		if err := db.Migrate(); err != nil {
			ledgerDB.Close()
			agentsDB.Close()
			cacheDB.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Msg("All databases initialized and schemas applied")

	return container, nil
}
