package di

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ametov/tradewind/internal/clients/venue"
	"github.com/ametov/tradewind/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:      t.TempDir(),
		Dispatch:     config.DispatchConfig{DrainInterval: 5 * time.Second},
		Confirmation: config.ConfirmationConfig{SweepInterval: time.Minute},
		Positions:    config.PositionsConfig{CheckInterval: 10 * time.Second},
	}
}

func closeContainer(t *testing.T, container *Container) {
	t.Helper()
	t.Cleanup(func() {
		if container == nil {
			return
		}
		// Stop background pollers before closing their databases
		container.Tracker.Stop()
		container.LedgerDB.Close()
		container.AgentsDB.Close()
		container.CacheDB.Close()
	})
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)
	log := zerolog.Nop()

	container, err := Wire(cfg, log)
	require.NoError(t, err)
	require.NotNil(t, container)
	closeContainer(t, container)

	// Databases
	assert.NotNil(t, container.LedgerDB)
	assert.NotNil(t, container.AgentsDB)
	assert.NotNil(t, container.CacheDB)

	// Repositories
	assert.NotNil(t, container.CacheRepo)
	assert.NotNil(t, container.AgentRepo)
	assert.NotNil(t, container.SignalRepo)
	assert.NotNil(t, container.QueueRepo)
	assert.NotNil(t, container.PreviewRepo)
	assert.NotNil(t, container.OrderRepo)
	assert.NotNil(t, container.MetricsRepo)

	// Services
	assert.NotNil(t, container.EventBus)
	assert.NotNil(t, container.EventManager)
	assert.NotNil(t, container.MarketData)
	assert.NotNil(t, container.SignalSource)
	assert.NotNil(t, container.Dispatcher)
	assert.NotNil(t, container.Worker)
	assert.NotNil(t, container.Validator)
	assert.NotNil(t, container.Confirmations)
	assert.NotNil(t, container.Tracker)
	assert.NotNil(t, container.Executions)
	assert.NotNil(t, container.Positions)
	assert.NotNil(t, container.ExitAdvisor)
	assert.NotNil(t, container.Monitor)
	assert.NotNil(t, container.Performance)
	assert.NotNil(t, container.Scheduler)

	// No venue URL selects the paper venue, no stream, no backups
	_, isPaper := container.Venue.(*venue.PaperVenue)
	assert.True(t, isPaper)
	assert.Nil(t, container.PriceStream)
	assert.Nil(t, container.Backups)
}

func TestWireSelectsHTTPVenue(t *testing.T) {
	cfg := testConfig(t)
	cfg.VenueURL = "https://venue.example.com"
	cfg.VenueStreamURL = "wss://venue.example.com/stream"
	cfg.VenueStreamSymbols = []string{"BTC/USDT", "ETH/USDT"}
	cfg.VenueRateLimit = 5

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	closeContainer(t, container)

	_, isHTTP := container.Venue.(*venue.Client)
	assert.True(t, isHTTP)

	// Stream is constructed but not started; main owns its lifecycle
	assert.NotNil(t, container.PriceStream)
}

func TestWireConfiguresBackups(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup = config.BackupConfig{
		Bucket:    "tradewind-backups",
		Region:    "auto",
		AccessKey: "test-key",
		SecretKey: "test-secret",
		Retention: 14,
	}

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	closeContainer(t, container)

	assert.NotNil(t, container.Backups)
}

func TestWireFailsOnMalformedExitRules(t *testing.T) {
	cfg := testConfig(t)
	rulesPath := filepath.Join(cfg.DataDir, "exit_rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("levels: [not: valid"), 0o644))
	cfg.ExitRulesPath = rulesPath

	container, err := Wire(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, container)
	assert.Contains(t, err.Error(), "exit rules")
}
