package cache

import (
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// testSchema creates all kv tables needed for testing
const testSchema = `
CREATE TABLE quotes (key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL, created_at INTEGER NOT NULL);
CREATE TABLE candles (key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL, created_at INTEGER NOT NULL);
CREATE TABLE tracked_orders (key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL, created_at INTEGER NOT NULL);
CREATE TABLE pnl_marks (key TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL, created_at INTEGER NOT NULL);
`

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db
}

type testQuote struct {
	Symbol string  `msgpack:"symbol"`
	Last   float64 `msgpack:"last"`
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	err := repo.Store("quotes", "BTC/USDT", testQuote{Symbol: "BTC/USDT", Last: 64250.5}, time.Minute)
	require.NoError(t, err)

	var got testQuote
	found, err := repo.GetIfFresh("quotes", "BTC/USDT", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "BTC/USDT", got.Symbol)
	assert.InDelta(t, 64250.5, got.Last, 1e-9)
}

func TestGetIfFreshMissingKey(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	var got testQuote
	found, err := repo.GetIfFresh("quotes", "unknown", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetIfFreshExpiredEntry(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	// Negative TTL produces an already-expired row
	err := repo.Store("quotes", "ETH/USDT", testQuote{Symbol: "ETH/USDT", Last: 3400}, -time.Second)
	require.NoError(t, err)

	var got testQuote
	found, err := repo.GetIfFresh("quotes", "ETH/USDT", &got)
	require.NoError(t, err)
	assert.False(t, found, "expired entries must not be returned as fresh")

	// Stale fallback still reads it
	found, err = repo.Get("quotes", "ETH/USDT", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.InDelta(t, 3400.0, got.Last, 1e-9)
}

func TestStoreOverwritesExisting(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store("pnl_marks", "agent-1:trade-1", 10.5, time.Hour))
	require.NoError(t, repo.Store("pnl_marks", "agent-1:trade-1", -2.25, time.Hour))

	var mark float64
	found, err := repo.GetIfFresh("pnl_marks", "agent-1:trade-1", &mark)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, -2.25, mark, 1e-9)
}

func TestValidateTableRejectsUnknown(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	err := repo.Store("orders; DROP TABLE quotes", "k", 1, time.Minute)
	assert.Error(t, err)

	var v int
	_, err = repo.GetIfFresh("not_a_table", "k", &v)
	assert.Error(t, err)
}

func TestDeleteExpired(t *testing.T) {
	repo := NewRepository(setupTestDB(t))

	require.NoError(t, repo.Store("tracked_orders", "ord-live", testQuote{}, time.Hour))
	require.NoError(t, repo.Store("tracked_orders", "ord-stale", testQuote{}, -time.Hour))

	deleted, err := repo.DeleteExpired("tracked_orders")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var got testQuote
	found, err := repo.Get("tracked_orders", "ord-live", &got)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCleanupJobRun(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	log := zerolog.New(nil).Level(zerolog.Disabled)

	require.NoError(t, repo.Store("quotes", "stale", testQuote{}, -time.Minute))
	require.NoError(t, repo.Store("candles", "stale", testQuote{}, -time.Minute))

	job := NewCleanupJob(repo, log)
	assert.Equal(t, "cache_cleanup", job.Name())
	require.NoError(t, job.Run())

	var got testQuote
	found, err := repo.Get("quotes", "stale", &got)
	require.NoError(t, err)
	assert.False(t, found, "cleanup must remove expired rows entirely")
}
