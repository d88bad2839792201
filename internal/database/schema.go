package database

// Embedded schemas, one per database. All statements are idempotent
// (IF NOT EXISTS) so Migrate can run on every startup.

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS orders (
    order_id          TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    agent_id          TEXT,
    preview_id        TEXT,
    signal_id         TEXT,
    symbol            TEXT NOT NULL,
    side              TEXT NOT NULL CHECK(side IN ('buy', 'sell')),
    amount            REAL NOT NULL CHECK(amount > 0),
    expected_price    REAL,
    actual_fill_price REAL,
    status            TEXT NOT NULL,
    profit            REAL,
    fees              REAL,
    timed_out         INTEGER NOT NULL DEFAULT 0,
    created_at        TEXT NOT NULL,
    completed_at      TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_agent ON orders(agent_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
`

const agentsSchema = `
CREATE TABLE IF NOT EXISTS agents (
    id                     TEXT PRIMARY KEY,
    user_id                TEXT NOT NULL,
    name                   TEXT NOT NULL,
    risk_tolerance         INTEGER NOT NULL DEFAULT 3 CHECK(risk_tolerance BETWEEN 1 AND 5),
    max_position_size      REAL NOT NULL DEFAULT 100,
    stop_loss_percent      REAL,
    take_profit_percent    REAL,
    confirmation_required  INTEGER NOT NULL DEFAULT 0,
    auto_confirm_threshold REAL NOT NULL DEFAULT 50,
    active                 INTEGER NOT NULL DEFAULT 1,
    created_at             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_active ON agents(active);

CREATE TABLE IF NOT EXISTS signals (
    id             TEXT PRIMARY KEY,
    agent_id       TEXT NOT NULL,
    symbol         TEXT NOT NULL,
    recommendation TEXT NOT NULL CHECK(recommendation IN ('BUY', 'SELL', 'HOLD')),
    confidence     REAL NOT NULL CHECK(confidence BETWEEN 0 AND 1),
    target_price   REAL,
    stop_loss      REAL,
    priority       INTEGER NOT NULL DEFAULT 0,
    reasoning      TEXT,
    status         TEXT NOT NULL DEFAULT 'pending',
    failure_reason TEXT,
    created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_agent ON signals(agent_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status);

CREATE TABLE IF NOT EXISTS performance_metrics (
    agent_id       TEXT PRIMARY KEY,
    total_trades   INTEGER NOT NULL DEFAULT 0,
    winning_trades INTEGER NOT NULL DEFAULT 0,
    win_rate       REAL NOT NULL DEFAULT 0,
    total_pnl      REAL NOT NULL DEFAULT 0,
    max_drawdown   REAL NOT NULL DEFAULT 0,
    sharpe_ratio   REAL NOT NULL DEFAULT 0,
    last_updated   TEXT NOT NULL
);
`

const cacheSchema = `
CREATE TABLE IF NOT EXISTS signal_queue (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id   TEXT NOT NULL UNIQUE,
    queue       TEXT NOT NULL CHECK(queue IN ('priority', 'standard')),
    priority    INTEGER NOT NULL,
    enqueued_at INTEGER NOT NULL,
    expires_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signal_queue_drain ON signal_queue(queue, priority DESC, enqueued_at ASC);
CREATE INDEX IF NOT EXISTS idx_signal_queue_expiry ON signal_queue(expires_at);

CREATE TABLE IF NOT EXISTS order_previews (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    agent_id          TEXT,
    signal_id         TEXT,
    symbol            TEXT NOT NULL,
    side              TEXT NOT NULL CHECK(side IN ('buy', 'sell')),
    order_type        TEXT NOT NULL CHECK(order_type IN ('market', 'limit')),
    amount            REAL NOT NULL,
    price             REAL,
    estimated_cost    REAL NOT NULL DEFAULT 0,
    estimated_fees    REAL NOT NULL DEFAULT 0,
    slippage_estimate REAL NOT NULL DEFAULT 0,
    risk_level        TEXT NOT NULL DEFAULT 'LOW',
    warnings          TEXT,
    auto_confirm      INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL DEFAULT 'pending',
    reason            TEXT,
    order_id          TEXT,
    created_at        TEXT NOT NULL,
    expires_at        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_previews_status ON order_previews(status, expires_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_previews_signal ON order_previews(signal_id) WHERE signal_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS quotes (
    key        TEXT PRIMARY KEY,
    data       BLOB NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS candles (
    key        TEXT PRIMARY KEY,
    data       BLOB NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tracked_orders (
    key        TEXT PRIMARY KEY,
    data       BLOB NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pnl_marks (
    key        TEXT PRIMARY KEY,
    data       BLOB NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
`

// schemaFor returns the embedded schema for a database name.
func schemaFor(name string) (string, bool) {
	schemas := map[string]string{
		"ledger": ledgerSchema,
		"agents": agentsSchema,
		"cache":  cacheSchema,
	}
	schema, ok := schemas[name]
	return schema, ok
}
