// Package database opens and maintains the service's SQLite databases.
// Every database is opened under a profile that fixes its durability
// pragmas: the order ledger fsyncs every write and never reclaims pages,
// the cache skips fsync entirely, and agents takes the balanced default.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DatabaseProfile selects the pragma set a database is opened with.
type DatabaseProfile string

const (
	// ProfileLedger - durability first, for the order audit trail
	ProfileLedger DatabaseProfile = "ledger"
	// ProfileCache - speed first, for rebuildable queue/cache state
	ProfileCache DatabaseProfile = "cache"
	// ProfileStandard - the balanced default
	ProfileStandard DatabaseProfile = "standard"
)

// commonPragmas apply to every connection regardless of profile.
var commonPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",       // wait up to 5s on write contention
	"wal_autocheckpoint(1000)", // checkpoint every 1000 pages
	"cache_size(-64000)",       // 64MB page cache, negative means KB
}

// profilePragmas layer the durability/speed trade-off on top.
var profilePragmas = map[DatabaseProfile][]string{
	ProfileLedger: {
		"synchronous(FULL)", // fsync after every write
		"auto_vacuum(NONE)", // append-only, never shrink
	},
	ProfileCache: {
		"synchronous(OFF)",
		"auto_vacuum(FULL)",
		"temp_store(MEMORY)",
	},
	ProfileStandard: {
		"synchronous(NORMAL)", // fsync at checkpoints
		"auto_vacuum(INCREMENTAL)",
		"temp_store(MEMORY)",
	},
}

// DB wraps one SQLite database opened under a profile.
type DB struct {
	conn    *sql.DB
	path    string
	profile DatabaseProfile
	name    string
}

// Config describes a database to open.
type Config struct {
	Path    string
	Profile DatabaseProfile
	Name    string // short name used in logs and schema lookup
}

// New opens a database, creating its directory when needed. file: URIs
// pass through untouched so tests can open in-memory databases.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = abs
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", dsn(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
	if cfg.Profile == ProfileCache {
		// Short bursty writes, fewer warm connections needed
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{
		conn:    conn,
		path:    cfg.Path,
		profile: cfg.Profile,
		name:    cfg.Name,
	}, nil
}

// dsn builds the connection string carrying all pragmas for the profile.
func dsn(path string, profile DatabaseProfile) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	for _, p := range append(append([]string{}, commonPragmas...), profilePragmas[profile]...) {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB for repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Name returns the short database name used in logs.
func (db *DB) Name() string {
	return db.name
}

// Profile returns the profile the database was opened under.
func (db *DB) Profile() DatabaseProfile {
	return db.profile
}

// Exec executes a statement without returning rows.
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// Migrate applies the embedded schema for this database's name. Schemas
// are written with IF NOT EXISTS, so running on every startup is safe;
// a database with no registered schema is left untouched.
func (db *DB) Migrate() error {
	schema, ok := schemaFor(db.name)
	if !ok {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s schema: %w", db.name, err)
	}

	if _, err := tx.Exec(schema); err != nil {
		_ = tx.Rollback()

		// Tolerate re-runs against older schema revisions
		msg := err.Error()
		if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
			return nil
		}
		return fmt.Errorf("failed to execute schema for %s: %w", db.name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema for %s: %w", db.name, err)
	}
	return nil
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func WithTransaction(db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
				return
			}
			err = fmt.Errorf("transaction failed: %w", err)
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}

// HealthCheck pings the database and runs a full integrity check. The
// integrity pass reads every page, so callers should treat this as a
// maintenance-window probe rather than a liveness check.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}

	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed for %s: %w", db.name, err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", db.name, result)
	}
	return nil
}

// QuickCheck pings the database without the integrity pass.
func (db *DB) QuickCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WALCheckpoint forces a WAL checkpoint. Mode is one of PASSIVE, FULL,
// RESTART or TRUNCATE; empty defaults to TRUNCATE, which also resets the
// WAL file to minimal size.
func (db *DB) WALCheckpoint(mode string) error {
	if mode == "" {
		mode = "TRUNCATE"
	}
	if _, err := db.conn.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)); err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}
	return nil
}

// Vacuum rebuilds the database file to reclaim free pages. Expensive on
// large databases; run in maintenance windows only.
func (db *DB) Vacuum() error {
	if _, err := db.conn.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum failed for %s: %w", db.name, err)
	}
	return nil
}

// Stats holds file and page counters for one database.
type Stats struct {
	SizeBytes     int64
	WALSizeBytes  int64
	PageCount     int64
	PageSize      int64
	FreelistCount int64
}

// GetStats reads file sizes from disk and page counters from pragmas.
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{}

	if info, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	if info, err := os.Stat(db.path + "-wal"); err == nil {
		stats.WALSizeBytes = info.Size()
	}

	counters := []struct {
		pragma string
		dest   *int64
	}{
		{"page_count", &stats.PageCount},
		{"page_size", &stats.PageSize},
		{"freelist_count", &stats.FreelistCount},
	}
	for _, c := range counters {
		if err := db.conn.QueryRow("PRAGMA " + c.pragma).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to read %s for %s: %w", c.pragma, db.name, err)
		}
	}

	return stats, nil
}