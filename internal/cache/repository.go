// Package cache provides the TTL'd key/value layer over cache.db.
// Values are stored as msgpack blobs with expiration timestamps. The cache is
// strictly a performance layer: the ledger and agents databases stay canonical
// and every reader tolerates a miss here.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// AllTables lists all kv tables in cache.db for cleanup operations.
var AllTables = []string{
	"quotes",
	"candles",
	"tracked_orders",
	"pnl_marks",
}

// validTables is a set for O(1) table name validation.
var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// Repository provides TTL'd cache operations over cache.db kv tables.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new cache repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// validateTable ensures the table name is in our allowed list.
// This prevents SQL injection through table names.
func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid cache table: %s", table)
	}
	return nil
}

// Store saves a value with expiration = now + ttl.
// Uses INSERT OR REPLACE to upsert.
func (r *Repository) Store(table, key string, value interface{}, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}

	blob, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	now := time.Now()
	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (key, data, expires_at, created_at) VALUES (?, ?, ?, ?)",
		table,
	)

	if _, err := r.db.Exec(query, key, blob, now.Add(ttl).Unix(), now.Unix()); err != nil {
		return fmt.Errorf("failed to store in %s: %w", table, err)
	}

	return nil
}

// GetIfFresh decodes the value into dest only if expires_at > now.
// Returns false with no error when the key is missing or expired.
// Use Get to read stale data as a fallback when venue calls fail.
func (r *Repository) GetIfFresh(table, key string, dest interface{}) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE key = ? AND expires_at > ?", table)

	var blob []byte
	err := r.db.QueryRow(query, key, time.Now().Unix()).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read from %s: %w", table, err)
	}

	if err := msgpack.Unmarshal(blob, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value from %s: %w", table, err)
	}

	return true, nil
}

// Get decodes the value into dest regardless of expiration.
// Stale data is better than no data when the venue is unreachable.
// Returns false with no error when the key is missing.
func (r *Repository) Get(table, key string, dest interface{}) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE key = ?", table)

	var blob []byte
	err := r.db.QueryRow(query, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read from %s: %w", table, err)
	}

	if err := msgpack.Unmarshal(blob, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value from %s: %w", table, err)
	}

	return true, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(table, key string) error {
	if err := validateTable(table); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", table)

	if _, err := r.db.Exec(query, key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	return nil
}

// DeleteExpired removes all rows where expires_at < now.
// Returns the number of rows deleted.
func (r *Repository) DeleteExpired(table string) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)

	result, err := r.db.Exec(query, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}

	return deleted, nil
}

// DeleteAllExpired removes expired entries from all kv tables.
// Returns a map of table name to number of rows deleted.
func (r *Repository) DeleteAllExpired() (map[string]int64, error) {
	results := make(map[string]int64)

	for _, table := range AllTables {
		deleted, err := r.DeleteExpired(table)
		if err != nil {
			return results, fmt.Errorf("failed to delete expired from %s: %w", table, err)
		}
		results[table] = deleted
	}

	return results, nil
}
