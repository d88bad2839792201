// Package queue implements the signal dispatch pipeline: a durable
// two-queue store in cache.db, a dispatcher that admits and prioritizes
// signals, and a worker that drains batches into order confirmation.
package queue

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/database"
)

// Name identifies one of the two dispatch queues.
type Name string

const (
	// Priority holds signals scoring at or above the priority cutoff.
	Priority Name = "priority"
	// Standard holds everything else that passed admission.
	Standard Name = "standard"
)

// Item is one queued signal reference. The signals table in agents.db
// stays canonical; queue rows only carry what draining needs.
type Item struct {
	ID         int64
	SignalID   string
	Queue      Name
	Priority   int
	EnqueuedAt time.Time
	ExpiresAt  time.Time
}

// Repository stores queue rows in cache.db. Every row carries an
// expiry so a dead drain loop cannot strand signals forever.
type Repository struct {
	cacheDB *sql.DB
	log     zerolog.Logger
}

// NewRepository creates a queue repository.
func NewRepository(cacheDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		cacheDB: cacheDB,
		log:     log.With().Str("repo", "signal_queue").Logger(),
	}
}

// Push inserts a signal reference. The signal_id unique constraint
// makes double-enqueueing the same signal an error.
func (r *Repository) Push(signalID string, queue Name, priority int, ttl time.Duration) error {
	now := time.Now()

	query := `
		INSERT INTO signal_queue (signal_id, queue, priority, enqueued_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.cacheDB.Exec(query, signalID, string(queue), priority, now.Unix(), now.Add(ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to push signal onto %s queue: %w", queue, err)
	}

	return nil
}

// PopBatch atomically removes and returns up to batchSize items from
// one queue, highest priority first, oldest first within a priority.
func (r *Repository) PopBatch(queue Name, batchSize int) ([]Item, error) {
	var items []Item

	err := database.WithTransaction(r.cacheDB, func(tx *sql.Tx) error {
		query := `
			SELECT id, signal_id, queue, priority, enqueued_at, expires_at
			FROM signal_queue
			WHERE queue = ?
			ORDER BY priority DESC, enqueued_at ASC
			LIMIT ?
		`

		rows, err := tx.Query(query, string(queue), batchSize)
		if err != nil {
			return fmt.Errorf("failed to select queue batch: %w", err)
		}

		items, err = scanItems(rows)
		if err != nil {
			return err
		}

		return deleteItems(tx, items)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pop batch from %s queue: %w", queue, err)
	}

	return items, nil
}

// PopExpired atomically removes and returns rows past their expiry,
// regardless of queue. Callers fail the referenced signals.
func (r *Repository) PopExpired(limit int) ([]Item, error) {
	var items []Item

	err := database.WithTransaction(r.cacheDB, func(tx *sql.Tx) error {
		query := `
			SELECT id, signal_id, queue, priority, enqueued_at, expires_at
			FROM signal_queue
			WHERE expires_at < ?
			ORDER BY enqueued_at ASC
			LIMIT ?
		`

		rows, err := tx.Query(query, time.Now().Unix(), limit)
		if err != nil {
			return fmt.Errorf("failed to select expired queue rows: %w", err)
		}

		items, err = scanItems(rows)
		if err != nil {
			return err
		}

		return deleteItems(tx, items)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pop expired queue rows: %w", err)
	}

	return items, nil
}

// Depths returns the current size of each queue.
func (r *Repository) Depths() (map[Name]int, error) {
	query := "SELECT queue, COUNT(*) FROM signal_queue GROUP BY queue"

	rows, err := r.cacheDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue depths: %w", err)
	}
	defer rows.Close()

	depths := map[Name]int{Priority: 0, Standard: 0}
	for rows.Next() {
		var queue string
		var count int
		if err := rows.Scan(&queue, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue depth: %w", err)
		}
		depths[Name(queue)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue depths: %w", err)
	}

	return depths, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var queue string
		var enqueuedAt, expiresAt int64

		if err := rows.Scan(&item.ID, &item.SignalID, &queue, &item.Priority, &enqueuedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}

		item.Queue = Name(queue)
		item.EnqueuedAt = time.Unix(enqueuedAt, 0)
		item.ExpiresAt = time.Unix(expiresAt, 0)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}

	return items, nil
}

func deleteItems(tx *sql.Tx, items []Item) error {
	for _, item := range items {
		if _, err := tx.Exec("DELETE FROM signal_queue WHERE id = ?", item.ID); err != nil {
			return fmt.Errorf("failed to delete queue item %d: %w", item.ID, err)
		}
	}
	return nil
}
