// Package execution submits confirmed previews to the venue and tracks
// the resulting orders to a terminal status with bounded polling. The
// orders table in ledger.db is the canonical trade record.
package execution

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/domain"
)

// orderColumns lists the columns of the orders table.
// Order must match the scan helpers below.
const orderColumns = `order_id, user_id, agent_id, preview_id, signal_id, symbol, side, amount, expected_price, actual_fill_price, status, profit, fees, timed_out, created_at, completed_at`

// Repository handles order persistence over ledger.db.
type Repository struct {
	ledgerDB *sql.DB
	log      zerolog.Logger
}

// NewRepository creates a new order repository.
func NewRepository(ledgerDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "orders").Logger(),
	}
}

// Create inserts a new order record.
func (r *Repository) Create(order *domain.TrackedOrder) error {
	if order.OrderID == "" {
		return fmt.Errorf("order id is required")
	}
	if order.Amount <= 0 {
		return fmt.Errorf("order amount must be positive, got %f", order.Amount)
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.Timestamp.IsZero() {
		order.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO orders
		(order_id, user_id, agent_id, preview_id, signal_id, symbol, side, amount,
		 expected_price, actual_fill_price, status, profit, fees, timed_out,
		 created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.ledgerDB.Exec(query,
		order.OrderID,
		order.UserID,
		nullString(order.AgentID),
		nullString(order.PreviewID),
		nullString(order.SignalID),
		order.Symbol,
		string(order.Side),
		order.Amount,
		nullFloat64Ptr(order.ExpectedPrice),
		nullFloat64Ptr(order.ActualFillPrice),
		string(order.Status),
		nullFloat64Ptr(order.Profit),
		nullFloat64Ptr(order.Fees),
		boolToInt(order.TimedOut),
		order.Timestamp.Format(time.RFC3339),
		nullTimePtr(order.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	return nil
}

// GetByOrderID retrieves an order. Returns nil with no error when missing.
func (r *Repository) GetByOrderID(orderID string) (*domain.TrackedOrder, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE order_id = ?"

	row := r.ledgerDB.QueryRow(query, orderID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return &order, nil
}

// RecordCompletion settles an order with its terminal outcome. Guarded on
// completed_at so repeated completions for the same order write once;
// the returned bool reports whether this call was the one that settled it.
func (r *Repository) RecordCompletion(order *domain.TrackedOrder) (bool, error) {
	if order.CompletedAt == nil {
		now := time.Now().UTC()
		order.CompletedAt = &now
	}

	query := `
		UPDATE orders
		SET status = ?, actual_fill_price = ?, profit = ?, fees = ?, completed_at = ?
		WHERE order_id = ?
		  AND completed_at IS NULL
	`

	result, err := r.ledgerDB.Exec(query,
		string(order.Status),
		nullFloat64Ptr(order.ActualFillPrice),
		nullFloat64Ptr(order.Profit),
		nullFloat64Ptr(order.Fees),
		order.CompletedAt.Format(time.RFC3339),
		order.OrderID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record order completion: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkTimedOut flags an order whose tracking window elapsed without a
// terminal status. The order keeps its last observed non-terminal status
// and stays unsettled; only the timed_out flag reports the condition.
func (r *Repository) MarkTimedOut(orderID string, lastStatus domain.OrderStatus) error {
	query := `
		UPDATE orders
		SET status = ?, timed_out = 1
		WHERE order_id = ?
		  AND completed_at IS NULL
	`

	_, err := r.ledgerDB.Exec(query, string(lastStatus), orderID)
	if err != nil {
		return fmt.Errorf("failed to mark order timed out: %w", err)
	}

	return nil
}

// GetHistoryByUser returns a user's orders, newest first.
func (r *Repository) GetHistoryByUser(userID string, limit int) ([]domain.TrackedOrder, error) {
	query := `
		SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.ledgerDB.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// GetFilledByAgent returns an agent's filled orders for one or all
// symbols, oldest first, for position derivation.
func (r *Repository) GetFilledByAgent(agentID string) ([]domain.TrackedOrder, error) {
	query := `
		SELECT ` + orderColumns + ` FROM orders
		WHERE agent_id = ?
		  AND status = 'filled'
		ORDER BY created_at ASC
	`

	rows, err := r.ledgerDB.Query(query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get filled orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// GetUnsettled returns orders with no recorded outcome and no timeout,
// oldest first. These are tracking sessions lost to a restart or an
// aborted poll loop.
func (r *Repository) GetUnsettled(limit int) ([]domain.TrackedOrder, error) {
	query := `
		SELECT ` + orderColumns + ` FROM orders
		WHERE completed_at IS NULL
		  AND timed_out = 0
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := r.ledgerDB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsettled orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// GetUnsettledByAgent returns an agent's orders with no recorded
// outcome, oldest first. Timed-out orders are included: the venue may
// still fill them, so their quantity stays reserved.
func (r *Repository) GetUnsettledByAgent(agentID string) ([]domain.TrackedOrder, error) {
	query := `
		SELECT ` + orderColumns + ` FROM orders
		WHERE agent_id = ?
		  AND completed_at IS NULL
		ORDER BY created_at ASC
	`

	rows, err := r.ledgerDB.Query(query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsettled orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// CompletedSince returns orders settled at or after the cutoff, oldest
// first, for performance roll-ups.
func (r *Repository) CompletedSince(agentID string, cutoff time.Time) ([]domain.TrackedOrder, error) {
	query := `
		SELECT ` + orderColumns + ` FROM orders
		WHERE agent_id = ?
		  AND completed_at IS NOT NULL
		  AND completed_at >= ?
		ORDER BY completed_at ASC
	`

	rows, err := r.ledgerDB.Query(query, agentID, cutoff.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to get completed orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]domain.TrackedOrder, error) {
	var result []domain.TrackedOrder
	for rows.Next() {
		order, err := scanOrderFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		result = append(result, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return result, nil
}

func scanOrder(row *sql.Row) (domain.TrackedOrder, error) {
	var order domain.TrackedOrder
	var side, status, createdAt string
	var agentID, previewID, signalID, completedAt sql.NullString
	var expectedPrice, actualFillPrice, profit, fees sql.NullFloat64
	var timedOut int

	err := row.Scan(
		&order.OrderID,
		&order.UserID,
		&agentID,
		&previewID,
		&signalID,
		&order.Symbol,
		&side,
		&order.Amount,
		&expectedPrice,
		&actualFillPrice,
		&status,
		&profit,
		&fees,
		&timedOut,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return order, err
	}

	applyOrderNullables(&order, side, status, createdAt, timedOut, agentID, previewID, signalID, completedAt, expectedPrice, actualFillPrice, profit, fees)
	return order, nil
}

func scanOrderFromRows(rows *sql.Rows) (domain.TrackedOrder, error) {
	var order domain.TrackedOrder
	var side, status, createdAt string
	var agentID, previewID, signalID, completedAt sql.NullString
	var expectedPrice, actualFillPrice, profit, fees sql.NullFloat64
	var timedOut int

	err := rows.Scan(
		&order.OrderID,
		&order.UserID,
		&agentID,
		&previewID,
		&signalID,
		&order.Symbol,
		&side,
		&order.Amount,
		&expectedPrice,
		&actualFillPrice,
		&status,
		&profit,
		&fees,
		&timedOut,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return order, err
	}

	applyOrderNullables(&order, side, status, createdAt, timedOut, agentID, previewID, signalID, completedAt, expectedPrice, actualFillPrice, profit, fees)
	return order, nil
}

func applyOrderNullables(order *domain.TrackedOrder, side, status, createdAt string, timedOut int, agentID, previewID, signalID, completedAt sql.NullString, expectedPrice, actualFillPrice, profit, fees sql.NullFloat64) {
	order.Side = domain.OrderSide(side)
	order.Status = domain.OrderStatus(status)
	order.TimedOut = timedOut == 1
	if agentID.Valid {
		order.AgentID = agentID.String
	}
	if previewID.Valid {
		order.PreviewID = previewID.String
	}
	if signalID.Valid {
		order.SignalID = signalID.String
	}
	if expectedPrice.Valid {
		order.ExpectedPrice = &expectedPrice.Float64
	}
	if actualFillPrice.Valid {
		order.ActualFillPrice = &actualFillPrice.Float64
	}
	if profit.Valid {
		order.Profit = &profit.Float64
	}
	if fees.Valid {
		order.Fees = &fees.Float64
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		order.Timestamp = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			order.CompletedAt = &t
		}
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
