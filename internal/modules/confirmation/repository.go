// Package confirmation owns the order preview state machine: previews
// are materialized with a TTL, optionally auto-confirmed, re-validated
// on confirm and handed to execution. Previews live in cache.db; the
// ledger only sees orders that made it past this gate.
package confirmation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/database"
	"github.com/ametov/tradewind/internal/domain"
)

const (
	// expiredReason is stamped on previews whose TTL elapsed unconfirmed.
	expiredReason = "preview expired before confirmation"

	// confirmedGrace is how long past its TTL a confirmed preview is left
	// alone before the sweep retires it. A confirmed row this far past
	// expiry means the process died between confirm and the execution
	// handoff; in-flight confirms settle within seconds.
	confirmedGrace = 5 * time.Minute

	// settledRetention is how long terminal previews stay readable so
	// repeated confirm and status calls keep returning the stored outcome.
	settledRetention = 24 * time.Hour
)

// previewColumns lists the columns of the order_previews table.
// Order must match the scan helpers below.
const previewColumns = `id, user_id, agent_id, signal_id, symbol, side, order_type, amount, price, estimated_cost, estimated_fees, slippage_estimate, risk_level, warnings, auto_confirm, status, reason, order_id, created_at, expires_at`

// Repository handles order preview persistence over cache.db.
type Repository struct {
	cacheDB *sql.DB
	log     zerolog.Logger
}

// NewRepository creates a new preview repository.
func NewRepository(cacheDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		cacheDB: cacheDB,
		log:     log.With().Str("repo", "order_previews").Logger(),
	}
}

// Create inserts a new preview record. The unique index on signal_id
// guarantees a signal never produces more than one preview.
func (r *Repository) Create(preview *domain.OrderPreview) error {
	if preview.ID == "" {
		return fmt.Errorf("preview id is required")
	}
	if preview.UserID == "" {
		return fmt.Errorf("preview user id is required")
	}
	if preview.Status == "" {
		preview.Status = domain.PreviewStatusPending
	}
	if preview.CreatedAt.IsZero() {
		preview.CreatedAt = time.Now().UTC()
	}

	warnings, err := encodeWarnings(preview.Warnings)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO order_previews
		(id, user_id, agent_id, signal_id, symbol, side, order_type, amount, price,
		 estimated_cost, estimated_fees, slippage_estimate, risk_level, warnings,
		 auto_confirm, status, reason, order_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.cacheDB.Exec(query,
		preview.ID,
		preview.UserID,
		nullString(preview.AgentID),
		nullString(preview.SignalID),
		preview.Symbol,
		string(preview.Side),
		string(preview.OrderType),
		preview.Amount,
		nullFloat64Ptr(preview.Price),
		preview.EstimatedCost,
		preview.EstimatedFees,
		preview.SlippageEstimate,
		string(preview.RiskLevel),
		warnings,
		boolToInt(preview.AutoConfirm),
		string(preview.Status),
		nullString(preview.Reason),
		nullString(preview.OrderID),
		preview.CreatedAt.Format(time.RFC3339),
		preview.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create preview: %w", err)
	}

	return nil
}

// GetByID retrieves a preview. Returns nil with no error when missing.
// A pending preview whose TTL elapsed is settled as expired before it
// is returned, so a read past expiresAt never observes pending.
func (r *Repository) GetByID(id string) (*domain.OrderPreview, error) {
	query := "SELECT " + previewColumns + " FROM order_previews WHERE id = ?"

	row := r.cacheDB.QueryRow(query, id)
	preview, err := scanPreview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preview: %w", err)
	}

	return r.lazyExpire(&preview)
}

// GetBySignalID retrieves the preview a signal produced, if any.
func (r *Repository) GetBySignalID(signalID string) (*domain.OrderPreview, error) {
	query := "SELECT " + previewColumns + " FROM order_previews WHERE signal_id = ?"

	row := r.cacheDB.QueryRow(query, signalID)
	preview, err := scanPreview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preview by signal: %w", err)
	}

	return r.lazyExpire(&preview)
}

// lazyExpire settles a pending preview whose TTL elapsed. Confirmed rows
// are left to the in-flight confirm that owns them; the sweep retires
// the ones whose owner died.
func (r *Repository) lazyExpire(preview *domain.OrderPreview) (*domain.OrderPreview, error) {
	if preview.Status != domain.PreviewStatusPending || !preview.Expired(time.Now().UTC()) {
		return preview, nil
	}

	ok, err := r.markExpired(preview.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another writer settled the row first; trust the table.
		return r.GetByID(preview.ID)
	}

	preview.Status = domain.PreviewStatusExpired
	preview.Reason = expiredReason
	r.log.Debug().
		Str("preview_id", preview.ID).
		Str("symbol", preview.Symbol).
		Msg("Preview expired on read")
	return preview, nil
}

func (r *Repository) markExpired(id string) (bool, error) {
	query := `UPDATE order_previews SET status = 'expired', reason = ? WHERE id = ? AND status = 'pending'`

	result, err := r.cacheDB.Exec(query, expiredReason, id)
	if err != nil {
		return false, fmt.Errorf("failed to expire preview: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// Transition moves a preview from one status to another. The WHERE
// clause makes it a compare-and-swap: when several writers race, exactly
// one sees true and the rest keep their hands off the row.
func (r *Repository) Transition(id string, from, to domain.PreviewStatus, reason string) (bool, error) {
	query := `UPDATE order_previews SET status = ?, reason = ? WHERE id = ? AND status = ?`

	result, err := r.cacheDB.Exec(query, string(to), nullString(reason), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition preview: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// SetExecuted marks a confirmed preview executed and records the venue
// order id. Only confirmed rows qualify, so pending never skips ahead.
func (r *Repository) SetExecuted(id, orderID string) (bool, error) {
	query := `UPDATE order_previews SET status = 'executed', order_id = ? WHERE id = ? AND status = 'confirmed'`

	result, err := r.cacheDB.Exec(query, orderID, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark preview executed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// ExpiredPreview identifies a preview the sweep settled, with enough
// context to fail the originating signal.
type ExpiredPreview struct {
	ID       string
	SignalID string
	AgentID  string
	Symbol   string
}

// ExpireStale settles previews whose TTL elapsed with nobody reading
// them. Pending rows expire as soon as the TTL passes; confirmed rows
// get a grace period first.
func (r *Repository) ExpireStale(now time.Time) ([]ExpiredPreview, error) {
	var stale []ExpiredPreview

	err := database.WithTransaction(r.cacheDB, func(tx *sql.Tx) error {
		query := `
			SELECT id, COALESCE(signal_id, ''), COALESCE(agent_id, ''), symbol
			FROM order_previews
			WHERE (status = 'pending' AND expires_at < ?)
			   OR (status = 'confirmed' AND expires_at < ?)
		`

		rows, err := tx.Query(query, now.Unix(), now.Add(-confirmedGrace).Unix())
		if err != nil {
			return fmt.Errorf("failed to query stale previews: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var p ExpiredPreview
			if err := rows.Scan(&p.ID, &p.SignalID, &p.AgentID, &p.Symbol); err != nil {
				return fmt.Errorf("failed to scan stale preview: %w", err)
			}
			stale = append(stale, p)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating stale previews: %w", err)
		}

		for _, p := range stale {
			update := `UPDATE order_previews SET status = 'expired', reason = ? WHERE id = ? AND status IN ('pending', 'confirmed')`
			if _, err := tx.Exec(update, expiredReason, p.ID); err != nil {
				return fmt.Errorf("failed to expire preview %s: %w", p.ID, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return stale, nil
}

// PurgeSettled deletes terminal previews whose TTL passed before the
// cutoff. Keeps cache.db from accumulating settled rows forever.
func (r *Repository) PurgeSettled(cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM order_previews
		WHERE status IN ('cancelled', 'expired', 'executed')
		  AND expires_at < ?
	`

	result, err := r.cacheDB.Exec(query, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge settled previews: %w", err)
	}

	return result.RowsAffected()
}

// CountByStatus returns preview counts grouped by status.
func (r *Repository) CountByStatus() (map[domain.PreviewStatus]int, error) {
	query := "SELECT status, COUNT(*) FROM order_previews GROUP BY status"

	rows, err := r.cacheDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to count previews by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.PreviewStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.PreviewStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

func scanPreview(row *sql.Row) (domain.OrderPreview, error) {
	var preview domain.OrderPreview
	var side, orderType, riskLevel, status, createdAt string
	var agentID, signalID, warnings, reason, orderID sql.NullString
	var price sql.NullFloat64
	var autoConfirm int
	var expiresAt int64

	err := row.Scan(
		&preview.ID,
		&preview.UserID,
		&agentID,
		&signalID,
		&preview.Symbol,
		&side,
		&orderType,
		&preview.Amount,
		&price,
		&preview.EstimatedCost,
		&preview.EstimatedFees,
		&preview.SlippageEstimate,
		&riskLevel,
		&warnings,
		&autoConfirm,
		&status,
		&reason,
		&orderID,
		&createdAt,
		&expiresAt,
	)
	if err != nil {
		return preview, err
	}

	applyPreviewNullables(&preview, side, orderType, riskLevel, status, createdAt, expiresAt, autoConfirm, agentID, signalID, warnings, reason, orderID, price)
	return preview, nil
}

func applyPreviewNullables(preview *domain.OrderPreview, side, orderType, riskLevel, status, createdAt string, expiresAt int64, autoConfirm int, agentID, signalID, warnings, reason, orderID sql.NullString, price sql.NullFloat64) {
	preview.Side = domain.OrderSide(side)
	preview.OrderType = domain.OrderType(orderType)
	preview.RiskLevel = domain.RiskLevel(riskLevel)
	preview.Status = domain.PreviewStatus(status)
	preview.AutoConfirm = autoConfirm == 1
	preview.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if agentID.Valid {
		preview.AgentID = agentID.String
	}
	if signalID.Valid {
		preview.SignalID = signalID.String
	}
	if reason.Valid {
		preview.Reason = reason.String
	}
	if orderID.Valid {
		preview.OrderID = orderID.String
	}
	if price.Valid {
		preview.Price = &price.Float64
	}
	if warnings.Valid && warnings.String != "" {
		var decoded []string
		if err := json.Unmarshal([]byte(warnings.String), &decoded); err == nil {
			preview.Warnings = decoded
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		preview.CreatedAt = t
	}
}

func encodeWarnings(warnings []string) (sql.NullString, error) {
	if len(warnings) == 0 {
		return sql.NullString{Valid: false}, nil
	}
	data, err := json.Marshal(warnings)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode warnings: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
