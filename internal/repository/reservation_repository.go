package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eventix/ticketing/internal/model"
)

// ReservationRepo provides data access to the reservations and
// reservation_items tables.  Status transitions are conditional
// updates guarded on the current status, so each transition can win
// at most once even under concurrent callers.  All timestamps are UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a ReservationRepo bound to the provided database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// Create persists a reservation and its items in one transaction.
func (r *ReservationRepo) Create(ctx context.Context, res *model.Reservation, items []model.ReservationItem) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reservations (id, event_id, user_id, device_id, status, created_at, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.EventID, res.UserID, res.DeviceID, res.Status,
		res.CreatedAt.UTC(), res.ExpiresAt.UTC(), res.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert reservation: %w", err)
	}

	if len(items) > 0 {
		query := `INSERT INTO reservation_items (reservation_id, tier_id, quantity, unit_price_paise) VALUES `
		args := make([]interface{}, 0, len(items)*4)
		for i, it := range items {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?)"
			args = append(args, res.ID, it.TierID, it.Quantity, it.UnitPricePaise)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert reservation items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Get loads a reservation and its items.
func (r *ReservationRepo) Get(ctx context.Context, id string) (*model.Reservation, []model.ReservationItem, error) {
	var res model.Reservation
	err := r.db.QueryRowContext(ctx,
		`SELECT id, event_id, user_id, device_id, status, created_at, expires_at, updated_at
		 FROM reservations WHERE id = ?`, id,
	).Scan(&res.ID, &res.EventID, &res.UserID, &res.DeviceID, &res.Status,
		&res.CreatedAt, &res.ExpiresAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query reservation: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT reservation_id, tier_id, quantity, unit_price_paise
		 FROM reservation_items WHERE reservation_id = ?`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("query reservation items: %w", err)
	}
	defer rows.Close()
	var items []model.ReservationItem
	for rows.Next() {
		var it model.ReservationItem
		if err := rows.Scan(&it.ReservationID, &it.TierID, &it.Quantity, &it.UnitPricePaise); err != nil {
			return nil, nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return &res, items, nil
}

// TransitionStatus conditionally moves a reservation from one status
// to another.  It returns true only for the caller that won the
// transition; every other caller sees false and must re-read.
func (r *ReservationRepo) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = ?`,
		to, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("transition reservation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition reservation: %w", err)
	}
	return rows == 1, nil
}

// ListOverdueActive returns the IDs of active reservations whose
// expiry has passed, for the background sweeper.  Lazy per-read expiry
// remains the primary mechanism; the sweep only bounds how long dead
// holds can pin inventory.
func (r *ReservationRepo) ListOverdueActive(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM reservations WHERE status = ? AND expires_at <= ? LIMIT ?`,
		model.ReservationActive, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query overdue reservations: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
