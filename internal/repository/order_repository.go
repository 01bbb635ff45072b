package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eventix/ticketing/internal/model"
)

// OrderRepo provides data access to the orders and tickets tables.
// The UNIQUE key on orders.reservation_id enforces one order per
// reservation; order confirmation is a conditional status update so
// retried payment webhooks can never mint tickets twice.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns an OrderRepo bound to the provided database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// Create inserts a new order.  A second order for the same
// reservation fails with ErrDuplicate.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (id, reservation_id, user_id, event_id, status, amount_paise,
		                     buyer_name, buyer_email, promo_code, referral_code, payment_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ReservationID, o.UserID, o.EventID, o.Status, o.AmountPaise,
		o.BuyerName, o.BuyerEmail, o.PromoCode, o.ReferralCode, o.PaymentRef,
		o.CreatedAt.UTC(), o.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// Get loads one order by ID.
func (r *OrderRepo) Get(ctx context.Context, id string) (*model.Order, error) {
	return r.getWhere(ctx, `id = ?`, id)
}

// GetByReservation loads the order bound to a reservation, if any.
func (r *OrderRepo) GetByReservation(ctx context.Context, reservationID string) (*model.Order, error) {
	return r.getWhere(ctx, `reservation_id = ?`, reservationID)
}

func (r *OrderRepo) getWhere(ctx context.Context, where string, arg any) (*model.Order, error) {
	var o model.Order
	err := r.db.QueryRowContext(ctx,
		`SELECT id, reservation_id, user_id, event_id, status, amount_paise, inventory_committed,
		        buyer_name, buyer_email, promo_code, referral_code, payment_ref, created_at, updated_at
		 FROM orders WHERE `+where, arg,
	).Scan(&o.ID, &o.ReservationID, &o.UserID, &o.EventID, &o.Status, &o.AmountPaise, &o.InventoryCommitted,
		&o.BuyerName, &o.BuyerEmail, &o.PromoCode, &o.ReferralCode, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return &o, nil
}

// Confirm conditionally moves an order from pending_payment to
// confirmed and mints its tickets in the same transaction.  It
// returns false, without touching anything, when the order was not in
// pending_payment — the idempotent path for duplicate webhooks.
func (r *OrderRepo) Confirm(ctx context.Context, orderID string, paymentRef *string, tickets []model.Ticket) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ?, payment_ref = ?, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND status = ?`,
		model.OrderConfirmed, paymentRef, orderID, model.OrderPendingPayment,
	)
	if err != nil {
		return false, fmt.Errorf("confirm order: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm order: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if len(tickets) > 0 {
		query := `INSERT INTO tickets (id, order_id, event_id, tier_id, owner_user_id, status, created_at) VALUES `
		args := make([]interface{}, 0, len(tickets)*7)
		for i, t := range tickets {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?, ?)"
			args = append(args, t.ID, t.OrderID, t.EventID, t.TierID, t.OwnerUserID, t.Status, t.CreatedAt.UTC())
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return false, fmt.Errorf("insert tickets: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return true, nil
}

// MarkInventoryCommitted flips the order's inventory_committed flag.
// Exactly one caller ever gets true; everyone after sees false and
// must not run ledger commits for the order.
func (r *OrderRepo) MarkInventoryCommitted(ctx context.Context, orderID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET inventory_committed = 1, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND inventory_committed = 0`,
		orderID,
	)
	if err != nil {
		return false, fmt.Errorf("mark inventory committed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark inventory committed: %w", err)
	}
	return rows == 1, nil
}

// MarkFailed conditionally moves an order from pending_payment to failed.
func (r *OrderRepo) MarkFailed(ctx context.Context, orderID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = ?`,
		model.OrderFailed, orderID, model.OrderPendingPayment,
	)
	if err != nil {
		return false, fmt.Errorf("fail order: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail order: %w", err)
	}
	return rows == 1, nil
}

// Tickets returns all tickets minted for an order.
func (r *OrderRepo) Tickets(ctx context.Context, orderID string) ([]model.Ticket, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, order_id, event_id, tier_id, owner_user_id, status, created_at
		 FROM tickets WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.ID, &t.OrderID, &t.EventID, &t.TierID, &t.OwnerUserID, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
