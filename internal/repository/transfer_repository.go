package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eventix/ticketing/internal/model"
)

// TransferRepo provides data access to the transfers table and the
// ticket ownership column it moves.  The one-pending-transfer-per-
// ticket rule is enforced by a conditional INSERT rather than a
// check-then-act read, so two racing initiations cannot both win.
type TransferRepo struct {
	db *sql.DB
}

// NewTransferRepo returns a TransferRepo bound to the provided database.
func NewTransferRepo(db *sql.DB) *TransferRepo { return &TransferRepo{db: db} }

// GetTicket loads one ticket by ID.
func (r *TransferRepo) GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	var t model.Ticket
	err := r.db.QueryRowContext(ctx,
		`SELECT id, order_id, event_id, tier_id, owner_user_id, status, created_at
		 FROM tickets WHERE id = ?`, ticketID,
	).Scan(&t.ID, &t.OrderID, &t.EventID, &t.TierID, &t.OwnerUserID, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query ticket: %w", err)
	}
	return &t, nil
}

// CreatePending inserts a pending transfer, guarded so it only lands
// when no other pending transfer exists for the ticket.  Returns
// ErrDuplicate when the guard rejects the insert.
func (r *TransferRepo) CreatePending(ctx context.Context, t *model.Transfer) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO transfers (id, ticket_id, from_user_id, recipient_email, code_hash, status, created_at, expires_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?
		 FROM DUAL
		 WHERE NOT EXISTS (SELECT 1 FROM transfers WHERE ticket_id = ? AND status = ?)`,
		t.ID, t.TicketID, t.FromUserID, t.RecipientEmail, t.CodeHash, model.TransferPending,
		t.CreatedAt.UTC(), t.ExpiresAt.UTC(),
		t.TicketID, model.TransferPending,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert transfer: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	if rows == 0 {
		return ErrDuplicate
	}
	return nil
}

// Get loads one transfer by ID.
func (r *TransferRepo) Get(ctx context.Context, id string) (*model.Transfer, error) {
	var t model.Transfer
	err := r.db.QueryRowContext(ctx,
		`SELECT id, ticket_id, from_user_id, to_user_id, recipient_email, code_hash, status, created_at, expires_at, accepted_at
		 FROM transfers WHERE id = ?`, id,
	).Scan(&t.ID, &t.TicketID, &t.FromUserID, &t.ToUserID, &t.RecipientEmail, &t.CodeHash,
		&t.Status, &t.CreatedAt, &t.ExpiresAt, &t.AcceptedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transfer: %w", err)
	}
	return &t, nil
}

// Accept conditionally moves a pending transfer to accepted and
// reassigns ticket ownership in the same transaction.  Returns false
// when the transfer was no longer pending.
func (r *TransferRepo) Accept(ctx context.Context, id, toUserID string, now time.Time) (bool, error) {
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
		`UPDATE transfers SET status = ?, to_user_id = ?, accepted_at = ?
		 WHERE id = ? AND status = ?`,
		model.TransferAccepted, toUserID, now.UTC(), id, model.TransferPending,
	)
	if err != nil {
		return false, fmt.Errorf("accept transfer: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("accept transfer: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tickets SET owner_user_id = ?
		 WHERE id = (SELECT ticket_id FROM transfers WHERE id = ?)`,
		toUserID, id,
	); err != nil {
		return false, fmt.Errorf("reassign ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return true, nil
}

// TransitionStatus conditionally moves a transfer between statuses,
// used for cancel (pending→cancelled) and expiry (pending→expired).
func (r *TransferRepo) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition transfer: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition transfer: %w", err)
	}
	return rows == 1, nil
}
