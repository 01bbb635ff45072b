package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eventix/ticketing/internal/model"
)

// BundleRepo provides data access to share_bundles and bundle_slots.
// Slot claims are conditional updates on claimed_by_user_id IS NULL,
// which is what guarantees at most one winner per slot under
// concurrent claim attempts.
type BundleRepo struct {
	db *sql.DB
}

// NewBundleRepo returns a BundleRepo bound to the provided database.
func NewBundleRepo(db *sql.DB) *BundleRepo { return &BundleRepo{db: db} }

// UnbundledTickets returns the IDs of valid tickets on the order and
// tier that are still owned by ownerID and not attached to any bundle
// slot.  These are the tickets eligible for a new bundle.
func (r *BundleRepo) UnbundledTickets(ctx context.Context, orderID, tierID, ownerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id FROM tickets t
		 WHERE t.order_id = ? AND t.tier_id = ? AND t.owner_user_id = ? AND t.status = ?
		   AND NOT EXISTS (SELECT 1 FROM bundle_slots s WHERE s.ticket_id = t.id)
		 ORDER BY t.id`,
		orderID, tierID, ownerID, model.TicketValid)
	if err != nil {
		return nil, fmt.Errorf("query unbundled tickets: %w", err)
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

// Create persists a bundle and its slots in one transaction.
func (r *BundleRepo) Create(ctx context.Context, b *model.ShareBundle, slots []model.BundleSlot) error {
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
		`INSERT INTO share_bundles (id, order_id, tier_id, owner_user_id, total_slots, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OrderID, b.TierID, b.OwnerUserID, b.TotalSlots, b.ExpiresAt.UTC(), b.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert bundle: %w", err)
	}

	query := `INSERT INTO bundle_slots (bundle_id, slot_index, ticket_id, claim_token, reclaimed) VALUES `
	args := make([]interface{}, 0, len(slots)*5)
	for i, s := range slots {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, 0)"
		args = append(args, b.ID, s.SlotIndex, s.TicketID, s.ClaimToken)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		// A ticket already attached to another bundle trips the
		// UNIQUE key on bundle_slots.ticket_id.
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert slots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Get loads a bundle with all of its slots.
func (r *BundleRepo) Get(ctx context.Context, bundleID string) (*model.ShareBundle, []model.BundleSlot, error) {
	b, err := r.scanBundle(ctx, `id = ?`, bundleID)
	if err != nil {
		return nil, nil, err
	}
	slots, err := r.slots(ctx, b.ID)
	if err != nil {
		return nil, nil, err
	}
	return b, slots, nil
}

// GetByToken resolves a claim token to its bundle and slot.
func (r *BundleRepo) GetByToken(ctx context.Context, token string) (*model.ShareBundle, *model.BundleSlot, error) {
	var s model.BundleSlot
	err := r.db.QueryRowContext(ctx,
		`SELECT bundle_id, slot_index, ticket_id, claim_token, claimed_by_user_id, claimed_at, reclaimed
		 FROM bundle_slots WHERE claim_token = ?`, token,
	).Scan(&s.BundleID, &s.SlotIndex, &s.TicketID, &s.ClaimToken, &s.ClaimedByUserID, &s.ClaimedAt, &s.Reclaimed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("query slot: %w", err)
	}
	b, err := r.scanBundle(ctx, `id = ?`, s.BundleID)
	if err != nil {
		return nil, nil, err
	}
	return b, &s, nil
}

// ClaimSlot conditionally assigns an unclaimed slot to userID and
// reassigns the underlying ticket in the same transaction.  It
// returns false when the slot was already claimed or reclaimed.
func (r *BundleRepo) ClaimSlot(ctx context.Context, token, userID string, now time.Time) (bool, error) {
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
		`UPDATE bundle_slots SET claimed_by_user_id = ?, claimed_at = ?
		 WHERE claim_token = ? AND claimed_by_user_id IS NULL AND reclaimed = 0`,
		userID, now.UTC(), token,
	)
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tickets SET owner_user_id = ?
		 WHERE id = (SELECT ticket_id FROM bundle_slots WHERE claim_token = ?)`,
		userID, token,
	); err != nil {
		return false, fmt.Errorf("reassign ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return true, nil
}

// ReclaimSlot marks an unclaimed slot as reclaimed by the owner,
// invalidating its token.  Returns false when the slot was claimed
// first or already reclaimed.
func (r *BundleRepo) ReclaimSlot(ctx context.Context, bundleID string, slotIndex int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bundle_slots SET reclaimed = 1
		 WHERE bundle_id = ? AND slot_index = ? AND claimed_by_user_id IS NULL AND reclaimed = 0`,
		bundleID, slotIndex,
	)
	if err != nil {
		return false, fmt.Errorf("reclaim slot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reclaim slot: %w", err)
	}
	return rows == 1, nil
}

func (r *BundleRepo) scanBundle(ctx context.Context, where string, arg any) (*model.ShareBundle, error) {
	var b model.ShareBundle
	err := r.db.QueryRowContext(ctx,
		`SELECT id, order_id, tier_id, owner_user_id, total_slots, expires_at, created_at
		 FROM share_bundles WHERE `+where, arg,
	).Scan(&b.ID, &b.OrderID, &b.TierID, &b.OwnerUserID, &b.TotalSlots, &b.ExpiresAt, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bundle: %w", err)
	}
	return &b, nil
}

func (r *BundleRepo) slots(ctx context.Context, bundleID string) ([]model.BundleSlot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT bundle_id, slot_index, ticket_id, claim_token, claimed_by_user_id, claimed_at, reclaimed
		 FROM bundle_slots WHERE bundle_id = ? ORDER BY slot_index`, bundleID)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}
	defer rows.Close()
	var out []model.BundleSlot
	for rows.Next() {
		var s model.BundleSlot
		if err := rows.Scan(&s.BundleID, &s.SlotIndex, &s.TicketID, &s.ClaimToken, &s.ClaimedByUserID, &s.ClaimedAt, &s.Reclaimed); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
