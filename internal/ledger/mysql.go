package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eventix/ticketing/internal/model"
)

// MySQLLedger implements Ledger over the tier_counters table.  Each
// mutation is a single UPDATE whose WHERE clause re-states the
// invariant; a zero rows-affected result means the guard failed and
// nothing changed.  MySQL's row lock on the matched row is what
// total-orders competing holds against the same tier.
type MySQLLedger struct {
	db *sql.DB
}

// NewMySQLLedger returns a ledger bound to the provided database.
func NewMySQLLedger(db *sql.DB) *MySQLLedger { return &MySQLLedger{db: db} }

func (l *MySQLLedger) TryHold(ctx context.Context, tierID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("try hold: non-positive quantity %d", qty)
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE tier_counters
		 SET held = held + ?, version = version + 1, updated_at = UTC_TIMESTAMP()
		 WHERE tier_id = ? AND held + sold + ? <= capacity`,
		qty, tierID, qty,
	)
	if err != nil {
		return fmt.Errorf("try hold: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("try hold: %w", err)
	}
	if rows == 0 {
		// Guard failed: either the tier is unknown or capacity is
		// exhausted.  Distinguish so callers can report accurately.
		if exists, checkErr := l.tierExists(ctx, tierID); checkErr != nil {
			return checkErr
		} else if !exists {
			return ErrTierNotFound
		}
		return ErrInsufficientInventory
	}
	return nil
}

func (l *MySQLLedger) Release(ctx context.Context, tierID string, qty int) error {
	return l.moveHeld(ctx, tierID, qty,
		`UPDATE tier_counters
		 SET held = held - ?, version = version + 1, updated_at = UTC_TIMESTAMP()
		 WHERE tier_id = ? AND held >= ?`, "release")
}

func (l *MySQLLedger) Commit(ctx context.Context, tierID string, qty int) error {
	return l.moveHeld(ctx, tierID, qty,
		`UPDATE tier_counters
		 SET held = held - ?, sold = sold + ?, version = version + 1, updated_at = UTC_TIMESTAMP()
		 WHERE tier_id = ? AND held >= ?`, "commit")
}

// moveHeld runs a held-guarded counter movement.  The commit variant
// carries an extra placeholder for the sold increment.
func (l *MySQLLedger) moveHeld(ctx context.Context, tierID string, qty int, query, op string) error {
	if qty <= 0 {
		return fmt.Errorf("%s: non-positive quantity %d", op, qty)
	}
	args := []any{qty, tierID, qty}
	if op == "commit" {
		args = []any{qty, qty, tierID, qty}
	}
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rows == 0 {
		if exists, checkErr := l.tierExists(ctx, tierID); checkErr != nil {
			return checkErr
		} else if !exists {
			return ErrTierNotFound
		}
		return ErrCounterConflict
	}
	return nil
}

func (l *MySQLLedger) Tier(ctx context.Context, tierID string) (*model.TierCounter, error) {
	var t model.TierCounter
	err := l.db.QueryRowContext(ctx,
		`SELECT event_id, tier_id, name, price_paise, capacity, held, sold, version, updated_at
		 FROM tier_counters WHERE tier_id = ?`, tierID,
	).Scan(&t.EventID, &t.TierID, &t.Name, &t.PricePaise, &t.Capacity, &t.Held, &t.Sold, &t.Version, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTierNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tier: %w", err)
	}
	return &t, nil
}

func (l *MySQLLedger) tierExists(ctx context.Context, tierID string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, `SELECT 1 FROM tier_counters WHERE tier_id = ?`, tierID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check tier: %w", err)
	}
	return true, nil
}
