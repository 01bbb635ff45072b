// Package ledger implements the per-tier inventory counters.  Every
// mutation is a conditional write guarded on the invariant
// held + sold <= capacity, so competing holds serialize at the store
// and inventory can never be oversold, regardless of interleaving.
package ledger

import (
	"context"
	"errors"

	"github.com/eventix/ticketing/internal/model"
)

// ErrInsufficientInventory is returned by TryHold when the requested
// quantity would push held + sold past capacity.  No counters change.
var ErrInsufficientInventory = errors.New("insufficient inventory")

// ErrTierNotFound is returned when the tier does not exist.
var ErrTierNotFound = errors.New("tier not found")

// ErrCounterConflict is returned by Release and Commit when the held
// counter does not cover the requested quantity.  It indicates a
// caller bug (double release / double commit); counters are left
// untouched rather than driven negative.
var ErrCounterConflict = errors.New("counter conflict")

// Ledger is the conditional-update contract for tier inventory.  Any
// backing store with optimistic-concurrency or serializable write
// semantics can implement it; the engine never takes client-side
// locks around these calls.
type Ledger interface {
	// TryHold moves qty units from available to held, failing with
	// ErrInsufficientInventory when capacity does not cover it.
	TryHold(ctx context.Context, tierID string, qty int) error
	// Release returns qty held units to available.
	Release(ctx context.Context, tierID string, qty int) error
	// Commit moves qty units from held to sold.
	Commit(ctx context.Context, tierID string, qty int) error
	// Tier returns the current counter row for a tier.
	Tier(ctx context.Context, tierID string) (*model.TierCounter, error)
}
