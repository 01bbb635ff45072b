package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eventix/ticketing/internal/model"
)

// MemoryLedger is a mutex-guarded in-memory Ledger with the same
// conditional semantics as the MySQL implementation.  It backs unit
// tests and small single-node deployments.
type MemoryLedger struct {
	mu    sync.Mutex
	tiers map[string]*model.TierCounter
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{tiers: make(map[string]*model.TierCounter)}
}

// AddTier registers a tier counter.  Existing counters with the same
// tier ID are replaced.
func (l *MemoryLedger) AddTier(t model.TierCounter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := t
	l.tiers[t.TierID] = &cp
}

func (l *MemoryLedger) TryHold(ctx context.Context, tierID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("try hold: non-positive quantity %d", qty)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tiers[tierID]
	if !ok {
		return ErrTierNotFound
	}
	if t.Held+t.Sold+qty > t.Capacity {
		return ErrInsufficientInventory
	}
	t.Held += qty
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, tierID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("release: non-positive quantity %d", qty)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tiers[tierID]
	if !ok {
		return ErrTierNotFound
	}
	if t.Held < qty {
		return ErrCounterConflict
	}
	t.Held -= qty
	t.Version++
	return nil
}

func (l *MemoryLedger) Commit(ctx context.Context, tierID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("commit: non-positive quantity %d", qty)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tiers[tierID]
	if !ok {
		return ErrTierNotFound
	}
	if t.Held < qty {
		return ErrCounterConflict
	}
	t.Held -= qty
	t.Sold += qty
	t.Version++
	return nil
}

func (l *MemoryLedger) Tier(ctx context.Context, tierID string) (*model.TierCounter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tiers[tierID]
	if !ok {
		return nil, ErrTierNotFound
	}
	cp := *t
	return &cp, nil
}
