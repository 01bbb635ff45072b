package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eventix/ticketing/internal/ledger"
	"github.com/eventix/ticketing/internal/model"
)

// memStore is a mutex-guarded Store fake with the same conditional
// transition semantics as the MySQL repository.
type memStore struct {
	mu    sync.Mutex
	res   map[string]*model.Reservation
	items map[string][]model.ReservationItem
}

func newMemStore() *memStore {
	return &memStore{res: map[string]*model.Reservation{}, items: map[string][]model.ReservationItem{}}
}

func (s *memStore) Create(ctx context.Context, r *model.Reservation, items []model.ReservationItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.res[r.ID] = &cp
	s.items[r.ID] = append([]model.ReservationItem(nil), items...)
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*model.Reservation, []model.ReservationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.res[id]
	if !ok {
		return nil, nil, errors.New("not found")
	}
	cp := *r
	return &cp, append([]model.ReservationItem(nil), s.items[id]...), nil
}

func (s *memStore) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.res[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (s *memStore) ListOverdueActive(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.res {
		if r.Status == model.ReservationActive && !now.Before(r.ExpiresAt) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func newTestManager(capacity int) (*Manager, *ledger.MemoryLedger, *memStore) {
	l := ledger.NewMemoryLedger()
	l.AddTier(model.TierCounter{EventID: "ev-1", TierID: "tier-1", PricePaise: 50000, Capacity: capacity})
	l.AddTier(model.TierCounter{EventID: "ev-1", TierID: "tier-2", PricePaise: 90000, Capacity: capacity})
	s := newMemStore()
	return NewManager(l, s, 10*time.Minute), l, s
}

func TestReserveHoldsInventory(t *testing.T) {
	m, l, _ := newTestManager(10)
	ctx := context.Background()

	res, items, err := m.Reserve(ctx, "ev-1", "user-1", "dev-1", []ItemRequest{
		{TierID: "tier-1", Quantity: 2},
		{TierID: "tier-2", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if res.Status != model.ReservationActive || len(items) != 2 {
		t.Fatalf("unexpected reservation: %+v items=%d", res, len(items))
	}
	if items[0].UnitPricePaise != 50000 {
		t.Fatalf("price not captured from tier: %+v", items[0])
	}
	tier, _ := l.Tier(ctx, "tier-1")
	if tier.Held != 2 {
		t.Fatalf("tier-1 held = %d, want 2", tier.Held)
	}
}

// TestReserveRollsBackPartialHolds fills tier-2, then requests both
// tiers; the failed second line must release the first line's hold.
func TestReserveRollsBackPartialHolds(t *testing.T) {
	m, l, _ := newTestManager(3)
	ctx := context.Background()
	if err := l.TryHold(ctx, "tier-2", 3); err != nil {
		t.Fatal(err)
	}

	_, _, err := m.Reserve(ctx, "ev-1", "user-1", "dev-1", []ItemRequest{
		{TierID: "tier-1", Quantity: 2},
		{TierID: "tier-2", Quantity: 1},
	})
	var hf *HoldFailure
	if !errors.As(err, &hf) || hf.TierID != "tier-2" {
		t.Fatalf("expected hold failure on tier-2, got %v", err)
	}
	if !errors.Is(err, ledger.ErrInsufficientInventory) {
		t.Fatalf("failure reason not propagated: %v", err)
	}
	tier, _ := l.Tier(ctx, "tier-1")
	if tier.Held != 0 {
		t.Fatalf("partial hold not rolled back: held = %d", tier.Held)
	}
}

// TestCapacityOneRace launches two simultaneous single-unit reserves
// against a capacity-1 tier; exactly one may win.
func TestCapacityOneRace(t *testing.T) {
	m, _, _ := newTestManager(1)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, results[i] = m.Reserve(ctx, "ev-1", "user-1", "dev-1", []ItemRequest{{TierID: "tier-1", Quantity: 1}})
		}(i)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range results {
		if err == nil {
			wins++
		} else if errors.Is(err, ledger.ErrInsufficientInventory) {
			losses++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins=%d losses=%d, want 1/1", wins, losses)
	}
}

func TestConsumeOnce(t *testing.T) {
	m, _, _ := newTestManager(5)
	ctx := context.Background()
	res, _, err := m.Reserve(ctx, "ev-1", "user-1", "dev-1", []ItemRequest{{TierID: "tier-1", Quantity: 1}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Consume(ctx, res.ID); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if _, err := m.Consume(ctx, res.ID); !errors.Is(err, ErrAlreadyConsumed) {
		t.Fatalf("second consume: got %v, want ErrAlreadyConsumed", err)
	}
}

// TestExpiredConsumeReleasesInventory ages a reservation past its
// TTL, then consumes; the hold must be released and available to a
// fresh reserve before any other caller can take it.
func TestExpiredConsumeReleasesInventory(t *testing.T) {
	m, l, _ := newTestManager(1)
	ctx := context.Background()
	res, _, err := m.Reserve(ctx, "ev-1", "user-1", "dev-1", []ItemRequest{{TierID: "tier-1", Quantity: 1}})
	if err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return res.ExpiresAt.Add(time.Second) }

	if _, err := m.Consume(ctx, res.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("consume after TTL: got %v, want ErrExpired", err)
	}
	tier, _ := l.Tier(ctx, "tier-1")
	if tier.Held != 0 {
		t.Fatalf("expired hold not released: held = %d", tier.Held)
	}
	if _, _, err := m.Reserve(ctx, "ev-1", "user-2", "dev-2", []ItemRequest{{TierID: "tier-1", Quantity: 1}}); err != nil {
		t.Fatalf("inventory not reusable after expiry: %v", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	m, l, _ := newTestManager(5)
	ctx := context.Background()
	res, _, err := m.Reserve(ctx, "ev-1", "user-1", "dev-1", []ItemRequest{{TierID: "tier-1", Quantity: 2}})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Cancel(ctx, res.ID, "user-2"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign cancel: got %v, want ErrNotOwner", err)
	}
	if err := m.Cancel(ctx, res.ID, "user-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := m.Cancel(ctx, res.ID, "user-1"); err != nil {
		t.Fatalf("repeat cancel should be a no-op, got %v", err)
	}
	tier, _ := l.Tier(ctx, "tier-1")
	if tier.Held != 0 {
		t.Fatalf("cancel did not release: held = %d", tier.Held)
	}
}

func TestSweepExpired(t *testing.T) {
	m, l, _ := newTestManager(5)
	ctx := context.Background()
	res, _, err := m.Reserve(ctx, "ev-1", "user-1", "dev-1", []ItemRequest{{TierID: "tier-1", Quantity: 3}})
	if err != nil {
		t.Fatal(err)
	}

	m.now = func() time.Time { return res.ExpiresAt.Add(time.Minute) }

	n, err := m.SweepExpired(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	tier, _ := l.Tier(ctx, "tier-1")
	if tier.Held != 0 {
		t.Fatalf("sweep did not release: held = %d", tier.Held)
	}
}
