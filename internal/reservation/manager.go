// Package reservation creates and retires time-boxed inventory holds.
// A reservation is the only way checkout may take inventory: each one
// moves units into the ledger's held column on creation and guarantees
// they are given back (release) or finalized (commit by checkout)
// exactly once, through conditional status transitions.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventix/ticketing/internal/ledger"
	"github.com/eventix/ticketing/internal/model"
)

// ErrExpired is returned when the reservation's hold window has passed.
var ErrExpired = errors.New("reservation expired")

// ErrAlreadyConsumed is returned by Consume when the reservation was
// consumed before; no ledger mutation happens on the second call.
var ErrAlreadyConsumed = errors.New("reservation already consumed")

// ErrNotActive is returned when an operation needs an active
// reservation but found a cancelled one.
var ErrNotActive = errors.New("reservation not active")

// ErrNotOwner is returned when the caller does not own the reservation.
var ErrNotOwner = errors.New("not the reservation owner")

// ItemRequest is one requested line of a new reservation.
type ItemRequest struct {
	TierID   string `json:"tier_id"`
	Quantity int    `json:"quantity"`
}

// HoldFailure wraps a hold error with the tier that failed, so the
// client knows which line of the cart to fix.
type HoldFailure struct {
	TierID string
	Err    error
}

func (e *HoldFailure) Error() string { return fmt.Sprintf("tier %s: %v", e.TierID, e.Err) }
func (e *HoldFailure) Unwrap() error { return e.Err }

// Store is the persistence contract for reservations.  Implemented by
// repository.ReservationRepo over MySQL and by in-memory fakes in
// tests.
type Store interface {
	Create(ctx context.Context, res *model.Reservation, items []model.ReservationItem) error
	Get(ctx context.Context, id string) (*model.Reservation, []model.ReservationItem, error)
	// TransitionStatus performs a conditional status move and reports
	// whether this caller won it.
	TransitionStatus(ctx context.Context, id, from, to string) (bool, error)
	ListOverdueActive(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Manager creates, expires and consumes reservations against the
// inventory ledger.
type Manager struct {
	ledger  ledger.Ledger
	store   Store
	holdTTL time.Duration
	now     func() time.Time
}

// NewManager constructs a Manager.  holdTTL is the fixed hold window
// applied to every reservation.
func NewManager(l ledger.Ledger, s Store, holdTTL time.Duration) *Manager {
	return &Manager{ledger: l, store: s, holdTTL: holdTTL, now: func() time.Time { return time.Now().UTC() }}
}

// SetNow overrides the manager's clock.  Tests use it to age
// reservations past their TTL without sleeping.
func (m *Manager) SetNow(fn func() time.Time) { m.now = fn }

// Reserve takes holds for every requested item and persists the
// reservation.  On the first hold failure all previously taken holds
// in this request are released again and the failure names the tier
// that could not be held.
func (m *Manager) Reserve(ctx context.Context, eventID, userID, deviceID string, items []ItemRequest) (*model.Reservation, []model.ReservationItem, error) {
	if len(items) == 0 {
		return nil, nil, errors.New("no items requested")
	}
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, nil, fmt.Errorf("tier %s: non-positive quantity", it.TierID)
		}
		if _, dup := seen[it.TierID]; dup {
			return nil, nil, fmt.Errorf("tier %s: duplicate item", it.TierID)
		}
		seen[it.TierID] = struct{}{}
	}

	now := m.now()
	res := &model.Reservation{
		ID:        uuid.NewString(),
		EventID:   eventID,
		UserID:    userID,
		DeviceID:  deviceID,
		Status:    model.ReservationActive,
		CreatedAt: now,
		ExpiresAt: now.Add(m.holdTTL),
	}

	var held []model.ReservationItem
	rollback := func() {
		for _, it := range held {
			if err := m.ledger.Release(ctx, it.TierID, it.Quantity); err != nil {
				// Nothing more we can do here; the sweep of the
				// counter conflict belongs to operations.
				continue
			}
		}
	}

	for _, it := range items {
		tier, err := m.ledger.Tier(ctx, it.TierID)
		if err != nil {
			rollback()
			return nil, nil, &HoldFailure{TierID: it.TierID, Err: err}
		}
		if tier.EventID != eventID {
			rollback()
			return nil, nil, &HoldFailure{TierID: it.TierID, Err: errors.New("tier belongs to a different event")}
		}
		if err := m.ledger.TryHold(ctx, it.TierID, it.Quantity); err != nil {
			rollback()
			return nil, nil, &HoldFailure{TierID: it.TierID, Err: err}
		}
		held = append(held, model.ReservationItem{
			ReservationID:  res.ID,
			TierID:         it.TierID,
			Quantity:       it.Quantity,
			UnitPricePaise: tier.PricePaise,
		})
	}

	if err := m.store.Create(ctx, res, held); err != nil {
		rollback()
		return nil, nil, fmt.Errorf("persist reservation: %w", err)
	}
	return res, held, nil
}

// Get loads a reservation, lazily expiring it first.  Any read of an
// active reservation past its deadline observes it as expired with
// its inventory already released.
func (m *Manager) Get(ctx context.Context, id string) (*model.Reservation, []model.ReservationItem, error) {
	res, items, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if res.Status == model.ReservationActive && res.IsExpiredAt(m.now()) {
		if err := m.expire(ctx, res, items); err != nil {
			return nil, nil, err
		}
	}
	return res, items, nil
}

// Cancel releases an active reservation at the owner's request.  A
// repeated cancel is a no-op success, keeping the endpoint idempotent.
func (m *Manager) Cancel(ctx context.Context, id, userID string) error {
	res, items, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if res.UserID != userID {
		return ErrNotOwner
	}
	switch res.Status {
	case model.ReservationCancelled:
		return nil
	case model.ReservationExpired:
		return ErrExpired
	case model.ReservationConsumed:
		return ErrAlreadyConsumed
	}
	won, err := m.store.TransitionStatus(ctx, id, model.ReservationActive, model.ReservationCancelled)
	if err != nil {
		return err
	}
	if !won {
		// Lost a race with expiry or checkout; report what happened.
		return m.Cancel(ctx, id, userID)
	}
	m.releaseAll(ctx, items)
	return nil
}

// Consume finalizes a reservation for checkout.  Exactly one call can
// ever succeed; the winner receives the held items so it can commit
// them in the ledger.  Later calls see ErrAlreadyConsumed (or
// ErrExpired when the TTL ran out first) and cause no ledger change.
func (m *Manager) Consume(ctx context.Context, id string) ([]model.ReservationItem, error) {
	res, items, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case model.ReservationExpired:
		return nil, ErrExpired
	case model.ReservationConsumed:
		return nil, ErrAlreadyConsumed
	case model.ReservationCancelled:
		return nil, ErrNotActive
	}
	won, err := m.store.TransitionStatus(ctx, id, model.ReservationActive, model.ReservationConsumed)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, m.consumeLossReason(ctx, id)
	}
	return items, nil
}

// consumeLossReason re-reads a reservation after a lost consume race
// and maps its settled status to the right sentinel.
func (m *Manager) consumeLossReason(ctx context.Context, id string) error {
	res, _, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch res.Status {
	case model.ReservationExpired:
		return ErrExpired
	case model.ReservationCancelled:
		return ErrNotActive
	default:
		return ErrAlreadyConsumed
	}
}

// expire transitions an overdue reservation and releases its holds.
// The status CAS is the exactly-once guard: only the winner releases.
func (m *Manager) expire(ctx context.Context, res *model.Reservation, items []model.ReservationItem) error {
	won, err := m.store.TransitionStatus(ctx, res.ID, model.ReservationActive, model.ReservationExpired)
	if err != nil {
		return err
	}
	if won {
		m.releaseAll(ctx, items)
		res.Status = model.ReservationExpired
		return nil
	}
	// Someone else settled it first; reflect their outcome.
	settled, _, err := m.store.Get(ctx, res.ID)
	if err != nil {
		return err
	}
	res.Status = settled.Status
	return nil
}

func (m *Manager) releaseAll(ctx context.Context, items []model.ReservationItem) {
	for _, it := range items {
		_ = m.ledger.Release(ctx, it.TierID, it.Quantity)
	}
}

// SweepExpired proactively expires overdue active reservations in one
// batch and returns how many it settled.  It complements, not
// replaces, the lazy per-read expiry.
func (m *Manager) SweepExpired(ctx context.Context, limit int) (int, error) {
	ids, err := m.store.ListOverdueActive(ctx, m.now(), limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, id := range ids {
		res, items, err := m.store.Get(ctx, id)
		if err != nil {
			continue
		}
		if res.Status != model.ReservationActive {
			continue
		}
		before := res.Status
		if err := m.expire(ctx, res, items); err != nil {
			continue
		}
		if before == model.ReservationActive && res.Status == model.ReservationExpired {
			swept++
		}
	}
	return swept, nil
}
