// Package share splits a purchased multi-quantity order into
// individually claimable ticket slots.  Each slot carries a
// single-use claim token; claiming is a conditional write, so any
// number of concurrent claimants produce exactly one winner.
package share

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eventix/ticketing/internal/model"
	"github.com/eventix/ticketing/internal/utils"
)

// ErrAlreadyClaimed is returned when the slot was claimed (or
// reclaimed by the owner) before this attempt.
var ErrAlreadyClaimed = errors.New("slot already claimed")

// ErrBundleExpired is returned for claims against an expired bundle.
// Slots claimed before expiry are unaffected.
var ErrBundleExpired = errors.New("bundle expired")

// ErrNotOwner is returned when the caller does not own the bundle or
// the underlying order.
var ErrNotOwner = errors.New("not the bundle owner")

// ErrNotEnoughTickets is returned when the order does not have enough
// unbundled tickets of the tier to fill the requested slots.
var ErrNotEnoughTickets = errors.New("not enough unbundled tickets")

// ErrTokenNotFound is returned for unknown claim tokens.
var ErrTokenNotFound = errors.New("claim token not found")

// Store is the persistence contract for bundles, implemented by
// repository.BundleRepo.
type Store interface {
	UnbundledTickets(ctx context.Context, orderID, tierID, ownerID string) ([]string, error)
	Create(ctx context.Context, b *model.ShareBundle, slots []model.BundleSlot) error
	Get(ctx context.Context, bundleID string) (*model.ShareBundle, []model.BundleSlot, error)
	GetByToken(ctx context.Context, token string) (*model.ShareBundle, *model.BundleSlot, error)
	// ClaimSlot conditionally assigns the slot; false means another
	// claimant won or the owner reclaimed it first.
	ClaimSlot(ctx context.Context, token, userID string, now time.Time) (bool, error)
	ReclaimSlot(ctx context.Context, bundleID string, slotIndex int) (bool, error)
}

// Assignment is the outcome of a successful claim.
type Assignment struct {
	BundleID  string `json:"bundle_id"`
	SlotIndex int    `json:"slot_index"`
	TicketID  string `json:"ticket_id"`
	UserID    string `json:"user_id"`
}

// Preview is the claim-page view of a bundle resolved from a token.
type Preview struct {
	Bundle  *model.ShareBundle `json:"bundle"`
	Slot    *model.BundleSlot  `json:"slot"`
	Claimed bool               `json:"claimed"`
	Expired bool               `json:"expired"`
}

// Manager creates and resolves share bundles.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager constructs a Manager.  ttl is the claim window applied
// to every new bundle.
func NewManager(s Store, ttl time.Duration) *Manager {
	return &Manager{store: s, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// SetNow overrides the manager's clock for tests.
func (m *Manager) SetNow(fn func() time.Time) { m.now = fn }

// CreateBundle splits slotCount tickets of a tier on the caller's
// order into claimable slots.  Tickets already placed in another
// bundle are not eligible again.
func (m *Manager) CreateBundle(ctx context.Context, orderID, tierID, ownerID string, slotCount int) (*model.ShareBundle, []model.BundleSlot, error) {
	if slotCount <= 0 {
		return nil, nil, errors.New("slot count must be positive")
	}
	eligible, err := m.store.UnbundledTickets(ctx, orderID, tierID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if len(eligible) < slotCount {
		return nil, nil, ErrNotEnoughTickets
	}

	now := m.now()
	b := &model.ShareBundle{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		TierID:      tierID,
		OwnerUserID: ownerID,
		TotalSlots:  slotCount,
		ExpiresAt:   now.Add(m.ttl),
		CreatedAt:   now,
	}
	slots := make([]model.BundleSlot, 0, slotCount)
	for i := 0; i < slotCount; i++ {
		token, err := utils.RandomToken(32)
		if err != nil {
			return nil, nil, fmt.Errorf("generate claim token: %w", err)
		}
		slots = append(slots, model.BundleSlot{
			BundleID:   b.ID,
			SlotIndex:  i,
			TicketID:   eligible[i],
			ClaimToken: token,
		})
	}
	if err := m.store.Create(ctx, b, slots); err != nil {
		return nil, nil, err
	}
	return b, slots, nil
}

// PreviewToken resolves a claim token for the claim page without
// changing any state.
func (m *Manager) PreviewToken(ctx context.Context, token string) (*Preview, error) {
	b, slot, err := m.store.GetByToken(ctx, token)
	if err != nil {
		return nil, ErrTokenNotFound
	}
	return &Preview{
		Bundle:  b,
		Slot:    slot,
		Claimed: slot.ClaimedByUserID != nil || slot.Reclaimed,
		Expired: b.IsExpiredAt(m.now()),
	}, nil
}

// Claim assigns the slot behind token to userID, exactly once.  The
// bundle owner claiming their own slot is allowed (it simply keeps
// the ticket where it is).
func (m *Manager) Claim(ctx context.Context, token, userID string) (*Assignment, error) {
	b, slot, err := m.store.GetByToken(ctx, token)
	if err != nil {
		return nil, ErrTokenNotFound
	}
	if b.IsExpiredAt(m.now()) {
		return nil, ErrBundleExpired
	}
	won, err := m.store.ClaimSlot(ctx, token, userID, m.now())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyClaimed
	}
	return &Assignment{
		BundleID:  b.ID,
		SlotIndex: slot.SlotIndex,
		TicketID:  slot.TicketID,
		UserID:    userID,
	}, nil
}

// Reclaim lets the owner take back an unclaimed slot before expiry,
// invalidating its token.  The ticket never left the owner, so no
// ownership change happens.
func (m *Manager) Reclaim(ctx context.Context, bundleID string, slotIndex int, callerID string) error {
	b, _, err := m.store.Get(ctx, bundleID)
	if err != nil {
		return err
	}
	if b.OwnerUserID != callerID {
		return ErrNotOwner
	}
	won, err := m.store.ReclaimSlot(ctx, bundleID, slotIndex)
	if err != nil {
		return err
	}
	if !won {
		return ErrAlreadyClaimed
	}
	return nil
}
