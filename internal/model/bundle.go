package model

import "time"

// ShareBundle splits a multi-quantity purchase into individually
// claimable single-ticket slots.  The order owner creates the bundle,
// hands out slot claim links, and may reclaim any slot that has not
// been claimed yet.  Expiry blocks new claims but never voids slots
// that were already claimed.
//
// Fields:
//  ID          – UUID primary key.
//  OrderID     – order the bundled tickets came from.
//  TierID      – tier of the bundled tickets.
//  OwnerUserID – order owner who created the bundle.
//  TotalSlots  – number of claimable slots.
//  ExpiresAt   – deadline after which new claims are rejected.
type ShareBundle struct {
	ID          string    // share_bundles.id
	OrderID     string    // share_bundles.order_id
	TierID      string    // share_bundles.tier_id
	OwnerUserID string    // share_bundles.owner_user_id
	TotalSlots  int       // share_bundles.total_slots
	ExpiresAt   time.Time // share_bundles.expires_at
	CreatedAt   time.Time // share_bundles.created_at
}

// BundleSlot is one claimable position inside a share bundle.  Each
// slot wraps exactly one ticket and is claimed at most once: the claim
// is a conditional write that only succeeds while ClaimedByUserID is
// still null.
type BundleSlot struct {
	BundleID        string     // bundle_slots.bundle_id
	SlotIndex       int        // bundle_slots.slot_index
	TicketID        string     // bundle_slots.ticket_id
	ClaimToken      string     // bundle_slots.claim_token
	ClaimedByUserID *string    // bundle_slots.claimed_by_user_id (nullable)
	ClaimedAt       *time.Time // bundle_slots.claimed_at (nullable)
	Reclaimed       bool       // bundle_slots.reclaimed
}

// IsExpiredAt reports whether the bundle stopped accepting claims at
// the supplied instant.
func (b *ShareBundle) IsExpiredAt(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}
