package model

import "time"

// TierCounter tracks the inventory position of a single ticket tier
// within an event.  It is the single point of contention per tier:
// every hold, release and commit flows through a conditional update
// against this row, never a direct field increment.
//
// Invariant: Held + Sold <= Capacity at all times.
//
// Fields:
//  EventID    – event this tier belongs to.
//  TierID     – unique tier identifier (primary key).
//  Name       – human readable tier name (e.g. "Early Bird").
//  PricePaise – unit price in paise.
//  Capacity   – total sellable units for the tier.
//  Held       – units currently locked by active reservations.
//  Sold       – units committed to confirmed orders.
//  Version    – bumped on every successful conditional write.
type TierCounter struct {
	EventID    string    // tier_counters.event_id
	TierID     string    // tier_counters.tier_id
	Name       string    // tier_counters.name
	PricePaise int64     // tier_counters.price_paise
	Capacity   int       // tier_counters.capacity
	Held       int       // tier_counters.held
	Sold       int       // tier_counters.sold
	Version    uint64    // tier_counters.version
	UpdatedAt  time.Time // tier_counters.updated_at
}

// Remaining reports how many units are still available to hold.
func (t *TierCounter) Remaining() int {
	return t.Capacity - t.Held - t.Sold
}
