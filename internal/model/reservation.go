package model

import "time"

// Reservation statuses.  A reservation starts active and terminates in
// exactly one of the other three states.
const (
	ReservationActive    = "active"
	ReservationExpired   = "expired"
	ReservationConsumed  = "consumed"
	ReservationCancelled = "cancelled"
)

// Reservation is a time-boxed claim on inventory made while a buyer
// completes checkout.  Exactly one reservation may hold a given unit
// of inventory; the hold is surrendered on expiry, cancellation or a
// successful checkout.
//
// Fields:
//  ID        – UUID primary key.
//  EventID   – event the reservation targets.
//  UserID    – authenticated buyer who owns the hold.
//  DeviceID  – client supplied device identifier for abuse tracing.
//  Status    – one of active, expired, consumed, cancelled.
//  CreatedAt – when the hold was taken.
//  ExpiresAt – hard deadline after which the hold is void.
type Reservation struct {
	ID        string    // reservations.id
	EventID   string    // reservations.event_id
	UserID    string    // reservations.user_id
	DeviceID  string    // reservations.device_id
	Status    string    // reservations.status
	CreatedAt time.Time // reservations.created_at
	ExpiresAt time.Time // reservations.expires_at
	UpdatedAt time.Time // reservations.updated_at
}

// ReservationItem is one line of a reservation: a quantity of a single
// tier held at the unit price in effect when the hold was taken.  The
// stored price is advisory only; checkout always reprices.
type ReservationItem struct {
	ReservationID  string // reservation_items.reservation_id
	TierID         string // reservation_items.tier_id
	Quantity       int    // reservation_items.quantity
	UnitPricePaise int64  // reservation_items.unit_price_paise
}

// IsExpiredAt reports whether the reservation's hold window has passed
// at the supplied instant.  All expiry decisions in the system go
// through this single predicate so TTL logic is not duplicated at
// every read site.
func (r *Reservation) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
