package model

import "time"

// Order statuses.
const (
	OrderPendingPayment = "pending_payment"
	OrderConfirmed      = "confirmed"
	OrderFailed         = "failed"
	OrderCancelled      = "cancelled"
)

// Ticket statuses.
const (
	TicketValid     = "valid"
	TicketUsed      = "used"
	TicketCancelled = "cancelled"
)

// Order is created when a reservation enters checkout.  Each
// reservation produces at most one order (unique key on
// reservation_id); the order ID doubles as the idempotency key for
// payment verification so retried webhooks can never finalize twice.
//
// Fields:
//  ID                 – UUID primary key, also the gateway order reference.
//  ReservationID      – reservation this order consumes.
//  UserID             – buyer.
//  EventID            – event being purchased.
//  Status             – pending_payment, confirmed, failed or cancelled.
//  AmountPaise        – grand total recomputed server-side at checkout.
//  InventoryCommitted – flipped once, by the single finalizer allowed to
//                       move the order's held units to sold.
//  PaymentRef         – gateway payment id once confirmed (nullable).
type Order struct {
	ID                 string    // orders.id
	ReservationID      string    // orders.reservation_id
	UserID             string    // orders.user_id
	EventID            string    // orders.event_id
	Status             string    // orders.status
	AmountPaise        int64     // orders.amount_paise
	InventoryCommitted bool      // orders.inventory_committed
	BuyerName          string    // orders.buyer_name
	BuyerEmail         string    // orders.buyer_email
	PromoCode          *string   // orders.promo_code (nullable)
	ReferralCode       *string   // orders.referral_code (nullable)
	PaymentRef         *string   // orders.payment_ref (nullable)
	CreatedAt          time.Time // orders.created_at
	UpdatedAt          time.Time // orders.updated_at
}

// Ticket is one purchased unit.  Tickets are minted when an order is
// confirmed and carry the current owner, which changes through share
// bundle claims and transfers.
type Ticket struct {
	ID          string    // tickets.id
	OrderID     string    // tickets.order_id
	EventID     string    // tickets.event_id
	TierID      string    // tickets.tier_id
	OwnerUserID string    // tickets.owner_user_id
	Status      string    // tickets.status
	CreatedAt   time.Time // tickets.created_at
}
