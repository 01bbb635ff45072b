// Package queue defines message payloads exchanged over the message broker.
package queue

// OrderConfirmedEvent is published when an order is finalized.  It
// carries enough for downstream consumers (notifications, the
// settlement ledger) to act without querying the primary database.
type OrderConfirmedEvent struct {
	OrderID       string   `json:"order_id"`
	ReservationID string   `json:"reservation_id"`
	UserID        string   `json:"user_id"`
	EventID       string   `json:"event_id"`
	TicketIDs     []string `json:"ticket_ids"`
	AmountPaise   int64    `json:"amount_paise"`
	PaymentRef    string   `json:"payment_ref,omitempty"`
	ConfirmedAt   string   `json:"confirmed_at"`
}

// TicketTransferredEvent is published when a transfer handshake
// completes and a ticket changes owner.
type TicketTransferredEvent struct {
	TransferID    string `json:"transfer_id"`
	TicketID      string `json:"ticket_id"`
	FromUserID    string `json:"from_user_id"`
	ToUserID      string `json:"to_user_id"`
	TransferredAt string `json:"transferred_at"`
}
