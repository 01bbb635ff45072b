package model

import "time"

// Transfer statuses.
const (
	TransferPending   = "pending"
	TransferAccepted  = "accepted"
	TransferCancelled = "cancelled"
	TransferExpired   = "expired"
)

// Transfer is a single-use handshake that moves sole ownership of one
// ticket between two accounts.  A ticket has at most one pending
// transfer at a time; the recipient redeems a code the initiator
// shares out of band.  Only the secret half of the code is ever
// compared, and only against its stored bcrypt hash.
//
// Fields:
//  ID             – UUID primary key, also the public half of the code.
//  TicketID       – ticket changing hands.
//  FromUserID     – current owner who initiated the transfer.
//  ToUserID       – recipient, set on accept (nullable until then).
//  RecipientEmail – optional hint for the intended recipient.
//  CodeHash       – bcrypt hash of the code's secret half.
//  Status         – pending, accepted, cancelled or expired.
type Transfer struct {
	ID             string     // transfers.id
	TicketID       string     // transfers.ticket_id
	FromUserID     string     // transfers.from_user_id
	ToUserID       *string    // transfers.to_user_id (nullable)
	RecipientEmail *string    // transfers.recipient_email (nullable)
	CodeHash       string     // transfers.code_hash
	Status         string     // transfers.status
	CreatedAt      time.Time  // transfers.created_at
	ExpiresAt      time.Time  // transfers.expires_at
	AcceptedAt     *time.Time // transfers.accepted_at (nullable)
}

// IsExpiredAt reports whether the transfer code stopped being
// redeemable at the supplied instant.
func (t *Transfer) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
