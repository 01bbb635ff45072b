// Package transfer moves sole ownership of one ticket between two
// accounts through a single-use code handshake.  The code's public
// half locates the transfer row; its secret half is compared against
// a bcrypt hash, and acceptance is a conditional status update so a
// code can redeem at most once.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eventix/ticketing/internal/model"
	"github.com/eventix/ticketing/internal/queue"
	"github.com/eventix/ticketing/internal/utils"
)

// ErrNotFound is returned for unknown transfers or malformed codes.
var ErrNotFound = errors.New("transfer not found")

// ErrAlreadyAccepted is returned when the code was redeemed before;
// ownership is unchanged by the failed attempt.
var ErrAlreadyAccepted = errors.New("transfer already accepted")

// ErrExpired is returned when the code's redemption window has passed.
var ErrExpired = errors.New("transfer expired")

// ErrNotOwner is returned when the initiator does not own the ticket
// or a cancel comes from someone other than the initiator.
var ErrNotOwner = errors.New("not the ticket owner")

// ErrPendingExists is returned when the ticket already has a pending
// transfer.
var ErrPendingExists = errors.New("ticket already has a pending transfer")

// ErrNotPending is returned when cancelling a settled transfer.
var ErrNotPending = errors.New("transfer not pending")

// ErrSelfTransfer is returned when an account tries to accept its own
// transfer.
var ErrSelfTransfer = errors.New("cannot transfer a ticket to yourself")

// ErrTicketNotTransferable is returned for tickets that are used or
// cancelled.
var ErrTicketNotTransferable = errors.New("ticket not transferable")

// Store is the persistence contract for transfers, implemented by
// repository.TransferRepo.
type Store interface {
	GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error)
	// CreatePending inserts the transfer only if no other pending
	// transfer exists for the ticket.
	CreatePending(ctx context.Context, t *model.Transfer) error
	Get(ctx context.Context, id string) (*model.Transfer, error)
	// Accept conditionally settles a pending transfer and reassigns
	// the ticket; false means it was no longer pending.
	Accept(ctx context.Context, id, toUserID string, now time.Time) (bool, error)
	TransitionStatus(ctx context.Context, id, from, to string) (bool, error)
}

// EventPublisher publishes transfer completion events, best-effort.
type EventPublisher interface {
	PublishTicketTransferred(ctx context.Context, ev queue.TicketTransferredEvent) error
}

// Manager drives the transfer handshake.
type Manager struct {
	store      Store
	events     EventPublisher // may be nil
	ttl        time.Duration
	bcryptCost int
	now        func() time.Time
}

// NewManager constructs a Manager.  ttl bounds how long a pending
// code stays redeemable.
func NewManager(s Store, events EventPublisher, ttl time.Duration, bcryptCost int) *Manager {
	return &Manager{
		store:      s,
		events:     events,
		ttl:        ttl,
		bcryptCost: bcryptCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the manager's clock for tests.
func (m *Manager) SetNow(fn func() time.Time) { m.now = fn }

// Initiate opens a transfer for a ticket the caller owns and returns
// the single-use code to share with the recipient.  The secret half
// of the code exists only in this return value; the database keeps a
// bcrypt hash.
func (m *Manager) Initiate(ctx context.Context, ticketID, fromUserID, recipientEmail string) (*model.Transfer, string, error) {
	ticket, err := m.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, "", err
	}
	if ticket.OwnerUserID != fromUserID {
		return nil, "", ErrNotOwner
	}
	if ticket.Status != model.TicketValid {
		return nil, "", ErrTicketNotTransferable
	}

	secret, err := utils.RandomToken(16)
	if err != nil {
		return nil, "", fmt.Errorf("generate code: %w", err)
	}
	hash, err := utils.HashSecret(secret, m.bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash code: %w", err)
	}

	now := m.now()
	t := &model.Transfer{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		FromUserID: fromUserID,
		CodeHash:   hash,
		Status:     model.TransferPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if recipientEmail != "" {
		t.RecipientEmail = &recipientEmail
	}
	if err := m.store.CreatePending(ctx, t); err != nil {
		return nil, "", ErrPendingExists
	}
	return t, t.ID + "." + secret, nil
}

// Accept redeems a transfer code for toUserID, atomically reassigning
// ticket ownership.  A code redeems at most once; replays see
// ErrAlreadyAccepted with ownership unchanged.
func (m *Manager) Accept(ctx context.Context, code, toUserID string) (*model.Ticket, *model.Transfer, error) {
	id, secret, ok := splitCode(code)
	if !ok {
		return nil, nil, ErrNotFound
	}
	t, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	if !utils.VerifySecret(t.CodeHash, secret) {
		return nil, nil, ErrNotFound
	}
	if t.FromUserID == toUserID {
		return nil, nil, ErrSelfTransfer
	}
	switch t.Status {
	case model.TransferAccepted:
		return nil, nil, ErrAlreadyAccepted
	case model.TransferCancelled, model.TransferExpired:
		return nil, nil, ErrExpired
	}
	now := m.now()
	if t.IsExpiredAt(now) {
		// Lazy expiry: settle the row, then report.
		_, _ = m.store.TransitionStatus(ctx, t.ID, model.TransferPending, model.TransferExpired)
		return nil, nil, ErrExpired
	}

	won, err := m.store.Accept(ctx, t.ID, toUserID, now)
	if err != nil {
		return nil, nil, err
	}
	if !won {
		// Lost the race; re-read to report what settled it.
		settled, getErr := m.store.Get(ctx, t.ID)
		if getErr != nil {
			return nil, nil, getErr
		}
		if settled.Status == model.TransferAccepted {
			return nil, nil, ErrAlreadyAccepted
		}
		return nil, nil, ErrExpired
	}

	ticket, err := m.store.GetTicket(ctx, t.TicketID)
	if err != nil {
		return nil, nil, err
	}
	t.Status = model.TransferAccepted
	t.ToUserID = &toUserID
	t.AcceptedAt = &now

	if m.events != nil {
		ev := queue.TicketTransferredEvent{
			TransferID:    t.ID,
			TicketID:      t.TicketID,
			FromUserID:    t.FromUserID,
			ToUserID:      toUserID,
			TransferredAt: now.Format(time.RFC3339),
		}
		if err := m.events.PublishTicketTransferred(ctx, ev); err != nil {
			log.Printf("transfer: publish ticket.transferred: %v", err)
		}
	}
	return ticket, t, nil
}

// Cancel withdraws a pending transfer.  Only the initiator may
// cancel, and only while the transfer is still pending.
func (m *Manager) Cancel(ctx context.Context, transferID, callerID string) error {
	t, err := m.store.Get(ctx, transferID)
	if err != nil {
		return ErrNotFound
	}
	if t.FromUserID != callerID {
		return ErrNotOwner
	}
	if t.Status != model.TransferPending {
		return ErrNotPending
	}
	won, err := m.store.TransitionStatus(ctx, transferID, model.TransferPending, model.TransferCancelled)
	if err != nil {
		return err
	}
	if !won {
		return ErrNotPending
	}
	return nil
}

// Get loads a transfer for the initiator or accepted recipient.
func (m *Manager) Get(ctx context.Context, transferID, callerID string) (*model.Transfer, error) {
	t, err := m.store.Get(ctx, transferID)
	if err != nil {
		return nil, ErrNotFound
	}
	if t.FromUserID != callerID && (t.ToUserID == nil || *t.ToUserID != callerID) {
		return nil, ErrNotOwner
	}
	if t.Status == model.TransferPending && t.IsExpiredAt(m.now()) {
		if won, _ := m.store.TransitionStatus(ctx, t.ID, model.TransferPending, model.TransferExpired); won {
			t.Status = model.TransferExpired
		}
	}
	return t, nil
}

// splitCode splits "<transferID>.<secret>" into its halves.
func splitCode(code string) (id, secret string, ok bool) {
	id, secret, found := strings.Cut(code, ".")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}
