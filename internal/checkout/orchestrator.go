// Package checkout binds a reservation to a payment attempt and
// finalizes the order exactly once.  The order ID is the idempotency
// key for payment verification: however many times the gateway's
// webhook retries, only the winner of the order's inventory_committed
// flip moves held units to sold, and only the winner of the status
// update mints tickets.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/eventix/ticketing/internal/ledger"
	"github.com/eventix/ticketing/internal/model"
	"github.com/eventix/ticketing/internal/payment"
	"github.com/eventix/ticketing/internal/pricing"
	"github.com/eventix/ticketing/internal/queue"
	"github.com/eventix/ticketing/internal/repository"
	"github.com/eventix/ticketing/internal/reservation"
)

// ErrPaymentVerificationFailed is returned when the gateway signature
// does not match.  The order is left untouched in pending_payment;
// the system fails closed and never confirms on a bad signature.
var ErrPaymentVerificationFailed = errors.New("payment verification failed")

// ErrOrderNotFound is returned when the referenced order does not exist.
var ErrOrderNotFound = errors.New("order not found")

// ErrNotOwner is returned when the caller does not own the reservation
// being checked out.
var ErrNotOwner = errors.New("not the reservation owner")

// BuyerDetails are captured at checkout and stored on the order.
type BuyerDetails struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Codes are the optional discount codes supplied at checkout.
type Codes struct {
	Promo    string `json:"promo_code,omitempty"`
	Referral string `json:"referral_code,omitempty"`
}

// Result is returned from Initiate: the order, its quote, and the
// gateway parameters when payment is still due.
type Result struct {
	Order         *model.Order    `json:"order"`
	Tickets       []model.Ticket  `json:"tickets,omitempty"`
	Quote         pricing.Quote   `json:"quote"`
	PaymentParams *payment.Params `json:"payment_params,omitempty"`
}

// OrderStore is the persistence contract for orders and tickets,
// implemented by repository.OrderRepo.
type OrderStore interface {
	Create(ctx context.Context, o *model.Order) error
	Get(ctx context.Context, id string) (*model.Order, error)
	GetByReservation(ctx context.Context, reservationID string) (*model.Order, error)
	// Confirm conditionally moves the order to confirmed and mints
	// tickets atomically; false means another caller won.
	Confirm(ctx context.Context, orderID string, paymentRef *string, tickets []model.Ticket) (bool, error)
	// MarkInventoryCommitted conditionally flips the order's
	// inventory_committed flag; true means this caller owns the
	// ledger commits for the order.
	MarkInventoryCommitted(ctx context.Context, orderID string) (bool, error)
	MarkFailed(ctx context.Context, orderID string) (bool, error)
	Tickets(ctx context.Context, orderID string) ([]model.Ticket, error)
}

// PromoSource resolves discount code rows.  A nil row with nil error
// means the code does not exist.
type PromoSource interface {
	GetPromo(ctx context.Context, code string) (*model.PromoCode, error)
	GetReferral(ctx context.Context, code string) (*model.ReferralCode, error)
	RedeemPromo(ctx context.Context, code string) (bool, error)
}

// Idempotency is an optional fast-path guard (Redis SETNX) that
// short-circuits webhook retry storms before they touch MySQL.
// Correctness never depends on it; the order status CAS does that.
type Idempotency interface {
	SetIdempotency(ctx context.Context, key string) (bool, error)
}

// EventPublisher publishes order lifecycle events, best-effort.
type EventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, ev queue.OrderConfirmedEvent) error
}

// Orchestrator drives checkout and payment finalization.
type Orchestrator struct {
	reservations *reservation.Manager
	ledger       ledger.Ledger
	orders       OrderStore
	promos       PromoSource
	gateway      *payment.Gateway
	fees         pricing.FeeSchedule
	idem         Idempotency    // may be nil
	events       EventPublisher // may be nil
	now          func() time.Time
}

// NewOrchestrator constructs an Orchestrator.  idem and events may be
// nil to disable the Redis fast path and event publishing.
func NewOrchestrator(rm *reservation.Manager, l ledger.Ledger, orders OrderStore, promos PromoSource,
	gw *payment.Gateway, fees pricing.FeeSchedule, idem Idempotency, events EventPublisher) *Orchestrator {
	return &Orchestrator{
		reservations: rm,
		ledger:       l,
		orders:       orders,
		promos:       promos,
		gateway:      gw,
		fees:         fees,
		idem:         idem,
		events:       events,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// QuoteItems recomputes a price quote for a set of reservation items
// using current tier prices.  Client-supplied totals are never
// trusted; this is the only pricing path.
func (o *Orchestrator) QuoteItems(ctx context.Context, items []model.ReservationItem, codes Codes) (pricing.Quote, error) {
	lines := make([]pricing.LineItem, 0, len(items))
	for _, it := range items {
		tier, err := o.ledger.Tier(ctx, it.TierID)
		if err != nil {
			return pricing.Quote{}, fmt.Errorf("tier %s: %w", it.TierID, err)
		}
		lines = append(lines, pricing.LineItem{
			TierID:         it.TierID,
			UnitPricePaise: tier.PricePaise,
			Quantity:       it.Quantity,
		})
	}

	var promoRule *pricing.PromoRule
	var promoErr string
	if codes.Promo != "" {
		row, err := o.promos.GetPromo(ctx, codes.Promo)
		if err != nil {
			return pricing.Quote{}, fmt.Errorf("resolve promo: %w", err)
		}
		promoRule, promoErr = pricing.ResolvePromo(row, o.now())
	}
	var refRule *pricing.ReferralRule
	if codes.Referral != "" {
		row, err := o.promos.GetReferral(ctx, codes.Referral)
		if err != nil {
			return pricing.Quote{}, fmt.Errorf("resolve referral: %w", err)
		}
		refRule = pricing.ResolveReferral(row)
	}

	return pricing.Compute(lines, promoRule, refRule, o.fees, promoErr), nil
}

// Initiate starts checkout for an active reservation.  Repeating the
// call for a reservation that already has an order returns that order
// instead of creating another, keeping the endpoint idempotent on the
// reservation ID.
func (o *Orchestrator) Initiate(ctx context.Context, reservationID, userID string, buyer BuyerDetails, codes Codes) (*Result, error) {
	if existing, err := o.orders.GetByReservation(ctx, reservationID); err == nil && existing != nil {
		if existing.UserID != userID {
			return nil, ErrNotOwner
		}
		return o.resultForExisting(ctx, existing)
	}

	res, items, err := o.reservations.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.UserID != userID {
		return nil, ErrNotOwner
	}
	switch res.Status {
	case model.ReservationExpired:
		return nil, reservation.ErrExpired
	case model.ReservationConsumed:
		return nil, reservation.ErrAlreadyConsumed
	case model.ReservationCancelled:
		return nil, reservation.ErrNotActive
	}

	quote, err := o.QuoteItems(ctx, items, codes)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:            uuid.NewString(),
		ReservationID: reservationID,
		UserID:        userID,
		EventID:       res.EventID,
		Status:        model.OrderPendingPayment,
		AmountPaise:   quote.GrandTotalPaise,
		BuyerName:     buyer.Name,
		BuyerEmail:    buyer.Email,
		CreatedAt:     o.now(),
	}
	if len(quote.Discounts) > 0 {
		for _, d := range quote.Discounts {
			code := d.Code
			switch d.Kind {
			case "promo":
				order.PromoCode = &code
			case "referral":
				order.ReferralCode = &code
			}
		}
	}

	if err := o.orders.Create(ctx, order); err != nil {
		// A concurrent Initiate for the same reservation won the
		// unique key; fall back to its order.
		if existing, getErr := o.orders.GetByReservation(ctx, reservationID); getErr == nil {
			if existing.UserID != userID {
				return nil, ErrNotOwner
			}
			return o.resultForExisting(ctx, existing)
		}
		return nil, err
	}

	if quote.IsFree {
		confirmed, tickets, err := o.finalize(ctx, order, nil)
		if err != nil {
			return nil, err
		}
		return &Result{Order: confirmed, Tickets: tickets, Quote: quote}, nil
	}

	params := o.gateway.OrderParams(order.ID, order.AmountPaise)
	return &Result{Order: order, Quote: quote, PaymentParams: &params}, nil
}

// VerifyPayment processes a gateway confirmation.  It recomputes the
// expected signature itself — on mismatch it fails closed with no
// state change.  A valid payload finalizes the order exactly once;
// replays of an already-confirmed order return the existing state
// without re-running side effects.
func (o *Orchestrator) VerifyPayment(ctx context.Context, p payment.ConfirmationPayload) (*model.Order, []model.Ticket, error) {
	order, err := o.orders.Get(ctx, p.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrOrderNotFound
	}
	if err != nil {
		// Transient store failures must not surface as 404: the
		// gateway stops retrying a webhook it believes is misdirected.
		return nil, nil, fmt.Errorf("load order %s: %w", p.OrderID, err)
	}
	if order.Status == model.OrderConfirmed {
		tickets, _ := o.orders.Tickets(ctx, order.ID)
		return order, tickets, nil
	}
	if order.Status != model.OrderPendingPayment {
		return nil, nil, fmt.Errorf("order %s is %s", order.ID, order.Status)
	}

	if !o.gateway.Verify(p) {
		return nil, nil, ErrPaymentVerificationFailed
	}

	if o.idem != nil {
		if first, err := o.idem.SetIdempotency(ctx, "payment:done:"+order.ID); err == nil && !first {
			// A concurrent verification is (or was) in flight.  If it
			// already confirmed, we are done; otherwise fall through —
			// the status CAS below stays correct either way.
			if settled, getErr := o.orders.Get(ctx, order.ID); getErr == nil && settled.Status == model.OrderConfirmed {
				tickets, _ := o.orders.Tickets(ctx, settled.ID)
				return settled, tickets, nil
			}
		}
	}

	ref := p.PaymentID
	confirmed, tickets, err := o.finalize(ctx, order, &ref)
	if err != nil {
		return nil, nil, err
	}
	return confirmed, tickets, nil
}

// finalize consumes the reservation, commits held inventory, mints
// tickets and confirms the order.  Used by both the free-order path
// and payment verification.
func (o *Orchestrator) finalize(ctx context.Context, order *model.Order, paymentRef *string) (*model.Order, []model.Ticket, error) {
	items, err := o.reservations.Consume(ctx, order.ReservationID)
	switch {
	case err == nil:
	case errors.Is(err, reservation.ErrAlreadyConsumed):
		// Either a concurrent finalizer is in flight, or a previous
		// attempt crashed between consume and confirm.  If the order
		// settled, return it; otherwise resume with the stored items.
		// The inventory_committed election below keeps this path from
		// re-running ledger commits a live finalizer already owns.
		if settled, getErr := o.orders.Get(ctx, order.ID); getErr == nil && settled.Status == model.OrderConfirmed {
			tickets, _ := o.orders.Tickets(ctx, settled.ID)
			return settled, tickets, nil
		}
		_, items, err = o.reservations.Get(ctx, order.ReservationID)
		if err != nil {
			return nil, nil, err
		}
	case errors.Is(err, reservation.ErrExpired):
		// The hold died before payment landed.  Fail the order;
		// inventory was already released by the expiry path.
		if _, failErr := o.orders.MarkFailed(ctx, order.ID); failErr != nil {
			log.Printf("checkout: mark order %s failed: %v", order.ID, failErr)
		}
		return nil, nil, err
	default:
		return nil, nil, err
	}

	// Exactly one finalizer may move the order's held units to sold.
	// The flag's conditional flip elects it; a loser skips straight to
	// the order CAS, so a duplicate webhook can never commit the same
	// units twice or drain holds belonging to another reservation on
	// the tier.
	committer, err := o.orders.MarkInventoryCommitted(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	if committer {
		for _, it := range items {
			if err := o.ledger.Commit(ctx, it.TierID, it.Quantity); err != nil {
				return nil, nil, fmt.Errorf("commit tier %s: %w", it.TierID, err)
			}
		}
	}

	now := o.now()
	var tickets []model.Ticket
	for _, it := range items {
		for i := 0; i < it.Quantity; i++ {
			tickets = append(tickets, model.Ticket{
				ID:          uuid.NewString(),
				OrderID:     order.ID,
				EventID:     order.EventID,
				TierID:      it.TierID,
				OwnerUserID: order.UserID,
				Status:      model.TicketValid,
				CreatedAt:   now,
			})
		}
	}

	won, err := o.orders.Confirm(ctx, order.ID, paymentRef, tickets)
	if err != nil {
		return nil, nil, err
	}
	if !won {
		settled, err := o.orders.Get(ctx, order.ID)
		if err != nil {
			return nil, nil, err
		}
		existing, _ := o.orders.Tickets(ctx, settled.ID)
		return settled, existing, nil
	}

	if order.PromoCode != nil {
		if ok, err := o.promos.RedeemPromo(ctx, *order.PromoCode); err != nil || !ok {
			log.Printf("checkout: promo %s redemption not counted (ok=%v err=%v)", *order.PromoCode, ok, err)
		}
	}

	confirmed, err := o.orders.Get(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}

	if o.events != nil {
		ids := make([]string, len(tickets))
		for i, t := range tickets {
			ids[i] = t.ID
		}
		ev := queue.OrderConfirmedEvent{
			OrderID:       confirmed.ID,
			ReservationID: confirmed.ReservationID,
			UserID:        confirmed.UserID,
			EventID:       confirmed.EventID,
			TicketIDs:     ids,
			AmountPaise:   confirmed.AmountPaise,
			ConfirmedAt:   now.Format(time.RFC3339),
		}
		if confirmed.PaymentRef != nil {
			ev.PaymentRef = *confirmed.PaymentRef
		}
		if err := o.events.PublishOrderConfirmed(ctx, ev); err != nil {
			log.Printf("checkout: publish order.confirmed: %v", err)
		}
	}
	return confirmed, tickets, nil
}

// resultForExisting rebuilds the Initiate response for an order that
// already exists for the reservation.
func (o *Orchestrator) resultForExisting(ctx context.Context, order *model.Order) (*Result, error) {
	r := &Result{Order: order}
	if order.Status == model.OrderPendingPayment {
		params := o.gateway.OrderParams(order.ID, order.AmountPaise)
		r.PaymentParams = &params
	}
	if order.Status == model.OrderConfirmed {
		tickets, err := o.orders.Tickets(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		r.Tickets = tickets
	}
	return r, nil
}
