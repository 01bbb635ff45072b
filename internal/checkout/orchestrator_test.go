package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eventix/ticketing/internal/ledger"
	"github.com/eventix/ticketing/internal/model"
	"github.com/eventix/ticketing/internal/payment"
	"github.com/eventix/ticketing/internal/pricing"
	"github.com/eventix/ticketing/internal/repository"
	"github.com/eventix/ticketing/internal/reservation"
)

// --- fakes ---

var errFakeNotFound = errors.New("not found")

type memResStore struct {
	mu    sync.Mutex
	res   map[string]*model.Reservation
	items map[string][]model.ReservationItem
}

func newMemResStore() *memResStore {
	return &memResStore{res: map[string]*model.Reservation{}, items: map[string][]model.ReservationItem{}}
}

func (s *memResStore) Create(ctx context.Context, r *model.Reservation, items []model.ReservationItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.res[r.ID] = &cp
	s.items[r.ID] = append([]model.ReservationItem(nil), items...)
	return nil
}

func (s *memResStore) Get(ctx context.Context, id string) (*model.Reservation, []model.ReservationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.res[id]
	if !ok {
		return nil, nil, errFakeNotFound
	}
	cp := *r
	return &cp, append([]model.ReservationItem(nil), s.items[id]...), nil
}

func (s *memResStore) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.res[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (s *memResStore) ListOverdueActive(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return nil, nil
}

type memOrders struct {
	mu      sync.Mutex
	orders  map[string]*model.Order
	byRes   map[string]string
	tickets map[string][]model.Ticket

	// confirmGate, when set, runs at the top of Confirm so tests can
	// park one caller mid-finalize.
	confirmGate func()
}

func newMemOrders() *memOrders {
	return &memOrders{orders: map[string]*model.Order{}, byRes: map[string]string{}, tickets: map[string][]model.Ticket{}}
}

func (s *memOrders) Create(ctx context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byRes[o.ReservationID]; dup {
		return errors.New("duplicate")
	}
	cp := *o
	s.orders[o.ID] = &cp
	s.byRes[o.ReservationID] = o.ID
	return nil
}

func (s *memOrders) Get(ctx context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memOrders) GetByReservation(ctx context.Context, reservationID string) (*model.Order, error) {
	s.mu.Lock()
	id, ok := s.byRes[reservationID]
	s.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *memOrders) Confirm(ctx context.Context, orderID string, paymentRef *string, tickets []model.Ticket) (bool, error) {
	if s.confirmGate != nil {
		s.confirmGate()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != model.OrderPendingPayment {
		return false, nil
	}
	o.Status = model.OrderConfirmed
	o.PaymentRef = paymentRef
	s.tickets[orderID] = append([]model.Ticket(nil), tickets...)
	return true, nil
}

func (s *memOrders) MarkInventoryCommitted(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.InventoryCommitted {
		return false, nil
	}
	o.InventoryCommitted = true
	return true, nil
}

func (s *memOrders) MarkFailed(ctx context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.Status != model.OrderPendingPayment {
		return false, nil
	}
	o.Status = model.OrderFailed
	return true, nil
}

func (s *memOrders) Tickets(ctx context.Context, orderID string) ([]model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Ticket(nil), s.tickets[orderID]...), nil
}

type memPromos struct {
	mu     sync.Mutex
	promos map[string]*model.PromoCode
}

func (s *memPromos) GetPromo(ctx context.Context, code string) (*model.PromoCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.promos[code], nil
}

func (s *memPromos) GetReferral(ctx context.Context, code string) (*model.ReferralCode, error) {
	return nil, nil
}

func (s *memPromos) RedeemPromo(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[code]
	if !ok || !p.Active {
		return false, nil
	}
	p.RedeemedCount++
	return true, nil
}

// flakyOrders simulates a transient store outage on reads.
type flakyOrders struct {
	*memOrders
	fail error
}

func (s *flakyOrders) Get(ctx context.Context, id string) (*model.Order, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	return s.memOrders.Get(ctx, id)
}

// --- helpers ---

type fixture struct {
	orch    *Orchestrator
	resman  *reservation.Manager
	ledger  *ledger.MemoryLedger
	orders  *memOrders
	promos  *memPromos
	gateway *payment.Gateway
	fees    pricing.FeeSchedule
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.NewMemoryLedger()
	l.AddTier(model.TierCounter{EventID: "ev-1", TierID: "tier-paid", PricePaise: 100000, Capacity: 10})
	l.AddTier(model.TierCounter{EventID: "ev-1", TierID: "tier-free", PricePaise: 0, Capacity: 10})

	rm := reservation.NewManager(l, newMemResStore(), 10*time.Minute)
	orders := newMemOrders()
	promos := &memPromos{promos: map[string]*model.PromoCode{
		"SAVE20": {Code: "SAVE20", PercentOff: 20, Active: true},
	}}
	gw := payment.NewGateway("key_test", "s3cr3t")
	fees := pricing.FeeSchedule{PlatformFlatPaise: 5000, PlatformPercent: 2}

	return &fixture{
		orch:    NewOrchestrator(rm, l, orders, promos, gw, fees, nil, nil),
		resman:  rm,
		ledger:  l,
		orders:  orders,
		promos:  promos,
		gateway: gw,
		fees:    fees,
	}
}

func (f *fixture) reserve(t *testing.T, tierID string, qty int) *model.Reservation {
	t.Helper()
	res, _, err := f.resman.Reserve(context.Background(), "ev-1", "user-1", "dev-1",
		[]reservation.ItemRequest{{TierID: tierID, Quantity: qty}})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	return res
}

// --- tests ---

func TestFreeOrderConfirmsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, "tier-free", 2)

	result, err := f.orch.Initiate(ctx, res.ID, "user-1", BuyerDetails{Name: "Asha", Email: "a@example.com"}, Codes{})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.Order.Status != model.OrderConfirmed {
		t.Fatalf("free order status = %s", result.Order.Status)
	}
	if result.PaymentParams != nil {
		t.Fatal("free order must not return payment params")
	}
	if len(result.Tickets) != 2 {
		t.Fatalf("tickets = %d, want 2", len(result.Tickets))
	}
	tier, _ := f.ledger.Tier(ctx, "tier-free")
	if tier.Sold != 2 || tier.Held != 0 {
		t.Fatalf("ledger not committed: %+v", tier)
	}
}

func TestInitiatePaidOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, "tier-paid", 1)

	result, err := f.orch.Initiate(ctx, res.ID, "user-1", BuyerDetails{Name: "Asha"}, Codes{Promo: "SAVE20"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.Order.Status != model.OrderPendingPayment {
		t.Fatalf("status = %s", result.Order.Status)
	}
	// ₹1000 − 20% = ₹800, platform ₹50 + 2% = ₹66, total ₹866.
	if result.Order.AmountPaise != 86600 {
		t.Fatalf("amount = %d, want 86600", result.Order.AmountPaise)
	}
	if result.PaymentParams == nil || result.PaymentParams.AmountPaise != 86600 {
		t.Fatalf("payment params = %+v", result.PaymentParams)
	}
	// Inventory stays held, not sold, until payment lands.
	tier, _ := f.ledger.Tier(ctx, "tier-paid")
	if tier.Held != 1 || tier.Sold != 0 {
		t.Fatalf("ledger moved early: %+v", tier)
	}
}

func TestInitiateIdempotentOnReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, "tier-paid", 1)

	first, err := f.orch.Initiate(ctx, res.ID, "user-1", BuyerDetails{}, Codes{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.orch.Initiate(ctx, res.ID, "user-1", BuyerDetails{}, Codes{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Order.ID != second.Order.ID {
		t.Fatalf("repeat initiate created a second order: %s vs %s", first.Order.ID, second.Order.ID)
	}
}

func TestInitiateForeignReservation(t *testing.T) {
	f := newFixture(t)
	res := f.reserve(t, "tier-paid", 1)

	_, err := f.orch.Initiate(context.Background(), res.ID, "intruder", BuyerDetails{}, Codes{})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
}

func TestVerifyPaymentConfirmsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, "tier-paid", 2)
	result, err := f.orch.Initiate(ctx, res.ID, "user-1", BuyerDetails{}, Codes{})
	if err != nil {
		t.Fatal(err)
	}
	orderID := result.Order.ID
	payload := payment.ConfirmationPayload{
		OrderID:   orderID,
		PaymentID: "pay_123",
		Signature: f.gateway.Sign(orderID, "pay_123"),
	}

	order, tickets, err := f.orch.VerifyPayment(ctx, payload)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if order.Status != model.OrderConfirmed || len(tickets) != 2 {
		t.Fatalf("order %s tickets %d", order.Status, len(tickets))
	}
	if order.PaymentRef == nil || *order.PaymentRef != "pay_123" {
		t.Fatalf("payment ref = %v", order.PaymentRef)
	}

	// Replay: same payload, same confirmed order, no double commit.
	again, againTickets, err := f.orch.VerifyPayment(ctx, payload)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if again.ID != order.ID || len(againTickets) != 2 {
		t.Fatalf("replay diverged: %+v", again)
	}
	tier, _ := f.ledger.Tier(ctx, "tier-paid")
	if tier.Sold != 2 || tier.Held != 0 {
		t.Fatalf("inventory double-committed: %+v", tier)
	}
}

func TestInitiateExistingOrderForeignCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, "tier-paid", 1)

	if _, err := f.orch.Initiate(ctx, res.ID, "user-1", BuyerDetails{}, Codes{}); err != nil {
		t.Fatal(err)
	}
	// The existing-order fast path must enforce ownership too: a
	// caller who learned the reservation ID gets nothing back.
	if _, err := f.orch.Initiate(ctx, res.ID, "intruder", BuyerDetails{}, Codes{}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
}

func TestDuplicateVerifyMidFinalizeDoesNotDoubleCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, "tier-paid", 1)

	// A bystander holds one unit on the same tier; a second commit of
	// the order's single unit would drain this hold as a phantom sale.
	bystander, _, err := f.resman.Reserve(ctx, "ev-1", "user-2", "dev-2",
		[]reservation.ItemRequest{{TierID: "tier-paid", Quantity: 1}})
	if err != nil {
		t.Fatal(err)
	}

	result, err := f.orch.Initiate(ctx, res.ID, "user-1", BuyerDetails{}, Codes{})
	if err != nil {
		t.Fatal(err)
	}
	payload := payment.ConfirmationPayload{
		OrderID:   result.Order.ID,
		PaymentID: "pay_dup",
		Signature: f.gateway.Sign(result.Order.ID, "pay_dup"),
	}

	// Park the first verifier after it has consumed the reservation
	// and committed inventory, right before the order confirm.
	entered := make(chan struct{})
	release := make(chan struct{})
	var parked atomic.Bool
	f.orders.confirmGate = func() {
		// Only the first caller parks; sync.Once would also block the
		// duplicate verifier until the first call returned.
		if parked.CompareAndSwap(false, true) {
			close(entered)
			<-release
		}
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := f.orch.VerifyPayment(ctx, payload)
		done <- err
	}()
	<-entered

	// The duplicate webhook lands while the first is mid-finalize.
	order, tickets, err := f.orch.VerifyPayment(ctx, payload)
	if err != nil {
		t.Fatalf("duplicate verify: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if order.Status != model.OrderConfirmed || len(tickets) != 1 {
		t.Fatalf("order %s tickets %d", order.Status, len(tickets))
	}

	// One sale, and the bystander's hold untouched.
	tier, _ := f.ledger.Tier(ctx, "tier-paid")
	if tier.Sold != 1 || tier.Held != 1 {
		t.Fatalf("inventory corrupted by duplicate: %+v", tier)
	}
	if err := f.resman.Cancel(ctx, bystander.ID, "user-2"); err != nil {
		t.Fatalf("bystander cancel: %v", err)
	}
	tier, _ = f.ledger.Tier(ctx, "tier-paid")
	if tier.Held != 0 || tier.Sold != 1 {
		t.Fatalf("bystander release lost: %+v", tier)
	}
}

func TestVerifyPaymentUnknownOrder(t *testing.T) {
	f := newFixture(t)
	payload := payment.ConfirmationPayload{OrderID: "no-such-order", PaymentID: "p", Signature: "s"}
	if _, _, err := f.orch.VerifyPayment(context.Background(), payload); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("got %v, want ErrOrderNotFound", err)
	}
}

func TestVerifyPaymentStoreErrorPropagates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, "tier-paid", 1)
	result, err := f.orch.Initiate(ctx, res.ID, "user-1", BuyerDetails{}, Codes{})
	if err != nil {
		t.Fatal(err)
	}

	outage := errors.New("connection reset")
	flaky := &flakyOrders{memOrders: f.orders, fail: outage}
	orch := NewOrchestrator(f.resman, f.ledger, flaky, f.promos, f.gateway, f.fees, nil, nil)

	payload := payment.ConfirmationPayload{
		OrderID:   result.Order.ID,
		PaymentID: "pay_123",
		Signature: f.gateway.Sign(result.Order.ID, "pay_123"),
	}
	// A transient store failure must not masquerade as a missing
	// order, or the gateway stops retrying the webhook.
	_, _, err = orch.VerifyPayment(ctx, payload)
	if !errors.Is(err, outage) {
		t.Fatalf("got %v, want the store error", err)
	}
	if errors.Is(err, ErrOrderNotFound) {
		t.Fatal("store outage reported as order-not-found")
	}
}

func TestVerifyPaymentFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, "tier-paid", 1)
	result, err := f.orch.Initiate(ctx, res.ID, "user-1", BuyerDetails{}, Codes{})
	if err != nil {
		t.Fatal(err)
	}

	payload := payment.ConfirmationPayload{
		OrderID:   result.Order.ID,
		PaymentID: "pay_123",
		Signature: "forged",
	}
	if _, _, err := f.orch.VerifyPayment(ctx, payload); !errors.Is(err, ErrPaymentVerificationFailed) {
		t.Fatalf("got %v, want ErrPaymentVerificationFailed", err)
	}

	order, _ := f.orders.Get(ctx, result.Order.ID)
	if order.Status != model.OrderPendingPayment {
		t.Fatalf("order moved on bad signature: %s", order.Status)
	}
	tier, _ := f.ledger.Tier(ctx, "tier-paid")
	if tier.Held != 1 || tier.Sold != 0 {
		t.Fatalf("ledger moved on bad signature: %+v", tier)
	}
}

func TestVerifyPaymentAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, "tier-paid", 1)
	result, err := f.orch.Initiate(ctx, res.ID, "user-1", BuyerDetails{}, Codes{})
	if err != nil {
		t.Fatal(err)
	}

	f.resman.SetNow(func() time.Time { return res.ExpiresAt.Add(time.Second) })

	payload := payment.ConfirmationPayload{
		OrderID:   result.Order.ID,
		PaymentID: "pay_late",
		Signature: f.gateway.Sign(result.Order.ID, "pay_late"),
	}
	if _, _, err := f.orch.VerifyPayment(ctx, payload); !errors.Is(err, reservation.ErrExpired) {
		t.Fatalf("got %v, want reservation.ErrExpired", err)
	}

	order, _ := f.orders.Get(ctx, result.Order.ID)
	if order.Status != model.OrderFailed {
		t.Fatalf("late order status = %s, want failed", order.Status)
	}
	tier, _ := f.ledger.Tier(ctx, "tier-paid")
	if tier.Held != 0 || tier.Sold != 0 {
		t.Fatalf("expired hold not released: %+v", tier)
	}
}
