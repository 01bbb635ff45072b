package pricing

import (
	"bytes"
	"encoding/json"
	"testing"
)

var stdFees = FeeSchedule{
	PlatformFlatPaise: 5000, // ₹50
	PlatformPercent:   2,
}

func TestSubtotalOnly(t *testing.T) {
	q := Compute([]LineItem{
		{TierID: "a", UnitPricePaise: 25000, Quantity: 2},
		{TierID: "b", UnitPricePaise: 10000, Quantity: 1},
	}, nil, nil, FeeSchedule{}, "")

	if q.SubtotalPaise != 60000 {
		t.Fatalf("subtotal = %d, want 60000", q.SubtotalPaise)
	}
	if q.GrandTotalPaise != 60000 || q.IsFree {
		t.Fatalf("grand total = %d, is_free = %v", q.GrandTotalPaise, q.IsFree)
	}
}

// TestPromoThenFees reproduces the worked example: ₹1000 cart, 20%
// promo brings it to ₹800, platform fee ₹50 flat + 2% = ₹66, grand
// total ₹866.
func TestPromoThenFees(t *testing.T) {
	items := []LineItem{{TierID: "ga", UnitPricePaise: 100000, Quantity: 1}}
	promo := &PromoRule{Code: "SAVE20", PercentOff: 20}

	q := Compute(items, promo, nil, stdFees, "")

	if q.SubtotalPaise != 100000 {
		t.Fatalf("subtotal = %d", q.SubtotalPaise)
	}
	if len(q.Discounts) != 1 || q.Discounts[0].AmountPaise != 20000 {
		t.Fatalf("discounts = %+v", q.Discounts)
	}
	if q.Fees.PlatformPaise != 6600 {
		t.Fatalf("platform fee = %d, want 6600", q.Fees.PlatformPaise)
	}
	if q.GrandTotalPaise != 86600 {
		t.Fatalf("grand total = %d, want 86600", q.GrandTotalPaise)
	}
}

func TestReferralAppliesAfterPromo(t *testing.T) {
	items := []LineItem{{TierID: "ga", UnitPricePaise: 100000, Quantity: 1}}
	promo := &PromoRule{Code: "SAVE20", PercentOff: 20}
	ref := &ReferralRule{Code: "FRIEND", PercentOff: 10}

	q := Compute(items, promo, ref, FeeSchedule{}, "")

	// 10% of the post-promo 80000, not of the original subtotal.
	if len(q.Discounts) != 2 || q.Discounts[1].AmountPaise != 8000 {
		t.Fatalf("discounts = %+v", q.Discounts)
	}
	if q.GrandTotalPaise != 72000 {
		t.Fatalf("grand total = %d, want 72000", q.GrandTotalPaise)
	}
}

func TestDiscountNeverNegative(t *testing.T) {
	items := []LineItem{{TierID: "ga", UnitPricePaise: 1000, Quantity: 1}}
	promo := &PromoRule{Code: "BIG", PercentOff: 0, FlatOffPaise: 50000}

	q := Compute(items, promo, nil, stdFees, "")

	if q.GrandTotalPaise != 0 || !q.IsFree {
		t.Fatalf("fully discounted cart must be free: %+v", q)
	}
	if q.Fees.PlatformPaise != 0 {
		t.Fatalf("no fees on a zero cart, got %d", q.Fees.PlatformPaise)
	}
}

func TestInvalidPromoDegradesQuote(t *testing.T) {
	items := []LineItem{{TierID: "ga", UnitPricePaise: 100000, Quantity: 1}}

	q := Compute(items, nil, nil, stdFees, "promo code expired")

	if q.PromoError != "promo code expired" {
		t.Fatalf("promo error not carried: %+v", q)
	}
	if len(q.Discounts) != 0 || q.GrandTotalPaise != 107000 {
		t.Fatalf("quote should price without the promo: %+v", q)
	}
}

func TestRoundHalfUp(t *testing.T) {
	// 2% of 1025 paise = 20.5 → rounds up to 21.
	if got := roundPercent(1025, 2); got != 21 {
		t.Fatalf("roundPercent(1025, 2) = %d, want 21", got)
	}
	// 2% of 1024 paise = 20.48 → 20.
	if got := roundPercent(1024, 2); got != 20 {
		t.Fatalf("roundPercent(1024, 2) = %d, want 20", got)
	}
}

// TestDeterministic re-quotes the same cart and requires byte-equal
// JSON output; repeated rounding must never drift.
func TestDeterministic(t *testing.T) {
	items := []LineItem{
		{TierID: "a", UnitPricePaise: 33333, Quantity: 3},
		{TierID: "b", UnitPricePaise: 12501, Quantity: 2},
	}
	promo := &PromoRule{Code: "SAVE7", PercentOff: 7, FlatOffPaise: 199}
	ref := &ReferralRule{Code: "FRIEND", PercentOff: 3}
	fees := FeeSchedule{PlatformFlatPaise: 5000, PlatformPercent: 2, ProcessingPercent: 3, TaxPercent: 18}

	first, err := json.Marshal(Compute(items, promo, ref, fees, ""))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(Compute(items, promo, ref, fees, ""))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("quote drifted on run %d:\n%s\n%s", i, first, again)
		}
	}
}
