// Package pricing computes itemized price quotes.  The engine is a
// pure function over already-resolved inputs: code lookup and
// redemption accounting live in the repository layer, so the same cart
// always yields byte-identical output.  All amounts are integer paise;
// rounding is half-up, applied once at the end of each stage rather
// than per line item.
package pricing

// LineItem is one cart line: a quantity of a tier at its unit price.
type LineItem struct {
	TierID         string `json:"tier_id"`
	UnitPricePaise int64  `json:"unit_price_paise"`
	Quantity       int    `json:"quantity"`
}

// PromoRule is a resolved, valid promo code.
type PromoRule struct {
	Code         string
	PercentOff   int
	FlatOffPaise int64
}

// ReferralRule is a resolved, valid referral code.  Referral discounts
// apply after the promo code, on the post-promo amount.
type ReferralRule struct {
	Code       string
	PercentOff int
}

// FeeSchedule is the operator's fee configuration.  The platform fee
// is flat-plus-percentage of the discounted subtotal; processing and
// tax are percentages.  No fee applies to a fully discounted cart.
type FeeSchedule struct {
	PlatformFlatPaise int64
	PlatformPercent   int
	ProcessingPercent int
	TaxPercent        int
}

// Discount is one applied discount line.
type Discount struct {
	Code        string `json:"code"`
	Kind        string `json:"kind"` // "promo" or "referral"
	AmountPaise int64  `json:"amount_paise"`
}

// Fees is the itemized fee block of a quote.
type Fees struct {
	PlatformPaise   int64 `json:"platform_paise"`
	ProcessingPaise int64 `json:"processing_paise"`
	TaxPaise        int64 `json:"tax_paise"`
}

// Quote is the full price breakdown.  It is ephemeral and never
// authoritative: checkout recomputes it server-side every time.
type Quote struct {
	SubtotalPaise   int64      `json:"subtotal_paise"`
	Discounts       []Discount `json:"discounts"`
	Fees            Fees       `json:"fees"`
	GrandTotalPaise int64      `json:"grand_total_paise"`
	IsFree          bool       `json:"is_free"`
	PromoError      string     `json:"promo_error,omitempty"`
}

// roundPercent returns pct% of amount in paise, rounded half-up.
func roundPercent(amount int64, pct int) int64 {
	if amount <= 0 || pct <= 0 {
		return 0
	}
	return (amount*int64(pct) + 50) / 100
}

// Compute builds a quote.  promo and referral may be nil; promoErr
// carries the soft warning when a supplied code failed to resolve.
// Stages, in fixed order: subtotal, promo, referral, fees.  Each
// discount is capped so the running amount never goes below zero.
func Compute(items []LineItem, promo *PromoRule, referral *ReferralRule, fees FeeSchedule, promoErr string) Quote {
	var subtotal int64
	for _, it := range items {
		subtotal += it.UnitPricePaise * int64(it.Quantity)
	}

	q := Quote{
		SubtotalPaise: subtotal,
		Discounts:     []Discount{},
		PromoError:    promoErr,
	}

	discounted := subtotal
	if promo != nil {
		amt := roundPercent(discounted, promo.PercentOff) + promo.FlatOffPaise
		if amt > discounted {
			amt = discounted
		}
		if amt > 0 {
			q.Discounts = append(q.Discounts, Discount{Code: promo.Code, Kind: "promo", AmountPaise: amt})
			discounted -= amt
		}
	}
	if referral != nil {
		amt := roundPercent(discounted, referral.PercentOff)
		if amt > 0 {
			q.Discounts = append(q.Discounts, Discount{Code: referral.Code, Kind: "referral", AmountPaise: amt})
			discounted -= amt
		}
	}

	if discounted > 0 {
		q.Fees.PlatformPaise = fees.PlatformFlatPaise + roundPercent(discounted, fees.PlatformPercent)
		q.Fees.ProcessingPaise = roundPercent(discounted, fees.ProcessingPercent)
		q.Fees.TaxPaise = roundPercent(discounted+q.Fees.PlatformPaise+q.Fees.ProcessingPaise, fees.TaxPercent)
	}

	q.GrandTotalPaise = discounted + q.Fees.PlatformPaise + q.Fees.ProcessingPaise + q.Fees.TaxPaise
	q.IsFree = q.GrandTotalPaise == 0
	return q
}
