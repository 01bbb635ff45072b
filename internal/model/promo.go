package model

import "time"

// PromoCode is an operator-issued discount code with an optional
// redemption cap and expiry.  Resolution never fails a quote: an
// invalid, expired or exhausted code is dropped and reported as a soft
// warning so checkout stays resilient to stale client state.
type PromoCode struct {
	Code           string     // promo_codes.code
	PercentOff     int        // promo_codes.percent_off (0-100)
	FlatOffPaise   int64      // promo_codes.flat_off_paise
	MaxRedemptions int        // promo_codes.max_redemptions (0 = unlimited)
	RedeemedCount  int        // promo_codes.redeemed_count
	ExpiresAt      *time.Time // promo_codes.expires_at (nullable)
	Active         bool       // promo_codes.active
}

// ReferralCode grants a percentage discount attributed to the referring
// user.  Referral discounts stack after the promo code, applied to the
// post-promo amount.
type ReferralCode struct {
	Code        string // referral_codes.code
	OwnerUserID string // referral_codes.owner_user_id
	PercentOff  int    // referral_codes.percent_off (0-100)
	Active      bool   // referral_codes.active
}
