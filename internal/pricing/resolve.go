package pricing

import (
	"time"

	"github.com/eventix/ticketing/internal/model"
)

// ResolvePromo turns a promo code row into an applicable rule.  An
// unusable code yields a nil rule plus the reason string that the
// quote surfaces as a soft warning; quoting itself never fails on a
// bad code.  A nil row means the code did not exist.
func ResolvePromo(p *model.PromoCode, now time.Time) (*PromoRule, string) {
	switch {
	case p == nil:
		return nil, "promo code not found"
	case !p.Active:
		return nil, "promo code inactive"
	case p.ExpiresAt != nil && !now.Before(*p.ExpiresAt):
		return nil, "promo code expired"
	case p.MaxRedemptions > 0 && p.RedeemedCount >= p.MaxRedemptions:
		return nil, "promo code fully redeemed"
	}
	return &PromoRule{Code: p.Code, PercentOff: p.PercentOff, FlatOffPaise: p.FlatOffPaise}, ""
}

// ResolveReferral turns a referral code row into an applicable rule.
// Unusable referral codes are dropped silently; only promo problems
// are reported back to the client.
func ResolveReferral(rc *model.ReferralCode) *ReferralRule {
	if rc == nil || !rc.Active {
		return nil
	}
	return &ReferralRule{Code: rc.Code, PercentOff: rc.PercentOff}
}
