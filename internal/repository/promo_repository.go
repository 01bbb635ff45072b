package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eventix/ticketing/internal/model"
)

// PromoRepo provides data access to promo_codes and referral_codes.
// Lookup is separate from validity: the pricing layer decides whether
// a returned row is usable, so an expired code degrades a quote
// instead of failing it.
type PromoRepo struct {
	db *sql.DB
}

// NewPromoRepo returns a PromoRepo bound to the provided database.
func NewPromoRepo(db *sql.DB) *PromoRepo { return &PromoRepo{db: db} }

// GetPromo loads one promo code row.
func (r *PromoRepo) GetPromo(ctx context.Context, code string) (*model.PromoCode, error) {
	var p model.PromoCode
	err := r.db.QueryRowContext(ctx,
		`SELECT code, percent_off, flat_off_paise, max_redemptions, redeemed_count, expires_at, active
		 FROM promo_codes WHERE code = ?`, code,
	).Scan(&p.Code, &p.PercentOff, &p.FlatOffPaise, &p.MaxRedemptions, &p.RedeemedCount, &p.ExpiresAt, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query promo: %w", err)
	}
	return &p, nil
}

// GetReferral loads one referral code row.
func (r *PromoRepo) GetReferral(ctx context.Context, code string) (*model.ReferralCode, error) {
	var rc model.ReferralCode
	err := r.db.QueryRowContext(ctx,
		`SELECT code, owner_user_id, percent_off, active
		 FROM referral_codes WHERE code = ?`, code,
	).Scan(&rc.Code, &rc.OwnerUserID, &rc.PercentOff, &rc.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query referral: %w", err)
	}
	return &rc, nil
}

// RedeemPromo counts one redemption against the code's cap with a
// conditional increment.  Returns false when the cap was already
// reached, which callers treat the same as an exhausted code.
func (r *PromoRepo) RedeemPromo(ctx context.Context, code string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE promo_codes SET redeemed_count = redeemed_count + 1
		 WHERE code = ? AND active = 1 AND (max_redemptions = 0 OR redeemed_count < max_redemptions)`,
		code,
	)
	if err != nil {
		return false, fmt.Errorf("redeem promo: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("redeem promo: %w", err)
	}
	return rows == 1, nil
}
