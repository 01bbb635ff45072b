package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eventix/ticketing/internal/checkout"
	"github.com/eventix/ticketing/internal/model"
)

// PricingHandler exposes price previews.  The preview runs the same
// quoting path checkout uses, so the number a buyer sees is the number
// they are charged, but the response is never authoritative: checkout
// recomputes it from current tier prices.
type PricingHandler struct {
	Orchestrator *checkout.Orchestrator
}

// NewPricingHandler constructs a PricingHandler.
func NewPricingHandler(o *checkout.Orchestrator) *PricingHandler {
	if o == nil {
		panic("nil orchestrator passed to NewPricingHandler")
	}
	return &PricingHandler{Orchestrator: o}
}

// Quote handles POST /v1/pricing.  An invalid promo code does not fail
// the request; the quote comes back undiscounted with a promo_error
// explaining why.  Unknown tiers are a hard 404.
func (h *PricingHandler) Quote(c echo.Context) error {
	var body struct {
		Items []struct {
			TierID   string `json:"tier_id"`
			Quantity int    `json:"quantity"`
		} `json:"items"`
		PromoCode    string `json:"promo_code"`
		ReferralCode string `json:"referral_code"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Items) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "items is required"})
	}

	items := make([]model.ReservationItem, 0, len(body.Items))
	for _, it := range body.Items {
		if it.TierID == "" || it.Quantity <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "each item needs a tier_id and a positive quantity"})
		}
		items = append(items, model.ReservationItem{TierID: it.TierID, Quantity: it.Quantity})
	}

	quote, err := h.Orchestrator.QuoteItems(c.Request().Context(), items, checkout.Codes{
		Promo:    body.PromoCode,
		Referral: body.ReferralCode,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, quote)
}
