package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eventix/ticketing/internal/checkout"
	"github.com/eventix/ticketing/internal/payment"
)

// CheckoutHandler exposes checkout initiation, payment verification
// and order reads.
type CheckoutHandler struct {
	Orchestrator *checkout.Orchestrator
	Orders       checkout.OrderStore
}

// NewCheckoutHandler constructs a CheckoutHandler.
func NewCheckoutHandler(o *checkout.Orchestrator, orders checkout.OrderStore) *CheckoutHandler {
	if o == nil || orders == nil {
		panic("nil dependency passed to NewCheckoutHandler")
	}
	return &CheckoutHandler{Orchestrator: o, Orders: orders}
}

// Initiate handles POST /v1/checkout.  The amount is recomputed
// server-side from current tier prices; whatever total the client saw
// in a preview is ignored.  Calling again with the same reservation
// returns the order created the first time.
func (h *CheckoutHandler) Initiate(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		ReservationID string                `json:"reservation_id"`
		Buyer         checkout.BuyerDetails `json:"buyer"`
		PromoCode     string                `json:"promo_code"`
		ReferralCode  string                `json:"referral_code"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.ReservationID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reservation_id is required"})
	}
	if body.Buyer.Name == "" || body.Buyer.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "buyer name and email are required"})
	}

	result, err := h.Orchestrator.Initiate(c.Request().Context(), body.ReservationID, userID, body.Buyer, checkout.Codes{
		Promo:    body.PromoCode,
		Referral: body.ReferralCode,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// VerifyPayment handles PATCH /v1/payments.  The gateway signature is
// verified before anything else; a payload that fails verification
// changes no state.  Retries of an already-verified payment return the
// settled order.
func (h *CheckoutHandler) VerifyPayment(c echo.Context) error {
	if _, err := getUserID(c); err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var payload payment.ConfirmationPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if payload.OrderID == "" || payload.PaymentID == "" || payload.Signature == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order_id, payment_id and signature are required"})
	}

	order, tickets, err := h.Orchestrator.VerifyPayment(c.Request().Context(), payload)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"order":   order,
		"tickets": tickets,
	})
}

// GetOrder handles GET /v1/orders/:id for the buyer who placed it.
func (h *CheckoutHandler) GetOrder(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	order, err := h.Orders.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if order.UserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not the order owner"})
	}
	tickets, err := h.Orders.Tickets(c.Request().Context(), order.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"order":   order,
		"tickets": tickets,
	})
}
