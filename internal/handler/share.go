package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/eventix/ticketing/internal/share"
)

// ShareHandler exposes share bundles: a buyer splits tickets from an
// order into claim links, friends redeem them, the buyer can take an
// unclaimed slot back.
type ShareHandler struct {
	Manager *share.Manager
}

// NewShareHandler constructs a ShareHandler.
func NewShareHandler(m *share.Manager) *ShareHandler {
	if m == nil {
		panic("nil manager passed to NewShareHandler")
	}
	return &ShareHandler{Manager: m}
}

// Create handles POST /v1/tickets/share.  slot_count tickets of the
// named tier on the caller's order become claimable slots, each with
// its own single-use token.
func (h *ShareHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		OrderID   string `json:"order_id"`
		TierID    string `json:"tier_id"`
		SlotCount int    `json:"slot_count"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.OrderID == "" || body.TierID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order_id and tier_id are required"})
	}
	if body.SlotCount <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "slot_count must be positive"})
	}

	bundle, slots, err := h.Manager.CreateBundle(c.Request().Context(), body.OrderID, body.TierID, userID, body.SlotCount)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"bundle": bundle,
		"slots":  slots,
	})
}

// Preview handles GET /v1/tickets/claim?token=...  It is the claim
// page's read: who is sharing, whether the slot is still open, whether
// the window has closed.  No authentication required, the token is the
// capability.
func (h *ShareHandler) Preview(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}
	preview, err := h.Manager.PreviewToken(c.Request().Context(), token)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, preview)
}

// Claim handles POST /v1/tickets/claim.  The slot assigns to exactly
// one claimant; everyone else racing the same token gets 409.
func (h *ShareHandler) Claim(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Token == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token is required"})
	}

	assignment, err := h.Manager.Claim(c.Request().Context(), body.Token, userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, assignment)
}

// Reclaim handles DELETE /v1/tickets/share/:id/slots/:idx.  The bundle
// owner takes back a slot nobody claimed; its token stops working.
func (h *ShareHandler) Reclaim(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot index"})
	}
	if err := h.Manager.Reclaim(c.Request().Context(), c.Param("id"), idx, userID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
