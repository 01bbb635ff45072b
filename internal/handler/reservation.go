package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eventix/ticketing/internal/ledger"
	"github.com/eventix/ticketing/internal/reservation"
)

// ReservationHandler exposes reservation holds over HTTP.  All routes
// sit behind JWT auth; the create route additionally sits behind the
// rate limiter because it is the first endpoint hit when an event goes
// on sale.
type ReservationHandler struct {
	Manager *reservation.Manager
}

// NewReservationHandler constructs a ReservationHandler.
func NewReservationHandler(m *reservation.Manager) *ReservationHandler {
	if m == nil {
		panic("nil manager passed to NewReservationHandler")
	}
	return &ReservationHandler{Manager: m}
}

// Create handles POST /v1/reservations.  The body names an event and
// the tier quantities to hold.  Either every line is held or none is:
// a partial cart is never persisted.  409 with the failing tier is
// returned when a line cannot be satisfied.
func (h *ReservationHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		EventID  string                    `json:"event_id"`
		DeviceID string                    `json:"device_id"`
		Items    []reservation.ItemRequest `json:"items"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.EventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "event_id is required"})
	}
	if len(body.Items) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "items is required"})
	}

	res, items, err := h.Manager.Reserve(c.Request().Context(), body.EventID, userID, body.DeviceID, body.Items)
	if err != nil {
		var hf *reservation.HoldFailure
		if errors.As(err, &hf) {
			status := http.StatusBadRequest
			if errors.Is(hf.Err, ledger.ErrInsufficientInventory) {
				status = http.StatusConflict
			} else if errors.Is(hf.Err, ledger.ErrTierNotFound) {
				status = http.StatusNotFound
			}
			return c.JSON(status, echo.Map{"error": hf.Error(), "tier_id": hf.TierID})
		}
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"reservation": res,
		"items":       items,
	})
}

// Get handles GET /v1/reservations/:id.  A read past the deadline
// observes the reservation as expired; the manager settles the row and
// releases the held inventory before responding.
func (h *ReservationHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, items, err := h.Manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if res.UserID != userID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not the reservation owner"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"reservation": res,
		"items":       items,
	})
}

// Cancel handles DELETE /v1/reservations/:id.  Cancelling releases
// the held inventory immediately instead of waiting out the TTL.
// Repeating the call is a no-op success.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.Manager.Cancel(c.Request().Context(), c.Param("id"), userID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
