package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eventix/ticketing/internal/transfer"
)

// TransferHandler exposes the ticket transfer handshake.
type TransferHandler struct {
	Manager *transfer.Manager
}

// NewTransferHandler constructs a TransferHandler.
func NewTransferHandler(m *transfer.Manager) *TransferHandler {
	if m == nil {
		panic("nil manager passed to NewTransferHandler")
	}
	return &TransferHandler{Manager: m}
}

// Initiate handles POST /v1/tickets/transfer.  The response carries
// the single-use code exactly once; it is never readable again, only a
// hash is stored.
func (h *TransferHandler) Initiate(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		TicketID       string `json:"ticket_id"`
		RecipientEmail string `json:"recipient_email"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.TicketID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_id is required"})
	}

	t, code, err := h.Manager.Initiate(c.Request().Context(), body.TicketID, userID, body.RecipientEmail)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"transfer": t,
		"code":     code,
	})
}

// Accept handles PATCH /v1/tickets/transfer.  Redeeming the code moves
// ticket ownership to the caller; a replayed code is rejected with the
// first acceptance intact.
func (h *TransferHandler) Accept(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code is required"})
	}

	ticket, t, err := h.Manager.Accept(c.Request().Context(), body.Code, userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ticket":   ticket,
		"transfer": t,
	})
}

// Cancel handles DELETE /v1/tickets/transfer/:id.  Only the initiator
// may withdraw a pending transfer; the code stops working immediately.
func (h *TransferHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.Manager.Cancel(c.Request().Context(), c.Param("id"), userID); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Get handles GET /v1/tickets/transfer/:id for the initiator or the
// accepted recipient.
func (h *TransferHandler) Get(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	t, err := h.Manager.Get(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"transfer": t})
}
