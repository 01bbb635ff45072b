package handler // HTTP handlers for the ticketing API

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/eventix/ticketing/internal/checkout"
	"github.com/eventix/ticketing/internal/ledger"
	"github.com/eventix/ticketing/internal/repository"
	"github.com/eventix/ticketing/internal/reservation"
	"github.com/eventix/ticketing/internal/share"
	"github.com/eventix/ticketing/internal/transfer"
)

// getUserID extracts the authenticated user's ID set by the JWT
// middleware.  Handlers on protected routes treat a missing value as
// 401 rather than panicking on the assertion.
func getUserID(c echo.Context) (string, error) {
	if s, ok := c.Get("user_id").(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("invalid user_id in context")
}

// statusFor maps domain sentinel errors onto HTTP status codes.  The
// default for an unrecognized error is 500; callers log it before
// responding.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientInventory):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrTierNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, checkout.ErrOrderNotFound),
		errors.Is(err, share.ErrTokenNotFound),
		errors.Is(err, transfer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reservation.ErrExpired),
		errors.Is(err, share.ErrBundleExpired),
		errors.Is(err, transfer.ErrExpired):
		return http.StatusGone
	case errors.Is(err, reservation.ErrAlreadyConsumed),
		errors.Is(err, reservation.ErrNotActive),
		errors.Is(err, share.ErrAlreadyClaimed),
		errors.Is(err, transfer.ErrAlreadyAccepted),
		errors.Is(err, transfer.ErrPendingExists),
		errors.Is(err, transfer.ErrNotPending),
		errors.Is(err, transfer.ErrTicketNotTransferable):
		return http.StatusConflict
	case errors.Is(err, reservation.ErrNotOwner),
		errors.Is(err, checkout.ErrNotOwner),
		errors.Is(err, share.ErrNotOwner),
		errors.Is(err, transfer.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, checkout.ErrPaymentVerificationFailed),
		errors.Is(err, transfer.ErrSelfTransfer):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// fail renders a domain error as JSON, hiding internal errors behind a
// generic message.
func fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, echo.Map{"error": "internal error"})
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}
