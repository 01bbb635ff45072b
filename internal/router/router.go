package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/eventix/ticketing/internal/config"
	"github.com/eventix/ticketing/internal/handler"
	"github.com/eventix/ticketing/internal/middleware"
)

// Handlers collects every handler the API mounts.  Wiring them into a
// struct keeps main's registration call to one line per concern.
type Handlers struct {
	Reservations *handler.ReservationHandler
	Pricing      *handler.PricingHandler
	Checkout     *handler.CheckoutHandler
	Share        *handler.ShareHandler
	Transfer     *handler.TransferHandler
}

// RegisterRoutes registers routes that do not require authentication:
// the health check, the price preview, and the claim-page preview.
// The preview is public because the claim token itself is the
// capability; claimants may not have signed in yet when they open the
// link.
func RegisterRoutes(e *echo.Echo, h Handlers) {
	e.GET("/healthz", handler.Health)
	e.POST("/v1/pricing", h.Pricing.Quote)
	e.GET("/v1/tickets/claim", h.Share.Preview)
}

// RegisterProtected registers every authenticated endpoint under /v1.
// The reservation-create and slot-claim routes additionally pass the
// Redis token bucket: those two take conditional inventory writes and
// are what on-sale traffic hammers.
func RegisterProtected(e *echo.Echo, h Handlers, jwtSecret string, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))

	limited := middleware.NewTokenBucket(rlCfg, rdb)

	// Reservations: hold, inspect, release.
	auth.POST("/reservations", h.Reservations.Create, limited)
	auth.GET("/reservations/:id", h.Reservations.Get)
	auth.DELETE("/reservations/:id", h.Reservations.Cancel)

	// Checkout and payment.
	auth.POST("/checkout", h.Checkout.Initiate)
	auth.PATCH("/payments", h.Checkout.VerifyPayment)
	auth.GET("/orders/:id", h.Checkout.GetOrder)

	// Share bundles.
	auth.POST("/tickets/share", h.Share.Create)
	auth.POST("/tickets/claim", h.Share.Claim, limited)
	auth.DELETE("/tickets/share/:id/slots/:idx", h.Share.Reclaim)

	// Transfers.
	auth.POST("/tickets/transfer", h.Transfer.Initiate)
	auth.PATCH("/tickets/transfer", h.Transfer.Accept)
	auth.DELETE("/tickets/transfer/:id", h.Transfer.Cancel)
	auth.GET("/tickets/transfer/:id", h.Transfer.Get)
}
