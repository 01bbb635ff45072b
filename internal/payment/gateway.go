// Package payment implements the engine's side of the payment gateway
// contract: producing the parameters the client hands to the gateway
// and verifying the signed confirmation the gateway sends back.  The
// gateway's settlement internals are out of scope; only its signature
// scheme is consumed here.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Params are returned to the client when a paid order is created; the
// client uses them to open the gateway's payment flow.
type Params struct {
	GatewayKeyID string `json:"gateway_key_id"`
	OrderID      string `json:"order_id"`
	AmountPaise  int64  `json:"amount_paise"`
	Currency     string `json:"currency"`
}

// ConfirmationPayload is the gateway's signed payment confirmation,
// delivered via webhook or client callback.
type ConfirmationPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

// Gateway holds the shared-secret credentials issued by the payment
// provider.
type Gateway struct {
	keyID  string
	secret string
}

// NewGateway constructs a Gateway from the provider credentials.
func NewGateway(keyID, secret string) *Gateway {
	return &Gateway{keyID: keyID, secret: secret}
}

// OrderParams builds the client-facing parameters for a paid order.
func (g *Gateway) OrderParams(orderID string, amountPaise int64) Params {
	return Params{
		GatewayKeyID: g.keyID,
		OrderID:      orderID,
		AmountPaise:  amountPaise,
		Currency:     "INR",
	}
}

// Sign computes the expected confirmation signature for an order and
// payment id: hex HMAC-SHA256 over "orderID|paymentID" with the
// shared secret.
func (g *Gateway) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the expected signature from the payload and
// compares it in constant time.  The caller never trusts any part of
// the payload until this returns true.
func (g *Gateway) Verify(p ConfirmationPayload) bool {
	expected := g.Sign(p.OrderID, p.PaymentID)
	return hmac.Equal([]byte(expected), []byte(p.Signature))
}
