// Package utils holds small helpers shared across the engine.
package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomToken generates a cryptographically random hexadecimal string
// of n bytes (2n characters).  Used for claim tokens and transfer
// code secrets.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
