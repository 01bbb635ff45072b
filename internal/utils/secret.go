package utils

import "golang.org/x/crypto/bcrypt"

// HashSecret hashes a code secret with bcrypt at the given cost.
// Stored hashes keep leaked database rows from yielding redeemable
// transfer codes.
func HashSecret(secret string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifySecret reports whether secret matches the stored bcrypt hash.
func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
