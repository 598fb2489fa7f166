package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenLength is the number of random bytes behind an opaque token:
// 32 bytes = 256 bits, collision probability cryptographically negligible.
// A colliding insert still surfaces as ErrConflict through the store's
// unique constraint rather than being pre-checked.
const tokenLength = 32

// NewToken returns a fresh URL-safe opaque token for refresh tokens and
// invitations, drawn from the crypto/rand source.
func NewToken() (string, error) {
	return NewTokenN(tokenLength)
}

// NewTokenN returns a token built from n random bytes.
func NewTokenN(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
