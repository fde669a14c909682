package random

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
)

// Token returns a base64url-encoded random value of byteLen entropy bytes.
// Used for session ids, authorization codes and refresh token values.
func Token(byteLen int) (string, error) {
	buf := make([]byte, byteLen)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NumericCode returns a zero-padded random decimal code of the given
// number of digits, e.g. "042917" for digits=6.
func NumericCode(digits int) (string, error) {
	limit := big.NewInt(1)
	for range digits {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
