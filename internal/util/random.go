package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// GenerateOTPCode returns a random numeric code of the given length,
// zero-padded on the left. Length must be between 4 and 10.
func GenerateOTPCode(length int) (string, error) {
	if length < 4 || length > 10 {
		return "", fmt.Errorf("invalid OTP length %d: must be between 4 and 10", length)
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate random number: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
