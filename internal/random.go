package internal

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// NewResetToken returns an opaque 68-character bearer token: a UUID joined
// with a second, dash-stripped UUID. Both halves come from crypto/rand.
func NewResetToken() string {
	return uuid.NewString() + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewOTP returns a numeric one-time code. Each digit is drawn independently
// from crypto/rand so leading zeros stay possible.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}
