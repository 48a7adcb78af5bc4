package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	otplib "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Defaults match the verification flow of the product: 5-digit codes valid
// for a 10-minute window.
const (
	DefaultDigits = 5
	DefaultWindow = 600 * time.Second
)

// Generator derives and checks verification codes for a stored secret.
// Implementations must be pure with respect to the supplied time so the
// verification service can be tested against fixed instants.
type Generator interface {
	// Code returns the code currently valid for the secret.
	Code(secret string, at time.Time) (string, error)
	// Verify reports whether the submitted code is valid for the secret.
	Verify(secret, code string, at time.Time) (bool, error)
}

// TOTPGenerator derives codes per RFC 6238 from a base32 seed. The same seed
// and window always yield the same code; Skew widens acceptance to that many
// adjacent windows on each side.
type TOTPGenerator struct {
	Digits int
	Window time.Duration
	Skew   uint
}

func (g TOTPGenerator) opts(skew uint) totp.ValidateOpts {
	digits := g.Digits
	if digits <= 0 {
		digits = DefaultDigits
	}
	window := g.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return totp.ValidateOpts{
		Period:    uint(window / time.Second),
		Digits:    otplib.Digits(digits),
		Algorithm: otplib.AlgorithmSHA1,
		Skew:      skew,
	}
}

// Code computes the code for the window containing at.
func (g TOTPGenerator) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, g.opts(0))
}

// Verify checks the code against the window containing at, plus Skew
// adjacent windows.
func (g TOTPGenerator) Verify(secret, code string, at time.Time) (bool, error) {
	return totp.ValidateCustom(code, secret, at, g.opts(g.Skew))
}

// NumericGenerator treats the stored secret as the pending code itself.
// Codes carry no time component; they stay valid until overwritten by the
// next request or cleared on success.
type NumericGenerator struct{}

// Code returns the stored code unchanged.
func (NumericGenerator) Code(secret string, _ time.Time) (string, error) {
	return secret, nil
}

// Verify compares in constant time.
func (NumericGenerator) Verify(secret, code string, _ time.Time) (bool, error) {
	if secret == "" || len(secret) != len(code) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(code)) == 1, nil
}

// RandomNumeric returns a uniformly random decimal code of exactly the given
// width, preserving leading zeros.
func RandomNumeric(digits int) (string, error) {
	if digits <= 0 {
		digits = DefaultDigits
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate numeric code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
