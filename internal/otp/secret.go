package otp

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
)

// ErrKeyspaceExhausted is returned when a unique secret could not be found
// within the retry budget. With seed entropy this is effectively unreachable
// in totp mode; in numeric mode it guards small code spaces.
var ErrKeyspaceExhausted = errors.New("could not generate a unique verification secret")

const issueAttempts = 5

// Mode selects the verification-code scheme.
type Mode string

const (
	// ModeTOTP stores a persistent base32 seed and derives time-windowed codes.
	ModeTOTP Mode = "totp"
	// ModeNumeric stores a single-use random code directly.
	ModeNumeric Mode = "numeric"
)

// Valid reports whether the mode is one of the recognized schemes.
func (m Mode) Valid() bool {
	return m == ModeTOTP || m == ModeNumeric
}

// SecretIndex is the slice of the identity store the issuer needs: a point
// lookup over currently assigned secrets.
type SecretIndex interface {
	SecretInUse(ctx context.Context, secret string) (bool, error)
}

// SecretIssuer hands out verification secrets that are unique across all
// users at the moment of the check. The check is best effort under
// concurrent issuance; the storage layer's unique constraint is the final
// arbiter, and writers that lose that race retry through here again.
type SecretIssuer struct {
	index  SecretIndex
	mode   Mode
	digits int
}

// NewSecretIssuer builds an issuer over the given secret index.
func NewSecretIssuer(index SecretIndex, mode Mode, digits int) *SecretIssuer {
	if digits <= 0 {
		digits = DefaultDigits
	}
	return &SecretIssuer{index: index, mode: mode, digits: digits}
}

// Issue generates a fresh secret, retrying on collision a bounded number of
// times before giving up with ErrKeyspaceExhausted.
func (s *SecretIssuer) Issue(ctx context.Context) (string, error) {
	for i := 0; i < issueAttempts; i++ {
		secret, err := s.generate()
		if err != nil {
			return "", err
		}
		inUse, err := s.index.SecretInUse(ctx, secret)
		if err != nil {
			return "", fmt.Errorf("check secret uniqueness: %w", err)
		}
		if !inUse {
			return secret, nil
		}
	}
	return "", ErrKeyspaceExhausted
}

func (s *SecretIssuer) generate() (string, error) {
	if s.mode == ModeNumeric {
		return RandomNumeric(s.digits)
	}
	return randomSeed()
}

// randomSeed returns a 160-bit base32 seed (RFC 4226 recommended strength).
func randomSeed() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate seed: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
