package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalid indicates the supplied value is not a valid international
// phone number.
var ErrInvalid = errors.New("invalid phone number")

// Normalize parses an international phone number and returns it in E.164
// form. Numbers without a leading country code are rejected; user accounts
// are keyed by the normalized value so every stored phone has exactly one
// representation.
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "+") {
		return "", ErrInvalid
	}

	parsed, err := phonenumbers.Parse(raw, "")
	if err != nil {
		return "", ErrInvalid
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", ErrInvalid
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
