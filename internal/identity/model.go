package identity

import "time"

// User represents a phone-number-bound account.
//
// Secret holds the pending verification material: a base32 TOTP seed in
// totp mode, or the pending numeric code itself in numeric mode. An empty
// Secret means no verification is outstanding. Version is bumped on every
// auth-state mutation and backs optimistic concurrency control.
type User struct {
	ID           string
	Phone        string
	FullName     string
	PasswordHash []byte
	Secret       string
	Verified     bool
	Staff        bool
	Superuser    bool
	Version      int64
	CreatedAt    time.Time
}

// SignupInput carries the fields accepted at registration.
type SignupInput struct {
	Phone    string
	FullName string
	// Password is optional; it is only consulted by staff tooling and is
	// never part of the OTP signin flow.
	Password string
}

// ProfileUpdate carries the mutable profile fields. Nil pointers leave the
// current value untouched.
type ProfileUpdate struct {
	FullName *string
	Phone    *string
}
