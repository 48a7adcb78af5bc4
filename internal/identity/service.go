package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/amir-rz/all-commerce/internal/phone"
)

// ErrFullNameRequired rejects signups without a display name.
var ErrFullNameRequired = errors.New("full name is required")

// SecretSource issues verification secrets for new accounts.
type SecretSource interface {
	Issue(ctx context.Context) (string, error)
}

// Service manages account lifecycle: signup and profile maintenance.
// Verification state transitions live in the verification package.
type Service struct {
	repo    Repository
	secrets SecretSource
}

// NewService creates a new identity service.
func NewService(repo Repository, secrets SecretSource) *Service {
	return &Service{repo: repo, secrets: secrets}
}

// Signup creates a new unverified user. The verification secret is assigned
// eagerly so a code can be derived for the very first request-code call.
func (s *Service) Signup(ctx context.Context, in SignupInput) (User, error) {
	normalized, err := phone.Normalize(in.Phone)
	if err != nil {
		return User{}, err
	}
	if in.FullName == "" {
		return User{}, ErrFullNameRequired
	}

	secret, err := s.secrets.Issue(ctx)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:        uuid.New().String(),
		Phone:     normalized,
		FullName:  in.FullName,
		Secret:    secret,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}

	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, err
		}
		user.PasswordHash = hash
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	return user, nil
}

// Get returns the user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// PromoteSuperuser grants staff and superuser roles. Exposed for operator
// tooling only; no HTTP endpoint reaches it.
func (s *Service) PromoteSuperuser(ctx context.Context, id string) (User, error) {
	if err := s.repo.SetRoles(ctx, id, true, true); err != nil {
		return User{}, err
	}
	return s.repo.FindByID(ctx, id)
}

// UpdateProfile applies profile changes. Changing the phone number demotes
// the account to unverified; the caller is expected to start re-verification
// for the new number. The returned bool reports whether the phone changed.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (User, bool, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return User{}, false, err
	}

	if in.FullName != nil && *in.FullName != user.FullName {
		if err := s.repo.UpdateFullName(ctx, user.ID, *in.FullName); err != nil {
			return User{}, false, err
		}
		user.FullName = *in.FullName
	}

	phoneChanged := false
	if in.Phone != nil {
		normalized, err := phone.Normalize(*in.Phone)
		if err != nil {
			return User{}, false, err
		}
		if normalized != user.Phone {
			user.Phone = normalized
			user.Verified = false
			user, err = s.repo.UpdateAuthState(ctx, user)
			if err != nil {
				return User{}, false, err
			}
			phoneChanged = true
		}
	}

	return user, phoneChanged, nil
}
