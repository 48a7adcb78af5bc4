package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amir-rz/all-commerce/internal/identity"
	"github.com/amir-rz/all-commerce/internal/notification"
	"github.com/amir-rz/all-commerce/internal/otp"
	"github.com/amir-rz/all-commerce/internal/phone"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	// ErrInvalidCode covers a mismatched or expired code. The state machine
	// does not transition on it.
	ErrInvalidCode = errors.New("verification code is invalid or expired")
	// ErrNoPendingVerification means a code was submitted while no secret is
	// assigned. Handlers report it to clients as ErrInvalidCode so responses
	// do not reveal whether a code is outstanding.
	ErrNoPendingVerification = errors.New("no verification in progress")
	// ErrStoreUnavailable marks transient storage trouble; callers may retry
	// the whole operation safely.
	ErrStoreUnavailable = errors.New("identity store unavailable")
)

// Write conflicts under concurrent requests for the same identity are
// retried this many times before surfacing as transient errors.
const conflictRetries = 3

const dispatchTimeout = 5 * time.Second

// SecretSource issues fresh verification secrets.
type SecretSource interface {
	Issue(ctx context.Context) (string, error)
}

// Service drives the verification state machine: unverified accounts request
// a code, submit it, and become verified. Re-requesting from a verified
// account (phone change) demotes it first.
type Service struct {
	repo     identity.Repository
	secrets  SecretSource
	gen      otp.Generator
	mode     otp.Mode
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the verification flow.
func NewService(repo identity.Repository, secrets SecretSource, gen otp.Generator, mode otp.Mode, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		secrets:  secrets,
		gen:      gen,
		mode:     mode,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// RequestCode looks up the account by phone, rotates its verification
// secret, and dispatches the current code over SMS. The previous code stops
// being valid the moment the new secret is committed.
func (s *Service) RequestCode(ctx context.Context, phoneNumber string) error {
	normalized, err := phone.Normalize(phoneNumber)
	if err != nil {
		return err
	}
	user, err := s.repo.FindByPhone(ctx, normalized)
	if err != nil {
		return err
	}
	return s.RequestCodeForUser(ctx, user)
}

// RequestCodeForUser is RequestCode for an already-loaded account, used when
// the caller just mutated the record (phone change).
func (s *Service) RequestCodeForUser(ctx context.Context, user identity.User) error {
	var committed identity.User

	err := s.withConflictRetry(ctx, func() error {
		secret, err := s.secrets.Issue(ctx)
		if err != nil {
			return err
		}

		user.Secret = secret
		user.Verified = false

		updated, err := s.repo.UpdateAuthState(ctx, user)
		if err != nil {
			s.reloadOnConflict(ctx, &user, err)
			return err
		}
		committed = updated
		return nil
	})
	if err != nil {
		return err
	}

	code, err := s.gen.Code(committed.Secret, s.now())
	if err != nil {
		return fmt.Errorf("derive verification code: %w", err)
	}

	s.dispatch(committed.Phone, code)
	return nil
}

// SubmitCode validates the code for the account with the given phone number
// and, on success, marks it verified. Numeric codes are single use and
// cleared; TOTP seeds are retained, old codes age out by window arithmetic.
func (s *Service) SubmitCode(ctx context.Context, phoneNumber, code string) (identity.User, error) {
	normalized, err := phone.Normalize(phoneNumber)
	if err != nil {
		return identity.User{}, err
	}
	user, err := s.repo.FindByPhone(ctx, normalized)
	if err != nil {
		return identity.User{}, err
	}
	return s.SubmitCodeForUser(ctx, user, code)
}

// SubmitCodeForUser validates a code against an already-loaded account.
func (s *Service) SubmitCodeForUser(ctx context.Context, user identity.User, code string) (identity.User, error) {
	var committed identity.User
	err := s.withConflictRetry(ctx, func() error {
		// A concurrent request may have rotated the secret since this copy
		// was loaded; the submitted code must match the current value.
		if user.Secret == "" {
			return ErrNoPendingVerification
		}
		if ok, err := s.gen.Verify(user.Secret, code, s.now()); err != nil || !ok {
			return ErrInvalidCode
		}

		next := user
		next.Verified = true
		if s.mode == otp.ModeNumeric {
			next.Secret = ""
		}

		updated, err := s.repo.UpdateAuthState(ctx, next)
		if err != nil {
			s.reloadOnConflict(ctx, &user, err)
			return err
		}
		committed = updated
		return nil
	})
	if err != nil {
		return identity.User{}, err
	}

	return committed, nil
}

// withConflictRetry runs op, retrying a bounded number of times while it
// loses a race: a stale record version, or a secret another writer committed
// first (the storage constraint, not the pre-check, is the real uniqueness
// guarantee). Exhausted retries surface as transient store trouble, distinct
// from a bad code.
func (s *Service) withConflictRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
		}
		err = op()
		if err == nil || !errors.Is(err, identity.ErrVersionConflict) && !errors.Is(err, identity.ErrSecretTaken) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// reloadOnConflict refreshes the working copy after a version conflict so
// the next attempt operates on current state. Returns true when the error
// was a conflict and the reload succeeded.
func (s *Service) reloadOnConflict(ctx context.Context, user *identity.User, err error) bool {
	if !errors.Is(err, identity.ErrVersionConflict) {
		return false
	}
	fresh, findErr := s.repo.FindByID(ctx, user.ID)
	if findErr != nil {
		return false
	}
	*user = fresh
	return true
}

// dispatch hands the code to the SMS collaborator off the critical path. The
// HTTP response does not wait for, or depend on, delivery.
func (s *Service) dispatch(phoneNumber, code string) {
	msg := notification.VerificationCode(phoneNumber, code)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("sms dispatch failed", "phone", phoneNumber, "error", err)
		}
	}()
}
