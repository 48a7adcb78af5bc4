package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/amir-rz/all-commerce/internal/identity"
	"github.com/amir-rz/all-commerce/internal/logging"
	"github.com/amir-rz/all-commerce/internal/notification"
	"github.com/amir-rz/all-commerce/internal/otp"
)

type queueSecrets struct {
	mu    sync.Mutex
	codes []string
}

func (s *queueSecrets) Issue(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) == 0 {
		return "", errors.New("queue exhausted")
	}
	next := s.codes[0]
	s.codes = s.codes[1:]
	return next, nil
}

type captureNotifier struct {
	messages chan notification.Message
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{messages: make(chan notification.Message, 64)}
}

func (n *captureNotifier) Send(_ context.Context, message notification.Message) error {
	n.messages <- message
	return nil
}

func (n *captureNotifier) wait(t *testing.T) notification.Message {
	t.Helper()
	select {
	case msg := <-n.messages:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sms dispatch")
		return notification.Message{}
	}
}

func seedUser(t *testing.T, repo identity.Repository, phone, secret string) identity.User {
	t.Helper()
	user := identity.User{
		ID:        uuid.New().String(),
		Phone:     phone,
		FullName:  "testname",
		Secret:    secret,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestNumericSigninFlow(t *testing.T) {
	repo := identity.NewMemoryRepository()
	notifier := newCaptureNotifier()
	secrets := &queueSecrets{codes: []string{"12345"}}
	svc := NewService(repo, secrets, otp.NumericGenerator{}, otp.ModeNumeric, notifier, logging.Discard())

	ctx := context.Background()
	seedUser(t, repo, "+989123456789", "")

	if err := svc.RequestCode(ctx, "+989123456789"); err != nil {
		t.Fatalf("request code: %v", err)
	}

	msg := notifier.wait(t)
	if msg.Phone != "+989123456789" {
		t.Fatalf("code dispatched to wrong number: %s", msg.Phone)
	}

	user, err := svc.SubmitCode(ctx, "+989123456789", "12345")
	if err != nil {
		t.Fatalf("submit code: %v", err)
	}
	if !user.Verified {
		t.Fatal("expected verified status after successful submit")
	}
	if user.Secret != "" {
		t.Fatal("numeric code must be cleared after use")
	}

	// Single use: the same code must not verify twice.
	if _, err := svc.SubmitCode(ctx, "+989123456789", "12345"); !errors.Is(err, ErrNoPendingVerification) {
		t.Fatalf("expected ErrNoPendingVerification on reuse, got %v", err)
	}
}

func TestSecondRequestInvalidatesFirstCode(t *testing.T) {
	repo := identity.NewMemoryRepository()
	secrets := &queueSecrets{codes: []string{"12345", "67890"}}
	svc := NewService(repo, secrets, otp.NumericGenerator{}, otp.ModeNumeric, newCaptureNotifier(), logging.Discard())

	ctx := context.Background()
	seedUser(t, repo, "+989123456789", "")

	if err := svc.RequestCode(ctx, "+989123456789"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := svc.RequestCode(ctx, "+989123456789"); err != nil {
		t.Fatalf("second request: %v", err)
	}

	if _, err := svc.SubmitCode(ctx, "+989123456789", "12345"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected stale code rejection, got %v", err)
	}

	if _, err := svc.SubmitCode(ctx, "+989123456789", "67890"); err != nil {
		t.Fatalf("current code rejected: %v", err)
	}
}

func TestWrongCodeLeavesStateUntouched(t *testing.T) {
	repo := identity.NewMemoryRepository()
	secrets := &queueSecrets{codes: []string{"12345"}}
	svc := NewService(repo, secrets, otp.NumericGenerator{}, otp.ModeNumeric, newCaptureNotifier(), logging.Discard())

	ctx := context.Background()
	seedUser(t, repo, "+989123456789", "")

	if err := svc.RequestCode(ctx, "+989123456789"); err != nil {
		t.Fatalf("request code: %v", err)
	}

	if _, err := svc.SubmitCode(ctx, "+989123456789", "54321"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	user, err := repo.FindByPhone(ctx, "+989123456789")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if user.Verified {
		t.Fatal("failed submit must not verify the account")
	}
	if user.Secret != "12345" {
		t.Fatal("failed submit must not rotate or clear the code")
	}

	// The original code still works afterwards.
	if _, err := svc.SubmitCode(ctx, "+989123456789", "12345"); err != nil {
		t.Fatalf("valid code rejected after a failed attempt: %v", err)
	}
}

func TestRequestCodeUnknownPhone(t *testing.T) {
	svc := NewService(identity.NewMemoryRepository(), &queueSecrets{}, otp.NumericGenerator{}, otp.ModeNumeric, newCaptureNotifier(), logging.Discard())

	err := svc.RequestCode(context.Background(), "+989123456789")
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitWithoutPendingVerification(t *testing.T) {
	repo := identity.NewMemoryRepository()
	svc := NewService(repo, &queueSecrets{}, otp.NumericGenerator{}, otp.ModeNumeric, newCaptureNotifier(), logging.Discard())

	seedUser(t, repo, "+989123456789", "")

	if _, err := svc.SubmitCode(context.Background(), "+989123456789", "12345"); !errors.Is(err, ErrNoPendingVerification) {
		t.Fatalf("expected ErrNoPendingVerification, got %v", err)
	}
}

func TestTOTPFlowRetainsSeed(t *testing.T) {
	repo := identity.NewMemoryRepository()
	gen := otp.TOTPGenerator{Digits: 5, Window: 600 * time.Second}
	issuer := otp.NewSecretIssuer(repo, otp.ModeTOTP, 5)
	notifier := newCaptureNotifier()
	svc := NewService(repo, issuer, gen, otp.ModeTOTP, notifier, logging.Discard())

	at := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return at }

	ctx := context.Background()
	seedUser(t, repo, "+989123456789", "")

	if err := svc.RequestCode(ctx, "+989123456789"); err != nil {
		t.Fatalf("request code: %v", err)
	}

	stored, err := repo.FindByPhone(ctx, "+989123456789")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	code, err := gen.Code(stored.Secret, at)
	if err != nil {
		t.Fatalf("derive code: %v", err)
	}

	// The dispatched SMS carries the same window's code.
	msg := notifier.wait(t)
	if msg.Body != fmt.Sprintf("Your verification code is %s", code) {
		t.Fatalf("unexpected sms body %q", msg.Body)
	}

	user, err := svc.SubmitCode(ctx, "+989123456789", code)
	if err != nil {
		t.Fatalf("submit code: %v", err)
	}
	if !user.Verified {
		t.Fatal("expected verified status")
	}
	if user.Secret != stored.Secret {
		t.Fatal("totp seed must be retained after verification")
	}
}

func TestTOTPExpiredWindowRejected(t *testing.T) {
	repo := identity.NewMemoryRepository()
	gen := otp.TOTPGenerator{Digits: 5, Window: 600 * time.Second}
	issuer := otp.NewSecretIssuer(repo, otp.ModeTOTP, 5)
	svc := NewService(repo, issuer, gen, otp.ModeTOTP, newCaptureNotifier(), logging.Discard())

	issued := time.Unix(1_700_000_000-1_700_000_000%600, 0)
	now := issued
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	seedUser(t, repo, "+989123456789", "")

	if err := svc.RequestCode(ctx, "+989123456789"); err != nil {
		t.Fatalf("request code: %v", err)
	}
	stored, _ := repo.FindByPhone(ctx, "+989123456789")
	code, err := gen.Code(stored.Secret, issued)
	if err != nil {
		t.Fatalf("derive code: %v", err)
	}

	now = issued.Add(601 * time.Second)
	if _, err := svc.SubmitCode(ctx, "+989123456789", code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected expired code rejection, got %v", err)
	}
}

func TestPhoneChangeReVerification(t *testing.T) {
	repo := identity.NewMemoryRepository()
	gen := otp.TOTPGenerator{Digits: 5, Window: 600 * time.Second}
	issuer := otp.NewSecretIssuer(repo, otp.ModeTOTP, 5)
	ids := identity.NewService(repo, issuer)
	notifier := newCaptureNotifier()
	svc := NewService(repo, issuer, gen, otp.ModeTOTP, notifier, logging.Discard())

	at := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return at }

	ctx := context.Background()
	user, err := ids.Signup(ctx, identity.SignupInput{Phone: "+989123456789", FullName: "testname"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	// Verify the original number.
	if err := svc.RequestCode(ctx, user.Phone); err != nil {
		t.Fatalf("request code: %v", err)
	}
	notifier.wait(t)
	stored, _ := repo.FindByPhone(ctx, user.Phone)
	code, _ := gen.Code(stored.Secret, at)
	if _, err := svc.SubmitCode(ctx, user.Phone, code); err != nil {
		t.Fatalf("submit code: %v", err)
	}

	// Change the number; verification drops and a new code goes out.
	newPhone := "+989123456781"
	updated, phoneChanged, err := ids.UpdateProfile(ctx, user.ID, identity.ProfileUpdate{Phone: &newPhone})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if !phoneChanged || updated.Verified {
		t.Fatalf("expected demoted unverified account, got changed=%v verified=%v", phoneChanged, updated.Verified)
	}

	if err := svc.RequestCodeForUser(ctx, updated); err != nil {
		t.Fatalf("request code for new phone: %v", err)
	}
	msg := notifier.wait(t)
	if msg.Phone != newPhone {
		t.Fatalf("code dispatched to %s, want %s", msg.Phone, newPhone)
	}

	fresh, _ := repo.FindByPhone(ctx, newPhone)
	code, _ = gen.Code(fresh.Secret, at)
	verified, err := svc.SubmitCode(ctx, newPhone, code)
	if err != nil {
		t.Fatalf("submit code for new phone: %v", err)
	}
	if !verified.Verified {
		t.Fatal("expected verified status for the new number")
	}
}

func TestConcurrentIssuanceKeepsSecretsUnique(t *testing.T) {
	repo := identity.NewMemoryRepository()
	gen := otp.TOTPGenerator{Digits: 5, Window: 600 * time.Second}
	issuer := otp.NewSecretIssuer(repo, otp.ModeTOTP, 5)
	svc := NewService(repo, issuer, gen, otp.ModeTOTP, newCaptureNotifier(), logging.Discard())

	ctx := context.Background()
	const users = 32
	phones := make([]string, users)
	for i := range phones {
		phones[i] = fmt.Sprintf("+9891234%05d", i)
		seedUser(t, repo, phones[i], "")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, users)
	for _, p := range phones {
		user := mustFind(t, repo, p)
		wg.Add(1)
		go func(user identity.User) {
			defer wg.Done()
			if err := svc.RequestCodeForUser(ctx, user); err != nil {
				errCh <- fmt.Errorf("%s: %w", user.Phone, err)
			}
		}(user)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent request: %v", err)
	}

	seen := make(map[string]string, users)
	for _, p := range phones {
		user := mustFind(t, repo, p)
		if user.Secret == "" {
			t.Fatalf("%s: no secret assigned", p)
		}
		if other, dup := seen[user.Secret]; dup {
			t.Fatalf("secret shared between %s and %s", p, other)
		}
		seen[user.Secret] = p
	}
}
func mustFind(t *testing.T, repo identity.Repository, phone string) identity.User {
	t.Helper()
	user, err := repo.FindByPhone(context.Background(), phone)
	if err != nil {
		t.Fatalf("find %s: %v", phone, err)
	}
	return user
}

// flakyRepo rejects the first n auth-state writes with a version conflict
// before delegating, simulating lost races against concurrent writers.
type flakyRepo struct {
	identity.Repository
	mu        sync.Mutex
	conflicts int
}

func (r *flakyRepo) UpdateAuthState(ctx context.Context, user identity.User) (identity.User, error) {
	r.mu.Lock()
	remaining := r.conflicts
	if remaining > 0 {
		r.conflicts--
	}
	r.mu.Unlock()
	if remaining > 0 {
		return identity.User{}, identity.ErrVersionConflict
	}
	return r.Repository.UpdateAuthState(ctx, user)
}

func TestRequestCodeRetriesOnVersionConflict(t *testing.T) {
	repo := &flakyRepo{Repository: identity.NewMemoryRepository(), conflicts: 2}
	secrets := &queueSecrets{codes: []string{"11111", "22222", "33333"}}
	svc := NewService(repo, secrets, otp.NumericGenerator{}, otp.ModeNumeric, newCaptureNotifier(), logging.Discard())

	ctx := context.Background()
	seedUser(t, repo, "+989123456789", "")

	if err := svc.RequestCode(ctx, "+989123456789"); err != nil {
		t.Fatalf("expected retry to absorb two conflicts, got %v", err)
	}

	// Each losing attempt issued a fresh secret; the committed one is the third.
	stored := mustFind(t, repo, "+989123456789")
	if stored.Secret != "33333" {
		t.Fatalf("expected third candidate committed, got %q", stored.Secret)
	}
}

func TestConflictExhaustionSurfacesStoreUnavailable(t *testing.T) {
	repo := &flakyRepo{Repository: identity.NewMemoryRepository(), conflicts: 100}
	secrets := &queueSecrets{codes: []string{"11111", "22222", "33333", "44444"}}
	svc := NewService(repo, secrets, otp.NumericGenerator{}, otp.ModeNumeric, newCaptureNotifier(), logging.Discard())

	ctx := context.Background()
	seedUser(t, repo, "+989123456789", "12345")

	err := svc.RequestCode(ctx, "+989123456789")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable after exhausted retries, got %v", err)
	}
	if errors.Is(err, ErrInvalidCode) {
		t.Fatal("store trouble must stay distinct from a bad code")
	}

	// Submitting a correct code fails the same way when every write conflicts,
	// and leaves the account untouched.
	if _, err := svc.SubmitCode(ctx, "+989123456789", "12345"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable on submit, got %v", err)
	}
	stored := mustFind(t, repo, "+989123456789")
	if stored.Verified || stored.Secret != "12345" {
		t.Fatalf("failed writes must not change state, got verified=%v secret=%q", stored.Verified, stored.Secret)
	}
}

// rotateOnConflictRepo fails the first auth-state write and, before failing,
// commits a different secret for the same user, reproducing a concurrent
// code request landing mid-submit.
type rotateOnConflictRepo struct {
	identity.Repository
	mu       sync.Mutex
	rotateTo string
	done     bool
}

func (r *rotateOnConflictRepo) UpdateAuthState(ctx context.Context, user identity.User) (identity.User, error) {
	r.mu.Lock()
	first := !r.done
	r.done = true
	r.mu.Unlock()
	if first {
		fresh, err := r.Repository.FindByID(ctx, user.ID)
		if err != nil {
			return identity.User{}, err
		}
		fresh.Secret = r.rotateTo
		fresh.Verified = false
		if _, err := r.Repository.UpdateAuthState(ctx, fresh); err != nil {
			return identity.User{}, err
		}
		return identity.User{}, identity.ErrVersionConflict
	}
	return r.Repository.UpdateAuthState(ctx, user)
}

func TestSubmitRejectsStaleCodeAfterConcurrentRotation(t *testing.T) {
	repo := &rotateOnConflictRepo{Repository: identity.NewMemoryRepository(), rotateTo: "67890"}
	svc := NewService(repo, &queueSecrets{}, otp.NumericGenerator{}, otp.ModeNumeric, newCaptureNotifier(), logging.Discard())

	ctx := context.Background()
	seedUser(t, repo, "+989123456789", "12345")

	// The code matched the secret loaded at entry, but a concurrent request
	// rotated it before the write landed. The retry re-checks against the
	// committed secret and must reject.
	if _, err := svc.SubmitCode(ctx, "+989123456789", "12345"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected stale code rejection after rotation, got %v", err)
	}

	stored := mustFind(t, repo, "+989123456789")
	if stored.Verified {
		t.Fatal("stale code must not verify the account")
	}
	if stored.Secret != "67890" {
		t.Fatalf("rotated secret must survive, got %q", stored.Secret)
	}

	// The code for the rotated secret still works.
	if _, err := svc.SubmitCode(ctx, "+989123456789", "67890"); err != nil {
		t.Fatalf("current code rejected: %v", err)
	}
}

func TestSameIdentityConcurrentRequests(t *testing.T) {
	repo := identity.NewMemoryRepository()
	codes := []string{"11111", "22222", "33333", "44444"}
	secrets := &queueSecrets{codes: codes}
	svc := NewService(repo, secrets, otp.NumericGenerator{}, otp.ModeNumeric, newCaptureNotifier(), logging.Discard())

	ctx := context.Background()
	user := seedUser(t, repo, "+989123456789", "")

	// Both writers start from the same snapshot; the loser must reload and
	// retry rather than clobber or fail.
	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.RequestCodeForUser(ctx, user); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent request: %v", err)
	}

	// Exactly one code is live afterwards; every other issued candidate is
	// stale and must not verify.
	stored := mustFind(t, repo, "+989123456789")
	if stored.Secret == "" {
		t.Fatal("expected a committed secret")
	}
	for _, code := range codes {
		if code == stored.Secret {
			continue
		}
		if _, err := svc.SubmitCode(ctx, "+989123456789", code); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("stale code %q: expected ErrInvalidCode, got %v", code, err)
		}
	}
	if _, err := svc.SubmitCode(ctx, "+989123456789", stored.Secret); err != nil {
		t.Fatalf("live code rejected: %v", err)
	}
}
