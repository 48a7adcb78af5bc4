package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors for the refresh-token layer.
var (
	// ErrInvalidRefreshToken covers unknown, expired, revoked, and
	// already-rotated refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrTokenTaken signals a value collision at save time; with 256-bit
	// tokens this indicates a broken entropy source, not bad luck.
	ErrTokenTaken = errors.New("refresh token value already in use")
)

const refreshKeyPrefix = "refresh:v1:"

// RefreshStore persists opaque refresh tokens for their lifetime. Values are
// unique across the store; a token resolves to exactly one user or is
// invalid.
type RefreshStore interface {
	// Save associates the token with a user for ttl. Fails with
	// ErrTokenTaken when the value already exists.
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	// Resolve returns the owning user without consuming the token.
	Resolve(ctx context.Context, token string) (string, error)
	// Consume atomically resolves and deletes the token, so two concurrent
	// rotations of the same token cannot both succeed.
	Consume(ctx context.Context, token string) (string, error)
	// Revoke deletes the token. Revoking an unknown token is not an error.
	Revoke(ctx context.Context, token string) error
}

// RedisRefreshStore keeps refresh tokens in Redis with a TTL matching their
// lifetime, so expiry needs no background sweeper.
type RedisRefreshStore struct {
	cache *redis.Client
}

// NewRedisRefreshStore builds a Redis-backed refresh token store.
func NewRedisRefreshStore(cache *redis.Client) *RedisRefreshStore {
	return &RedisRefreshStore{cache: cache}
}

func (s *RedisRefreshStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	ok, err := s.cache.SetNX(ctx, refreshKeyPrefix+token, userID, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenTaken
	}
	return nil
}

func (s *RedisRefreshStore) Resolve(ctx context.Context, token string) (string, error) {
	userID, err := s.cache.Get(ctx, refreshKeyPrefix+token).Result()
	if err == redis.Nil {
		return "", ErrInvalidRefreshToken
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *RedisRefreshStore) Consume(ctx context.Context, token string) (string, error) {
	userID, err := s.cache.GetDel(ctx, refreshKeyPrefix+token).Result()
	if err == redis.Nil {
		return "", ErrInvalidRefreshToken
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *RedisRefreshStore) Revoke(ctx context.Context, token string) error {
	return s.cache.Del(ctx, refreshKeyPrefix+token).Err()
}

type memoryEntry struct {
	userID    string
	expiresAt time.Time
}

type memoryRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]memoryEntry
	now    func() time.Time
}

// NewMemoryRefreshStore builds an in-memory refresh store for tests and
// development without Redis.
func NewMemoryRefreshStore() RefreshStore {
	return &memoryRefreshStore{tokens: make(map[string]memoryEntry), now: time.Now}
}

func (s *memoryRefreshStore) Save(_ context.Context, token, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tokens[token]; ok && s.now().Before(entry.expiresAt) {
		return ErrTokenTaken
	}
	s.tokens[token] = memoryEntry{userID: userID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *memoryRefreshStore) Resolve(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[token]
	if !ok || s.now().After(entry.expiresAt) {
		return "", ErrInvalidRefreshToken
	}
	return entry.userID, nil
}

func (s *memoryRefreshStore) Consume(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[token]
	if !ok || s.now().After(entry.expiresAt) {
		return "", ErrInvalidRefreshToken
	}
	delete(s.tokens, token)
	return entry.userID, nil
}

func (s *memoryRefreshStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}
