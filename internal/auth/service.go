package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amir-rz/all-commerce/internal/config"
	"github.com/amir-rz/all-commerce/internal/identity"
)

// TokenPair is an access/refresh token pair bound to one user.
type TokenPair struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Claims are the access-token JWT claims.
type Claims struct {
	Phone    string `json:"phone"`
	Verified bool   `json:"verified"`
	Staff    bool   `json:"staff"`
	jwt.RegisteredClaims
}

// Service mints and validates tokens. Access tokens are short-lived signed
// JWTs and are never persisted; refresh tokens are opaque random values held
// in the refresh store for their lifetime.
type Service struct {
	cfg   config.Config
	repo  identity.Repository
	store RefreshStore
	now   func() time.Time
}

// NewService creates the token service.
func NewService(cfg config.Config, repo identity.Repository, store RefreshStore) *Service {
	return &Service{cfg: cfg, repo: repo, store: store, now: time.Now}
}

// Issue mints a fresh token pair for the user.
func (s *Service) Issue(ctx context.Context, user identity.User) (TokenPair, error) {
	access, err := s.signAccess(user)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := s.saveRefresh(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// Refresh exchanges a valid refresh token for a new pair. With rotation
// enabled the presented token is consumed atomically, so a stale token fails
// with ErrInvalidRefreshToken; without rotation the token stays reusable
// until its own expiry and is returned unchanged in the new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	var (
		userID string
		err    error
	)
	if s.cfg.RotateRefreshOnUse {
		userID, err = s.store.Consume(ctx, refreshToken)
	} else {
		userID, err = s.store.Resolve(ctx, refreshToken)
	}
	if err != nil {
		return TokenPair{}, err
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return TokenPair{}, ErrInvalidRefreshToken
	}

	access, err := s.signAccess(user)
	if err != nil {
		return TokenPair{}, err
	}

	refresh := refreshToken
	if s.cfg.RotateRefreshOnUse {
		refresh, err = s.saveRefresh(ctx, user.ID)
		if err != nil {
			return TokenPair{}, err
		}
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// Revoke invalidates a refresh token (logout).
func (s *Service) Revoke(ctx context.Context, refreshToken string) error {
	return s.store.Revoke(ctx, refreshToken)
}

// ParseAccess verifies an access token and returns the owning user id.
func (s *Service) ParseAccess(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}

func (s *Service) signAccess(user identity.User) (string, error) {
	now := s.now()
	claims := Claims{
		Phone:    user.Phone,
		Verified: user.Verified,
		Staff:    user.Staff,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// saveRefresh generates an opaque token and persists it. The store's
// uniqueness check makes duplicate values impossible; a second attempt
// covers the astronomically unlikely collision.
func (s *Service) saveRefresh(ctx context.Context, userID string) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := newRefreshToken()
		if err != nil {
			return "", err
		}
		err = s.store.Save(ctx, token, userID, s.cfg.RefreshTokenTTL)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrTokenTaken) {
			return "", err
		}
	}
	return "", ErrTokenTaken
}

// newRefreshToken returns a 256-bit URL-safe random string.
func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
