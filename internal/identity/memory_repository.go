package identity

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]User
	byPhone map[string]string // phone -> id
	secrets map[string]string // secret -> id
}

// NewMemoryRepository builds an in-memory user store. It enforces the same
// phone and secret uniqueness constraints as the Postgres schema so tests
// exercise identical failure modes.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:    make(map[string]User),
		byPhone: make(map[string]string),
		secrets: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPhone[user.Phone]; exists {
		return ErrPhoneTaken
	}
	if user.Secret != "" {
		if _, exists := r.secrets[user.Secret]; exists {
			return ErrSecretTaken
		}
	}
	r.byID[user.ID] = user
	r.byPhone[user.Phone] = user.ID
	if user.Secret != "" {
		r.secrets[user.Secret] = user.ID
	}
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPhone[phone]
	if !ok {
		return User{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *memoryRepository) SecretInUse(_ context.Context, secret string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if secret == "" {
		return false, nil
	}
	_, ok := r.secrets[secret]
	return ok, nil
}

func (r *memoryRepository) UpdateAuthState(_ context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.byID[user.ID]
	if !ok {
		return User{}, ErrNotFound
	}
	if current.Version != user.Version {
		return User{}, ErrVersionConflict
	}
	if user.Phone != current.Phone {
		if _, exists := r.byPhone[user.Phone]; exists {
			return User{}, ErrPhoneTaken
		}
	}
	if user.Secret != "" && user.Secret != current.Secret {
		if _, exists := r.secrets[user.Secret]; exists {
			return User{}, ErrSecretTaken
		}
	}

	delete(r.byPhone, current.Phone)
	delete(r.secrets, current.Secret)

	user.Version++
	r.byID[user.ID] = user
	r.byPhone[user.Phone] = user.ID
	if user.Secret != "" {
		r.secrets[user.Secret] = user.ID
	}
	return user, nil
}

func (r *memoryRepository) UpdateFullName(_ context.Context, id, fullName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.FullName = fullName
	r.byID[id] = user
	return nil
}

func (r *memoryRepository) SetRoles(_ context.Context, id string, staff, superuser bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.Staff = staff
	user.Superuser = superuser
	r.byID[id] = user
	return nil
}
