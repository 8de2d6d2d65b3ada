package identity

import (
	"context"
	"sync"
)

type phoneRole struct {
	phone string
	role  Role
}

type memoryRepository struct {
	mu      sync.RWMutex
	users   map[string]User
	byPhone map[phoneRole]string
}

// NewMemoryRepository builds an in-memory user store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User), byPhone: make(map[phoneRole]string)}
}

func (r *memoryRepository) Create(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := phoneRole{user.Phone, user.Role}
	if _, exists := r.byPhone[key]; exists {
		return ErrUserExists
	}
	if _, exists := r.users[user.ID]; exists {
		return ErrUserExists
	}
	r.users[user.ID] = user
	r.byPhone[key] = user.ID
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string, role Role) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPhone[phoneRole{phone, role}]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.users[id], nil
}

func (r *memoryRepository) Update(_ context.Context, id string, fn func(*User) error) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	if err := fn(&user); err != nil {
		return User{}, err
	}
	r.users[id] = user
	return user, nil
}
