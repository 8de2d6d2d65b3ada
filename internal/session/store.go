package session

import (
	"context"
	"sync"
	"time"
)

// Store persists sessions keyed by device id. Every method is atomic per device.
type Store interface {
	// Put stores sess and returns the session it replaced, if any.
	Put(ctx context.Context, sess Session) (previous Session, replaced bool, err error)
	// Get returns the session for deviceID or ErrSessionNotFound.
	Get(ctx context.Context, deviceID string) (Session, error)
	// Update applies fn to the stored session and persists the result.
	// Returns ErrSessionNotFound if none exists; fn errors abort the update.
	Update(ctx context.Context, deviceID string, fn func(*Session) error) (Session, error)
	// Delete removes the session for deviceID and returns it, if any.
	Delete(ctx context.Context, deviceID string) (removed Session, existed bool, err error)
}

// clockSetter is implemented by stores whose key lifetimes depend on the
// current time. The service hands them its own clock.
type clockSetter interface {
	setClock(now func() time.Time)
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemoryStore builds an in-memory session store for tests and development.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]Session)}
}

func (s *memoryStore) Put(_ context.Context, sess Session) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, replaced := s.sessions[sess.DeviceID]
	s.sessions[sess.DeviceID] = sess
	return previous, replaced, nil
}

func (s *memoryStore) Get(_ context.Context, deviceID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[deviceID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *memoryStore) Update(_ context.Context, deviceID string, fn func(*Session) error) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[deviceID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if err := fn(&sess); err != nil {
		return Session{}, err
	}
	s.sessions[deviceID] = sess
	return sess, nil
}

func (s *memoryStore) Delete(_ context.Context, deviceID string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[deviceID]
	delete(s.sessions, deviceID)
	return sess, ok, nil
}
