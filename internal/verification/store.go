package verification

import (
	"context"
	"sync"
	"time"
)

// CodeStore holds at most one live code per phone number. Implementations
// must run Consume atomically with respect to Put for the same phone.
type CodeStore interface {
	// Put stores code, replacing any previous code for the same phone.
	Put(ctx context.Context, code Code) error
	// Get returns the current code for phone or ErrNoPendingCode.
	Get(ctx context.Context, phone string) (Code, error)
	// Consume loads the code for phone, runs check on it and deletes it only
	// when check returns nil. Returns ErrNoPendingCode if none exists.
	Consume(ctx context.Context, phone string, check func(Code) error) error
}

// clockSetter is implemented by stores whose key lifetimes depend on the
// current time. The service hands them its own clock.
type clockSetter interface {
	setClock(now func() time.Time)
}

type memoryStore struct {
	mu    sync.Mutex
	codes map[string]Code
}

// NewMemoryStore builds an in-memory code store for tests and development.
func NewMemoryStore() CodeStore {
	return &memoryStore{codes: make(map[string]Code)}
}

func (s *memoryStore) Put(_ context.Context, code Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Phone] = code
	return nil
}

func (s *memoryStore) Get(_ context.Context, phone string) (Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[phone]
	if !ok {
		return Code{}, ErrNoPendingCode
	}
	return code, nil
}

func (s *memoryStore) Consume(_ context.Context, phone string, check func(Code) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[phone]
	if !ok {
		return ErrNoPendingCode
	}
	if err := check(code); err != nil {
		return err
	}
	delete(s.codes, phone)
	return nil
}
