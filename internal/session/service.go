package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/apperr"
	"github.com/carelink/carelink/internal/metrics"
)

// UserChecker reports whether a user id refers to an existing account.
type UserChecker interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// TerminateHook runs after a session is removed, whether by logout, expiry
// detection or replacement on the same device.
type TerminateHook func(ctx context.Context, sess Session)

// Service manages device sessions.
type Service struct {
	store  Store
	users  UserChecker
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	hooksMu sync.RWMutex
	hooks   []TerminateHook
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a session manager issuing sessions valid for ttl.
func NewService(store Store, users UserChecker, ttl time.Duration, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{store: store, users: users, ttl: ttl, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if cs, ok := store.(clockSetter); ok {
		cs.setClock(s.now)
	}
	return s
}

// SetUserChecker wires the user existence check after construction, for
// callers whose registry itself depends on this service.
func (s *Service) SetUserChecker(users UserChecker) {
	s.users = users
}

// OnTerminate registers a hook run whenever a session goes away.
func (s *Service) OnTerminate(hook TerminateHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Create opens a session for userID on deviceID, replacing whatever session
// the device held before.
func (s *Service) Create(ctx context.Context, userID, deviceID string, biometric bool) (Session, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return Session{}, apperr.Invalid("device_id", "device id is required")
	}
	if s.users == nil {
		return Session{}, errors.New("session: user checker not configured")
	}
	exists, err := s.users.UserExists(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if !exists {
		return Session{}, ErrUnknownUser
	}

	now := s.now().UTC()
	sess := Session{
		ID:               uuid.NewString(),
		DeviceID:         deviceID,
		UserID:           userID,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
		BiometricEnabled: biometric,
	}
	previous, replaced, err := s.store.Put(ctx, sess)
	if err != nil {
		return Session{}, err
	}
	if replaced {
		s.runHooks(ctx, previous)
		metrics.SessionEventsTotal.WithLabelValues("replaced").Inc()
	}

	metrics.SessionEventsTotal.WithLabelValues("created").Inc()
	s.logger.Info("session created", "user_id", userID, "device_id", deviceID, "expires_at", sess.ExpiresAt)
	return sess, nil
}

// Validate returns the device session if it is still within its window.
func (s *Service) Validate(ctx context.Context, deviceID string) (Session, error) {
	sess, err := s.store.Get(ctx, deviceID)
	if err != nil {
		return Session{}, err
	}
	if sess.ExpiredAt(s.now()) {
		return Session{}, ErrSessionExpired
	}
	return sess, nil
}

// Terminate removes the device session and its scoped data. Terminating a
// missing session succeeds.
func (s *Service) Terminate(ctx context.Context, deviceID string) error {
	removed, existed, err := s.store.Delete(ctx, deviceID)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	s.runHooks(ctx, removed)
	metrics.SessionEventsTotal.WithLabelValues("terminated").Inc()
	s.logger.Info("session terminated", "user_id", removed.UserID, "device_id", deviceID)
	return nil
}

// UpdateBiometric flips the biometric flag of a valid session in place.
func (s *Service) UpdateBiometric(ctx context.Context, deviceID string, enabled bool) (Session, error) {
	now := s.now()
	return s.store.Update(ctx, deviceID, func(sess *Session) error {
		if sess.ExpiredAt(now) {
			return ErrSessionNotFound
		}
		sess.BiometricEnabled = enabled
		return nil
	})
}

func (s *Service) runHooks(ctx context.Context, sess Session) {
	s.hooksMu.RLock()
	hooks := append([]TerminateHook(nil), s.hooks...)
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, sess)
	}
}
