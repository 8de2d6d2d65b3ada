package session

import (
	"time"

	"github.com/carelink/carelink/internal/apperr"
)

var (
	// ErrSessionNotFound means the device holds no session.
	ErrSessionNotFound = apperr.New(apperr.KindSessionNotFound, "session not found")
	// ErrSessionExpired means the device session outlived its window; the
	// caller must terminate it and re-authenticate.
	ErrSessionExpired = apperr.New(apperr.KindSessionExpired, "session expired")
	// ErrUnknownUser means a session was requested for a user that does not exist.
	ErrUnknownUser = apperr.New(apperr.KindNotFound, "user not found")
)

// Session is a device-bound proof of authentication.
type Session struct {
	// ID identifies this session instance. A replacement session on the same
	// device gets a new ID.
	ID               string    `json:"id"`
	DeviceID         string    `json:"device_id"`
	UserID           string    `json:"user_id"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	BiometricEnabled bool      `json:"biometric_enabled"`
}

// ExpiredAt reports whether the session is no longer valid at now.
func (s Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
