package verification

import (
	"errors"
	"time"

	"github.com/carelink/carelink/internal/apperr"
)

// CodeLength is the number of digits in a one-time code.
const CodeLength = 6

var (
	// ErrNoPendingCode means no code was requested for the phone number, or
	// the last one was already consumed.
	ErrNoPendingCode = apperr.New(apperr.KindNoPendingCode, "no pending verification code")
	// ErrCodeExpired means the live code outlived its validity window.
	ErrCodeExpired = apperr.New(apperr.KindCodeExpired, "verification code expired")
	// ErrCodeMismatch means the submitted code differs from the live one.
	ErrCodeMismatch = apperr.New(apperr.KindCodeMismatch, "verification code does not match")
	// ErrDeliveryFailed means the delivery collaborator could not be reached.
	ErrDeliveryFailed = apperr.New(apperr.KindDeliveryFailed, "verification code could not be delivered")

	errSuperseded = errors.New("verification code superseded")
)

// Code is the stored form of a live one-time code. Only a bcrypt hash of the
// digits is kept.
type Code struct {
	Phone     string    `json:"phone"`
	Hash      []byte    `json:"hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the code is past its window at now.
func (c Code) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Issued is returned to callers after a code was dispatched.
type Issued struct {
	Phone     string
	ExpiresAt time.Time
}
