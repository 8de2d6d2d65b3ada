// Package links coordinates the caregiver to patient authorization workflow:
// a caregiver invites by phone number, the patient approves, either party
// revokes. Links are never deleted.
package links

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/carelink/carelink/internal/apperr"
)

// Status is the state of a link.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

var (
	ErrLinkNotFound      = apperr.New(apperr.KindNotFound, "link not found")
	ErrDuplicateLink     = apperr.New(apperr.KindDuplicateLink, "a pending or active link already exists for this patient")
	ErrInvalidTransition = apperr.New(apperr.KindInvalidTransition, "link status does not allow this change")
	ErrForbidden         = apperr.New(apperr.KindForbidden, "caller is not allowed to act on this link")
	ErrRoleMismatch      = apperr.New(apperr.KindRoleMismatch, "only caregivers can invite patients")
	ErrProfileIncomplete = apperr.New(apperr.KindForbidden, "complete your profile before inviting")
)

// Link is the authorization relationship between one caregiver and one
// patient. PatientID is empty until the invited phone number belongs to a
// registered patient.
type Link struct {
	ID           string
	CaregiverID  string
	PatientID    string
	InviteePhone string
	Status       Status
	Relationship string
	CreatedAt    time.Time
	ApprovedAt   *time.Time
	RevokedAt    *time.Time
	UpdatedAt    time.Time
}

// Resolved reports whether the invitee is known.
func (l Link) Resolved() bool { return l.PatientID != "" }

// Open reports whether the link still counts toward the one-link-per-pair rule.
func (l Link) Open() bool { return l.Status != StatusRevoked }

// HasParty reports whether userID is the caregiver or the patient of l.
func (l Link) HasParty(userID string) bool {
	return userID != "" && (l.CaregiverID == userID || l.PatientID == userID)
}

// canTransition lists the forward moves. Revoked is terminal.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive || to == StatusRevoked
	case StatusActive:
		return to == StatusRevoked
	}
	return false
}

// applyTransition sets the status and the matching timestamp on l.
func applyTransition(l *Link, to Status, at time.Time) {
	l.Status = to
	l.UpdatedAt = at
	switch to {
	case StatusActive:
		l.ApprovedAt = &at
	case StatusRevoked:
		l.RevokedAt = &at
	}
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-sortable link identifier.
func NewID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}
