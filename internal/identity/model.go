package identity

import (
	"strings"
	"time"

	"github.com/carelink/carelink/internal/apperr"
)

// Role is fixed when an account is first reserved and never changes.
type Role string

const (
	RolePatient   Role = "patient"
	RoleCaregiver Role = "caregiver"
)

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RolePatient:
		return RolePatient, nil
	case RoleCaregiver:
		return RoleCaregiver, nil
	}
	return "", apperr.Invalid("role", "must be patient or caregiver")
}

var (
	ErrUserNotFound = apperr.New(apperr.KindNotFound, "user not found")
	// ErrUserExists is returned by repositories when (phone, role) is taken.
	ErrUserExists      = apperr.New(apperr.KindConflict, "user already exists for this phone and role")
	ErrProfileExists   = apperr.New(apperr.KindConflict, "profile already exists")
	ErrProfileNotFound = apperr.New(apperr.KindNotFound, "profile not created yet")
	ErrRoleMismatch    = apperr.New(apperr.KindRoleMismatch, "operation not allowed for this role")
)

// Details holds the role-specific part of a profile. Only PatientDetails and
// CaregiverDetails implement it.
type Details interface {
	Role() Role
}

// PatientDetails is the patient variant.
type PatientDetails struct {
	BirthYear int
}

func (PatientDetails) Role() Role { return RolePatient }

// CaregiverDetails is the caregiver variant.
type CaregiverDetails struct {
	Relationship string
}

func (CaregiverDetails) Role() Role { return RoleCaregiver }

// User is an account. A user without Details is a reservation made at login
// before the profile form was submitted.
type User struct {
	ID               string
	Role             Role
	Phone            string
	FirstName        string
	LastName         string
	BiometricEnabled bool
	Details          Details
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasProfile reports whether the profile was submitted.
func (u User) HasProfile() bool {
	return u.Details != nil
}

// Patient returns the patient details, if u is a patient with a profile.
func (u User) Patient() (PatientDetails, bool) {
	d, ok := u.Details.(PatientDetails)
	return d, ok
}

// Caregiver returns the caregiver details, if u is a caregiver with a profile.
func (u User) Caregiver() (CaregiverDetails, bool) {
	d, ok := u.Details.(CaregiverDetails)
	return d, ok
}

// PatientInput is the patient profile form.
type PatientInput struct {
	FirstName        string
	LastName         string
	Phone            string
	BirthYear        int
	BiometricEnabled bool
}

// CaregiverInput is the caregiver profile form.
type CaregiverInput struct {
	FirstName        string
	LastName         string
	Phone            string
	Relationship     string
	BiometricEnabled bool
}

// ProfilePatch carries the fields to merge into a profile. Nil fields are
// left unchanged. Role and Phone exist only so they can be rejected.
type ProfilePatch struct {
	FirstName        *string
	LastName         *string
	BiometricEnabled *bool
	BirthYear        *int
	Relationship     *string
	Role             *string
	Phone            *string
}
