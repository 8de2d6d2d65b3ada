package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/carelink/carelink/internal/apperr"
	"github.com/carelink/carelink/internal/phone"
	"github.com/carelink/carelink/internal/session"
)

const (
	minFirstNameLen    = 2
	maxNameLen         = 100
	maxRelationshipLen = 50
	minPatientAge      = 13
	maxPatientAge      = 100
)

// SessionValidator confirms that a presented session is still valid.
type SessionValidator interface {
	Validate(ctx context.Context, deviceID string) (session.Session, error)
}

// PatientRegisteredHook runs after a patient submits their profile.
type PatientRegisteredHook func(ctx context.Context, patient User) error

// Service manages accounts and their profiles.
type Service struct {
	repo               Repository
	sessions           SessionValidator
	logger             *slog.Logger
	defaultCountryCode string
	now                func() time.Time

	hooksMu sync.RWMutex
	hooks   []PatientRegisteredHook
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new identity service.
func NewService(repo Repository, sessions SessionValidator, logger *slog.Logger, defaultCountryCode string, opts ...Option) *Service {
	s := &Service{
		repo:               repo,
		sessions:           sessions,
		logger:             logger,
		defaultCountryCode: defaultCountryCode,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnPatientRegistered registers a hook fired once a patient profile exists.
func (s *Service) OnPatientRegistered(hook PatientRegisteredHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Reserve returns the account for (phone, role), creating a profile-less one
// on first login. The boolean reports whether a new account was created.
func (s *Service) Reserve(ctx context.Context, verifiedPhone string, role Role) (User, bool, error) {
	user, err := s.repo.FindByPhone(ctx, verifiedPhone, role)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, false, err
	}

	now := s.now().UTC()
	user = User{
		ID:        uuid.New().String(),
		Role:      role,
		Phone:     verifiedPhone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrUserExists) {
			existing, findErr := s.repo.FindByPhone(ctx, verifiedPhone, role)
			return existing, false, findErr
		}
		return User{}, false, err
	}
	s.logger.Info("account reserved", "user_id", user.ID, "role", string(role), "phone", phone.Mask(verifiedPhone))
	return user, true, nil
}

// Get fetches a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByPhone fetches the account registered for phone under role.
func (s *Service) FindByPhone(ctx context.Context, number string, role Role) (User, error) {
	return s.repo.FindByPhone(ctx, number, role)
}

// UserExists implements session.UserChecker.
func (s *Service) UserExists(ctx context.Context, id string) (bool, error) {
	_, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Current returns the user acting through sess.
func (s *Service) Current(ctx context.Context, sess session.Session) (User, error) {
	if err := s.authorize(ctx, sess); err != nil {
		return User{}, err
	}
	return s.repo.FindByID(ctx, sess.UserID)
}

// CreatePatientProfile submits the patient form for the session's account.
func (s *Service) CreatePatientProfile(ctx context.Context, sess session.Session, in PatientInput) (User, error) {
	if err := s.authorize(ctx, sess); err != nil {
		return User{}, err
	}
	user, err := s.profileTarget(ctx, sess.UserID, RolePatient)
	if err != nil {
		return User{}, err
	}

	verr := &apperr.ValidationError{}
	first, last := s.checkNames(verr, in.FirstName, in.LastName)
	s.checkPhone(verr, in.Phone, user.Phone)
	s.checkBirthYear(verr, in.BirthYear)
	if err := verr.OrNil(); err != nil {
		return User{}, err
	}

	created, err := s.repo.Update(ctx, user.ID, func(u *User) error {
		if u.HasProfile() {
			return ErrProfileExists
		}
		u.FirstName = first
		u.LastName = last
		u.BiometricEnabled = in.BiometricEnabled
		u.Details = PatientDetails{BirthYear: in.BirthYear}
		u.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return User{}, err
	}
	s.logger.Info("patient profile created", "user_id", created.ID)
	s.firePatientRegistered(ctx, created)
	return created, nil
}

// CreateCaregiverProfile submits the caregiver form for the session's account.
func (s *Service) CreateCaregiverProfile(ctx context.Context, sess session.Session, in CaregiverInput) (User, error) {
	if err := s.authorize(ctx, sess); err != nil {
		return User{}, err
	}
	user, err := s.profileTarget(ctx, sess.UserID, RoleCaregiver)
	if err != nil {
		return User{}, err
	}

	verr := &apperr.ValidationError{}
	first, last := s.checkNames(verr, in.FirstName, in.LastName)
	s.checkPhone(verr, in.Phone, user.Phone)
	relationship := checkRelationship(verr, in.Relationship)
	if err := verr.OrNil(); err != nil {
		return User{}, err
	}

	created, err := s.repo.Update(ctx, user.ID, func(u *User) error {
		if u.HasProfile() {
			return ErrProfileExists
		}
		u.FirstName = first
		u.LastName = last
		u.BiometricEnabled = in.BiometricEnabled
		u.Details = CaregiverDetails{Relationship: relationship}
		u.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return User{}, err
	}
	s.logger.Info("caregiver profile created", "user_id", created.ID)
	return created, nil
}

// UpdateProfile merges patch into the session user's profile.
func (s *Service) UpdateProfile(ctx context.Context, sess session.Session, patch ProfilePatch) (User, error) {
	if err := s.authorize(ctx, sess); err != nil {
		return User{}, err
	}
	user, err := s.repo.FindByID(ctx, sess.UserID)
	if err != nil {
		return User{}, err
	}
	if !user.HasProfile() {
		return User{}, ErrProfileNotFound
	}

	verr := &apperr.ValidationError{}
	if patch.Role != nil {
		verr.Add("role", "role cannot be changed")
	}
	if patch.Phone != nil {
		verr.Add("phone", "phone number changes require re-verification")
	}
	var first, last string
	if patch.FirstName != nil {
		first = normalizeName(*patch.FirstName)
		if utf8.RuneCountInString(first) < minFirstNameLen {
			verr.Add("first_name", fmt.Sprintf("must be at least %d characters", minFirstNameLen))
		} else if utf8.RuneCountInString(first) > maxNameLen {
			verr.Add("first_name", fmt.Sprintf("must be at most %d characters", maxNameLen))
		}
	}
	if patch.LastName != nil {
		last = normalizeName(*patch.LastName)
		if utf8.RuneCountInString(last) > maxNameLen {
			verr.Add("last_name", fmt.Sprintf("must be at most %d characters", maxNameLen))
		}
	}
	var relationship string
	switch user.Role {
	case RolePatient:
		if patch.Relationship != nil {
			verr.Add("relationship", "not applicable to patients")
		}
		if patch.BirthYear != nil {
			s.checkBirthYear(verr, *patch.BirthYear)
		}
	case RoleCaregiver:
		if patch.BirthYear != nil {
			verr.Add("birth_year", "not applicable to caregivers")
		}
		if patch.Relationship != nil {
			relationship = checkRelationship(verr, *patch.Relationship)
		}
	}
	if err := verr.OrNil(); err != nil {
		return User{}, err
	}

	updated, err := s.repo.Update(ctx, user.ID, func(u *User) error {
		if patch.FirstName != nil {
			u.FirstName = first
		}
		if patch.LastName != nil {
			u.LastName = last
		}
		if patch.BiometricEnabled != nil {
			u.BiometricEnabled = *patch.BiometricEnabled
		}
		switch d := u.Details.(type) {
		case PatientDetails:
			if patch.BirthYear != nil {
				d.BirthYear = *patch.BirthYear
			}
			u.Details = d
		case CaregiverDetails:
			if patch.Relationship != nil {
				d.Relationship = relationship
			}
			u.Details = d
		}
		u.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return User{}, err
	}
	s.logger.Info("profile updated", "user_id", updated.ID)
	return updated, nil
}

// authorize requires sess to still be the live session of its device.
func (s *Service) authorize(ctx context.Context, sess session.Session) error {
	current, err := s.sessions.Validate(ctx, sess.DeviceID)
	if err != nil {
		return err
	}
	if current.UserID != sess.UserID {
		return session.ErrSessionNotFound
	}
	return nil
}

func (s *Service) profileTarget(ctx context.Context, userID string, role Role) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.Role != role {
		return User{}, ErrRoleMismatch
	}
	if user.HasProfile() {
		return User{}, ErrProfileExists
	}
	return user, nil
}

func (s *Service) checkNames(verr *apperr.ValidationError, rawFirst, rawLast string) (string, string) {
	first := normalizeName(rawFirst)
	switch n := utf8.RuneCountInString(first); {
	case n < minFirstNameLen:
		verr.Add("first_name", fmt.Sprintf("must be at least %d characters", minFirstNameLen))
	case n > maxNameLen:
		verr.Add("first_name", fmt.Sprintf("must be at most %d characters", maxNameLen))
	}
	last := normalizeName(rawLast)
	if utf8.RuneCountInString(last) > maxNameLen {
		verr.Add("last_name", fmt.Sprintf("must be at most %d characters", maxNameLen))
	}
	return first, last
}

func (s *Service) checkPhone(verr *apperr.ValidationError, raw, verified string) {
	if strings.TrimSpace(raw) == "" {
		verr.Add("phone", "is required")
		return
	}
	number, err := phone.Normalize(raw, s.defaultCountryCode)
	if err != nil {
		verr.Add("phone", "is not a valid phone number")
		return
	}
	if number != verified {
		verr.Add("phone", "must match the verified phone number")
	}
}

func (s *Service) checkBirthYear(verr *apperr.ValidationError, year int) {
	current := s.now().Year()
	oldest, youngest := current-maxPatientAge, current-minPatientAge
	if year < oldest || year > youngest {
		verr.Add("birth_year", fmt.Sprintf("must be between %d and %d", oldest, youngest))
	}
}

func checkRelationship(verr *apperr.ValidationError, raw string) string {
	relationship := normalizeName(raw)
	switch n := utf8.RuneCountInString(relationship); {
	case n == 0:
		verr.Add("relationship", "is required")
	case n > maxRelationshipLen:
		verr.Add("relationship", fmt.Sprintf("must be at most %d characters", maxRelationshipLen))
	}
	return relationship
}

func normalizeName(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

func (s *Service) firePatientRegistered(ctx context.Context, patient User) {
	s.hooksMu.RLock()
	hooks := append([]PatientRegisteredHook(nil), s.hooks...)
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, patient); err != nil {
			s.logger.Warn("patient registration hook failed", "user_id", patient.ID, "error", err)
		}
	}
}
