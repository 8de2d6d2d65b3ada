package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/carelink/carelink/internal/apperr"
	"github.com/carelink/carelink/internal/identity"
	"github.com/carelink/carelink/internal/phone"
	"github.com/carelink/carelink/internal/session"
	"github.com/carelink/carelink/internal/verification"
)

// ErrInvalidToken means the bearer token is missing, malformed or forged.
var ErrInvalidToken = apperr.New(apperr.KindSessionNotFound, "invalid bearer token")

// Service ties code verification, accounts and sessions into a login flow.
type Service struct {
	verifier *verification.Service
	ids      *identity.Service
	sessions *session.Service
	secret   []byte
	issuer   string
	logger   *slog.Logger
}

// NewService builds the login orchestrator.
func NewService(verifier *verification.Service, ids *identity.Service, sessions *session.Service, secret, issuer string, logger *slog.Logger) *Service {
	return &Service{
		verifier: verifier,
		ids:      ids,
		sessions: sessions,
		secret:   []byte(secret),
		issuer:   issuer,
		logger:   logger,
	}
}

// LoginInput is what a device submits to sign in.
type LoginInput struct {
	Phone            string
	Code             string
	Role             string
	DeviceID         string
	BiometricEnabled bool
}

// LoginResult is a signed-in device.
type LoginResult struct {
	Token   string
	Session session.Session
	User    identity.User
	// NewAccount is true when this login reserved the account.
	NewAccount bool
}

// RequestCode sends a one-time code to rawPhone.
func (s *Service) RequestCode(ctx context.Context, rawPhone string) (verification.Issued, error) {
	return s.verifier.RequestCode(ctx, rawPhone)
}

// ResendCode replaces the live code for rawPhone.
func (s *Service) ResendCode(ctx context.Context, rawPhone string) (verification.Issued, error) {
	return s.verifier.ResendCode(ctx, rawPhone)
}

// Login verifies the code, finds or reserves the account for the phone and
// role, and opens a session on the device.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	role, err := identity.ParseRole(in.Role)
	if err != nil {
		return LoginResult{}, err
	}
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return LoginResult{}, apperr.Invalid("device_id", "device id is required")
	}

	number, err := s.verifier.VerifyCode(ctx, in.Phone, in.Code)
	if err != nil {
		return LoginResult{}, err
	}
	user, created, err := s.ids.Reserve(ctx, number, role)
	if err != nil {
		return LoginResult{}, err
	}
	sess, err := s.sessions.Create(ctx, user.ID, deviceID, in.BiometricEnabled)
	if err != nil {
		return LoginResult{}, err
	}
	token, err := signToken(s.secret, s.issuer, sess.ID, user.ID, deviceID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.KindInternal, "sign token", err)
	}

	s.logger.Info("login succeeded",
		"user_id", user.ID,
		"role", string(role),
		"phone", phone.Mask(number),
		"new_account", created,
	)
	return LoginResult{Token: token, Session: sess, User: user, NewAccount: created}, nil
}

// Authenticate resolves a bearer token to the device's live session. The
// token must have been issued for that exact session; tokens of a terminated
// or replaced session fail even for the same user. An expired session is
// terminated before its error is returned.
func (s *Service) Authenticate(ctx context.Context, token string) (session.Session, error) {
	claims, err := parseToken(s.secret, token)
	if err != nil {
		return session.Session{}, ErrInvalidToken
	}
	sess, err := s.sessions.Validate(ctx, claims.DeviceID)
	if errors.Is(err, session.ErrSessionExpired) {
		if termErr := s.sessions.Terminate(ctx, claims.DeviceID); termErr != nil {
			s.logger.Warn("terminate expired session failed", "device_id", claims.DeviceID, "error", termErr)
		}
		return session.Session{}, err
	}
	if err != nil {
		return session.Session{}, err
	}
	if sess.ID != claims.ID || sess.UserID != claims.Subject {
		return session.Session{}, session.ErrSessionNotFound
	}
	return sess, nil
}

// Logout ends the device session.
func (s *Service) Logout(ctx context.Context, sess session.Session) error {
	return s.sessions.Terminate(ctx, sess.DeviceID)
}

// UpdateBiometric toggles biometric unlock for the device session.
func (s *Service) UpdateBiometric(ctx context.Context, sess session.Session, enabled bool) (session.Session, error) {
	return s.sessions.UpdateBiometric(ctx, sess.DeviceID, enabled)
}
