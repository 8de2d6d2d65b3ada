package verification

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/carelink/carelink/internal/apperr"
	"github.com/carelink/carelink/internal/metrics"
	"github.com/carelink/carelink/internal/notification"
	"github.com/carelink/carelink/internal/phone"
)

// Config tunes the verifier.
type Config struct {
	TTL                time.Duration
	DeliveryTimeout    time.Duration
	BcryptCost         int
	DefaultCountryCode string
}

// Service issues and checks one-time codes bound to phone numbers.
type Service struct {
	store    CodeStore
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	generate func() (string, error)
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator overrides random code generation.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.generate = gen }
}

// NewService builds a verifier.
func NewService(store CodeStore, notifier notification.Notifier, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	s := &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		generate: randomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cs, ok := store.(clockSetter); ok {
		cs.setClock(s.now)
	}
	return s
}

// NormalizePhone applies the configured phone normalization.
func (s *Service) NormalizePhone(raw string) (string, error) {
	return phone.Normalize(raw, s.cfg.DefaultCountryCode)
}

// RequestCode issues a fresh code for rawPhone, invalidating any earlier one,
// and dispatches it through the notifier.
func (s *Service) RequestCode(ctx context.Context, rawPhone string) (Issued, error) {
	number, err := s.NormalizePhone(rawPhone)
	if err != nil {
		return Issued{}, err
	}

	previous, err := s.store.Get(ctx, number)
	if err != nil && !errors.Is(err, ErrNoPendingCode) {
		return Issued{}, err
	}

	code, hash, err := s.newCode(previous.Hash)
	if err != nil {
		return Issued{}, err
	}

	now := s.now().UTC()
	record := Code{Phone: number, Hash: hash, IssuedAt: now, ExpiresAt: now.Add(s.cfg.TTL)}
	if err := s.store.Put(ctx, record); err != nil {
		return Issued{}, err
	}

	if err := s.deliver(ctx, number, code); err != nil {
		s.discard(ctx, record)
		metrics.OTPRequestsTotal.WithLabelValues("delivery_failed").Inc()
		s.logger.Warn("verification code delivery failed", "phone", phone.Mask(number), "error", err)
		return Issued{}, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	metrics.OTPRequestsTotal.WithLabelValues("issued").Inc()
	s.logger.Info("verification code issued", "phone", phone.Mask(number), "expires_at", record.ExpiresAt)
	return Issued{Phone: number, ExpiresAt: record.ExpiresAt}, nil
}

// ResendCode replaces the live code and restarts its timer. It behaves like
// RequestCode; callers keep it off the request rate limit.
func (s *Service) ResendCode(ctx context.Context, rawPhone string) (Issued, error) {
	return s.RequestCode(ctx, rawPhone)
}

// VerifyCode consumes the live code for rawPhone if it matches submitted and
// returns the normalized phone number.
func (s *Service) VerifyCode(ctx context.Context, rawPhone, submitted string) (string, error) {
	number, err := s.NormalizePhone(rawPhone)
	if err != nil {
		return "", err
	}
	if !wellFormed(submitted) {
		return "", apperr.Invalid("code", fmt.Sprintf("code must be %d digits", CodeLength))
	}

	now := s.now()
	err = s.store.Consume(ctx, number, func(c Code) error {
		if c.Expired(now) {
			return ErrCodeExpired
		}
		if bcrypt.CompareHashAndPassword(c.Hash, []byte(submitted)) != nil {
			return ErrCodeMismatch
		}
		return nil
	})
	if err != nil {
		metrics.OTPVerificationsTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return "", err
	}

	metrics.OTPVerificationsTotal.WithLabelValues("verified").Inc()
	s.logger.Info("phone verified", "phone", phone.Mask(number))
	return number, nil
}

// newCode draws a code that differs from the one previousHash protects, so a
// superseded code can never verify against its replacement.
// discard removes record if it is still the live code for its phone. A code
// stored by a later request in the meantime is left alone.
func (s *Service) discard(ctx context.Context, record Code) {
	err := s.store.Consume(ctx, record.Phone, func(current Code) error {
		if !bytes.Equal(current.Hash, record.Hash) {
			return errSuperseded
		}
		return nil
	})
	if err != nil && !errors.Is(err, errSuperseded) && !errors.Is(err, ErrNoPendingCode) {
		s.logger.Warn("discard undelivered code", "phone", phone.Mask(record.Phone), "error", err)
	}
}

func (s *Service) newCode(previousHash []byte) (string, []byte, error) {
	for {
		code, err := s.generate()
		if err != nil {
			return "", nil, fmt.Errorf("generate code: %w", err)
		}
		if len(previousHash) > 0 && bcrypt.CompareHashAndPassword(previousHash, []byte(code)) == nil {
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.BcryptCost)
		if err != nil {
			return "", nil, fmt.Errorf("hash code: %w", err)
		}
		return code, hash, nil
	}
}

func (s *Service) deliver(ctx context.Context, number, code string) error {
	if s.notifier == nil {
		return nil
	}
	if s.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
		defer cancel()
	}
	minutes := int(s.cfg.TTL.Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindVerificationCode,
		Destination: number,
		Body:        fmt.Sprintf("Your CareLink verification code is %s. It expires in %d minutes.", code, minutes),
	})
}

func randomCode() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(CodeLength), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func wellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
