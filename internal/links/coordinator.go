package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/carelink/carelink/internal/apperr"
	"github.com/carelink/carelink/internal/identity"
	"github.com/carelink/carelink/internal/logging"
	"github.com/carelink/carelink/internal/metrics"
	"github.com/carelink/carelink/internal/notification"
	"github.com/carelink/carelink/internal/phone"
	"github.com/carelink/carelink/internal/session"
)

const (
	maxRelationshipLen = 50
	maxCASAttempts     = 3
)

// Directory resolves accounts.
type Directory interface {
	Get(ctx context.Context, id string) (identity.User, error)
	FindByPhone(ctx context.Context, number string, role identity.Role) (identity.User, error)
}

// SessionValidator confirms that a presented session is still valid.
type SessionValidator interface {
	Validate(ctx context.Context, deviceID string) (session.Session, error)
}

// Config tunes the coordinator.
type Config struct {
	DefaultCountryCode string
	DeliveryTimeout    time.Duration
}

// Coordinator owns the link state machine.
type Coordinator struct {
	repo     Repository
	cache    ListCache
	users    Directory
	sessions SessionValidator
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithCache enables the listing cache.
func WithCache(cache ListCache) Option {
	return func(c *Coordinator) { c.cache = cache }
}

// WithNotifier sends invitation notices through n.
func WithNotifier(n notification.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// NewCoordinator builds a link coordinator.
func NewCoordinator(repo Repository, users Directory, sessions SessionValidator, logger *slog.Logger, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:     repo,
		users:    users,
		sessions: sessions,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invite creates a pending link from the calling caregiver to the patient
// registered under rawPhone. An unknown number still yields a pending link
// whose patient is filled in when that number registers as a patient.
func (c *Coordinator) Invite(ctx context.Context, sess session.Session, rawPhone, relationship string) (Link, error) {
	caller, err := c.caller(ctx, sess)
	if err != nil {
		return Link{}, err
	}
	if caller.Role != identity.RoleCaregiver {
		return Link{}, ErrRoleMismatch
	}
	details, ok := caller.Caregiver()
	if !ok {
		return Link{}, ErrProfileIncomplete
	}

	verr := &apperr.ValidationError{}
	number, err := phone.Normalize(rawPhone, c.cfg.DefaultCountryCode)
	if err != nil {
		verr.Add("phone", "is not a valid phone number")
	}
	relationship = strings.TrimSpace(relationship)
	if relationship == "" {
		relationship = details.Relationship
	}
	if utf8.RuneCountInString(relationship) > maxRelationshipLen {
		verr.Add("relationship", fmt.Sprintf("must be at most %d characters", maxRelationshipLen))
	}
	if err := verr.OrNil(); err != nil {
		return Link{}, err
	}

	var patientID string
	patient, err := c.users.FindByPhone(ctx, number, identity.RolePatient)
	switch {
	case err == nil && patient.HasProfile():
		patientID = patient.ID
	case err != nil && !errors.Is(err, identity.ErrUserNotFound):
		return Link{}, err
	}

	now := c.now().UTC()
	link := Link{
		ID:           NewID(now),
		CaregiverID:  caller.ID,
		PatientID:    patientID,
		InviteePhone: number,
		Status:       StatusPending,
		Relationship: relationship,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.repo.Create(ctx, link); err != nil {
		return Link{}, err
	}
	c.invalidate(ctx, link.CaregiverID, link.PatientID)
	metrics.LinkTransitionsTotal.WithLabelValues(string(StatusPending)).Inc()
	c.logger.Info("caregiver link invited",
		"link_id", link.ID,
		"caregiver_id", link.CaregiverID,
		"invitee", phone.Mask(number),
		"deferred", !link.Resolved(),
	)
	c.sendInvitation(ctx, caller, number)
	return link, nil
}

// Approve activates a pending link. Only the link's patient may approve.
func (c *Coordinator) Approve(ctx context.Context, sess session.Session, linkID string) (Link, error) {
	if err := c.authorize(ctx, sess); err != nil {
		return Link{}, err
	}
	return c.transition(ctx, linkID, StatusActive, func(l Link) error {
		if !l.Resolved() || l.PatientID != sess.UserID {
			return ErrForbidden
		}
		if l.Status != StatusPending {
			return ErrInvalidTransition
		}
		return nil
	})
}

// Revoke ends a pending or active link. Either party may revoke; revoking a
// revoked link fails.
func (c *Coordinator) Revoke(ctx context.Context, sess session.Session, linkID string) (Link, error) {
	if err := c.authorize(ctx, sess); err != nil {
		return Link{}, err
	}
	return c.transition(ctx, linkID, StatusRevoked, func(l Link) error {
		if !l.HasParty(sess.UserID) {
			return ErrForbidden
		}
		if l.Status == StatusRevoked {
			return ErrInvalidTransition
		}
		return nil
	})
}

// Get returns a link the caller is party to.
func (c *Coordinator) Get(ctx context.Context, sess session.Session, linkID string) (Link, error) {
	if err := c.authorize(ctx, sess); err != nil {
		return Link{}, err
	}
	link, err := c.repo.Get(ctx, linkID)
	if err != nil {
		return Link{}, err
	}
	if !link.HasParty(sess.UserID) {
		return Link{}, ErrForbidden
	}
	return link, nil
}

// ListForCaregiver returns the links where the caller is the caregiver.
func (c *Coordinator) ListForCaregiver(ctx context.Context, sess session.Session) ([]Link, error) {
	if err := c.authorize(ctx, sess); err != nil {
		return nil, err
	}
	return c.list(ctx, sess.UserID, ViewCaregiver)
}

// ListForPatient returns the links where the caller is the patient.
func (c *Coordinator) ListForPatient(ctx context.Context, sess session.Session) ([]Link, error) {
	if err := c.authorize(ctx, sess); err != nil {
		return nil, err
	}
	return c.list(ctx, sess.UserID, ViewPatient)
}

// ResolveInvitee attaches deferred invitations for number to patientID.
func (c *Coordinator) ResolveInvitee(ctx context.Context, number, patientID string) ([]Link, error) {
	changed, err := c.repo.ResolveInvitee(ctx, number, patientID, c.now().UTC())
	if err != nil {
		return nil, err
	}
	if len(changed) == 0 {
		return nil, nil
	}
	ids := []string{patientID}
	for _, l := range changed {
		ids = append(ids, l.CaregiverID)
	}
	c.invalidate(ctx, ids...)
	c.logger.Info("deferred invitations resolved", "patient_id", patientID, "count", len(changed))
	return changed, nil
}

// PatientRegistered resolves invitations once a patient profile exists.
func (c *Coordinator) PatientRegistered(ctx context.Context, patient identity.User) error {
	_, err := c.ResolveInvitee(ctx, patient.Phone, patient.ID)
	return err
}

// SessionTerminated drops the cached listings of the session's user.
func (c *Coordinator) SessionTerminated(ctx context.Context, sess session.Session) {
	c.invalidate(ctx, sess.UserID)
}

func (c *Coordinator) transition(ctx context.Context, linkID string, to Status, allow func(Link) error) (Link, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := c.repo.Get(ctx, linkID)
		if err != nil {
			return Link{}, err
		}
		if err := allow(current); err != nil {
			return Link{}, err
		}
		updated, err := c.repo.Transition(ctx, linkID, current.Status, to, c.now().UTC())
		if errors.Is(err, ErrInvalidTransition) {
			// Status moved under us; re-evaluate against the new state.
			continue
		}
		if err != nil {
			return Link{}, err
		}
		c.invalidate(ctx, updated.CaregiverID, updated.PatientID)
		metrics.LinkTransitionsTotal.WithLabelValues(string(to)).Inc()
		c.logger.Info("caregiver link transitioned",
			"link_id", updated.ID,
			"from", string(current.Status),
			"to", string(to),
		)
		return updated, nil
	}
	return Link{}, ErrInvalidTransition
}

func (c *Coordinator) list(ctx context.Context, userID string, view View) ([]Link, error) {
	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, userID, view)
		if err != nil {
			c.logger.Warn("link cache read failed", "user_id", userID, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	var (
		out []Link
		err error
	)
	switch view {
	case ViewCaregiver:
		out, err = c.repo.ListByCaregiver(ctx, userID)
	case ViewPatient:
		out, err = c.repo.ListByPatient(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	c.checkIntegrity(out)

	if c.cache != nil {
		if err := c.cache.Set(ctx, userID, view, out); err != nil {
			c.logger.Warn("link cache write failed", "user_id", userID, "error", err)
		}
	}
	return out, nil
}

// checkIntegrity reports pairs holding more than one open link. The listing
// is returned unchanged.
func (c *Coordinator) checkIntegrity(list []Link) {
	type pair struct{ caregiver, patient string }
	seen := make(map[pair]string)
	for _, l := range list {
		if !l.Open() {
			continue
		}
		key := pair{l.CaregiverID, l.PatientID}
		if !l.Resolved() {
			key.patient = "phone:" + l.InviteePhone
		}
		if other, dup := seen[key]; dup {
			metrics.IntegrityFaultsTotal.Inc()
			logging.IntegrityFault(c.logger, "multiple open caregiver links for one pair",
				"caregiver_id", l.CaregiverID,
				"patient_id", l.PatientID,
				"link_ids", []string{other, l.ID},
			)
			continue
		}
		seen[key] = l.ID
	}
}

func (c *Coordinator) caller(ctx context.Context, sess session.Session) (identity.User, error) {
	if err := c.authorize(ctx, sess); err != nil {
		return identity.User{}, err
	}
	return c.users.Get(ctx, sess.UserID)
}

func (c *Coordinator) authorize(ctx context.Context, sess session.Session) error {
	current, err := c.sessions.Validate(ctx, sess.DeviceID)
	if err != nil {
		return err
	}
	if current.UserID != sess.UserID {
		return session.ErrSessionNotFound
	}
	return nil
}

func (c *Coordinator) invalidate(ctx context.Context, userIDs ...string) {
	if c.cache == nil {
		return
	}
	ids := userIDs[:0:0]
	for _, id := range userIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if err := c.cache.Invalidate(ctx, ids...); err != nil {
		c.logger.Warn("link cache invalidation failed", "user_ids", ids, "error", err)
	}
}

func (c *Coordinator) sendInvitation(ctx context.Context, caregiver identity.User, number string) {
	if c.notifier == nil {
		return
	}
	if c.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DeliveryTimeout)
		defer cancel()
	}
	msg := notification.Message{
		Kind:        notification.KindCaregiverInvite,
		Destination: number,
		Body:        fmt.Sprintf("%s invited you to share your CareLink progress. Sign in with this number to respond.", caregiver.FirstName),
	}
	if err := c.notifier.Send(ctx, msg); err != nil {
		c.logger.Warn("invitation notice not delivered", "invitee", phone.Mask(number), "error", err)
	}
}
