package links

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carelink/carelink/internal/apperr"
	"github.com/carelink/carelink/internal/identity"
	"github.com/carelink/carelink/internal/logging"
	"github.com/carelink/carelink/internal/notification"
	"github.com/carelink/carelink/internal/session"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type env struct {
	clock    *fakeClock
	ids      *identity.Service
	sessions *session.Service
	repo     Repository
	cache    ListCache
	notifier *notification.Recorder
	coord    *Coordinator
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)}
	logger := logging.Discard()
	sessions := session.NewService(session.NewMemoryStore(), nil, 30*24*time.Hour, logger, session.WithClock(clock.Now))
	ids := identity.NewService(identity.NewMemoryRepository(), sessions, logger, "1", identity.WithClock(clock.Now))
	sessions.SetUserChecker(ids)

	e := &env{
		clock:    clock,
		ids:      ids,
		sessions: sessions,
		repo:     NewMemoryRepository(),
		cache:    NewMemoryCache(time.Minute),
		notifier: &notification.Recorder{},
	}
	base := []Option{WithClock(clock.Now), WithCache(e.cache), WithNotifier(e.notifier)}
	e.coord = NewCoordinator(e.repo, ids, sessions, logger, Config{DefaultCountryCode: "1"}, append(base, opts...)...)
	ids.OnPatientRegistered(e.coord.PatientRegistered)
	sessions.OnTerminate(e.coord.SessionTerminated)
	return e
}

func (e *env) login(t *testing.T, number string, role identity.Role) session.Session {
	t.Helper()
	ctx := context.Background()
	user, _, err := e.ids.Reserve(ctx, number, role)
	if err != nil {
		t.Fatalf("reserve %s: %v", number, err)
	}
	sess, err := e.sessions.Create(ctx, user.ID, "device-"+number+"-"+string(role), false)
	if err != nil {
		t.Fatalf("session %s: %v", number, err)
	}
	return sess
}

func (e *env) caregiver(t *testing.T, number string) session.Session {
	t.Helper()
	sess := e.login(t, number, identity.RoleCaregiver)
	if _, err := e.ids.CreateCaregiverProfile(context.Background(), sess, identity.CaregiverInput{
		FirstName: "Carla", Phone: number, Relationship: "Daughter",
	}); err != nil {
		t.Fatalf("caregiver profile: %v", err)
	}
	return sess
}

func (e *env) patient(t *testing.T, number string) session.Session {
	t.Helper()
	sess := e.login(t, number, identity.RolePatient)
	if _, err := e.ids.CreatePatientProfile(context.Background(), sess, identity.PatientInput{
		FirstName: "Pedro", Phone: number, BirthYear: 1948,
	}); err != nil {
		t.Fatalf("patient profile: %v", err)
	}
	return sess
}

const (
	phoneA = "+15550000001"
	phoneB = "+15550000002"
	phoneP = "+15551234567"
)

func TestInviteApproveRevokeLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)
	p := e.patient(t, phoneP)

	link, err := e.coord.Invite(ctx, a, phoneP, "")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if link.Status != StatusPending || link.PatientID != p.UserID || link.Relationship != "Daughter" {
		t.Fatalf("unexpected link %+v", link)
	}

	e.clock.Advance(time.Minute)
	approved, err := e.coord.Approve(ctx, p, link.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusActive || approved.ApprovedAt == nil || !approved.ApprovedAt.Equal(e.clock.Now()) {
		t.Fatalf("unexpected approved link %+v", approved)
	}

	e.clock.Advance(time.Minute)
	revoked, err := e.coord.Revoke(ctx, a, link.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Status != StatusRevoked || revoked.ApprovedAt == nil || !revoked.ApprovedAt.Equal(*approved.ApprovedAt) {
		t.Fatalf("approval timestamp must survive revocation: %+v", revoked)
	}
	if revoked.RevokedAt == nil {
		t.Fatal("expected revoked_at")
	}

	if _, err := e.coord.Revoke(ctx, a, link.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on second revoke, got %v", err)
	}
}

func TestDuplicateInvitesPerCaregiver(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)
	b := e.caregiver(t, phoneB)
	e.patient(t, phoneP)

	first, err := e.coord.Invite(ctx, a, phoneP, "")
	if err != nil {
		t.Fatalf("invite A: %v", err)
	}
	if _, err := e.coord.Invite(ctx, b, phoneP, ""); err != nil {
		t.Fatalf("invite B should succeed: %v", err)
	}
	if _, err := e.coord.Invite(ctx, a, "(555) 123-4567", ""); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("expected duplicate link, got %v", err)
	}

	if _, err := e.coord.Revoke(ctx, a, first.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := e.coord.Invite(ctx, a, phoneP, ""); err != nil {
		t.Fatalf("invite after revoke: %v", err)
	}
}

func TestDuplicateWhileActive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)
	p := e.patient(t, phoneP)

	link, err := e.coord.Invite(ctx, a, phoneP, "")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := e.coord.Approve(ctx, p, link.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := e.coord.Invite(ctx, a, phoneP, ""); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("expected duplicate while active, got %v", err)
	}
}

func TestInviteRequiresCaregiver(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.patient(t, phoneP)

	if _, err := e.coord.Invite(ctx, p, phoneA, ""); !errors.Is(err, ErrRoleMismatch) {
		t.Fatalf("expected role mismatch, got %v", err)
	}

	bare := e.login(t, phoneB, identity.RoleCaregiver)
	if _, err := e.coord.Invite(ctx, bare, phoneP, ""); !errors.Is(err, ErrProfileIncomplete) {
		t.Fatalf("expected incomplete profile, got %v", err)
	}

	a := e.caregiver(t, phoneA)
	if _, err := e.coord.Invite(ctx, a, "not-a-phone", ""); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := e.coord.Invite(ctx, a, phoneP, strings.Repeat("r", 51)); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected relationship too long, got %v", err)
	}
}

func TestApproveRules(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)
	b := e.caregiver(t, phoneB)
	p := e.patient(t, phoneP)

	link, err := e.coord.Invite(ctx, a, phoneP, "")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := e.coord.Approve(ctx, a, link.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("caregiver approve: expected forbidden, got %v", err)
	}
	if _, err := e.coord.Approve(ctx, b, link.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger approve: expected forbidden, got %v", err)
	}
	if _, err := e.coord.Approve(ctx, p, "missing"); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.coord.Approve(ctx, p, link.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := e.coord.Approve(ctx, p, link.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("approve active: expected invalid transition, got %v", err)
	}
	if _, err := e.coord.Revoke(ctx, b, link.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger revoke: expected forbidden, got %v", err)
	}
	if _, err := e.coord.Revoke(ctx, p, link.ID); err != nil {
		t.Fatalf("patient revoke: %v", err)
	}
	if _, err := e.coord.Approve(ctx, p, link.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("approve revoked: expected invalid transition, got %v", err)
	}
}

func TestPendingLinkCanBeRevokedByPatient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)
	p := e.patient(t, phoneP)

	link, err := e.coord.Invite(ctx, a, phoneP, "")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	revoked, err := e.coord.Revoke(ctx, p, link.ID)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.ApprovedAt != nil || revoked.Status != StatusRevoked {
		t.Fatalf("unexpected link %+v", revoked)
	}
}

func TestConcurrentApprovalsOnlyOneWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)
	p := e.patient(t, phoneP)

	link, err := e.coord.Invite(ctx, a, phoneP, "")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		invalid   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.coord.Approve(ctx, p, link.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInvalidTransition):
				invalid++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if succeeded != 1 || invalid != attempts-1 {
		t.Fatalf("expected exactly one approval, got %d ok / %d invalid", succeeded, invalid)
	}
}

func TestDeferredResolution(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)

	link, err := e.coord.Invite(ctx, a, phoneP, "Son")
	if err != nil {
		t.Fatalf("invite unknown number: %v", err)
	}
	if link.Resolved() {
		t.Fatalf("expected unresolved link, got %+v", link)
	}
	if msg, ok := e.notifier.Last(phoneP); !ok || msg.Kind != notification.KindCaregiverInvite {
		t.Fatalf("expected invitation notice, got %+v", msg)
	}
	if _, err := e.coord.Invite(ctx, a, phoneP, ""); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("expected duplicate on unresolved invitee, got %v", err)
	}

	caregiverView, err := e.coord.ListForCaregiver(ctx, a)
	if err != nil || len(caregiverView) != 1 {
		t.Fatalf("caregiver list: %+v %v", caregiverView, err)
	}

	p := e.patient(t, phoneP)
	patientView, err := e.coord.ListForPatient(ctx, p)
	if err != nil {
		t.Fatalf("patient list: %v", err)
	}
	if len(patientView) != 1 || patientView[0].ID != link.ID || patientView[0].PatientID != p.UserID {
		t.Fatalf("expected resolved invitation, got %+v", patientView)
	}

	caregiverView, err = e.coord.ListForCaregiver(ctx, a)
	if err != nil || len(caregiverView) != 1 || caregiverView[0].PatientID != p.UserID {
		t.Fatalf("caregiver cache not invalidated on resolution: %+v %v", caregiverView, err)
	}
	if _, err := e.coord.Approve(ctx, p, link.ID); err != nil {
		t.Fatalf("approve resolved link: %v", err)
	}
}

func TestInviteSucceedsWhenNoticeFails(t *testing.T) {
	e := newEnv(t)
	e.notifier.Err = errors.New("gateway down")
	a := e.caregiver(t, phoneA)

	if _, err := e.coord.Invite(context.Background(), a, phoneP, ""); err != nil {
		t.Fatalf("invite must not depend on notice delivery: %v", err)
	}
}

func TestListingsNeverLeakOtherUsersLinks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)
	b := e.caregiver(t, phoneB)
	p := e.patient(t, phoneP)
	other := e.patient(t, "+15559990000")

	if _, err := e.coord.Invite(ctx, a, phoneP, ""); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := e.coord.Invite(ctx, b, "+15559990000", ""); err != nil {
		t.Fatalf("invite: %v", err)
	}

	for _, tc := range []struct {
		name string
		list func() ([]Link, error)
		keep func(Link) bool
	}{
		{"caregiver A", func() ([]Link, error) { return e.coord.ListForCaregiver(ctx, a) }, func(l Link) bool { return l.CaregiverID == a.UserID }},
		{"caregiver B", func() ([]Link, error) { return e.coord.ListForCaregiver(ctx, b) }, func(l Link) bool { return l.CaregiverID == b.UserID }},
		{"patient P", func() ([]Link, error) { return e.coord.ListForPatient(ctx, p) }, func(l Link) bool { return l.PatientID == p.UserID }},
		{"patient other", func() ([]Link, error) { return e.coord.ListForPatient(ctx, other) }, func(l Link) bool { return l.PatientID == other.UserID }},
		{"patient as caregiver", func() ([]Link, error) { return e.coord.ListForCaregiver(ctx, p) }, func(Link) bool { return false }},
	} {
		got, err := tc.list()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		for _, l := range got {
			if !tc.keep(l) {
				t.Fatalf("%s: leaked link %+v", tc.name, l)
			}
		}
	}
}

func TestGetRequiresParty(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)
	b := e.caregiver(t, phoneB)

	link, err := e.coord.Invite(ctx, a, phoneP, "")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if got, err := e.coord.Get(ctx, a, link.ID); err != nil || got.ID != link.ID {
		t.Fatalf("get as caregiver: %+v %v", got, err)
	}
	if _, err := e.coord.Get(ctx, b, link.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestExpiredSessionCannotAct(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)

	e.clock.Advance(31 * 24 * time.Hour)
	if _, err := e.coord.Invite(ctx, a, phoneP, ""); !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("expected session expired, got %v", err)
	}
}

func TestTerminatePurgesCachedListing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.caregiver(t, phoneA)

	if _, err := e.coord.Invite(ctx, a, phoneP, ""); err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := e.coord.ListForCaregiver(ctx, a); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, ok, _ := e.cache.Get(ctx, a.UserID, ViewCaregiver); !ok {
		t.Fatal("expected cached listing")
	}
	if err := e.sessions.Terminate(ctx, a.DeviceID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if _, ok, _ := e.cache.Get(ctx, a.UserID, ViewCaregiver); ok {
		t.Fatal("expected listing purged on terminate")
	}
}

// duplicatingRepo returns every caregiver link twice to simulate a broken store.
type duplicatingRepo struct {
	Repository
}

func (r duplicatingRepo) ListByCaregiver(ctx context.Context, id string) ([]Link, error) {
	list, err := r.Repository.ListByCaregiver(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []Link
	for _, l := range list {
		twin := l
		twin.ID = l.ID + "-twin"
		out = append(out, l, twin)
	}
	return out, nil
}

func TestIntegrityFaultIsLogged(t *testing.T) {
	var buf bytes.Buffer
	e := newEnv(t)
	e.coord = NewCoordinator(duplicatingRepo{e.repo}, e.ids, e.sessions, logging.NewWithWriter(&buf, "info", "json"), Config{DefaultCountryCode: "1"}, WithClock(e.clock.Now))
	ctx := context.Background()
	a := e.caregiver(t, phoneA)

	if _, err := e.coord.Invite(ctx, a, phoneP, ""); err != nil {
		t.Fatalf("invite: %v", err)
	}
	list, err := e.coord.ListForCaregiver(ctx, a)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listing must be returned unchanged, got %d links", len(list))
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"ERROR"`) || !strings.Contains(out, `"fault":"data_integrity"`) {
		t.Fatalf("expected integrity fault log, got %s", out)
	}
}
