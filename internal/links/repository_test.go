package links

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/identity"
	"github.com/carelink/carelink/internal/infra"
	"github.com/carelink/carelink/internal/logging"
)

func TestTransitionQueryGuardsOnCurrentStatus(t *testing.T) {
	if !strings.Contains(transitionQuery, "WHERE id = $1 AND status = $2::text") {
		t.Fatalf("transition must match on the expected status: %s", transitionQuery)
	}
	if !strings.Contains(transitionQuery, "RETURNING "+linkColumns) {
		t.Fatalf("transition must return the updated row: %s", transitionQuery)
	}
	if !strings.Contains(resolveInviteeQuery, "patient_id IS NULL") {
		t.Fatalf("resolution must only touch unresolved links: %s", resolveInviteeQuery)
	}
}

// setupPostgres connects to CARELINK_TEST_DATABASE_URL and applies the
// schema. Tests using it are skipped when the variable is unset.
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("CARELINK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CARELINK_TEST_DATABASE_URL not set")
	}
	if err := infra.RunMigrations(url, logging.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := infra.NewPostgresPool(ctx, url, "carelink-test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresRepositoryInvariants(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := identity.NewPostgresRepository(db)
	repo := NewPostgresRepository(db)

	suffix := time.Now().UnixNano() % 10000000
	caregiver, err := identity.Seed(ctx, users, identity.User{Role: identity.RoleCaregiver, Phone: fmt.Sprintf("+1555%07d", suffix)})
	if err != nil {
		t.Fatalf("seed caregiver: %v", err)
	}
	patient, err := identity.Seed(ctx, users, identity.User{Role: identity.RolePatient, Phone: fmt.Sprintf("+1556%07d", suffix)})
	if err != nil {
		t.Fatalf("seed patient: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	newLink := func() Link {
		return Link{
			ID:           NewID(now),
			CaregiverID:  caregiver.ID,
			PatientID:    patient.ID,
			InviteePhone: patient.Phone,
			Status:       StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	link := newLink()
	if err := repo.Create(ctx, link); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, newLink()); !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("expected duplicate link from partial index, got %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		errs []error
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Transition(ctx, link.ID, StatusPending, StatusActive, now.Add(time.Second))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one approval, got %d (errors %v)", wins, errs)
	}
	for _, err := range errs {
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("losing approval must be an invalid transition, got %v", err)
		}
	}

	revoked, err := repo.Transition(ctx, link.ID, StatusActive, StatusRevoked, now.Add(2*time.Second))
	if err != nil || revoked.RevokedAt == nil || revoked.ApprovedAt == nil {
		t.Fatalf("revoke: %+v %v", revoked, err)
	}
	if err := repo.Create(ctx, newLink()); err != nil {
		t.Fatalf("re-invite after revoke should be allowed: %v", err)
	}
	if _, err := repo.Transition(ctx, "missing", StatusPending, StatusActive, now); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
