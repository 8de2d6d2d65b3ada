package session

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisStore(client, 24*time.Hour), mr
}

func TestRedisStorePutReturnsPrevious(t *testing.T) {
	ctx := context.Background()
	store, _ := setupRedisStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	first := Session{DeviceID: "d1", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if _, replaced, err := store.Put(ctx, first); err != nil || replaced {
		t.Fatalf("first put: replaced=%v err=%v", replaced, err)
	}

	second := Session{DeviceID: "d1", UserID: "u2", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	prev, replaced, err := store.Put(ctx, second)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if !replaced || prev.UserID != "u1" {
		t.Fatalf("expected previous session for u1, got %+v (replaced=%v)", prev, replaced)
	}

	got, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u2" || !got.ExpiresAt.Equal(second.ExpiresAt) {
		t.Fatalf("unexpected stored session %+v", got)
	}
}

func TestRedisStoreKeepsKeyPastExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)
	now := time.Now()

	if _, _, err := store.Put(ctx, Session{DeviceID: "d1", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL(sessionKey("d1")); ttl <= 24*time.Hour {
		t.Fatalf("expected ttl to include retention, got %s", ttl)
	}
}

func TestRedisStoreUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)
	now := time.Now()

	if _, err := store.Update(ctx, "d1", func(*Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := store.Put(ctx, Session{DeviceID: "d1", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("put: %v", err)
	}

	updated, err := store.Update(ctx, "d1", func(s *Session) error {
		s.BiometricEnabled = true
		return nil
	})
	if err != nil || !updated.BiometricEnabled {
		t.Fatalf("update: %+v %v", updated, err)
	}

	removed, existed, err := store.Delete(ctx, "d1")
	if err != nil || !existed || !removed.BiometricEnabled {
		t.Fatalf("delete: %+v existed=%v err=%v", removed, existed, err)
	}
	if mr.Exists(sessionKey("d1")) {
		t.Fatal("expected key removed")
	}
	if _, existed, err := store.Delete(ctx, "d1"); err != nil || existed {
		t.Fatalf("second delete: existed=%v err=%v", existed, err)
	}
}

func TestServiceOverRedisStore(t *testing.T) {
	ctx := context.Background()
	store, _ := setupRedisStore(t)
	clock := &fakeClock{t: time.Now()}
	svc := newTestService(store, clock)

	if _, err := svc.Create(ctx, "u1", "device-9", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Validate(ctx, "device-9"); err != nil {
		t.Fatalf("validate: %v", err)
	}
	clock.Advance(validity + time.Second)
	if _, err := svc.Validate(ctx, "device-9"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestRedisStoreTTLFollowsServiceClock(t *testing.T) {
	ctx := context.Background()
	store, mr := setupRedisStore(t)
	clock := &fakeClock{t: time.Now().Add(-10 * 24 * time.Hour)}
	svc := newTestService(store, clock)

	if _, err := svc.Create(ctx, "u1", "device-1", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ttl := mr.TTL(sessionKey("device-1")); ttl != validity+24*time.Hour {
		t.Fatalf("expected ttl of validity plus retention, got %s", ttl)
	}
}
