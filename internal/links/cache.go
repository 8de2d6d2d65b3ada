package links

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// View names one of the two listings.
type View string

const (
	ViewCaregiver View = "caregiver"
	ViewPatient   View = "patient"
)

// ListCache holds per-user listings. A miss is reported with ok=false.
type ListCache interface {
	Get(ctx context.Context, userID string, view View) (links []Link, ok bool, err error)
	Set(ctx context.Context, userID string, view View, links []Link) error
	// Invalidate drops every view of each user.
	Invalidate(ctx context.Context, userIDs ...string) error
}

type memoryEntry struct {
	links   []Link
	expires time.Time
}

type memoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryCache builds a process-local listing cache.
func NewMemoryCache(ttl time.Duration) ListCache {
	return &memoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *memoryCache) Get(_ context.Context, userID string, view View) ([]Link, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(userID, view)
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return cloneLinks(entry.links), true, nil
}

func (c *memoryCache) Set(_ context.Context, userID string, view View, links []Link) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(userID, view)] = memoryEntry{links: cloneLinks(links), expires: c.now().Add(c.ttl)}
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.entries, cacheKey(id, ViewCaregiver))
		delete(c.entries, cacheKey(id, ViewPatient))
	}
	return nil
}

// RedisCache keeps listings in Redis as JSON.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds a Redis-backed listing cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get loads a cached listing.
func (c *RedisCache) Get(ctx context.Context, userID string, view View) ([]Link, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(userID, view)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load link listing: %w", err)
	}
	var records []cachedLink
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false, fmt.Errorf("decode link listing: %w", err)
	}
	out := make([]Link, 0, len(records))
	for _, rec := range records {
		out = append(out, Link(rec))
	}
	return out, true, nil
}

// Set stores a listing until the cache ttl elapses.
func (c *RedisCache) Set(ctx context.Context, userID string, view View, links []Link) error {
	records := make([]cachedLink, 0, len(links))
	for _, l := range links {
		records = append(records, cachedLink(l))
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode link listing: %w", err)
	}
	return c.client.Set(ctx, cacheKey(userID, view), payload, c.ttl).Err()
}

// Invalidate removes both listings of each user.
func (c *RedisCache) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, cacheKey(id, ViewCaregiver), cacheKey(id, ViewPatient))
	}
	return c.client.Del(ctx, keys...).Err()
}

type cachedLink struct {
	ID           string     `json:"id"`
	CaregiverID  string     `json:"caregiver_id"`
	PatientID    string     `json:"patient_id"`
	InviteePhone string     `json:"invitee_phone"`
	Status       Status     `json:"status"`
	Relationship string     `json:"relationship"`
	CreatedAt    time.Time  `json:"created_at"`
	ApprovedAt   *time.Time `json:"approved_at"`
	RevokedAt    *time.Time `json:"revoked_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func cacheKey(userID string, view View) string {
	return "links:v1:list:" + string(view) + ":" + userID
}

func cloneLinks(in []Link) []Link {
	if in == nil {
		return nil
	}
	out := make([]Link, len(in))
	for i, l := range in {
		out[i] = cloneLink(l)
	}
	return out
}
