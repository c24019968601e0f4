package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

// memStore is an in-memory cmdable with a manually advanced clock so lease
// expiry can be exercised without a live server.
type memStore struct {
	now    time.Time
	values map[string]memEntry
}

func newMemStore() *memStore {
	return &memStore{now: time.Now(), values: make(map[string]memEntry)}
}

func (m *memStore) lookup(key string) (memEntry, bool) {
	entry, ok := m.values[key]
	if !ok {
		return memEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !m.now.Before(entry.expiresAt) {
		delete(m.values, key)
		return memEntry{}, false
	}
	return entry, true
}

func (m *memStore) store(key string, value any, ttl time.Duration) {
	entry := memEntry{value: fmt.Sprint(value)}
	if ttl > 0 {
		entry.expiresAt = m.now.Add(ttl)
	}
	m.values[key] = entry
}

func (m *memStore) advance(d time.Duration) {
	m.now = m.now.Add(d)
}

func (m *memStore) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (m *memStore) Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.store(key, value, ttl)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (m *memStore) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	entry, ok := m.lookup(key)
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(entry.value)
	return cmd
}

func (m *memStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := m.lookup(key); ok {
		cmd.SetVal(false)
		return cmd
	}
	m.store(key, value, ttl)
	cmd.SetVal(true)
	return cmd
}

func (m *memStore) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var removed int64
	for _, key := range keys {
		if _, ok := m.lookup(key); ok {
			delete(m.values, key)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func newTestClient() (*Client, *memStore) {
	store := newMemStore()
	return &Client{store: store}, store
}

func TestAcquireLeaseIsExclusive(t *testing.T) {
	client, _ := newTestClient()
	ctx := context.Background()

	acquired, err := client.AcquireLease(ctx, "sweeper", "holder-a", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("expected first acquire to win, got %v %v", acquired, err)
	}

	acquired, err = client.AcquireLease(ctx, "sweeper", "holder-b", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if acquired {
		t.Fatal("second holder must not acquire a live lease")
	}
}

func TestReleaseLeaseFreesItForTheNextHolder(t *testing.T) {
	client, _ := newTestClient()
	ctx := context.Background()

	if acquired, err := client.AcquireLease(ctx, "sweeper", "holder-a", time.Minute); err != nil || !acquired {
		t.Fatalf("expected acquire, got %v %v", acquired, err)
	}
	if err := client.ReleaseLease(ctx, "sweeper", "holder-a"); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}

	acquired, err := client.AcquireLease(ctx, "sweeper", "holder-b", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("expected acquire after release, got %v %v", acquired, err)
	}
}

func TestReleaseLeaseIgnoresStaleHolder(t *testing.T) {
	client, store := newTestClient()
	ctx := context.Background()

	if acquired, err := client.AcquireLease(ctx, "sweeper", "holder-a", time.Minute); err != nil || !acquired {
		t.Fatalf("expected acquire, got %v %v", acquired, err)
	}

	// holder-a's lease lapses and holder-b takes over.
	store.advance(2 * time.Minute)
	if acquired, err := client.AcquireLease(ctx, "sweeper", "holder-b", time.Minute); err != nil || !acquired {
		t.Fatalf("expected acquire after expiry, got %v %v", acquired, err)
	}

	// holder-a's late release must not touch holder-b's lease.
	if err := client.ReleaseLease(ctx, "sweeper", "holder-a"); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}

	acquired, err := client.AcquireLease(ctx, "sweeper", "holder-c", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if acquired {
		t.Fatal("a stale release must not free a successor's live lease")
	}

	current, err := client.Get(ctx, client.LeaseKey("sweeper"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if current != "holder-b" {
		t.Fatalf("expected holder-b to keep the lease, got %q", current)
	}
}

func TestReleaseLeaseOnMissingKeyIsBenign(t *testing.T) {
	client, _ := newTestClient()

	if err := client.ReleaseLease(context.Background(), "sweeper", "holder-a"); err != nil {
		t.Fatalf("releasing an absent lease must not error, got %v", err)
	}
}

func TestKeyNamespacing(t *testing.T) {
	client, _ := newTestClient()

	if got := client.IdempotencyKey("webhook", "evt_1"); got != "ap:idempotency:webhook:evt_1" {
		t.Fatalf("unexpected idempotency key %q", got)
	}
	if got := client.LeaseKey("sweeper"); got != "ap:lease:sweeper" {
		t.Fatalf("unexpected lease key %q", got)
	}
}
