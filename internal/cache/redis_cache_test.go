package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, rdb
}

func TestRedisCache_RecordSent(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	defer mr.Close()

	sentAt := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	cache := NewRedisCache(rdb, 10*time.Second)
	cache.now = func() time.Time { return sentAt }

	ctx := context.Background()
	if err := cache.RecordSent(ctx, "r1", "wamid.abc"); err != nil {
		t.Fatalf("RecordSent() error: %v", err)
	}

	key := "sent:r1:wamid.abc"
	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}
	if ttl := mr.TTL(key); ttl <= 0 {
		t.Fatalf("expected TTL to be set, got %v", ttl)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("failed to get key %q: %v", key, err)
	}
	var got sentValue
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("failed to unmarshal value: %v", err)
	}
	if got.MessageID != "wamid.abc" {
		t.Fatalf("expected MessageID %q, got %q", "wamid.abc", got.MessageID)
	}
	if !got.SentAt.Equal(sentAt) {
		t.Fatalf("expected SentAt %v, got %v", sentAt, got.SentAt)
	}
}

func TestRedisCache_WasSent(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	defer mr.Close()

	cache := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	sent, err := cache.WasSent(ctx, "r1", "wamid.abc")
	if err != nil {
		t.Fatalf("WasSent() error: %v", err)
	}
	if sent {
		t.Fatalf("expected unsent message to report false")
	}

	if err := cache.RecordSent(ctx, "r1", "wamid.abc"); err != nil {
		t.Fatalf("RecordSent() error: %v", err)
	}

	sent, err = cache.WasSent(ctx, "r1", "wamid.abc")
	if err != nil {
		t.Fatalf("WasSent() error: %v", err)
	}
	if !sent {
		t.Fatalf("expected recorded message to report true")
	}
}

func TestRedisQuota_IncrementAndRead(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	defer mr.Close()

	quota := NewRedisQuota(rdb)
	ctx := context.Background()
	day := "2026-03-10"

	n, err := quota.Today(ctx, day)
	if err != nil {
		t.Fatalf("Today() error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 before any increment, got %d", n)
	}

	for i := 0; i < 3; i++ {
		if err := quota.Increment(ctx, day); err != nil {
			t.Fatalf("Increment() error: %v", err)
		}
	}

	n, err = quota.Today(ctx, day)
	if err != nil {
		t.Fatalf("Today() error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}

	if ttl := mr.TTL("calls:" + day); ttl <= 0 {
		t.Fatalf("expected counter key to expire, got %v", ttl)
	}

	// Other days are untouched.
	n, err = quota.Today(ctx, "2026-03-11")
	if err != nil {
		t.Fatalf("Today() error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 for a different day, got %d", n)
	}
}

func TestMemoryQuota(t *testing.T) {
	t.Parallel()

	quota := NewMemoryQuota()
	ctx := context.Background()

	if err := quota.Increment(ctx, "2026-03-10"); err != nil {
		t.Fatalf("Increment() error: %v", err)
	}
	n, err := quota.Today(ctx, "2026-03-10")
	if err != nil {
		t.Fatalf("Today() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
}
