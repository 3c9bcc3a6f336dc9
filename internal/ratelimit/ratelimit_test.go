package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// ── Memory ────────────────────────────────────────────────────────────────────

func TestMemory_AllowsUpToMax(t *testing.T) {
	m := NewMemory(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "code-1")
		if err != nil {
			t.Fatalf("Allow [%d]: %v", i, err)
		}
		if !ok {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	ok, _ := m.Allow(ctx, "code-1")
	if ok {
		t.Error("attempt 4 should be blocked")
	}
}

func TestMemory_IdentifiersIndependent(t *testing.T) {
	m := NewMemory(1, time.Hour)
	ctx := context.Background()

	m.Allow(ctx, "code-1") //nolint:errcheck
	ok, _ := m.Allow(ctx, "code-2")
	if !ok {
		t.Error("code-2 must have its own window")
	}
}

func TestMemory_WindowEviction(t *testing.T) {
	m := NewMemory(2, time.Hour)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	m.Allow(ctx, "code-1") //nolint:errcheck
	m.Allow(ctx, "code-1") //nolint:errcheck
	if ok, _ := m.Allow(ctx, "code-1"); ok {
		t.Fatal("third attempt inside window should be blocked")
	}

	// Old attempts fall out once the window slides past them.
	clock = base.Add(61 * time.Minute)
	if ok, _ := m.Allow(ctx, "code-1"); !ok {
		t.Error("attempt after window should be allowed again")
	}
}

func TestMemory_Reset(t *testing.T) {
	m := NewMemory(1, time.Hour)
	ctx := context.Background()

	m.Allow(ctx, "code-1") //nolint:errcheck
	if ok, _ := m.Allow(ctx, "code-1"); ok {
		t.Fatal("should be blocked before reset")
	}
	if err := m.Reset(ctx, "code-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if ok, _ := m.Allow(ctx, "code-1"); !ok {
		t.Error("should be allowed after reset")
	}
}

// ── Redis ─────────────────────────────────────────────────────────────────────

func newTestRedisLimiter(t *testing.T, max int, windowSec int64) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedis(rdb, max, windowSec), mr
}

func TestRedis_AllowsUpToMax(t *testing.T) {
	r, _ := newTestRedisLimiter(t, 3, 3600)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := r.Allow(ctx, "code-1")
		if err != nil {
			t.Fatalf("Allow [%d]: %v", i, err)
		}
		if !ok {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	ok, err := r.Allow(ctx, "code-1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Error("attempt 4 should be blocked")
	}
}

func TestRedis_WindowEviction(t *testing.T) {
	r, mr := newTestRedisLimiter(t, 1, 60)
	ctx := context.Background()

	if ok, _ := r.Allow(ctx, "code-1"); !ok {
		t.Fatal("first attempt should be allowed")
	}
	if ok, _ := r.Allow(ctx, "code-1"); ok {
		t.Fatal("second attempt inside window should be blocked")
	}

	mr.FastForward(61 * time.Second)
	if ok, err := r.Allow(ctx, "code-1"); err != nil || !ok {
		t.Errorf("attempt after window: ok=%v err=%v", ok, err)
	}
}

func TestRedis_Reset(t *testing.T) {
	r, _ := newTestRedisLimiter(t, 1, 3600)
	ctx := context.Background()

	r.Allow(ctx, "code-1") //nolint:errcheck
	if err := r.Reset(ctx, "code-1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if ok, _ := r.Allow(ctx, "code-1"); !ok {
		t.Error("should be allowed after reset")
	}
}
