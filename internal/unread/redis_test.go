package unread

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestNewRedisCache(t *testing.T) {
	cache, _ := setupTestRedis(t, time.Minute)
	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisLookupStoreAndInvalidate(t *testing.T) {
	cache, _ := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	_, gen, ok, err := cache.Lookup(ctx, "user-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := cache.Store(ctx, "user-1", gen, 4); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	count, _, ok, err := cache.Lookup(ctx, "user-1")
	if err != nil || !ok || count != 4 {
		t.Fatalf("expected hit with 4, got count=%d ok=%v err=%v", count, ok, err)
	}

	if err := cache.Invalidate(ctx, "user-1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, _, ok, _ := cache.Lookup(ctx, "user-1"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestRedisStoreWithStaleGenerationIsDropped(t *testing.T) {
	cache, _ := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	_, staleGen, _, _ := cache.Lookup(ctx, "user-1")
	if err := cache.Invalidate(ctx, "user-1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if err := cache.Store(ctx, "user-1", staleGen, 9); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, _, ok, _ := cache.Lookup(ctx, "user-1"); ok {
		t.Fatal("stale count must not be cached")
	}
}

func TestRedisEntriesExpire(t *testing.T) {
	cache, s := setupTestRedis(t, 10*time.Second)
	ctx := context.Background()

	_, gen, _, _ := cache.Lookup(ctx, "user-1")
	_ = cache.Store(ctx, "user-1", gen, 2)
	s.FastForward(11 * time.Second)

	if _, _, ok, _ := cache.Lookup(ctx, "user-1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestRedisRecipientsAreIsolated(t *testing.T) {
	cache, _ := setupTestRedis(t, time.Minute)
	ctx := context.Background()

	_, genA, _, _ := cache.Lookup(ctx, "a")
	_, genB, _, _ := cache.Lookup(ctx, "b")
	_ = cache.Store(ctx, "a", genA, 1)
	_ = cache.Store(ctx, "b", genB, 2)
	_ = cache.Invalidate(ctx, "a")

	if _, _, ok, _ := cache.Lookup(ctx, "a"); ok {
		t.Fatal("expected a to be invalidated")
	}
	if count, _, ok, _ := cache.Lookup(ctx, "b"); !ok || count != 2 {
		t.Fatalf("expected b to keep 2, got %d ok=%v", count, ok)
	}
}
