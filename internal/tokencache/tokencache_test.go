package tokencache

import (
	"context"
	"testing"
	"time"
)

func TestCacheGetSetRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(ctx)
	defer c.Close()

	c.Set("vertex-main", "ya29.token", time.Now().Add(time.Hour))

	tok, ok := c.Get("vertex-main")
	if !ok || tok != "ya29.token" {
		t.Fatalf("Get = (%q, %v), want (ya29.token, true)", tok, ok)
	}
}

func TestCacheGetMissingKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx)
	defer c.Close()

	if _, ok := c.Get("nope"); ok {
		t.Fatal("expected a miss for an unset key")
	}
}

func TestCacheExpiredEntryIsNotReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx)
	defer c.Close()

	c.Set("k", "v", time.Now().Add(-time.Second))
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected an already-expired entry not to be stored/returned")
	}
}

func TestCacheEvictExpiredRemovesStaleEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(ctx)
	defer c.Close()

	c.mu.Lock()
	c.items["stale"] = entry{token: "x", expiresAt: time.Now().Add(-time.Minute)}
	c.mu.Unlock()

	c.evictExpired()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.items["stale"]; ok {
		t.Fatal("expired entry should have been evicted")
	}
}
