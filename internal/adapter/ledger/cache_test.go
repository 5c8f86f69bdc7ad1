package ledger

import (
	"testing"
	"time"
)

func newTestCache(capacity int) (*ResponseCache, *time.Time) {
	c := NewResponseCache(capacity)
	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }
	return c, &current
}

func TestCacheHitWithinTTL(t *testing.T) {
	c, clock := newTestCache(4)

	c.Set("GET:/trips/active", "payload", 30*time.Second)

	*clock = clock.Add(30 * time.Second)
	got, ok := c.Get("GET:/trips/active")
	if !ok || got != "payload" {
		t.Fatalf("entry at exactly TTL should still be fresh, got (%v, %v)", got, ok)
	}
}

func TestCacheExpiryIsLazy(t *testing.T) {
	c, clock := newTestCache(4)

	c.Set("GET:/trips/active", "payload", 30*time.Second)

	*clock = clock.Add(30*time.Second + time.Millisecond)
	if _, ok := c.Get("GET:/trips/active"); ok {
		t.Fatal("entry past TTL served as a hit")
	}
	// The expired read must also have evicted the entry.
	if len(c.store) != 0 {
		t.Errorf("expired entry kept in store, len = %d", len(c.store))
	}
}

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCache(2)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("second entry was evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("newest entry missing")
	}
}

func TestCacheSetRefreshesInsertionOrder(t *testing.T) {
	c, _ := newTestCache(2)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("a", 10, time.Minute) // re-set moves "a" to newest
	c.Set("c", 3, time.Minute)  // evicts "b"

	if _, ok := c.Get("b"); ok {
		t.Error("re-set key did not refresh insertion order")
	}
	if got, ok := c.Get("a"); !ok || got != 10 {
		t.Errorf("re-set key = (%v, %v), want (10, true)", got, ok)
	}
}

func TestCacheInvalidateMatching(t *testing.T) {
	c, _ := newTestCache(8)

	c.Set("GET:/trips/active", 1, time.Minute)
	c.Set("GET:/trips/history", 2, time.Minute)
	c.Set("GET:/auth/me", 3, time.Minute)

	c.InvalidateMatching("trips")

	if _, ok := c.Get("GET:/trips/active"); ok {
		t.Error("trips entry survived invalidation")
	}
	if _, ok := c.Get("GET:/trips/history"); ok {
		t.Error("trips entry survived invalidation")
	}
	if _, ok := c.Get("GET:/auth/me"); !ok {
		t.Error("unrelated entry was invalidated")
	}
}

func TestCacheZeroTTLIsNotStored(t *testing.T) {
	c, _ := newTestCache(4)
	c.Set("a", 1, 0)
	if _, ok := c.Get("a"); ok {
		t.Error("zero TTL entry was stored")
	}
}
