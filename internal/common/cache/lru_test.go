package cache_test

import (
	"testing"
	"time"

	"duel_arena/internal/common/cache"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := cache.NewLRU[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to be cached")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v %v", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
}

func TestLRUAddOnlyOnce(t *testing.T) {
	c := cache.NewLRU[string, struct{}](10, time.Minute)
	if !c.Add("evt-1", struct{}{}) {
		t.Fatalf("first add should succeed")
	}
	if c.Add("evt-1", struct{}{}) {
		t.Fatalf("second add should report duplicate")
	}
	c.Delete("evt-1")
	if !c.Add("evt-1", struct{}{}) {
		t.Fatalf("add after delete should succeed")
	}
}

func TestLRUExpiredEntryIsMissing(t *testing.T) {
	c := cache.NewLRU[string, int](10, time.Millisecond)
	c.Set("k", 1)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired entry to be missing")
	}
	if !c.Add("k", 2) {
		t.Fatalf("expected add over expired entry to succeed")
	}
}
