package planner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"dieetplanner/internal/nutrition"
)

// countingLookup counts Search calls on top of the fake database.
type countingLookup struct {
	*fakeLookup
	searches int64
}

func (c *countingLookup) Search(ctx context.Context, term string, limit int) ([]nutrition.Record, error) {
	atomic.AddInt64(&c.searches, 1)
	return c.fakeLookup.Search(ctx, term, limit)
}

func TestPoolBuilder_CacheHitWithinTTL(t *testing.T) {
	lookup := &countingLookup{fakeLookup: newFakeLookup()}
	b := NewPoolBuilder(lookup, 10*time.Minute, 8)

	clock := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	_, metrics, err := b.Build(context.Background(), "standaard", nil)
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	if metrics.CacheHit {
		t.Error("first build must not be a cache hit")
	}
	first := atomic.LoadInt64(&lookup.searches)
	if first == 0 {
		t.Fatal("expected searches on a cold build")
	}

	clock = clock.Add(5 * time.Minute)
	_, metrics, err = b.Build(context.Background(), "standaard", nil)
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if !metrics.CacheHit {
		t.Error("expected a cache hit within the TTL")
	}
	if got := atomic.LoadInt64(&lookup.searches); got != first {
		t.Errorf("cache hit issued %d extra searches", got-first)
	}
}

func TestPoolBuilder_RebuildAfterTTL(t *testing.T) {
	lookup := &countingLookup{fakeLookup: newFakeLookup()}
	b := NewPoolBuilder(lookup, 10*time.Minute, 8)

	clock := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	if _, _, err := b.Build(context.Background(), "standaard", nil); err != nil {
		t.Fatalf("first build failed: %v", err)
	}

	clock = clock.Add(11 * time.Minute)
	_, metrics, err := b.Build(context.Background(), "standaard", nil)
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if metrics.CacheHit {
		t.Error("expected a rebuild after the TTL expired")
	}
}

func TestPoolBuilder_KeyIncludesExclusions(t *testing.T) {
	b := NewPoolBuilder(newFakeLookup(), 10*time.Minute, 8)

	pool, _, err := b.Build(context.Background(), "standaard", nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !poolContains(pool, "nevo-1001") {
		t.Fatal("expected kipfilet in the unfiltered pool")
	}

	filtered, metrics, err := b.Build(context.Background(), "standaard", []string{"kip"})
	if err != nil {
		t.Fatalf("filtered build failed: %v", err)
	}
	if metrics.CacheHit {
		t.Error("different exclusions must not share a cache entry")
	}
	if poolContains(filtered, "nevo-1001") {
		t.Error("kipfilet must be excluded from the filtered pool")
	}
}

func TestCandidatePool_Without(t *testing.T) {
	pool := CandidatePool{
		"proteins": {{Code: "nevo-1001", Name: "kipfilet"}},
		"grains":   {{Code: "nevo-2002", Name: "zilvervliesrijst"}},
	}

	filtered := pool.Without([]string{"kip"})
	if poolContains(filtered, "nevo-1001") {
		t.Error("expected kipfilet removed")
	}
	if !poolContains(filtered, "nevo-2002") {
		t.Error("expected rijst kept")
	}
	if !poolContains(pool, "nevo-1001") {
		t.Error("Without must not mutate the source pool")
	}
}

func poolContains(pool CandidatePool, code string) bool {
	for _, records := range pool {
		for _, rec := range records {
			if rec.Code == code {
				return true
			}
		}
	}
	return false
}
