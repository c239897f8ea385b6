package planner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dieetplanner/internal/nutrition"
)

// PoolCategory names one candidate category and the representative terms
// used to query the nutrition database for it.
type PoolCategory struct {
	Name        string
	SearchTerms []string
}

// DefaultCategories are the categories a plan draws candidates from.
// Search terms are Dutch, matching the nutrition database locale.
var DefaultCategories = []PoolCategory{
	{Name: "proteins", SearchTerms: []string{"kip", "vis", "tofu", "ei", "peulvruchten"}},
	{Name: "vegetables", SearchTerms: []string{"groente", "broccoli", "spinazie", "paprika"}},
	{Name: "grains", SearchTerms: []string{"rijst", "pasta", "brood", "haver"}},
	{Name: "dairy", SearchTerms: []string{"yoghurt", "kwark", "melk", "kaas"}},
	{Name: "fruits", SearchTerms: []string{"appel", "banaan", "bessen"}},
	{Name: "fats", SearchTerms: []string{"olijfolie", "avocado", "noten"}},
}

// CandidatePool maps a category name to its eligible ingredient candidates.
type CandidatePool map[string][]nutrition.Record

// Without returns a copy of the pool with candidates matching any of the
// given terms removed. Used by the template path for guardrails-derived
// exclusions without touching the cache key.
func (p CandidatePool) Without(terms []string) CandidatePool {
	out := make(CandidatePool, len(p))
	for category, records := range p {
		var kept []nutrition.Record
		for _, rec := range records {
			if !nameMatchesAny(rec.Name, terms) {
				kept = append(kept, rec)
			}
		}
		out[category] = kept
	}
	return out
}

// Size returns the total candidate count across categories.
func (p CandidatePool) Size() int {
	total := 0
	for _, records := range p {
		total += len(records)
	}
	return total
}

// PoolMetrics describes how a pool build went. Advisory only.
type PoolMetrics struct {
	Categories int
	Candidates int
	CacheHit   bool
}

type poolCacheEntry struct {
	pool    CandidatePool
	builtAt time.Time
}

// PoolBuilder builds candidate pools and caches them by diet key plus the
// joined sorted exclusion terms. The cache is advisory: concurrent rebuilds
// for the same key race with last-writer-wins semantics.
type PoolBuilder struct {
	lookup      nutrition.Lookup
	ttl         time.Duration
	searchLimit int
	categories  []PoolCategory
	now         func() time.Time

	mu    sync.Mutex
	cache map[string]poolCacheEntry
}

// NewPoolBuilder creates a PoolBuilder over the default categories.
func NewPoolBuilder(lookup nutrition.Lookup, ttl time.Duration, searchLimit int) *PoolBuilder {
	return &PoolBuilder{
		lookup:      lookup,
		ttl:         ttl,
		searchLimit: searchLimit,
		categories:  DefaultCategories,
		now:         time.Now,
		cache:       make(map[string]poolCacheEntry),
	}
}

// Build returns the candidate pool for a diet key and exclusion set,
// serving a fresh-enough cached pool or rebuilding synchronously.
// Exclusions must already be normalized, deduplicated and sorted.
func (b *PoolBuilder) Build(ctx context.Context, dietKey string, exclusions []string) (CandidatePool, PoolMetrics, error) {
	key := dietKey + "|" + strings.Join(exclusions, ",")

	b.mu.Lock()
	b.evictStaleLocked()
	if entry, ok := b.cache[key]; ok {
		b.mu.Unlock()
		return entry.pool, PoolMetrics{
			Categories: len(entry.pool),
			Candidates: entry.pool.Size(),
			CacheHit:   true,
		}, nil
	}
	b.mu.Unlock()

	pool, err := b.buildPool(ctx, exclusions)
	if err != nil {
		return nil, PoolMetrics{}, err
	}

	b.mu.Lock()
	b.cache[key] = poolCacheEntry{pool: pool, builtAt: b.now()}
	b.mu.Unlock()

	return pool, PoolMetrics{
		Categories: len(pool),
		Candidates: pool.Size(),
	}, nil
}

// buildPool issues all category searches concurrently; each goroutine
// writes into its own slot.
func (b *PoolBuilder) buildPool(ctx context.Context, exclusions []string) (CandidatePool, error) {
	type categoryResult struct {
		records []nutrition.Record
		err     error
	}

	results := make([]categoryResult, len(b.categories))
	var wg sync.WaitGroup
	for i, category := range b.categories {
		wg.Add(1)
		go func(i int, category PoolCategory) {
			defer wg.Done()
			results[i].records, results[i].err = b.searchCategory(ctx, category)
		}(i, category)
	}
	wg.Wait()

	pool := make(CandidatePool, len(b.categories))
	for i, category := range b.categories {
		if results[i].err != nil {
			return nil, fmt.Errorf("failed to build pool category %s: %w", category.Name, results[i].err)
		}
		var kept []nutrition.Record
		for _, rec := range results[i].records {
			if !nameMatchesAny(rec.Name, exclusions) {
				kept = append(kept, rec)
			}
		}
		pool[category.Name] = kept
	}
	return pool, nil
}

// searchCategory queries every representative term and merges candidates,
// deduplicated by ingredient code.
func (b *PoolBuilder) searchCategory(ctx context.Context, category PoolCategory) ([]nutrition.Record, error) {
	seen := make(map[string]struct{})
	var merged []nutrition.Record
	for _, term := range category.SearchTerms {
		records, err := b.lookup.Search(ctx, term, b.searchLimit)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", term, err)
		}
		for _, rec := range records {
			if _, ok := seen[rec.Code]; ok {
				continue
			}
			seen[rec.Code] = struct{}{}
			merged = append(merged, rec)
		}
	}
	return merged, nil
}

// evictStaleLocked lazily drops expired entries. Caller holds the lock.
func (b *PoolBuilder) evictStaleLocked() {
	cutoff := b.now().Add(-b.ttl)
	for key, entry := range b.cache {
		if entry.builtAt.Before(cutoff) {
			delete(b.cache, key)
		}
	}
}

func nameMatchesAny(name string, terms []string) bool {
	lowered := strings.ToLower(name)
	for _, term := range terms {
		if term != "" && strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}
