// Package cache provides the resolution pattern cache. Conflicts with
// the same structural signature reuse a previously computed resolution
// instead of re-running the oracle workflow.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"constitutional-gov/pkg/types"
)

const shardCount = 16

// PatternCache stores resolution results keyed by conflict signature.
type PatternCache interface {
	Get(ctx context.Context, conflict *types.Conflict) (*types.CorrectionResult, bool)
	Put(ctx context.Context, conflict *types.Conflict, result *types.CorrectionResult, ttl time.Duration)
	Invalidate(ctx context.Context, conflict *types.Conflict)
	Stats() Stats
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
}

// Signature derives the cache key from the structural shape of a
// conflict: its type, entity counts, and severity. Two conflicts over
// different entities but the same shape share a resolution pattern.
func Signature(c *types.Conflict) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(string(c.Type))
	_, _ = h.WriteString(fmt.Sprintf("|%d|%d|", len(c.PrincipleIDs), len(c.PolicyIDs)))
	_, _ = h.WriteString(string(c.Severity))
	return h.Sum64()
}

type entry struct {
	result    *types.CorrectionResult
	expiresAt time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[uint64]entry
}

// MemoryCache is the default in-process backend: a sharded map with
// per-entry TTLs. Expired entries are dropped lazily on read.
type MemoryCache struct {
	shards [shardCount]*shard
	hits   atomic.Int64
	misses atomic.Int64
	clock  func() time.Time
}

// NewMemoryCache creates an empty in-memory pattern cache.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{clock: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[uint64]entry)}
	}
	return c
}

func (c *MemoryCache) shardFor(key uint64) *shard {
	return c.shards[key%shardCount]
}

// Get returns the cached resolution for the conflict's signature, or
// false on miss or expiry.
func (c *MemoryCache) Get(_ context.Context, conflict *types.Conflict) (*types.CorrectionResult, bool) {
	key := Signature(conflict)
	s := c.shardFor(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.clock().After(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have
		// refreshed the entry.
		if cur, still := s.entries[key]; still && c.clock().After(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	copied := *e.result
	return &copied, true
}

// Put stores the resolution under the conflict's signature.
func (c *MemoryCache) Put(_ context.Context, conflict *types.Conflict, result *types.CorrectionResult, ttl time.Duration) {
	if result == nil || ttl <= 0 {
		return
	}
	key := Signature(conflict)
	s := c.shardFor(key)

	copied := *result
	s.mu.Lock()
	s.entries[key] = entry{result: &copied, expiresAt: c.clock().Add(ttl)}
	s.mu.Unlock()
}

// Invalidate removes the entry for the conflict's signature.
func (c *MemoryCache) Invalidate(_ context.Context, conflict *types.Conflict) {
	key := Signature(conflict)
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Stats returns hit/miss counters and the live entry count. Expired
// but not yet evicted entries are included in Entries.
func (c *MemoryCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	entries := 0
	for _, s := range c.shards {
		s.mu.RLock()
		entries += len(s.entries)
		s.mu.RUnlock()
	}

	st := Stats{Hits: hits, Misses: misses, Entries: entries}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}
