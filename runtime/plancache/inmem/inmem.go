// Package inmem provides an in-memory plan cache with the full lookup and
// write semantics of the persistent store: exact hash lookup, linear-scan
// cosine similarity, confidence-guarded upserts, and TTL eviction for
// low-use entries. Used by tests and local development.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"toolatlas.dev/search/runtime/embed"
	"toolatlas.dev/search/runtime/plancache"
)

// Options configures the in-memory cache.
type Options struct {
	// Embedder computes query embeddings for similarity lookups. Optional;
	// without it lookups are exact-only.
	Embedder embed.Client
	// SchemaVersion guards reuse; entries from other versions miss.
	SchemaVersion string
	Thresholds    plancache.Thresholds
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Cache is a mutex-guarded map keyed by query hash.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*plancache.Entry
	embedder   embed.Client
	version    string
	thresholds plancache.Thresholds
	now        func() time.Time
}

// New builds an in-memory cache.
func New(opts Options) (*Cache, error) {
	if opts.SchemaVersion == "" {
		return nil, errors.New("schema version is required")
	}
	th := opts.Thresholds
	if th.Similarity <= 0 {
		th.Similarity = plancache.DefaultThresholds().Similarity
	}
	if th.Confidence <= 0 {
		th.Confidence = plancache.DefaultThresholds().Confidence
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries:    make(map[string]*plancache.Entry),
		embedder:   opts.Embedder,
		version:    opts.SchemaVersion,
		thresholds: th,
		now:        now,
	}, nil
}

// Lookup resolves the query against the cache: exact hash first, then
// cosine similarity over stored embeddings.
func (c *Cache) Lookup(ctx context.Context, queryText string) (plancache.Result, error) {
	hash := plancache.HashQuery(queryText)

	c.mu.Lock()
	if e, ok := c.entries[hash]; ok && c.usable(e) {
		e.UsageCount++
		e.LastUsed = c.now().UTC()
		cp := *e
		c.mu.Unlock()
		return plancache.Result{Type: plancache.HitExact, Similarity: 1.0, Entry: &cp}, nil
	}
	c.mu.Unlock()

	if c.embedder == nil {
		return plancache.Result{Type: plancache.HitMiss}, nil
	}
	vec, err := c.embedder.Embed(ctx, plancache.NormalizeQuery(queryText))
	if err != nil {
		return plancache.Result{Type: plancache.HitMiss}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var best *plancache.Entry
	bestSim := 0.0
	for _, e := range c.entries {
		if !c.usable(e) || e.Confidence < c.thresholds.Confidence {
			continue
		}
		if sim := embed.Cosine(vec, e.QueryEmbedding); sim > bestSim {
			best, bestSim = e, sim
		}
	}
	if best != nil && bestSim >= c.thresholds.Similarity {
		best.UsageCount++
		best.LastUsed = c.now().UTC()
		cp := *best
		return plancache.Result{Type: plancache.HitSimilar, Similarity: bestSim, Entry: &cp, QueryEmbedding: vec}, nil
	}
	return plancache.Result{Type: plancache.HitMiss, QueryEmbedding: vec}, nil
}

// Store upserts the entry by query hash. A lower-confidence write against
// an existing entry only advances usage stats.
func (c *Cache) Store(ctx context.Context, e plancache.Entry) error {
	if e.QueryHash == "" {
		return errors.New("query hash is required")
	}
	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[e.QueryHash]; ok {
		cur.UsageCount++
		cur.LastUsed = now
		if e.Confidence >= cur.Confidence {
			cur.OriginalQuery = e.OriginalQuery
			cur.QueryEmbedding = e.QueryEmbedding
			cur.Intent = e.Intent
			cur.Plan = e.Plan
			cur.SchemaVersion = e.SchemaVersion
			cur.Confidence = e.Confidence
		}
		return nil
	}
	cp := e
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.LastUsed.IsZero() {
		cp.LastUsed = now
	}
	if cp.UsageCount == 0 {
		cp.UsageCount = 1
	}
	c.entries[cp.QueryHash] = &cp
	return nil
}

// usable filters out schema-version mismatches and expired low-use entries.
func (c *Cache) usable(e *plancache.Entry) bool {
	if e.SchemaVersion != c.version {
		return false
	}
	if e.UsageCount < plancache.LowUseThreshold && c.now().Sub(e.CreatedAt) > plancache.LowUseTTL {
		return false
	}
	return true
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
