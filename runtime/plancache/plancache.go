// Package plancache defines the embedding-keyed plan cache contract. A
// cache entry pairs the intent and plan computed for a query with the
// embedding of the normalized query text, enabling exact-hash and
// ANN-similarity reuse. Implementations live under features/plancache and
// in the inmem subpackage.
package plancache

import (
	"context"
	"time"

	"toolatlas.dev/search/query"
)

// HitType labels a lookup outcome.
type HitType string

const (
	HitExact   HitType = "exact"
	HitSimilar HitType = "similar"
	HitMiss    HitType = "miss"
)

// Entry is a cached (intent, plan) tuple keyed by the normalized query.
type Entry struct {
	ID            string
	QueryHash     string
	OriginalQuery string
	// QueryEmbedding is the embedding of the normalized query text, at the
	// schema dimension.
	QueryEmbedding []float32

	Intent query.IntentState
	Plan   query.QueryPlan

	// SchemaVersion records the schema the plan was built against; a
	// version mismatch forces a miss.
	SchemaVersion string
	Confidence    float64

	UsageCount int
	LastUsed   time.Time
	CreatedAt  time.Time
}

// Result is the outcome of a cache lookup. QueryEmbedding carries the
// embedding computed during the similarity probe (when one was computed) so
// the driver can reuse it for the write-back after a miss.
type Result struct {
	Type           HitType
	Similarity     float64
	Entry          *Entry
	QueryEmbedding []float32
}

// Cache is the plan cache contract. Store is a unique-by-hash upsert: a
// write never replaces a higher-confidence entry's plan; on such a
// collision only the usage stats advance.
type Cache interface {
	Lookup(ctx context.Context, queryText string) (Result, error)
	Store(ctx context.Context, e Entry) error
}

// Thresholds gathers the tunable cache policy knobs with their defaults.
type Thresholds struct {
	// Similarity is the minimum cosine for a similarity hit.
	Similarity float64
	// Confidence is the minimum entry confidence to reuse or store.
	Confidence float64
}

// DefaultThresholds returns the production default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Similarity: 0.92, Confidence: 0.5}
}

// LowUseTTL is how long entries with fewer than LowUseThreshold uses are
// retained; higher-use entries persist.
const (
	LowUseTTL       = 365 * 24 * time.Hour
	LowUseThreshold = 5
)
