// Package vector defines the vector-store contract: named-vector top-K
// search with conjunctive payload filters, plus the write surface the seed
// and plan cache paths need.
package vector

import "context"

// Condition is one AND clause of a payload filter. Value is a string for
// equality or a []string for keyword membership.
type Condition struct {
	Field string
	Value any
}

// Request describes a single top-K search.
type Request struct {
	Collection string
	// VectorName selects the named vector to search; empty means the
	// collection's default (unnamed) vector.
	VectorName string
	Vector     []float32
	TopK       int
	Must       []Condition
	WithVector bool
}

// Hit is one scored point returned by the store. Score is in natural
// cosine-similarity units.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
	Vector  []float32
}

// Point is a single upsert payload.
type Point struct {
	ID string
	// Vectors maps embedding field name to vector. A single entry under ""
	// targets the default unnamed vector.
	Vectors map[string][]float32
	Payload map[string]any
}

// Store is the vector-store contract.
type Store interface {
	Search(ctx context.Context, req Request) ([]Hit, error)
	Upsert(ctx context.Context, collection string, points []Point) error
}
