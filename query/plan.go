package query

// Strategy selects the overall retrieval shape of a plan.
type Strategy string

const (
	StrategyVectorOnly            Strategy = "vector_only"
	StrategyStructuredOnly        Strategy = "structured_only"
	StrategyHybrid                Strategy = "hybrid"
	StrategyMultiCollectionHybrid Strategy = "multi_collection_hybrid"
)

// KnownStrategy reports whether s is a recognized strategy.
func KnownStrategy(s Strategy) bool {
	switch s {
	case StrategyVectorOnly, StrategyStructuredOnly, StrategyHybrid, StrategyMultiCollectionHybrid:
		return true
	}
	return false
}

// FusionMethod selects how per-source candidate lists are merged.
type FusionMethod string

const (
	FusionRRF         FusionMethod = "rrf"
	FusionWeightedSum FusionMethod = "weighted_sum"
	FusionNone        FusionMethod = "none"
)

// KnownFusion reports whether f is a recognized fusion method.
func KnownFusion(f FusionMethod) bool {
	switch f {
	case FusionRRF, FusionWeightedSum, FusionNone:
		return true
	}
	return false
}

// SeedKind identifies which text seeds a vector sub-query.
type SeedKind string

const (
	SeedQueryText       SeedKind = "query_text"
	SeedReferenceTool   SeedKind = "reference_tool"
	SeedSemanticVariant SeedKind = "semantic_variant"
)

// VectorSeed names the text embedded for a vector source. Variant indexes
// into IntentState.SemanticVariants when Kind is SeedSemanticVariant.
type VectorSeed struct {
	Kind    SeedKind `json:"kind"`
	Variant int      `json:"variant,omitempty"`
}

// VectorSource describes one vector sub-query of a plan.
type VectorSource struct {
	Collection     string     `json:"collection"`
	EmbeddingField string     `json:"embeddingField"`
	Seed           VectorSeed `json:"queryVectorSource"`
	TopK           int        `json:"topK"`
	Weight         float64    `json:"weight"`
	Filter         []Filter   `json:"filter,omitempty"`
}

// StructuredSource describes one document-store sub-query of a plan.
type StructuredSource struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters"`
	TopK       int      `json:"topK"`
	Weight     float64  `json:"weight"`
}

// QueryPlan is the declarative retrieval recipe produced by the planner:
// which collections, which filters, which topK, which fusion.
type QueryPlan struct {
	Strategy          Strategy           `json:"strategy"`
	VectorSources     []VectorSource     `json:"vectorSources,omitempty"`
	StructuredSources []StructuredSource `json:"structuredSources,omitempty"`
	Fusion            FusionMethod       `json:"fusion"`
	Rerank            string             `json:"rerank"`

	// MaxRefinementCycles is a reserved hook for iterative refinement. The
	// executor never consumes it; it is validated >= 0 and defaults to 0.
	MaxRefinementCycles int `json:"maxRefinementCycles"`

	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation,omitempty"`
}

// SourceCount returns the total number of sub-queries in the plan.
func (p *QueryPlan) SourceCount() int {
	return len(p.VectorSources) + len(p.StructuredSources)
}
