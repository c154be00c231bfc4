// Package plan derives an executable QueryPlan from an IntentState. The
// policy is deterministic: the same intent against the same schema always
// yields the same plan. Invalid drafts are repaired against the schema
// before the planner gives up.
package plan

import (
	"context"
	"fmt"
	"strings"

	"toolatlas.dev/search/query"
	"toolatlas.dev/search/runtime/telemetry"
	"toolatlas.dev/search/schema"
)

const (
	// lowConfidence is the floor below which the intent is treated as
	// unreliable and the plan falls back to broad vector retrieval.
	lowConfidence = 0.3

	primaryTopK   = 70
	fallbackTopK  = 50
	secondaryTopK = 40

	primaryWeight    = 1.0
	secondaryWeight  = 0.4
	structuredWeight = 0.5
	variantWeight    = 0.3

	// maxVariantSeeds bounds the extra vector sources spawned from
	// semantic variants.
	maxVariantSeeds = 2
)

// Options configures a Planner.
type Options struct {
	Schema *schema.Schema
	Logger telemetry.Logger
}

// Planner implements pipeline.Planner.
type Planner struct {
	schema *schema.Schema
	log    telemetry.Logger
}

// New builds a Planner.
func New(opts Options) (*Planner, error) {
	if opts.Schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NoopLogger{}
	}
	if _, ok := opts.Schema.PrimaryCollection(); !ok {
		return nil, fmt.Errorf("schema has no enabled vector collection")
	}
	return &Planner{schema: opts.Schema, log: opts.Logger}, nil
}

// Plan derives, repairs and validates a plan for the intent.
func (p *Planner) Plan(ctx context.Context, in *query.IntentState) (*query.QueryPlan, error) {
	if in == nil {
		return nil, fmt.Errorf("intent is required")
	}
	draft := p.draft(in)
	p.repair(draft)
	if issues := p.schema.ValidateQueryPlan(draft); len(issues) > 0 {
		return nil, fmt.Errorf("plan invalid after repair: %s", issues[0])
	}
	p.log.Debug(ctx, "plan derived",
		"strategy", string(draft.Strategy),
		"sources", draft.SourceCount(),
		"fusion", string(draft.Fusion),
		"confidence", draft.Confidence)
	return draft, nil
}

// draft builds the initial plan from the intent signals.
func (p *Planner) draft(in *query.IntentState) *query.QueryPlan {
	primary, _ := p.schema.PrimaryCollection()
	filters := p.schema.BuildFilters(in)
	vocab := in.VocabularyFields()

	hasFilters := len(filters) > 0
	hasFreeText := in.ReferenceTool != "" || len(in.SemanticVariants) > 0 ||
		len(in.Functionality) > 0 || len(in.Constraints) > 0 ||
		in.PrimaryGoal != query.GoalFind
	secondaries := p.secondaryCollections(in, vocab, primary.Name)
	dims := constrainedDimensions(in, vocab)

	var out *query.QueryPlan
	switch {
	case in.Confidence < lowConfidence || (!hasFilters && !hasFreeText):
		out = &query.QueryPlan{
			Strategy: query.StrategyVectorOnly,
			VectorSources: []query.VectorSource{
				p.vectorSource(primary, in, fallbackTopK, primaryWeight, nil),
			},
			Fusion:      query.FusionNone,
			Explanation: "low-signal query, broad semantic retrieval",
		}
	// An intent spanning several dimensions fans out across collections
	// even without free text; filters alone under-serve it.
	case len(secondaries) > 0 && (hasFreeText || dims > 1):
		vs := []query.VectorSource{p.vectorSource(primary, in, primaryTopK, primaryWeight, filters)}
		for _, sec := range secondaries {
			vs = append(vs, p.vectorSource(sec, in, secondaryTopK, secondaryWeight, filters))
		}
		out = &query.QueryPlan{
			Strategy:      query.StrategyMultiCollectionHybrid,
			VectorSources: vs,
			StructuredSources: []query.StructuredSource{{
				Collection: p.schema.Structured.Collection,
				Filters:    filters,
				TopK:       secondaryTopK,
				Weight:     structuredWeight,
			}},
			Fusion:      query.FusionRRF,
			Explanation: "multi-collection retrieval across " + collectionNames(vs),
		}
	case hasFilters && !hasFreeText:
		out = &query.QueryPlan{
			Strategy: query.StrategyStructuredOnly,
			StructuredSources: []query.StructuredSource{{
				Collection: p.schema.Structured.Collection,
				Filters:    filters,
				TopK:       fallbackTopK,
				Weight:     primaryWeight,
			}},
			Fusion:      query.FusionNone,
			Explanation: "fully structured query, filter-only retrieval",
		}
	case hasFilters:
		out = &query.QueryPlan{
			Strategy:      query.StrategyHybrid,
			VectorSources: []query.VectorSource{p.vectorSource(primary, in, primaryTopK, primaryWeight, filters)},
			StructuredSources: []query.StructuredSource{{
				Collection: p.schema.Structured.Collection,
				Filters:    filters,
				TopK:       secondaryTopK,
				Weight:     structuredWeight,
			}},
			Fusion:      query.FusionRRF,
			Explanation: "hybrid semantic and structured retrieval",
		}
	default:
		// Free-text signal without filters: nothing for the structured
		// store to narrow on.
		expl := "semantic retrieval on query text"
		if in.ReferenceTool != "" {
			expl = "semantic retrieval seeded by " + in.ReferenceTool
		}
		out = &query.QueryPlan{
			Strategy: query.StrategyVectorOnly,
			VectorSources: []query.VectorSource{
				p.vectorSource(primary, in, primaryTopK, primaryWeight, nil),
			},
			Fusion:      query.FusionNone,
			Explanation: expl,
		}
	}

	p.addVariantSeeds(out, in, primary)
	p.chooseFusion(out)
	out.Confidence = p.confidence(in, out)
	return out
}

// vectorSource builds one vector sub-query. A reference tool redirects the
// seed from the query text to the named tool.
func (p *Planner) vectorSource(c schema.VectorCollection, in *query.IntentState, topK int, weight float64, filters []query.Filter) query.VectorSource {
	seed := query.VectorSeed{Kind: query.SeedQueryText}
	if in.ReferenceTool != "" {
		seed.Kind = query.SeedReferenceTool
	}
	return query.VectorSource{
		Collection:     c.Name,
		EmbeddingField: c.EmbeddingField,
		Seed:           seed,
		TopK:           topK,
		Weight:         weight,
		Filter:         filters,
	}
}

// constrainedDimensions counts the intent dimensions carrying signal: each
// non-empty vocabulary field plus the functionality list.
func constrainedDimensions(in *query.IntentState, vocab map[string]string) int {
	n := 0
	for _, v := range vocab {
		if v != "" {
			n++
		}
	}
	if len(in.Functionality) > 0 {
		n++
	}
	return n
}

// secondaryCollections selects enabled non-primary collections whose name
// matches an intent dimension carrying signal.
func (p *Planner) secondaryCollections(in *query.IntentState, vocab map[string]string, primaryName string) []schema.VectorCollection {
	var out []schema.VectorCollection
	for _, c := range p.schema.EnabledCollections() {
		if c.Name == primaryName {
			continue
		}
		if c.Name == "functionality" && len(in.Functionality) > 0 {
			out = append(out, c)
			continue
		}
		if v, ok := vocab[c.Name]; ok && v != "" {
			out = append(out, c)
		}
	}
	return out
}

// addVariantSeeds spawns low-weight vector sources for up to two semantic
// variants against the primary collection.
func (p *Planner) addVariantSeeds(out *query.QueryPlan, in *query.IntentState, primary schema.VectorCollection) {
	if len(out.VectorSources) == 0 || len(in.SemanticVariants) == 0 {
		return
	}
	n := len(in.SemanticVariants)
	if n > maxVariantSeeds {
		n = maxVariantSeeds
	}
	base := out.VectorSources[0]
	for i := 0; i < n; i++ {
		out.VectorSources = append(out.VectorSources, query.VectorSource{
			Collection:     primary.Name,
			EmbeddingField: primary.EmbeddingField,
			Seed:           query.VectorSeed{Kind: query.SeedSemanticVariant, Variant: i},
			TopK:           secondaryTopK,
			Weight:         variantWeight,
			Filter:         base.Filter,
		})
	}
	if out.Strategy == query.StrategyVectorOnly && len(out.VectorSources) > 1 {
		out.Strategy = query.StrategyHybrid
	}
}

// chooseFusion picks the fusion method from the final source shape: none
// for a single source, weighted_sum for all-vector plans with non-uniform
// weights, rrf otherwise.
func (p *Planner) chooseFusion(out *query.QueryPlan) {
	if out.SourceCount() <= 1 {
		out.Fusion = query.FusionNone
		return
	}
	if len(out.StructuredSources) == 0 {
		uniform := true
		for _, v := range out.VectorSources[1:] {
			if v.Weight != out.VectorSources[0].Weight {
				uniform = false
				break
			}
		}
		if !uniform {
			out.Fusion = query.FusionWeightedSum
			return
		}
	}
	out.Fusion = query.FusionRRF
}

// confidence derives plan confidence deterministically from the intent
// signals and the draft shape.
func (p *Planner) confidence(in *query.IntentState, out *query.QueryPlan) float64 {
	c := 0.5
	if in.Confidence >= lowConfidence {
		c += 0.2 * in.Confidence
	}
	if len(out.StructuredSources) > 0 && len(out.StructuredSources[0].Filters) > 0 {
		c += 0.1
	}
	if in.ReferenceTool != "" {
		c += 0.1
	}
	if out.Strategy == query.StrategyVectorOnly && in.Confidence < lowConfidence {
		c -= 0.2
	}
	if c > 0.95 {
		c = 0.95
	}
	if c < 0 {
		c = 0
	}
	return c
}

// repair drops parts of the draft the schema cannot serve: filters on
// unfilterable fields, sources against disabled collections, and topK
// values outside sane bounds.
func (p *Planner) repair(out *query.QueryPlan) {
	keptVec := out.VectorSources[:0]
	for _, v := range out.VectorSources {
		c, ok := p.schema.CollectionByName(v.Collection)
		if !ok || !c.Enabled {
			continue
		}
		v.EmbeddingField = c.EmbeddingField
		v.Filter = p.filterableOnly(v.Filter)
		if v.TopK <= 0 {
			v.TopK = fallbackTopK
		}
		keptVec = append(keptVec, v)
	}
	out.VectorSources = keptVec

	keptStr := out.StructuredSources[:0]
	for _, s := range out.StructuredSources {
		if s.Collection != p.schema.Structured.Collection {
			continue
		}
		s.Filters = p.filterableOnly(s.Filters)
		if s.TopK <= 0 {
			s.TopK = fallbackTopK
		}
		keptStr = append(keptStr, s)
	}
	out.StructuredSources = keptStr
	p.chooseFusion(out)
}

// filterableOnly copies the filters the schema can serve, coercing unknown
// operators to equality rather than losing the clause. The input is shared
// between sources, so it is never compacted in place.
func (p *Planner) filterableOnly(filters []query.Filter) []query.Filter {
	kept := make([]query.Filter, 0, len(filters))
	for _, f := range filters {
		if !p.schema.IsFilterable(f.Field) {
			continue
		}
		if !query.KnownOperator(f.Op) {
			f.Op = query.OpEq
		}
		kept = append(kept, f)
	}
	return kept
}

func collectionNames(vs []query.VectorSource) string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Collection
	}
	return strings.Join(names, ", ")
}
