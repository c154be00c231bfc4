// Package execute fans a QueryPlan out across its vector and structured
// sources. Seed texts are embedded once per distinct text, sources run
// concurrently under a bounded errgroup, and a failed source degrades the
// result instead of aborting the request.
package execute

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"toolatlas.dev/search/query"
	"toolatlas.dev/search/runtime/docstore"
	"toolatlas.dev/search/runtime/embed"
	"toolatlas.dev/search/runtime/pipeline"
	"toolatlas.dev/search/runtime/telemetry"
	"toolatlas.dev/search/runtime/vector"
)

// structuredScore is the fixed score for structured matches; filters are
// boolean so every match is equally relevant. Rank ordering is preserved in
// provenance for fusion fallback.
const structuredScore = 0.5

// DefaultConcurrency bounds simultaneous source queries.
const DefaultConcurrency = 8

// Options configures an Executor.
type Options struct {
	Embedder embed.Client
	Vectors  vector.Store
	Docs     docstore.Store
	Logger   telemetry.Logger
	// Concurrency bounds the fan-out; zero means DefaultConcurrency.
	Concurrency int
}

// Executor implements pipeline.Executor.
type Executor struct {
	embedder    embed.Client
	vectors     vector.Store
	docs        docstore.Store
	log         telemetry.Logger
	concurrency int
}

// New validates the options and builds an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if opts.Vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if opts.Docs == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NoopLogger{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Executor{
		embedder:    opts.Embedder,
		vectors:     opts.Vectors,
		docs:        opts.Docs,
		log:         opts.Logger,
		concurrency: opts.Concurrency,
	}, nil
}

// Execute runs every source of the plan in st. Per-source failures come
// back as recovered NodeErrors; only context termination aborts early.
func (e *Executor) Execute(ctx context.Context, st *pipeline.State) ([]pipeline.SourceResult, []pipeline.NodeError) {
	if st.Plan == nil {
		return nil, []pipeline.NodeError{pipeline.NewNodeError(pipeline.NodeExecute, fmt.Errorf("no plan to execute"))}
	}

	seeds, nodeErrs := e.resolveSeeds(st)
	embeddings, err := e.embedSeeds(ctx, seeds, len(st.Plan.VectorSources))
	if err != nil {
		// Without embeddings every vector source is lost; structured
		// sources still run.
		nodeErrs = append(nodeErrs, pipeline.NewNodeError(pipeline.NodeExecute,
			fmt.Errorf("%w: %v", pipeline.ErrEmbed, err)).WithRecovery("skip vector sources"))
		embeddings = nil
	}

	structured := make([]query.StructuredSource, len(st.Plan.StructuredSources))
	for i, ss := range st.Plan.StructuredSources {
		var errs []pipeline.NodeError
		ss.Filters, errs = normalizeFilters("structured:"+ss.Collection, ss.Filters)
		nodeErrs = append(nodeErrs, errs...)
		structured[i] = ss
	}

	var (
		mu      sync.Mutex
		results []pipeline.SourceResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, vs := range st.Plan.VectorSources {
		text, ok := seeds[i]
		if !ok {
			continue
		}
		vec, ok := embeddings[text]
		if !ok {
			continue
		}
		vs := vs
		name := vectorSourceName(vs)
		g.Go(func() error {
			cands, err := e.runVector(gctx, vs, vec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				nodeErrs = append(nodeErrs, pipeline.NewNodeError(name,
					fmt.Errorf("%w: %v", pipeline.ErrSource, err)).WithRecovery("omit source"))
				return nil
			}
			results = append(results, pipeline.SourceResult{Name: name, Weight: vs.Weight, Candidates: cands})
			return nil
		})
	}

	for _, ss := range structured {
		ss := ss
		name := "structured:" + ss.Collection
		g.Go(func() error {
			cands, err := e.runStructured(gctx, ss)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				nodeErrs = append(nodeErrs, pipeline.NewNodeError(name,
					fmt.Errorf("%w: %v", pipeline.ErrSource, err)).WithRecovery("omit source"))
				return nil
			}
			results = append(results, pipeline.SourceResult{Name: name, Weight: ss.Weight, Candidates: cands})
			return nil
		})
	}

	// Source errors are recovered inline; Wait only observes ctx.
	_ = g.Wait()
	return results, nodeErrs
}

// resolveSeeds maps each vector source index to its seed text. Sources
// whose seed is absent from the intent are skipped with a recovered error.
func (e *Executor) resolveSeeds(st *pipeline.State) (map[int]string, []pipeline.NodeError) {
	seeds := make(map[int]string, len(st.Plan.VectorSources))
	var nodeErrs []pipeline.NodeError
	for i, vs := range st.Plan.VectorSources {
		switch vs.Seed.Kind {
		case query.SeedQueryText:
			seeds[i] = st.Query
		case query.SeedReferenceTool:
			if st.Intent == nil || st.Intent.ReferenceTool == "" {
				nodeErrs = append(nodeErrs, pipeline.NewNodeError(vectorSourceName(vs),
					fmt.Errorf("%w: seed references a tool the intent does not name", pipeline.ErrSource)).
					WithRecovery("skip source"))
				continue
			}
			seeds[i] = st.Intent.ReferenceTool
		case query.SeedSemanticVariant:
			if st.Intent == nil || vs.Seed.Variant >= len(st.Intent.SemanticVariants) {
				nodeErrs = append(nodeErrs, pipeline.NewNodeError(vectorSourceName(vs),
					fmt.Errorf("%w: variant %d not present in intent", pipeline.ErrSource, vs.Seed.Variant)).
					WithRecovery("skip source"))
				continue
			}
			seeds[i] = st.Intent.SemanticVariants[vs.Seed.Variant]
		default:
			nodeErrs = append(nodeErrs, pipeline.NewNodeError(vectorSourceName(vs),
				fmt.Errorf("%w: unknown seed kind %q", pipeline.ErrSource, vs.Seed.Kind)).
				WithRecovery("skip source"))
		}
	}
	return seeds, nodeErrs
}

// embedSeeds embeds each distinct seed text exactly once, walking source
// indexes in order so the batch is deterministic.
func (e *Executor) embedSeeds(ctx context.Context, seeds map[int]string, numSources int) (map[string][]float32, error) {
	if len(seeds) == 0 {
		return nil, nil
	}
	distinct := make([]string, 0, len(seeds))
	seen := make(map[string]bool, len(seeds))
	for i := 0; i < numSources; i++ {
		if text, ok := seeds[i]; ok && !seen[text] {
			seen[text] = true
			distinct = append(distinct, text)
		}
	}
	vecs, err := e.embedder.EmbedBatch(ctx, distinct)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(distinct) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(distinct))
	}
	out := make(map[string][]float32, len(distinct))
	for i, text := range distinct {
		out[text] = vecs[i]
	}
	return out, nil
}

// runVector executes one vector sub-query.
func (e *Executor) runVector(ctx context.Context, vs query.VectorSource, vec []float32) ([]query.Candidate, error) {
	must, applied := vectorConditions(vs.Filter)
	hits, err := e.vectors.Search(ctx, vector.Request{
		Collection: vs.Collection,
		VectorName: vs.EmbeddingField,
		Vector:     vec,
		TopK:       vs.TopK,
		Must:       must,
	})
	if err != nil {
		return nil, err
	}
	cands := make([]query.Candidate, 0, len(hits))
	for rank, h := range hits {
		cands = append(cands, query.Candidate{
			ID:       canonicalID(h),
			Source:   query.SourceVector,
			Score:    clampScore(h.Score),
			Metadata: payloadMetadata(h.Payload),
			Provenance: []query.Provenance{{
				Collection:     vs.Collection,
				Seed:           seedLabel(vs.Seed),
				FiltersApplied: applied,
				RankInSource:   rank,
			}},
		})
	}
	return cands, nil
}

// runStructured executes one document-store sub-query. Matches share a
// fixed score; rank in provenance preserves store order.
func (e *Executor) runStructured(ctx context.Context, ss query.StructuredSource) ([]query.Candidate, error) {
	recs, err := e.docs.Query(ctx, ss.Collection, ss.Filters, ss.TopK)
	if err != nil {
		return nil, err
	}
	applied := make([]string, len(ss.Filters))
	for i, f := range ss.Filters {
		applied[i] = f.Field
	}
	cands := make([]query.Candidate, 0, len(recs))
	for rank, r := range recs {
		cands = append(cands, query.Candidate{
			ID:       r.ID,
			Source:   query.SourceStructured,
			Score:    structuredScore,
			Metadata: recordMetadata(r),
			Provenance: []query.Provenance{{
				Collection:     ss.Collection,
				FiltersApplied: applied,
				RankInSource:   rank,
			}},
		})
	}
	return cands, nil
}

// normalizeFilters degrades unknown operators to equality so a plan written
// by an older planner still executes. Each rewrite is reported as a
// recovered source error. The slice is copied before mutation; plans may be
// shared with the cache.
func normalizeFilters(source string, filters []query.Filter) ([]query.Filter, []pipeline.NodeError) {
	var errs []pipeline.NodeError
	out := filters
	copied := false
	for i, f := range filters {
		if query.KnownOperator(f.Op) {
			continue
		}
		if !copied {
			out = append([]query.Filter(nil), filters...)
			copied = true
		}
		errs = append(errs, pipeline.NewNodeError(source,
			fmt.Errorf("%w: unknown operator %q on %s, matching as equality", pipeline.ErrSource, f.Op, f.Field)).
			WithRecovery("treat as equality"))
		out[i].Op = query.OpEq
	}
	return out, errs
}

// canonicalID resolves a hit to the tool id carried in its payload. Point
// ids are storage UUIDs derived per collection, so two collections holding
// the same tool disagree on them; the payload id is what fusion merges on.
func canonicalID(h vector.Hit) string {
	if id, ok := h.Payload["id"].(string); ok && id != "" {
		return id
	}
	return h.ID
}

// vectorConditions maps plan filters onto the match conditions the vector
// store supports. Range operators have no vector-side equivalent and are
// left to the structured source.
func vectorConditions(filters []query.Filter) ([]vector.Condition, []string) {
	var (
		must    []vector.Condition
		applied []string
	)
	for _, f := range filters {
		switch f.Op {
		case query.OpEq:
			if s, ok := f.Value.(string); ok {
				must = append(must, vector.Condition{Field: f.Field, Value: s})
				applied = append(applied, f.Field)
			}
		case query.OpIn:
			switch v := f.Value.(type) {
			case []string:
				must = append(must, vector.Condition{Field: f.Field, Value: v})
				applied = append(applied, f.Field)
			case string:
				must = append(must, vector.Condition{Field: f.Field, Value: v})
				applied = append(applied, f.Field)
			}
		}
	}
	return must, applied
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func vectorSourceName(vs query.VectorSource) string {
	return "vector:" + vs.Collection + ":" + seedLabel(vs.Seed)
}

func seedLabel(s query.VectorSeed) string {
	if s.Kind == query.SeedSemanticVariant {
		return fmt.Sprintf("%s[%d]", s.Kind, s.Variant)
	}
	return string(s.Kind)
}

// payloadMetadata extracts display metadata from a vector payload.
func payloadMetadata(p map[string]any) query.Metadata {
	get := func(k string) string {
		if v, ok := p[k].(string); ok {
			return v
		}
		return ""
	}
	m := query.Metadata{
		Name:        get("name"),
		Category:    get("category"),
		Pricing:     get("pricingModel"),
		Interface:   get("interface"),
		Deployment:  get("deployment"),
		Description: get("description"),
	}
	switch v := p["functionality"].(type) {
	case []string:
		m.Features = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				m.Features = append(m.Features, s)
			}
		}
	}
	return m
}

// recordMetadata extracts display metadata from a document record.
func recordMetadata(r docstore.Record) query.Metadata {
	return query.Metadata{
		Name:        r.String("name"),
		Category:    r.String("category"),
		Pricing:     r.String("pricingModel"),
		Interface:   r.String("interface"),
		Deployment:  r.String("deployment"),
		Description: r.String("description"),
		Features:    r.Strings("functionality"),
	}
}
