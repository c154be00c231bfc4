package execute

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolatlas.dev/search/query"
	"toolatlas.dev/search/runtime/docstore"
	"toolatlas.dev/search/runtime/pipeline"
	"toolatlas.dev/search/runtime/vector"
	"toolatlas.dev/search/schema"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, texts)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type fakeVectors struct {
	mu   sync.Mutex
	reqs []vector.Request
	hits map[string][]vector.Hit
	errs map[string]error
}

func (f *fakeVectors) Search(_ context.Context, req vector.Request) ([]vector.Hit, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if err := f.errs[req.Collection]; err != nil {
		return nil, err
	}
	return f.hits[req.Collection], nil
}

func (f *fakeVectors) Upsert(context.Context, string, []vector.Point) error { return nil }

type fakeDocs struct {
	mu      sync.Mutex
	filters [][]query.Filter
	recs    []docstore.Record
	err     error
}

func (f *fakeDocs) Query(_ context.Context, _ string, filters []query.Filter, _ int) ([]docstore.Record, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filters)
	f.mu.Unlock()
	return f.recs, f.err
}

func newExecutor(t *testing.T, emb *fakeEmbedder, vecs *fakeVectors, docs *fakeDocs) *Executor {
	t.Helper()
	e, err := New(Options{Embedder: emb, Vectors: vecs, Docs: docs})
	require.NoError(t, err)
	return e
}

func hybridState(in *query.IntentState, plan *query.QueryPlan) *pipeline.State {
	return &pipeline.State{
		Schema: schema.DefaultAITools(),
		Query:  "code review tool",
		Intent: in,
		Plan:   plan,
	}
}

func TestExecuteHybridPlan(t *testing.T) {
	emb := &fakeEmbedder{}
	vecs := &fakeVectors{hits: map[string][]vector.Hit{
		"semantic": {
			{ID: "t1", Score: 0.93, Payload: map[string]any{"name": "ReviewBot", "category": "Code Assistant"}},
			{ID: "t2", Score: 0.81, Payload: map[string]any{"name": "LintPal"}},
		},
	}}
	docs := &fakeDocs{recs: []docstore.Record{
		{ID: "t2", Fields: map[string]any{"name": "LintPal", "functionality": []string{"Code Review"}}},
	}}
	e := newExecutor(t, emb, vecs, docs)

	st := hybridState(&query.IntentState{PrimaryGoal: query.GoalFind, Confidence: 0.8}, &query.QueryPlan{
		Strategy: query.StrategyHybrid,
		VectorSources: []query.VectorSource{{
			Collection: "semantic", EmbeddingField: "semantic",
			Seed: query.VectorSeed{Kind: query.SeedQueryText},
			TopK: 50, Weight: 1.0,
			Filter: []query.Filter{{Field: "category", Op: query.OpIn, Value: []string{"Code Assistant"}}},
		}},
		StructuredSources: []query.StructuredSource{{
			Collection: "tools", TopK: 40, Weight: 0.5,
			Filters: []query.Filter{{Field: "functionality", Op: query.OpIn, Value: []string{"Code Review"}}},
		}},
		Fusion: query.FusionRRF,
	})

	results, nodeErrs := e.Execute(context.Background(), st)
	assert.Empty(t, nodeErrs)
	require.Len(t, results, 2)

	byName := map[string]pipeline.SourceResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	vr, ok := byName["vector:semantic:query_text"]
	require.True(t, ok)
	require.Len(t, vr.Candidates, 2)
	assert.Equal(t, "t1", vr.Candidates[0].ID)
	assert.Equal(t, query.SourceVector, vr.Candidates[0].Source)
	assert.Equal(t, 0.93, vr.Candidates[0].Score)
	assert.Equal(t, "ReviewBot", vr.Candidates[0].Metadata.Name)
	assert.Equal(t, 0, vr.Candidates[0].Provenance[0].RankInSource)
	assert.Equal(t, 1, vr.Candidates[1].Provenance[0].RankInSource)

	sr, ok := byName["structured:tools"]
	require.True(t, ok)
	require.Len(t, sr.Candidates, 1)
	assert.Equal(t, structuredScore, sr.Candidates[0].Score)
	assert.Equal(t, query.SourceStructured, sr.Candidates[0].Source)
	assert.Equal(t, []string{"functionality"}, sr.Candidates[0].Provenance[0].FiltersApplied)

	// One embedding batch with the single distinct seed text.
	require.Len(t, emb.calls, 1)
	assert.Equal(t, []string{"code review tool"}, emb.calls[0])

	// The vector request carried the payload filter and named vector.
	require.Len(t, vecs.reqs, 1)
	assert.Equal(t, "semantic", vecs.reqs[0].VectorName)
	require.Len(t, vecs.reqs[0].Must, 1)
	assert.Equal(t, "category", vecs.reqs[0].Must[0].Field)
}

func TestExecuteDistinctSeedsEmbeddedOnce(t *testing.T) {
	emb := &fakeEmbedder{}
	vecs := &fakeVectors{hits: map[string][]vector.Hit{}}
	e := newExecutor(t, emb, vecs, &fakeDocs{})

	st := hybridState(&query.IntentState{
		PrimaryGoal:      query.GoalExplore,
		SemanticVariants: []string{"ai coding helper"},
		Confidence:       0.7,
	}, &query.QueryPlan{
		Strategy: query.StrategyHybrid,
		VectorSources: []query.VectorSource{
			{Collection: "semantic", EmbeddingField: "semantic", Seed: query.VectorSeed{Kind: query.SeedQueryText}, TopK: 50, Weight: 1.0},
			{Collection: "functionality", EmbeddingField: "functionality", Seed: query.VectorSeed{Kind: query.SeedQueryText}, TopK: 40, Weight: 0.4},
			{Collection: "semantic", EmbeddingField: "semantic", Seed: query.VectorSeed{Kind: query.SeedSemanticVariant, Variant: 0}, TopK: 40, Weight: 0.3},
		},
		Fusion: query.FusionWeightedSum,
	})

	_, nodeErrs := e.Execute(context.Background(), st)
	assert.Empty(t, nodeErrs)
	require.Len(t, emb.calls, 1)
	assert.Equal(t, []string{"code review tool", "ai coding helper"}, emb.calls[0])
}

func TestExecuteSourceFailureIsIsolated(t *testing.T) {
	emb := &fakeEmbedder{}
	vecs := &fakeVectors{
		hits: map[string][]vector.Hit{"semantic": {{ID: "t1", Score: 0.9}}},
		errs: map[string]error{"functionality": fmt.Errorf("connection refused")},
	}
	e := newExecutor(t, emb, vecs, &fakeDocs{})

	st := hybridState(&query.IntentState{PrimaryGoal: query.GoalFind, Confidence: 0.8}, &query.QueryPlan{
		Strategy: query.StrategyMultiCollectionHybrid,
		VectorSources: []query.VectorSource{
			{Collection: "semantic", EmbeddingField: "semantic", Seed: query.VectorSeed{Kind: query.SeedQueryText}, TopK: 50, Weight: 1.0},
			{Collection: "functionality", EmbeddingField: "functionality", Seed: query.VectorSeed{Kind: query.SeedQueryText}, TopK: 40, Weight: 0.4},
		},
		Fusion: query.FusionRRF,
	})

	results, nodeErrs := e.Execute(context.Background(), st)
	require.Len(t, results, 1)
	assert.Equal(t, "vector:semantic:query_text", results[0].Name)
	require.Len(t, nodeErrs, 1)
	assert.True(t, nodeErrs[0].Recovered)
	assert.ErrorIs(t, nodeErrs[0].Err, pipeline.ErrSource)
	assert.Equal(t, "vector:functionality:query_text", nodeErrs[0].Node)
}

func TestExecuteMissingReferenceToolSkipsSource(t *testing.T) {
	emb := &fakeEmbedder{}
	vecs := &fakeVectors{hits: map[string][]vector.Hit{}}
	e := newExecutor(t, emb, vecs, &fakeDocs{})

	st := hybridState(&query.IntentState{PrimaryGoal: query.GoalCompare, Confidence: 0.8}, &query.QueryPlan{
		Strategy: query.StrategyVectorOnly,
		VectorSources: []query.VectorSource{
			{Collection: "semantic", EmbeddingField: "semantic", Seed: query.VectorSeed{Kind: query.SeedReferenceTool}, TopK: 50, Weight: 1.0},
		},
		Fusion: query.FusionNone,
	})

	results, nodeErrs := e.Execute(context.Background(), st)
	assert.Empty(t, results)
	require.Len(t, nodeErrs, 1)
	assert.True(t, nodeErrs[0].Recovered)
	assert.Empty(t, emb.calls)
}

func TestExecuteEmbedFailureKeepsStructuredSources(t *testing.T) {
	emb := &fakeEmbedder{err: fmt.Errorf("embedding service down")}
	vecs := &fakeVectors{}
	docs := &fakeDocs{recs: []docstore.Record{{ID: "t9", Fields: map[string]any{"name": "GridQL"}}}}
	e := newExecutor(t, emb, vecs, docs)

	st := hybridState(&query.IntentState{PrimaryGoal: query.GoalFind, Confidence: 0.8}, &query.QueryPlan{
		Strategy: query.StrategyHybrid,
		VectorSources: []query.VectorSource{
			{Collection: "semantic", EmbeddingField: "semantic", Seed: query.VectorSeed{Kind: query.SeedQueryText}, TopK: 50, Weight: 1.0},
		},
		StructuredSources: []query.StructuredSource{{
			Collection: "tools", TopK: 40, Weight: 0.5,
			Filters: []query.Filter{{Field: "pricingModel", Op: query.OpEq, Value: "Free"}},
		}},
		Fusion: query.FusionRRF,
	})

	results, nodeErrs := e.Execute(context.Background(), st)
	require.Len(t, results, 1)
	assert.Equal(t, "structured:tools", results[0].Name)
	require.NotEmpty(t, nodeErrs)
	assert.ErrorIs(t, nodeErrs[0].Err, pipeline.ErrEmbed)
	assert.True(t, nodeErrs[0].Recovered)
}

func TestExecuteVectorHitsKeyedByPayloadID(t *testing.T) {
	emb := &fakeEmbedder{}
	vecs := &fakeVectors{hits: map[string][]vector.Hit{
		"semantic": {
			{ID: "5c6e2bcd-0001-4a1a-9d9f-000000000010", Score: 0.9,
				Payload: map[string]any{"id": "aider", "name": "Aider"}},
			{ID: "t7", Score: 0.5, Payload: map[string]any{"name": "NoIDTool"}},
		},
		"interface": {
			{ID: "5c6e2bcd-0001-4a1a-9d9f-000000000011", Score: 0.7,
				Payload: map[string]any{"id": "aider", "name": "Aider"}},
		},
	}}
	e := newExecutor(t, emb, vecs, &fakeDocs{})

	st := hybridState(&query.IntentState{PrimaryGoal: query.GoalFind, Confidence: 0.8}, &query.QueryPlan{
		Strategy: query.StrategyMultiCollectionHybrid,
		VectorSources: []query.VectorSource{
			{Collection: "semantic", EmbeddingField: "semantic", Seed: query.VectorSeed{Kind: query.SeedQueryText}, TopK: 50, Weight: 1.0},
			{Collection: "interface", EmbeddingField: "interface", Seed: query.VectorSeed{Kind: query.SeedQueryText}, TopK: 40, Weight: 0.4},
		},
		Fusion: query.FusionRRF,
	})

	results, nodeErrs := e.Execute(context.Background(), st)
	assert.Empty(t, nodeErrs)
	require.Len(t, results, 2)

	byName := map[string]pipeline.SourceResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	// Collections store the same tool under different point uuids; both
	// candidates carry the payload id so fusion merges them into one.
	sem := byName["vector:semantic:query_text"]
	require.Len(t, sem.Candidates, 2)
	assert.Equal(t, "aider", sem.Candidates[0].ID)
	assert.Equal(t, "t7", sem.Candidates[1].ID)
	iface := byName["vector:interface:query_text"]
	require.Len(t, iface.Candidates, 1)
	assert.Equal(t, "aider", iface.Candidates[0].ID)
}

func TestExecuteUnknownOperatorDegradesToEquality(t *testing.T) {
	emb := &fakeEmbedder{}
	docs := &fakeDocs{recs: []docstore.Record{{ID: "t3", Fields: map[string]any{"name": "OpsPal"}}}}
	e := newExecutor(t, emb, &fakeVectors{}, docs)

	st := hybridState(&query.IntentState{PrimaryGoal: query.GoalFind, Confidence: 0.8}, &query.QueryPlan{
		Strategy: query.StrategyStructuredOnly,
		StructuredSources: []query.StructuredSource{{
			Collection: "tools", TopK: 40, Weight: 0.5,
			Filters: []query.Filter{
				{Field: "pricingModel", Op: "~", Value: "Free"},
				{Field: "interface", Op: query.OpIn, Value: []string{"CLI"}},
			},
		}},
		Fusion: query.FusionNone,
	})

	results, nodeErrs := e.Execute(context.Background(), st)
	require.Len(t, results, 1)
	require.Len(t, results[0].Candidates, 1)

	require.Len(t, nodeErrs, 1)
	assert.True(t, nodeErrs[0].Recovered)
	assert.ErrorIs(t, nodeErrs[0].Err, pipeline.ErrSource)
	assert.Equal(t, "structured:tools", nodeErrs[0].Node)

	// The store saw equality in place of the unknown operator while the
	// plan itself stayed untouched.
	require.Len(t, docs.filters, 1)
	require.Len(t, docs.filters[0], 2)
	assert.Equal(t, query.OpEq, docs.filters[0][0].Op)
	assert.Equal(t, query.OpIn, docs.filters[0][1].Op)
	assert.Equal(t, query.Operator("~"), st.Plan.StructuredSources[0].Filters[0].Op)
}

func TestExecuteScoreClamped(t *testing.T) {
	emb := &fakeEmbedder{}
	vecs := &fakeVectors{hits: map[string][]vector.Hit{
		"semantic": {{ID: "hi", Score: 1.2}, {ID: "lo", Score: -0.3}},
	}}
	e := newExecutor(t, emb, vecs, &fakeDocs{})

	st := hybridState(&query.IntentState{PrimaryGoal: query.GoalFind, Confidence: 0.8}, &query.QueryPlan{
		Strategy: query.StrategyVectorOnly,
		VectorSources: []query.VectorSource{
			{Collection: "semantic", EmbeddingField: "semantic", Seed: query.VectorSeed{Kind: query.SeedQueryText}, TopK: 50, Weight: 1.0},
		},
		Fusion: query.FusionNone,
	})

	results, nodeErrs := e.Execute(context.Background(), st)
	assert.Empty(t, nodeErrs)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Candidates[0].Score)
	assert.Equal(t, 0.0, results[0].Candidates[1].Score)
}
