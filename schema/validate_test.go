package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolatlas.dev/search/query"
)

func TestValidateIntentAccepts(t *testing.T) {
	s := DefaultAITools()
	issues := s.ValidateIntent(&query.IntentState{
		PrimaryGoal:    query.GoalCompare,
		ReferenceTool:  "Amazon Q",
		ComparisonMode: query.CompareVersus,
		Category:       "Code Assistant",
		Functionality:  []string{"Code Completion", "Chat"},
		PriceRange:     &query.PriceRange{Max: f64(20), Operator: "lt"},
		Confidence:     0.9,
	})
	assert.Empty(t, issues)
}

func TestValidateIntentRejections(t *testing.T) {
	s := DefaultAITools()
	cases := []struct {
		name  string
		in    *query.IntentState
		field string
	}{
		{"nil intent", nil, "intent"},
		{"unknown goal", &query.IntentState{PrimaryGoal: "browse", Confidence: 0.5}, "primaryGoal"},
		{"unknown comparison mode", &query.IntentState{PrimaryGoal: query.GoalFind, ComparisonMode: "better_than", Confidence: 0.5}, "comparisonMode"},
		{"foreign vocabulary value", &query.IntentState{PrimaryGoal: query.GoalFind, Interface: "FooBar", Confidence: 0.5}, "interface"},
		{"non-canonical vocabulary value", &query.IntentState{PrimaryGoal: query.GoalFind, Deployment: "selfhosted", Confidence: 0.5}, "deployment"},
		{"duplicate functionality", &query.IntentState{PrimaryGoal: query.GoalFind, Functionality: []string{"Chat", "Chat"}, Confidence: 0.5}, "functionality"},
		{"price range without bounds", &query.IntentState{PrimaryGoal: query.GoalFind, PriceRange: &query.PriceRange{Operator: "lt"}, Confidence: 0.5}, "priceRange"},
		{"unknown price operator", &query.IntentState{PrimaryGoal: query.GoalFind, PriceRange: &query.PriceRange{Max: f64(5), Operator: "approx"}, Confidence: 0.5}, "priceRange.operator"},
		{"too many variants", &query.IntentState{PrimaryGoal: query.GoalFind, SemanticVariants: []string{"a", "b", "c", "d"}, Confidence: 0.5}, "semanticVariants"},
		{"confidence out of range", &query.IntentState{PrimaryGoal: query.GoalFind, Confidence: 1.2}, "confidence"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			issues := s.ValidateIntent(tc.in)
			require.NotEmpty(t, issues)
			fields := make([]string, len(issues))
			for i, is := range issues {
				fields[i] = is.Field
			}
			assert.Contains(t, fields, tc.field)
		})
	}
}

func TestValidateQueryPlanAccepts(t *testing.T) {
	s := DefaultAITools()
	issues := s.ValidateQueryPlan(&query.QueryPlan{
		Strategy: query.StrategyHybrid,
		VectorSources: []query.VectorSource{{
			Collection: "semantic", EmbeddingField: "semantic",
			Seed: query.VectorSeed{Kind: query.SeedQueryText}, TopK: 50, Weight: 1.0,
		}},
		StructuredSources: []query.StructuredSource{{
			Collection: "tools", TopK: 40, Weight: 0.5,
			Filters: []query.Filter{{Field: "pricingModel", Op: query.OpIn, Value: []string{"Free"}}},
		}},
		Fusion:     query.FusionRRF,
		Confidence: 0.8,
	})
	assert.Empty(t, issues)
}

func TestValidateQueryPlanRejections(t *testing.T) {
	s := DefaultAITools()
	base := func() *query.QueryPlan {
		return &query.QueryPlan{
			Strategy: query.StrategyVectorOnly,
			VectorSources: []query.VectorSource{{
				Collection: "semantic", EmbeddingField: "semantic",
				Seed: query.VectorSeed{Kind: query.SeedQueryText}, TopK: 50, Weight: 1.0,
			}},
			Fusion:     query.FusionNone,
			Confidence: 0.8,
		}
	}
	t.Run("nil plan", func(t *testing.T) {
		assert.NotEmpty(t, s.ValidateQueryPlan(nil))
	})
	t.Run("unknown strategy", func(t *testing.T) {
		p := base()
		p.Strategy = "everything_at_once"
		assert.NotEmpty(t, s.ValidateQueryPlan(p))
	})
	t.Run("empty plan", func(t *testing.T) {
		p := base()
		p.VectorSources = nil
		assert.NotEmpty(t, s.ValidateQueryPlan(p))
	})
	t.Run("disabled collection", func(t *testing.T) {
		p := base()
		p.VectorSources[0].Collection = "retired"
		assert.NotEmpty(t, s.ValidateQueryPlan(p))
	})
	t.Run("embedding field mismatch", func(t *testing.T) {
		p := base()
		p.VectorSources[0].EmbeddingField = "functionality"
		assert.NotEmpty(t, s.ValidateQueryPlan(p))
	})
	t.Run("non-positive topK", func(t *testing.T) {
		p := base()
		p.VectorSources[0].TopK = 0
		assert.NotEmpty(t, s.ValidateQueryPlan(p))
	})
	t.Run("unfilterable filter field", func(t *testing.T) {
		p := base()
		p.StructuredSources = []query.StructuredSource{{
			Collection: "tools", TopK: 10, Weight: 1,
			Filters: []query.Filter{{Field: "tagline", Op: query.OpEq, Value: "x"}},
		}}
		assert.NotEmpty(t, s.ValidateQueryPlan(p))
	})
	t.Run("unknown operator", func(t *testing.T) {
		p := base()
		p.StructuredSources = []query.StructuredSource{{
			Collection: "tools", TopK: 10, Weight: 1,
			Filters: []query.Filter{{Field: "price", Op: "~=", Value: 3.0}},
		}}
		assert.NotEmpty(t, s.ValidateQueryPlan(p))
	})
	t.Run("negative refinement cycles", func(t *testing.T) {
		p := base()
		p.MaxRefinementCycles = -1
		assert.NotEmpty(t, s.ValidateQueryPlan(p))
	})
}
