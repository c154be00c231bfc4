package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolatlas.dev/search/query"
)

func f64(v float64) *float64 { return &v }

func TestBuildFiltersVocabularyFields(t *testing.T) {
	s := DefaultAITools()
	out := s.BuildFilters(&query.IntentState{
		PrimaryGoal: query.GoalFind,
		Interface:   "CLI",
		Deployment:  "Self-Hosted",
		Confidence:  0.8,
	})
	require.Len(t, out, 2)
	assert.Equal(t, query.Filter{Field: "interface", Op: query.OpIn, Value: []string{"CLI"}}, out[0])
	assert.Equal(t, query.Filter{Field: "deployment", Op: query.OpIn, Value: []string{"Self-Hosted"}}, out[1])
}

func TestBuildFiltersCanonicalizesValues(t *testing.T) {
	s := DefaultAITools()
	out := s.BuildFilters(&query.IntentState{
		PrimaryGoal: query.GoalFind,
		Deployment:  "selfhosted",
		Confidence:  0.8,
	})
	require.Len(t, out, 1)
	assert.Equal(t, []string{"Self-Hosted"}, out[0].Value)
}

func TestBuildFiltersFunctionalityList(t *testing.T) {
	s := DefaultAITools()
	out := s.BuildFilters(&query.IntentState{
		PrimaryGoal:   query.GoalFind,
		Functionality: []string{"code review", "Debugging"},
		Confidence:    0.8,
	})
	require.Len(t, out, 1)
	assert.Equal(t, "functionality", out[0].Field)
	assert.Equal(t, query.OpIn, out[0].Op)
	assert.Equal(t, []string{"Code Review", "Debugging"}, out[0].Value)
}

func TestBuildFiltersPriceRange(t *testing.T) {
	s := DefaultAITools()
	cases := []struct {
		name string
		pr   *query.PriceRange
		want []query.Filter
	}{
		{"lt max", &query.PriceRange{Max: f64(20), Operator: "lt"},
			[]query.Filter{{Field: "price", Op: query.OpLT, Value: 20.0}}},
		{"gte min", &query.PriceRange{Min: f64(10), Operator: "gte"},
			[]query.Filter{{Field: "price", Op: query.OpGTE, Value: 10.0}}},
		{"eq", &query.PriceRange{Min: f64(0), Operator: "eq"},
			[]query.Filter{{Field: "price", Op: query.OpEq, Value: 0.0}}},
		{"between", &query.PriceRange{Min: f64(10), Max: f64(30), Operator: "between"},
			[]query.Filter{
				{Field: "price", Op: query.OpGTE, Value: 10.0},
				{Field: "price", Op: query.OpLTE, Value: 30.0},
			}},
		{"unknown operator dropped", &query.PriceRange{Max: f64(20), Operator: "approx"}, nil},
		{"missing bound dropped", &query.PriceRange{Operator: "lt"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := s.BuildFilters(&query.IntentState{PrimaryGoal: query.GoalFind, PriceRange: tc.pr, Confidence: 0.8})
			assert.Equal(t, tc.want, out)
		})
	}
}

func TestBuildFiltersConstraintResolvesToVocabulary(t *testing.T) {
	s := DefaultAITools()
	out := s.BuildFilters(&query.IntentState{
		PrimaryGoal: query.GoalFind,
		Constraints: []string{"open source"},
		Confidence:  0.8,
	})
	require.Len(t, out, 1)
	assert.Equal(t, "pricingModel", out[0].Field)
	assert.Equal(t, []string{"Open Source"}, out[0].Value)
}

func TestBuildFiltersConstraintSkippedWhenFieldAlreadyFiltered(t *testing.T) {
	s := DefaultAITools()
	out := s.BuildFilters(&query.IntentState{
		PrimaryGoal:  query.GoalFind,
		PricingModel: "Free",
		Constraints:  []string{"open source"},
		Confidence:   0.8,
	})
	require.Len(t, out, 1)
	assert.Equal(t, []string{"Free"}, out[0].Value)
}

func TestBuildFiltersConstraintWithoutMatchIgnored(t *testing.T) {
	s := DefaultAITools()
	out := s.BuildFilters(&query.IntentState{
		PrimaryGoal: query.GoalFind,
		Constraints: []string{"cheaper"},
		Confidence:  0.8,
	})
	assert.Empty(t, out)
}

func TestBuildFiltersNilIntent(t *testing.T) {
	s := DefaultAITools()
	assert.Nil(t, s.BuildFilters(nil))
}

func TestBuildFiltersDeterministicOrder(t *testing.T) {
	s := DefaultAITools()
	in := &query.IntentState{
		PrimaryGoal:   query.GoalFind,
		Category:      "Code Assistant",
		Interface:     "CLI",
		Deployment:    "Cloud",
		PricingModel:  "Freemium",
		Functionality: []string{"Chat"},
		Confidence:    0.8,
	}
	first := s.BuildFilters(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.BuildFilters(in))
	}
	fields := make([]string, len(first))
	for i, f := range first {
		fields[i] = f.Field
	}
	assert.Equal(t, []string{"category", "interface", "deployment", "pricingModel", "functionality"}, fields)
}
