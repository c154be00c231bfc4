package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntentExtractionPromptContainsEveryVocabularyValue(t *testing.T) {
	s := DefaultAITools()
	prompt := s.IntentExtractionPrompt()
	for name, values := range s.Vocabularies {
		for _, v := range values {
			assert.Contains(t, prompt, v, "vocabulary %s value %s missing", name, v)
		}
	}
	assert.Contains(t, prompt, "Return ONLY the JSON object.")
}

func TestIntentExtractionPromptDeterministic(t *testing.T) {
	s := DefaultAITools()
	first := s.IntentExtractionPrompt()
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, DefaultAITools().IntentExtractionPrompt())
	}
}

// Prompt rendering walks Go maps; the fixed vocabulary ordering must hold
// for arbitrary schemas, not just the built-in one.
func TestPromptDeterminismProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	genVocabNames := gen.SliceOfN(4, gen.RegexMatch(`[a-z]{3,10}`))
	properties.Property("identical schemas render identical prompts", prop.ForAll(
		func(names []string) bool {
			build := func() *Schema {
				s := DefaultAITools()
				for _, n := range names {
					s.Vocabularies[n] = []string{"A", "B"}
				}
				return s
			}
			return build().IntentExtractionPrompt() == build().IntentExtractionPrompt()
		},
		genVocabNames,
	))
	properties.TestingRun(t)
}

func TestQueryPlanningPromptListsEnabledCollections(t *testing.T) {
	s := DefaultAITools()
	prompt := s.QueryPlanningPrompt([]string{"semantic", "functionality"})
	assert.Contains(t, prompt, "semantic")
	assert.Contains(t, prompt, "functionality")
	assert.Contains(t, prompt, s.Structured.Collection)
	assert.NotContains(t, strings.Split(prompt, "Structured collection")[0], "interface (field")
}

func TestIntentJSONSchemaShape(t *testing.T) {
	s := DefaultAITools()
	raw := s.IntentJSONSchema()
	data, err := json.Marshal(raw)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, false, doc["additionalProperties"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"primaryGoal", "confidence", "category", "interface", "priceRange", "semanticVariants"} {
		assert.Contains(t, props, field)
	}
	// Vocabulary fields stay plain strings so near-miss values reach
	// canonicalization instead of failing schema validation.
	category, ok := props["category"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, category, "enum")

	goal, ok := props["primaryGoal"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, goal, "enum")

	required, ok := doc["required"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"primaryGoal", "confidence"}, required)
}
