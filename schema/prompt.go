package schema

import (
	"fmt"
	"sort"
	"strings"

	"toolatlas.dev/search/query"
)

// vocabularyOrder fixes the order vocabularies are rendered in. Any
// vocabulary not listed here is appended in sorted order, keeping prompt
// output byte-identical for identical schemas.
var vocabularyOrder = []string{
	"categories", "functionality", "userTypes", "interface",
	"deployment", "industries", "pricingModels", "billingPeriods",
}

func (s *Schema) orderedVocabularies() []string {
	out := make([]string, 0, len(s.Vocabularies))
	seen := make(map[string]bool, len(s.Vocabularies))
	for _, name := range vocabularyOrder {
		if _, ok := s.Vocabularies[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(s.Vocabularies))
	for name := range s.Vocabularies {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// IntentExtractionPrompt renders the system prompt for the intent
// extractor. It is a pure function of the schema: identical schema input
// produces byte-identical output. Every vocabulary value appears verbatim.
func (s *Schema) IntentExtractionPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You extract structured search intent for the %s domain (schema %s).\n", s.Name, s.Version)
	b.WriteString("Given a user query, return a single JSON object describing the intent.\n")
	b.WriteString("Use only values from the vocabularies below, written exactly as listed. ")
	b.WriteString("Omit fields the query carries no signal for.\n\n")

	b.WriteString("Vocabularies:\n")
	for _, name := range s.orderedVocabularies() {
		fmt.Fprintf(&b, "- %s: %s\n", name, strings.Join(s.Vocabularies[name], ", "))
	}
	b.WriteString("\nFields:\n")
	writeFields(&b, s.IntentFields, "")
	fmt.Fprintf(&b, "\nPrice range operators: %s\n", strings.Join(s.PriceOperators, ", "))

	b.WriteString(`
Rules:
- primaryGoal is one of: find, compare, recommend, explore, analyze, explain.
- referenceTool preserves the casing used in the query.
- comparisonMode is one of similar_to, vs, alternative_to and only set when a reference tool is named.
- functionality is a list with no duplicates.
- semanticVariants holds up to 3 short paraphrases of the query.
- confidence is your overall confidence in [0, 1].

Examples:
Query: "free cli"
{"primaryGoal":"find","pricingModel":"Free","interface":"CLI","confidence":0.9}

Query: "self hosted code assistant for enterprises"
{"primaryGoal":"find","category":"Code Assistant","deployment":"Self-Hosted","userType":"Enterprise","confidence":0.85}

Query: "Cursor alternative but cheaper"
{"primaryGoal":"find","referenceTool":"Cursor","comparisonMode":"alternative_to","constraints":["cheaper"],"confidence":0.8}

Query: "Amazon Q vs GitHub Copilot"
{"primaryGoal":"compare","referenceTool":"Amazon Q","comparisonMode":"vs","confidence":0.9}

Query: "tools for generating unit tests under $20 a month"
{"primaryGoal":"find","functionality":["Testing"],"priceRange":{"max":20,"operator":"lt"},"billingPeriod":"Monthly","confidence":0.75}

Return ONLY the JSON object.
`)
	return b.String()
}

func writeFields(b *strings.Builder, fields []FieldSpec, indent string) {
	for _, f := range fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(b, "%s- %s (%s, %s)", indent, f.Name, f.Type, req)
		if f.Description != "" {
			fmt.Fprintf(b, ": %s", f.Description)
		}
		if f.Vocabulary != "" {
			fmt.Fprintf(b, " [vocabulary: %s]", f.Vocabulary)
		}
		if len(f.EnumValues) > 0 {
			fmt.Fprintf(b, " [one of: %s]", strings.Join(f.EnumValues, ", "))
		}
		b.WriteString("\n")
		if len(f.Children) > 0 {
			writeFields(b, f.Children, indent+"  ")
		}
	}
}

// QueryPlanningPrompt renders the system prompt for LLM-assisted planning
// over the given enabled collections. Like IntentExtractionPrompt it is
// deterministic for identical inputs.
func (s *Schema) QueryPlanningPrompt(collections []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You plan retrieval for the %s domain (schema %s).\n", s.Name, s.Version)
	b.WriteString("Given a structured intent, produce a JSON retrieval plan.\n\n")
	b.WriteString("Available vector collections:\n")
	for _, name := range collections {
		for _, c := range s.VectorCollections {
			if c.Name == name && c.Enabled {
				fmt.Fprintf(&b, "- %s (field %s): %s\n", c.Name, c.EmbeddingField, c.Description)
			}
		}
	}
	fmt.Fprintf(&b, "\nStructured collection: %s\n", s.Structured.Collection)
	fmt.Fprintf(&b, "Filterable fields: %s\n", strings.Join(s.Structured.FilterableFields, ", "))
	b.WriteString("\nStrategies: vector_only, structured_only, hybrid, multi_collection_hybrid.\n")
	b.WriteString("Fusion methods: rrf, weighted_sum, none.\n")
	b.WriteString("Return ONLY the JSON plan object.\n")
	return b.String()
}

// IntentJSONSchema builds the JSON Schema document the LLM's structured
// output is validated against. Vocabulary-typed fields allow any string so
// that near-miss values survive parsing and are handled by
// canonicalization; enum-typed fields are constrained directly.
func (s *Schema) IntentJSONSchema() map[string]any {
	props := map[string]any{
		"primaryGoal": map[string]any{
			"type": "string",
			"enum": goalStrings(),
		},
		"referenceTool":  map[string]any{"type": "string"},
		"comparisonMode": map[string]any{"type": "string", "enum": comparisonStrings()},
		"functionality": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"priceRange": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"min":      map[string]any{"type": "number"},
				"max":      map[string]any{"type": "number"},
				"operator": map[string]any{"type": "string", "enum": toAnySlice(s.PriceOperators)},
			},
			"required": []any{"operator"},
		},
		"constraints": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"semanticVariants": map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string"},
			"maxItems": 3,
		},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	}
	for _, field := range query.VocabularyFieldNames() {
		props[field] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             []any{"primaryGoal", "confidence"},
		"additionalProperties": false,
	}
}

func goalStrings() []any {
	gs := query.Goals()
	out := make([]any, len(gs))
	for i, g := range gs {
		out[i] = string(g)
	}
	return out
}

func comparisonStrings() []any {
	ms := query.ComparisonModes()
	out := make([]any, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
