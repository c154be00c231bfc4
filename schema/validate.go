package schema

import (
	"fmt"

	"toolatlas.dev/search/query"
)

// Issue describes a single validation failure.
type Issue struct {
	Field   string
	Message string
}

func (i Issue) String() string { return i.Field + ": " + i.Message }

func issuef(field, format string, args ...any) Issue {
	return Issue{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateIntent checks an extracted intent against the schema. An empty
// result means the intent is valid. Vocabulary-typed fields must already be
// in canonical form; use Canonicalize before validating.
func (s *Schema) ValidateIntent(in *query.IntentState) []Issue {
	var issues []Issue
	if in == nil {
		return []Issue{{Field: "intent", Message: "intent is required"}}
	}
	goalOK := false
	for _, g := range query.Goals() {
		if in.PrimaryGoal == g {
			goalOK = true
			break
		}
	}
	if !goalOK {
		issues = append(issues, issuef("primaryGoal", "unknown goal %q", in.PrimaryGoal))
	}
	if in.ComparisonMode != "" {
		ok := false
		for _, m := range query.ComparisonModes() {
			if in.ComparisonMode == m {
				ok = true
				break
			}
		}
		if !ok {
			issues = append(issues, issuef("comparisonMode", "unknown mode %q", in.ComparisonMode))
		}
	}
	vocabs := IntentVocabularies()
	for field, value := range in.VocabularyFields() {
		vocab := vocabs[field]
		if !s.member(vocab, value) {
			issues = append(issues, issuef(field, "value %q is not in vocabulary %q", value, vocab))
		}
	}
	seen := make(map[string]bool, len(in.Functionality))
	for _, f := range in.Functionality {
		if !s.member("functionality", f) {
			issues = append(issues, issuef("functionality", "value %q is not in vocabulary", f))
		}
		if seen[f] {
			issues = append(issues, issuef("functionality", "duplicate value %q", f))
		}
		seen[f] = true
	}
	if pr := in.PriceRange; pr != nil {
		if !s.PriceOperator(pr.Operator) {
			issues = append(issues, issuef("priceRange.operator", "unknown operator %q", pr.Operator))
		}
		if pr.Min == nil && pr.Max == nil {
			issues = append(issues, issuef("priceRange", "needs min or max"))
		}
	}
	if len(in.SemanticVariants) > 3 {
		issues = append(issues, issuef("semanticVariants", "at most 3 variants, got %d", len(in.SemanticVariants)))
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		issues = append(issues, issuef("confidence", "%v outside [0, 1]", in.Confidence))
	}
	return issues
}

func (s *Schema) member(vocabulary, value string) bool {
	values, ok := s.Vocabularies[vocabulary]
	if !ok {
		return false
	}
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

// ValidateQueryPlan checks a plan against the schema: every structured
// filter field is filterable, every vector collection is enabled, and the
// plan is not empty. An empty result means the plan is valid.
func (s *Schema) ValidateQueryPlan(p *query.QueryPlan) []Issue {
	var issues []Issue
	if p == nil {
		return []Issue{{Field: "plan", Message: "plan is required"}}
	}
	if !query.KnownStrategy(p.Strategy) {
		issues = append(issues, issuef("strategy", "unknown strategy %q", p.Strategy))
	}
	if !query.KnownFusion(p.Fusion) {
		issues = append(issues, issuef("fusion", "unknown fusion %q", p.Fusion))
	}
	if p.SourceCount() == 0 {
		issues = append(issues, issuef("sources", "plan has no sources"))
	}
	for i, vs := range p.VectorSources {
		coll, ok := s.CollectionByName(vs.Collection)
		if !ok {
			issues = append(issues, issuef(fmt.Sprintf("vectorSources[%d]", i), "collection %q is not enabled", vs.Collection))
			continue
		}
		if vs.EmbeddingField != coll.EmbeddingField {
			issues = append(issues, issuef(fmt.Sprintf("vectorSources[%d]", i),
				"embedding field %q does not match collection field %q", vs.EmbeddingField, coll.EmbeddingField))
		}
		if vs.TopK <= 0 {
			issues = append(issues, issuef(fmt.Sprintf("vectorSources[%d].topK", i), "must be positive"))
		}
		for _, f := range vs.Filter {
			if !s.IsFilterable(f.Field) {
				issues = append(issues, issuef(fmt.Sprintf("vectorSources[%d].filter", i), "field %q is not filterable", f.Field))
			}
		}
	}
	for i, ss := range p.StructuredSources {
		if ss.TopK <= 0 {
			issues = append(issues, issuef(fmt.Sprintf("structuredSources[%d].topK", i), "must be positive"))
		}
		for _, f := range ss.Filters {
			if !s.IsFilterable(f.Field) {
				issues = append(issues, issuef(fmt.Sprintf("structuredSources[%d].filters", i), "field %q is not filterable", f.Field))
			}
			if !query.KnownOperator(f.Op) {
				issues = append(issues, issuef(fmt.Sprintf("structuredSources[%d].filters", i), "unknown operator %q", f.Op))
			}
		}
	}
	if p.MaxRefinementCycles < 0 {
		issues = append(issues, issuef("maxRefinementCycles", "must be >= 0"))
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		issues = append(issues, issuef("confidence", "%v outside [0, 1]", p.Confidence))
	}
	return issues
}
