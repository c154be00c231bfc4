package schema

import (
	"toolatlas.dev/search/query"
)

// priceField is the numeric document field targeted by price-range filters.
const priceField = "price"

// BuildFilters derives the structured filter list for an intent:
// single-valued vocabulary fields become equality clauses, functionality
// becomes an "in" clause, the price range maps to the corresponding
// relational operators, and free-form constraints contribute a clause only
// when they canonicalize to exactly one vocabulary value. Fields that are
// not filterable in the structured database are skipped. Output order is
// deterministic.
func (s *Schema) BuildFilters(in *query.IntentState) []query.Filter {
	if in == nil {
		return nil
	}
	var out []query.Filter
	vocabs := IntentVocabularies()
	fields := in.VocabularyFields()
	for _, field := range query.VocabularyFieldNames() {
		value, ok := fields[field]
		if !ok || !s.IsFilterable(field) {
			continue
		}
		if canon, ok := s.Canonicalize(vocabs[field], value); ok {
			out = append(out, query.Filter{Field: field, Op: query.OpIn, Value: []string{canon}})
		}
	}
	if len(in.Functionality) > 0 && s.IsFilterable("functionality") {
		values := make([]string, 0, len(in.Functionality))
		for _, f := range in.Functionality {
			if canon, ok := s.Canonicalize("functionality", f); ok {
				values = append(values, canon)
			}
		}
		if len(values) > 0 {
			out = append(out, query.Filter{Field: "functionality", Op: query.OpIn, Value: values})
		}
	}
	out = append(out, s.priceFilters(in.PriceRange)...)
	out = append(out, s.constraintFilters(in, out)...)
	return out
}

func (s *Schema) priceFilters(pr *query.PriceRange) []query.Filter {
	if pr == nil || !s.IsFilterable(priceField) || !s.PriceOperator(pr.Operator) {
		return nil
	}
	switch pr.Operator {
	case "lt":
		if pr.Max != nil {
			return []query.Filter{{Field: priceField, Op: query.OpLT, Value: *pr.Max}}
		}
	case "lte":
		if pr.Max != nil {
			return []query.Filter{{Field: priceField, Op: query.OpLTE, Value: *pr.Max}}
		}
	case "gt":
		if pr.Min != nil {
			return []query.Filter{{Field: priceField, Op: query.OpGT, Value: *pr.Min}}
		}
	case "gte":
		if pr.Min != nil {
			return []query.Filter{{Field: priceField, Op: query.OpGTE, Value: *pr.Min}}
		}
	case "eq":
		if pr.Min != nil {
			return []query.Filter{{Field: priceField, Op: query.OpEq, Value: *pr.Min}}
		}
	case "between":
		var fs []query.Filter
		if pr.Min != nil {
			fs = append(fs, query.Filter{Field: priceField, Op: query.OpGTE, Value: *pr.Min})
		}
		if pr.Max != nil {
			fs = append(fs, query.Filter{Field: priceField, Op: query.OpLTE, Value: *pr.Max})
		}
		return fs
	}
	return nil
}

// constraintFilters maps free-form constraints ("offline", "open source")
// onto vocabulary clauses. A constraint contributes only when it matches
// exactly one value across all vocabularies backing filterable fields, and
// only when that field is not already filtered.
func (s *Schema) constraintFilters(in *query.IntentState, existing []query.Filter) []query.Filter {
	if len(in.Constraints) == 0 {
		return nil
	}
	filtered := make(map[string]bool, len(existing))
	for _, f := range existing {
		filtered[f.Field] = true
	}
	vocabs := IntentVocabularies()
	var out []query.Filter
	for _, c := range in.Constraints {
		matchField, matchValue := "", ""
		n := 0
		for _, field := range query.VocabularyFieldNames() {
			if !s.IsFilterable(field) || filtered[field] {
				continue
			}
			if canon, ok := s.Canonicalize(vocabs[field], c); ok {
				matchField, matchValue = field, canon
				n++
			}
		}
		if n == 1 {
			out = append(out, query.Filter{Field: matchField, Op: query.OpIn, Value: []string{matchValue}})
			filtered[matchField] = true
		}
	}
	return out
}
