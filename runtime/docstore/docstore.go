// Package docstore defines the document-store contract: conjunctive
// structured queries over the tool catalog with the operator set from the
// query package.
package docstore

import (
	"context"

	"toolatlas.dev/search/query"
)

// Record is one stored document. ID is the canonical tool id; Fields holds
// the raw document fields.
type Record struct {
	ID     string
	Fields map[string]any
}

// String returns the named field as a string when present.
func (r Record) String(field string) string {
	if v, ok := r.Fields[field].(string); ok {
		return v
	}
	return ""
}

// Strings returns the named field as a string list, accepting both []string
// and []any representations.
func (r Record) Strings(field string) []string {
	switch v := r.Fields[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Store is the document-store contract. Filters combine with AND; operator
// semantics follow query.Operator (contains is a case-insensitive regex
// match).
type Store interface {
	Query(ctx context.Context, collection string, filters []query.Filter, topK int) ([]Record, error)
}
