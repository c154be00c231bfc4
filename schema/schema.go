// Package schema defines the declarative domain descriptor that
// parameterizes every pipeline stage: the controlled vocabularies, the
// intent field tree, the vector collections, and the structured database
// spec. A Schema is loaded once at startup and treated as immutable; all
// exported methods are safe for concurrent use.
//
// A second domain is added by instantiating another Schema (in Go or from
// YAML) - no stage code changes.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

// FieldType enumerates intent field types.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeEnum    FieldType = "enum"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// FieldSpec describes one intent field. Vocabulary names the vocabulary the
// field draws its values from; EnumValues lists inline enums for fields not
// backed by a vocabulary. Children describe nested object fields.
type FieldSpec struct {
	Name        string      `yaml:"name"`
	Type        FieldType   `yaml:"type"`
	Required    bool        `yaml:"required"`
	Description string      `yaml:"description"`
	Vocabulary  string      `yaml:"vocabulary,omitempty"`
	EnumValues  []string    `yaml:"enumValues,omitempty"`
	Children    []FieldSpec `yaml:"children,omitempty"`
}

// VectorCollection describes one named index in the vector store.
type VectorCollection struct {
	Name           string `yaml:"name"`
	EmbeddingField string `yaml:"embeddingField"`
	Dimension      int    `yaml:"dimension"`
	Description    string `yaml:"description"`
	Enabled        bool   `yaml:"enabled"`
}

// StructuredDatabase describes the document store collection and which of
// its fields may be searched and filtered.
type StructuredDatabase struct {
	Collection       string   `yaml:"collection"`
	SearchFields     []string `yaml:"searchFields"`
	FilterableFields []string `yaml:"filterableFields"`
}

// Schema is the process-lifetime immutable domain descriptor.
type Schema struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Vocabularies maps field name to the ordered list of allowed values.
	// Case is preserved; matching is case-insensitive with the canonical
	// form taken from the list.
	Vocabularies map[string][]string `yaml:"vocabularies"`

	IntentFields      []FieldSpec        `yaml:"intentFields"`
	VectorCollections []VectorCollection `yaml:"vectorCollections"`
	Structured        StructuredDatabase `yaml:"structuredDatabase"`
	PriceOperators    []string           `yaml:"priceOperators"`

	// EmbeddingDimension is the dimension shared by all query embeddings,
	// including the plan cache keys.
	EmbeddingDimension int `yaml:"embeddingDimension"`
}

// Validate checks the schema's internal invariants: every vocabulary
// referenced by an intent field exists, every filterable field is a known
// vocabulary or record field, and every enabled collection has a usable
// dimension.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return errors.New("schema name is required")
	}
	if s.Version == "" {
		return errors.New("schema version is required")
	}
	if s.EmbeddingDimension <= 0 {
		return errors.New("embedding dimension must be positive")
	}
	var checkFields func(fields []FieldSpec) error
	checkFields = func(fields []FieldSpec) error {
		for _, f := range fields {
			if f.Name == "" {
				return errors.New("intent field with empty name")
			}
			if f.Vocabulary != "" {
				if _, ok := s.Vocabularies[f.Vocabulary]; !ok {
					return fmt.Errorf("intent field %q references unknown vocabulary %q", f.Name, f.Vocabulary)
				}
			}
			if len(f.Children) > 0 {
				if err := checkFields(f.Children); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := checkFields(s.IntentFields); err != nil {
		return err
	}
	if len(s.VectorCollections) == 0 {
		return errors.New("at least one vector collection is required")
	}
	for _, c := range s.VectorCollections {
		if c.Name == "" || c.EmbeddingField == "" {
			return fmt.Errorf("vector collection %q needs a name and an embedding field", c.Name)
		}
		if c.Enabled && c.Dimension != s.EmbeddingDimension {
			return fmt.Errorf("collection %q dimension %d does not match schema dimension %d",
				c.Name, c.Dimension, s.EmbeddingDimension)
		}
	}
	if s.Structured.Collection == "" {
		return errors.New("structured database collection is required")
	}
	for _, f := range s.Structured.FilterableFields {
		if f == "" {
			return errors.New("empty filterable field")
		}
	}
	return nil
}

// Vocabulary returns the ordered allowed values for the named vocabulary.
func (s *Schema) Vocabulary(name string) ([]string, bool) {
	v, ok := s.Vocabularies[name]
	return v, ok
}

// EnabledCollections returns the enabled vector collections in declaration
// order.
func (s *Schema) EnabledCollections() []VectorCollection {
	out := make([]VectorCollection, 0, len(s.VectorCollections))
	for _, c := range s.VectorCollections {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

// PrimaryCollection returns the first enabled vector collection, which the
// planner treats as the default retrieval target.
func (s *Schema) PrimaryCollection() (VectorCollection, bool) {
	for _, c := range s.VectorCollections {
		if c.Enabled {
			return c, true
		}
	}
	return VectorCollection{}, false
}

// CollectionByName looks up an enabled collection by name.
func (s *Schema) CollectionByName(name string) (VectorCollection, bool) {
	for _, c := range s.VectorCollections {
		if c.Enabled && c.Name == name {
			return c, true
		}
	}
	return VectorCollection{}, false
}

// IsFilterable reports whether the named field may appear in structured
// filters.
func (s *Schema) IsFilterable(field string) bool {
	for _, f := range s.Structured.FilterableFields {
		if f == field {
			return true
		}
	}
	return false
}

// PriceOperator reports whether op is a recognized price operator.
func (s *Schema) PriceOperator(op string) bool {
	for _, o := range s.PriceOperators {
		if o == op {
			return true
		}
	}
	return false
}

// Canonicalize maps value onto the canonical form of the named vocabulary.
// Matching is case-insensitive; when that fails, a looser comparison that
// ignores spaces, hyphens, underscores and dots is attempted ("selfhosted"
// matches "Self-Hosted"). The boolean is false when the value matches no
// entry or loosely matches more than one.
func (s *Schema) Canonicalize(vocabulary, value string) (string, bool) {
	values, ok := s.Vocabularies[vocabulary]
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	for _, v := range values {
		if strings.EqualFold(v, value) {
			return v, true
		}
	}
	loose := looseKey(value)
	match := ""
	n := 0
	for _, v := range values {
		if looseKey(v) == loose {
			match = v
			n++
		}
	}
	if n == 1 {
		return match, true
	}
	return "", false
}

// LooseMatchCount reports how many entries of the named vocabulary match
// value under the loose comparison used by Canonicalize. Zero means the
// value is foreign to the vocabulary; more than one means it is ambiguous.
func (s *Schema) LooseMatchCount(vocabulary, value string) int {
	values, ok := s.Vocabularies[vocabulary]
	if !ok {
		return 0
	}
	loose := looseKey(strings.TrimSpace(value))
	n := 0
	for _, v := range values {
		if looseKey(v) == loose {
			n++
		}
	}
	return n
}

func looseKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '-', '_', '.':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IntentVocabularies maps the single-valued intent field names to the
// vocabularies that constrain them. The functionality field is list-valued
// and handled separately.
func IntentVocabularies() map[string]string {
	return map[string]string{
		"pricingModel":  "pricingModels",
		"billingPeriod": "billingPeriods",
		"category":      "categories",
		"interface":     "interface",
		"deployment":    "deployment",
		"industry":      "industries",
		"userType":      "userTypes",
	}
}
