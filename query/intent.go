// Package query defines the value types exchanged between pipeline stages:
// the structured intent extracted from a user query, the retrieval plan
// derived from it, and the normalized candidate records produced by
// execution. All types are plain data; validation lives in the schema
// package.
package query

// Goal enumerates the primary goals an intent can express.
type Goal string

const (
	GoalFind      Goal = "find"
	GoalCompare   Goal = "compare"
	GoalRecommend Goal = "recommend"
	GoalExplore   Goal = "explore"
	GoalAnalyze   Goal = "analyze"
	GoalExplain   Goal = "explain"
)

// Goals lists every recognized goal in declaration order.
func Goals() []Goal {
	return []Goal{GoalFind, GoalCompare, GoalRecommend, GoalExplore, GoalAnalyze, GoalExplain}
}

// ComparisonMode qualifies how a reference tool relates to the query.
type ComparisonMode string

const (
	CompareSimilarTo     ComparisonMode = "similar_to"
	CompareVersus        ComparisonMode = "vs"
	CompareAlternativeTo ComparisonMode = "alternative_to"
)

// ComparisonModes lists every recognized comparison mode.
func ComparisonModes() []ComparisonMode {
	return []ComparisonMode{CompareSimilarTo, CompareVersus, CompareAlternativeTo}
}

// PriceRange captures a price constraint extracted from the query.
type PriceRange struct {
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Operator string   `json:"operator"`
}

// IntentState is the schema-valid structured representation of a user query.
// Vocabulary-typed fields hold the canonical form from the schema or are
// empty when the query carries no signal for that dimension.
type IntentState struct {
	PrimaryGoal    Goal           `json:"primaryGoal"`
	ReferenceTool  string         `json:"referenceTool,omitempty"`
	ComparisonMode ComparisonMode `json:"comparisonMode,omitempty"`

	PricingModel  string `json:"pricingModel,omitempty"`
	BillingPeriod string `json:"billingPeriod,omitempty"`
	Category      string `json:"category,omitempty"`
	Interface     string `json:"interface,omitempty"`
	Deployment    string `json:"deployment,omitempty"`
	Industry      string `json:"industry,omitempty"`
	UserType      string `json:"userType,omitempty"`

	Functionality    []string    `json:"functionality,omitempty"`
	PriceRange       *PriceRange `json:"priceRange,omitempty"`
	Constraints      []string    `json:"constraints,omitempty"`
	SemanticVariants []string    `json:"semanticVariants,omitempty"`

	Confidence float64 `json:"confidence"`
}

// VocabularyFields returns the single-valued vocabulary fields keyed by
// intent field name. Empty values are omitted.
func (s *IntentState) VocabularyFields() map[string]string {
	out := make(map[string]string, 7)
	set := func(name, v string) {
		if v != "" {
			out[name] = v
		}
	}
	set("pricingModel", s.PricingModel)
	set("billingPeriod", s.BillingPeriod)
	set("category", s.Category)
	set("interface", s.Interface)
	set("deployment", s.Deployment)
	set("industry", s.Industry)
	set("userType", s.UserType)
	return out
}

// SetVocabularyField writes a single-valued vocabulary field by name.
// Unknown names are ignored.
func (s *IntentState) SetVocabularyField(name, v string) {
	switch name {
	case "pricingModel":
		s.PricingModel = v
	case "billingPeriod":
		s.BillingPeriod = v
	case "category":
		s.Category = v
	case "interface":
		s.Interface = v
	case "deployment":
		s.Deployment = v
	case "industry":
		s.Industry = v
	case "userType":
		s.UserType = v
	}
}

// VocabularyFieldNames lists the single-valued vocabulary field names in a
// fixed, deterministic order.
func VocabularyFieldNames() []string {
	return []string{"category", "interface", "deployment", "pricingModel", "billingPeriod", "industry", "userType"}
}
