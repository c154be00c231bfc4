package query

// Operator enumerates the structured filter operators understood by the
// document store adapter.
type Operator string

const (
	OpEq       Operator = "="
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpGT       Operator = ">"
	OpLT       Operator = "<"
	OpGTE      Operator = ">="
	OpLTE      Operator = "<="
)

// KnownOperator reports whether op is part of the recognized operator set.
func KnownOperator(op Operator) bool {
	switch op {
	case OpEq, OpIn, OpContains, OpGT, OpLT, OpGTE, OpLTE:
		return true
	}
	return false
}

// Filter is a single conjunctive clause of a structured query. Value holds a
// string for =/contains, a []string for in, and a float64 for the relational
// operators.
type Filter struct {
	Field string   `json:"field"`
	Op    Operator `json:"operator"`
	Value any      `json:"value"`
}
