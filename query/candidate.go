package query

// CandidateSource labels which subsystem produced a candidate.
type CandidateSource string

const (
	SourceVector     CandidateSource = "vector"
	SourceStructured CandidateSource = "structured"
	SourceFusion     CandidateSource = "fusion"
)

// Metadata carries the display fields of a retrieved tool record.
type Metadata struct {
	Name        string   `json:"name"`
	Category    string   `json:"category,omitempty"`
	Pricing     string   `json:"pricing,omitempty"`
	Interface   string   `json:"interface,omitempty"`
	Deployment  string   `json:"deployment,omitempty"`
	Description string   `json:"description,omitempty"`
	Features    []string `json:"features,omitempty"`
}

// Provenance records where a candidate came from within a single source.
// Fused candidates accumulate one entry per contributing source.
type Provenance struct {
	Collection     string   `json:"collection"`
	Seed           string   `json:"queryVectorSource,omitempty"`
	FiltersApplied []string `json:"filtersApplied,omitempty"`
	RankInSource   int      `json:"rankInSource"`
}

// Candidate is the unified retrieval record: a canonical tool id, a score in
// [0, 1], metadata, and provenance.
type Candidate struct {
	ID         string          `json:"id"`
	Source     CandidateSource `json:"source"`
	Score      float64         `json:"score"`
	Metadata   Metadata        `json:"metadata"`
	Embedding  []float32       `json:"embedding,omitempty"`
	Provenance []Provenance    `json:"provenance"`
}
