package pipeline

import (
	"time"

	"toolatlas.dev/search/query"
	"toolatlas.dev/search/runtime/plancache"
	"toolatlas.dev/search/schema"
)

// State is the shared value threaded through the pipeline stages. Each stage
// reads the fields produced upstream and fills in its own output.
type State struct {
	Schema        *schema.Schema
	Query         string
	CorrelationID string

	Intent *query.IntentState
	Plan   *query.QueryPlan

	// Sources holds the per-source candidate lists produced by the
	// executor, keyed for fusion weighting.
	Sources []SourceResult

	Candidates []query.Candidate

	// Errors collects every NodeError observed, recovered or fatal.
	Errors []NodeError

	Stats       Stats
	Checkpoints []Checkpoint
}

// SourceResult is one source's contribution to fusion: its candidates in
// source-rank order plus the plan weight for weighted-sum fusion.
type SourceResult struct {
	// Name identifies the source, e.g. "vector:tools_semantic:query_text"
	// or "structured:tools".
	Name       string
	Weight     float64
	Candidates []query.Candidate
}

// NodeTiming records the wall-clock duration of one pipeline node.
type NodeTiming struct {
	Node    string        `json:"node"`
	Elapsed time.Duration `json:"elapsed"`
}

// Stats aggregates per-request observability data.
type Stats struct {
	StartedAt time.Time     `json:"startedAt"`
	Elapsed   time.Duration `json:"elapsed"`
	// Path lists the nodes actually executed, in order.
	Path    []string     `json:"path"`
	Timings []NodeTiming `json:"timings"`

	CacheType       plancache.HitType `json:"cacheType"`
	CacheSimilarity float64           `json:"cacheSimilarity,omitempty"`
}

// Checkpoint is a snapshot of the state taken after a node, retained only
// when checkpointing is enabled on the request.
type Checkpoint struct {
	Node       string             `json:"node"`
	At         time.Time          `json:"at"`
	Intent     *query.IntentState `json:"intent,omitempty"`
	Plan       *query.QueryPlan   `json:"plan,omitempty"`
	Candidates int                `json:"candidates"`
}

// Result is what a completed (or budget-truncated) search returns.
type Result struct {
	Candidates []query.Candidate
	// Reasoning summarizes how the result was produced: the path taken,
	// the plan explanation and any recovered degradations.
	Reasoning   string
	Stats       Stats
	Errors      []NodeError
	Checkpoints []Checkpoint
}

// recordNode appends path and timing entries for a completed node.
func (s *State) recordNode(node string, start time.Time) {
	s.Stats.Path = append(s.Stats.Path, node)
	s.Stats.Timings = append(s.Stats.Timings, NodeTiming{Node: node, Elapsed: time.Since(start)})
}

// checkpoint snapshots the state after the named node.
func (s *State) checkpoint(node string) {
	s.Checkpoints = append(s.Checkpoints, Checkpoint{
		Node:       node,
		At:         time.Now().UTC(),
		Intent:     s.Intent,
		Plan:       s.Plan,
		Candidates: len(s.Candidates),
	})
}
