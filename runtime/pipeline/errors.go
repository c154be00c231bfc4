package pipeline

import (
	"context"
	"errors"
	"time"
)

// Error kinds surfaced by the pipeline. Stage and adapter failures wrap one
// of these; callers match with errors.Is.
var (
	// ErrBadInput marks an empty or oversized query. Surfaced directly to
	// the caller.
	ErrBadInput = errors.New("bad input")
	// ErrIntent marks an extraction that produced no valid intent after
	// recovery attempts. The request fails.
	ErrIntent = errors.New("intent extraction failed")
	// ErrPlan marks a planner that produced no valid plan even after
	// repair. The request fails.
	ErrPlan = errors.New("query planning failed")
	// ErrSource marks a single failed sub-query. Recovered locally; the
	// source contributes no candidates.
	ErrSource = errors.New("source query failed")
	// ErrFusion marks fusion that could not run because every source
	// failed. The request returns no candidates plus the per-source errors.
	ErrFusion = errors.New("fusion failed")
	// ErrEmbed, ErrLLM and ErrStore mark collaborator failures; they
	// surface as ErrSource or ErrIntent depending on the consuming stage.
	ErrEmbed = errors.New("embedding failed")
	ErrLLM   = errors.New("llm call failed")
	ErrStore = errors.New("store query failed")
	// ErrDeadline marks an exceeded request budget; whatever candidates
	// were produced are returned.
	ErrDeadline = errors.New("request budget exceeded")
	// ErrCancelled marks caller cancellation.
	ErrCancelled = errors.New("request cancelled")
)

// NodeError records an error observed at a named node. Recovered errors do
// not abort the request.
type NodeError struct {
	Node             string    `json:"node"`
	Err              error     `json:"-"`
	Message          string    `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
	Recovered        bool      `json:"recovered"`
	RecoveryStrategy string    `json:"recoveryStrategy,omitempty"`
}

// NewNodeError builds a NodeError stamped with the current time.
func NewNodeError(node string, err error) NodeError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return NodeError{Node: node, Err: err, Message: msg, Timestamp: time.Now().UTC()}
}

// WithRecovery marks the error as locally recovered with the given strategy.
func (e NodeError) WithRecovery(strategy string) NodeError {
	e.Recovered = true
	e.RecoveryStrategy = strategy
	return e
}

// classifyContextErr maps context termination onto the pipeline taxonomy.
func classifyContextErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrDeadline
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return ErrCancelled
	}
	return nil
}
