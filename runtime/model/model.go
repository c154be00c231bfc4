// Package model defines the chat-model contract consumed by the intent
// extractor. Implementations wrap provider SDKs (see features/model) and
// should honor structured output natively when the provider supports it;
// otherwise the extractor's tolerant parser recovers the JSON object from
// free text.
package model

import (
	"context"
	"errors"
)

// ErrRateLimited marks provider rate-limit failures so callers can back off.
var ErrRateLimited = errors.New("model rate limited")

// Request describes a single system+user completion with optional
// structured output.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int

	// SchemaName and JSONSchema request structured output when the provider
	// supports it. JSONSchema is a JSON Schema document.
	SchemaName string
	JSONSchema map[string]any
}

// TokenUsage reports provider token accounting.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response carries the completion text and usage.
type Response struct {
	Text  string
	Usage TokenUsage
}

// Client is the chat completion contract.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
