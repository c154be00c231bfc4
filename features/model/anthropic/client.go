// Package anthropic provides a model.Client implementation backed by the
// Anthropic Claude Messages API via github.com/anthropics/anthropic-sdk-go.
// The Messages API has no JSON-schema response format, so structured-output
// requests append a strict JSON instruction and rely on the extractor's
// tolerant parser plus schema validation downstream.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"toolatlas.dev/search/runtime/model"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter. Satisfied by *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the Anthropic adapter.
	Options struct {
		// Model is the Claude model identifier; use the typed constants
		// from the SDK.
		Model string

		// MaxTokens caps completions when a request does not specify
		// MaxTokens.
		MaxTokens int
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg    MessagesClient
		model  string
		maxTok int
	}
)

// DefaultMaxTokens caps completions when neither the request nor the
// options set a limit.
const DefaultMaxTokens = 1024

// New builds an Anthropic-backed model client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = DefaultMaxTokens
	}
	return &Client{msg: msg, model: opts.Model, maxTok: maxTok}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{Model: modelID})
}

// Complete issues a non-streaming Messages.New request. A JSON schema on
// the request becomes a strict-output instruction in the system prompt.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if req.User == "" {
		return model.Response{}, errors.New("anthropic: user message is required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.User)),
		},
	}
	system := req.System
	if req.JSONSchema != nil {
		instr, err := schemaInstruction(req.JSONSchema)
		if err != nil {
			return model.Response{}, err
		}
		if system != "" {
			system += "\n\n"
		}
		system += instr
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return model.Response{
		Text: text,
		Usage: model.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

// schemaInstruction renders the strict-output instruction carrying the JSON
// schema inline.
func schemaInstruction(schema map[string]any) (string, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("anthropic: marshal response schema: %w", err)
	}
	return "Respond with a single JSON object matching this JSON Schema, with no prose and no markdown:\n" + string(raw), nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
