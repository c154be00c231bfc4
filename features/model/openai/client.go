// Package openai provides model.Client and embed.Client implementations
// backed by the OpenAI Chat Completions and Embeddings APIs via
// github.com/sashabaranov/go-openai. Pointing the client at an
// OpenAI-compatible endpoint (vLLM, Ollama, llama.cpp) works through
// NewFromConfig with a custom base URL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"toolatlas.dev/search/runtime/model"
)

// ChatClient captures the subset of the go-openai client used by the
// adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, request openai.EmbeddingRequestConverter) (
		openai.EmbeddingResponse, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client ChatClient
	// ChatModel serves Complete; EmbedModel serves Embed and EmbedBatch.
	ChatModel  string
	EmbedModel string
	// Dimension, when positive, is enforced on every returned embedding.
	Dimension int
}

// Client implements model.Client and embed.Client.
type Client struct {
	api        ChatClient
	chatModel  string
	embedModel string
	dimension  int
}

// New builds an OpenAI-backed client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.ChatModel == "" && opts.EmbedModel == "" {
		return nil, errors.New("a chat or embedding model is required")
	}
	return &Client{
		api:        opts.Client,
		chatModel:  opts.ChatModel,
		embedModel: opts.EmbedModel,
		dimension:  opts.Dimension,
	}, nil
}

// NewFromConfig constructs a client against the given endpoint. An empty
// baseURL targets api.openai.com.
func NewFromConfig(apiKey, baseURL string, opts Options) (*Client, error) {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	opts.Client = openai.NewClientWithConfig(cfg)
	return New(opts)
}

// Complete renders a chat completion. When the request carries a JSON
// schema, the provider's structured-output response format is used.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if c.chatModel == "" {
		return model.Response{}, errors.New("no chat model configured")
	}
	if req.User == "" {
		return model.Response{}, errors.New("user message is required")
	}
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: req.User,
	})

	request := openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONSchema != nil {
		raw, err := json.Marshal(req.JSONSchema)
		if err != nil {
			return model.Response{}, fmt.Errorf("marshal response schema: %w", err)
		}
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: json.RawMessage(raw),
				Strict: true,
			},
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, request)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai chat completion: %w", translateErr(err))
	}
	if len(resp.Choices) == 0 {
		return model.Response{}, errors.New("openai chat completion: empty response")
	}
	return model.Response{
		Text: resp.Choices[0].Message.Content,
		Usage: model.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// Embed returns the embedding of a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds the texts in one request, preserving input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.embedModel == "" {
		return nil, errors.New("no embedding model configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", translateErr(err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		if c.dimension > 0 && len(d.Embedding) != c.dimension {
			return nil, fmt.Errorf("openai embeddings: dimension %d, want %d", len(d.Embedding), c.dimension)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// translateErr maps provider status codes onto the model error taxonomy.
func translateErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return fmt.Errorf("%w: %v", model.ErrRateLimited, err)
	}
	return err
}
