// Package config loads service configuration from the environment.
//
// Environment variables:
//
//	SIMILARITY_THRESHOLD       - minimum cosine for a cache similarity hit (default: 0.92)
//	CACHE_CONFIDENCE_THRESHOLD - minimum plan confidence to store or reuse (default: 0.5)
//	EMBEDDING_DIM              - embedding dimension, must match the schema (default: 768)
//	LLM_PROVIDER               - "openai" or "anthropic" (default: "openai")
//	LLM_ENDPOINT               - chat endpoint; empty targets the provider default
//	LLM_MODEL                  - chat model identifier (default: "gpt-4o-mini")
//	LLM_API_KEY                - chat endpoint credential
//	LLM_TPM_BUDGET             - initial tokens-per-minute budget (default: 60000)
//	EMBEDDING_ENDPOINT         - embeddings endpoint; empty targets the provider default
//	EMBEDDING_MODEL            - embedding model identifier (default: "nomic-embed-text")
//	EMBEDDING_API_KEY          - embeddings endpoint credential
//	VECTOR_STORE_URL           - Qdrant gRPC address (default: "localhost:6334")
//	DOC_STORE_URL              - MongoDB connection URI (default: "mongodb://localhost:27017")
//	DOC_STORE_DATABASE         - MongoDB database name (default: "toolatlas")
//	CACHE_STORE_URL            - plan cache MongoDB URI; empty reuses DOC_STORE_URL
//	REQUEST_BUDGET_MS          - end-to-end request budget (default: 10000)
//	LLM_TIMEOUT_MS             - per-call LLM timeout (default: 5000)
//	EMBED_TIMEOUT_MS           - per-call embedding timeout (default: 2000)
//	STORE_TIMEOUT_MS           - per-call store timeout (default: 2000)
//	HTTP_ADDR                  - HTTP listen address (default: ":8080")
//	SCHEMA_PATH                - YAML schema file; empty uses the built-in AI tools schema
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"toolatlas.dev/search/schema"
)

// Provider selects the chat model backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Config carries every tunable the service reads at startup.
type Config struct {
	SimilarityThreshold      float64
	CacheConfidenceThreshold float64
	EmbeddingDim             int

	LLMProvider Provider
	LLMEndpoint string
	LLMModel    string
	LLMAPIKey   string
	// LLMTPMBudget is the adaptive rate limiter's initial tokens-per-minute
	// budget.
	LLMTPMBudget float64

	EmbeddingEndpoint string
	EmbeddingModel    string
	EmbeddingAPIKey   string

	VectorStoreURL   string
	DocStoreURL      string
	DocStoreDatabase string
	CacheStoreURL    string

	RequestBudget time.Duration
	LLMTimeout    time.Duration
	EmbedTimeout  time.Duration
	StoreTimeout  time.Duration

	HTTPAddr   string
	SchemaPath string
}

// FromEnv loads the configuration, applying defaults for unset values.
func FromEnv() Config {
	cfg := Config{
		SimilarityThreshold:      envFloatOr("SIMILARITY_THRESHOLD", 0.92),
		CacheConfidenceThreshold: envFloatOr("CACHE_CONFIDENCE_THRESHOLD", 0.5),
		EmbeddingDim:             envIntOr("EMBEDDING_DIM", 768),

		LLMProvider:  Provider(envOr("LLM_PROVIDER", string(ProviderOpenAI))),
		LLMEndpoint:  os.Getenv("LLM_ENDPOINT"),
		LLMModel:     envOr("LLM_MODEL", "gpt-4o-mini"),
		LLMAPIKey:    os.Getenv("LLM_API_KEY"),
		LLMTPMBudget: envFloatOr("LLM_TPM_BUDGET", 60000),

		EmbeddingEndpoint: os.Getenv("EMBEDDING_ENDPOINT"),
		EmbeddingModel:    envOr("EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingAPIKey:   os.Getenv("EMBEDDING_API_KEY"),

		VectorStoreURL:   envOr("VECTOR_STORE_URL", "localhost:6334"),
		DocStoreURL:      envOr("DOC_STORE_URL", "mongodb://localhost:27017"),
		DocStoreDatabase: envOr("DOC_STORE_DATABASE", "toolatlas"),
		CacheStoreURL:    os.Getenv("CACHE_STORE_URL"),

		RequestBudget: envMillisOr("REQUEST_BUDGET_MS", 10*time.Second),
		LLMTimeout:    envMillisOr("LLM_TIMEOUT_MS", 5*time.Second),
		EmbedTimeout:  envMillisOr("EMBED_TIMEOUT_MS", 2*time.Second),
		StoreTimeout:  envMillisOr("STORE_TIMEOUT_MS", 2*time.Second),

		HTTPAddr:   envOr("HTTP_ADDR", ":8080"),
		SchemaPath: os.Getenv("SCHEMA_PATH"),
	}
	if cfg.CacheStoreURL == "" {
		cfg.CacheStoreURL = cfg.DocStoreURL
	}
	return cfg
}

// Validate asserts the configuration against the loaded schema.
func (c Config) Validate(s *schema.Schema) error {
	if s == nil {
		return fmt.Errorf("schema is required")
	}
	if c.EmbeddingDim != s.EmbeddingDimension {
		return fmt.Errorf("EMBEDDING_DIM %d does not match schema dimension %d",
			c.EmbeddingDim, s.EmbeddingDimension)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD %g out of range (0, 1]", c.SimilarityThreshold)
	}
	if c.CacheConfidenceThreshold < 0 || c.CacheConfidenceThreshold > 1 {
		return fmt.Errorf("CACHE_CONFIDENCE_THRESHOLD %g out of range [0, 1]", c.CacheConfidenceThreshold)
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.RequestBudget <= 0 {
		return fmt.Errorf("REQUEST_BUDGET_MS must be positive")
	}
	return nil
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envFloatOr returns the environment variable as float64 or a default.
func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envMillisOr returns the environment variable as a millisecond count or a
// default.
func envMillisOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
