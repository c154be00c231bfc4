// Package intent turns raw query text into a schema-valid IntentState via a
// structured LLM call. The model output is schema-validated, vocabulary
// values are canonicalized, and an invalid first attempt earns exactly one
// tightened retry before the extraction fails.
package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"toolatlas.dev/search/query"
	"toolatlas.dev/search/runtime/model"
	"toolatlas.dev/search/runtime/pipeline"
	"toolatlas.dev/search/runtime/telemetry"
	"toolatlas.dev/search/schema"
)

const (
	// Extraction runs near-deterministic.
	extractTemperature = 0.1
	extractMaxTokens   = 500

	retryInstruction = "Your previous response was not a valid intent object. Return ONLY the JSON object, no prose, no markdown."
)

// Options configures an Extractor.
type Options struct {
	Schema *schema.Schema
	Model  model.Client
	Logger telemetry.Logger
}

// Extractor implements pipeline.Extractor.
type Extractor struct {
	schema    *schema.Schema
	model     model.Client
	log       telemetry.Logger
	prompt    string
	rawSchema map[string]any
	compiled  *jsonschema.Schema
}

// New compiles the intent JSON schema and builds an Extractor.
func New(opts Options) (*Extractor, error) {
	if opts.Schema == nil {
		return nil, fmt.Errorf("schema is required")
	}
	if opts.Model == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NoopLogger{}
	}
	raw := opts.Schema.IntentJSONSchema()
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal intent schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse intent schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("intent.schema.json", doc); err != nil {
		return nil, fmt.Errorf("register intent schema: %w", err)
	}
	compiled, err := compiler.Compile("intent.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile intent schema: %w", err)
	}
	return &Extractor{
		schema:    opts.Schema,
		model:     opts.Model,
		log:       opts.Logger,
		prompt:    opts.Schema.IntentExtractionPrompt(),
		rawSchema: raw,
		compiled:  compiled,
	}, nil
}

// Extract runs the structured extraction with one recovery retry.
func (e *Extractor) Extract(ctx context.Context, queryText string) (*query.IntentState, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, fmt.Errorf("%w: empty query", pipeline.ErrBadInput)
	}

	in, err := e.attempt(ctx, queryText, "")
	if err == nil {
		return in, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	e.log.Warn(ctx, "intent extraction retrying", "err", err)
	in, retryErr := e.attempt(ctx, queryText, retryInstruction)
	if retryErr != nil {
		return nil, fmt.Errorf("after retry: %w (first attempt: %v)", retryErr, err)
	}
	return in, nil
}

// attempt makes one model call and validates the result.
func (e *Extractor) attempt(ctx context.Context, queryText, extra string) (*query.IntentState, error) {
	user := queryText
	if extra != "" {
		user = queryText + "\n\n" + extra
	}
	resp, err := e.model.Complete(ctx, model.Request{
		System:      e.prompt,
		User:        user,
		Temperature: extractTemperature,
		MaxTokens:   extractMaxTokens,
		SchemaName:  "intent",
		JSONSchema:  e.rawSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrLLM, err)
	}
	return e.parse(resp.Text)
}

// parse validates the raw model text against the compiled schema, decodes
// it and canonicalizes vocabulary values.
func (e *Extractor) parse(text string) (*query.IntentState, error) {
	obj, err := extractJSONObject(stripDecoration(text))
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(obj))
	if err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if err := e.compiled.Validate(inst); err != nil {
		return nil, fmt.Errorf("model output violates intent schema: %w", err)
	}
	var in query.IntentState
	if err := json.Unmarshal([]byte(obj), &in); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	e.canonicalize(&in)
	if issues := e.schema.ValidateIntent(&in); len(issues) > 0 {
		return nil, fmt.Errorf("intent invalid: %s", issues[0])
	}
	return &in, nil
}

// canonicalize rewrites vocabulary-typed values to their canonical schema
// form. An ambiguous value (loosely matching more than one entry) is
// cleared; a value foreign to the vocabulary is left in place so validation
// flags it and the retry path runs.
func (e *Extractor) canonicalize(in *query.IntentState) {
	vocabs := schema.IntentVocabularies()
	for field, value := range in.VocabularyFields() {
		canonical, ok := e.schema.Canonicalize(vocabs[field], value)
		if ok {
			in.SetVocabularyField(field, canonical)
			continue
		}
		if e.schema.LooseMatchCount(vocabs[field], value) > 1 {
			in.SetVocabularyField(field, "")
		}
	}
	if len(in.SemanticVariants) > 3 {
		in.SemanticVariants = in.SemanticVariants[:3]
	}
}
