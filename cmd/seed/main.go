// Command seed ingests tool records from a YAML or JSON dump into the
// backing stores: each record is upserted into the MongoDB catalog, and the
// text behind every enabled vector collection's embedding field is embedded
// and upserted into Qdrant.
//
// Usage:
//
//	seed -file tools.yaml
//
// Each record is a flat document with at least an "id" field; the remaining
// fields follow the structured database spec of the schema.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/log"
	"gopkg.in/yaml.v3"

	"toolatlas.dev/search/config"
	docstoremongo "toolatlas.dev/search/features/docstore/mongo"
	openaimodel "toolatlas.dev/search/features/model/openai"
	qdrantstore "toolatlas.dev/search/features/vector/qdrant"
	"toolatlas.dev/search/runtime/docstore"
	"toolatlas.dev/search/runtime/embed"
	"toolatlas.dev/search/runtime/vector"
	"toolatlas.dev/search/schema"
)

func main() {
	fileF := flag.String("file", "", "Path to the YAML or JSON tool dump (required)")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	if *fileF == "" {
		log.Fatalf(ctx, fmt.Errorf("missing -file"), "usage: seed -file tools.yaml")
	}
	if err := run(ctx, *fileF); err != nil {
		log.Fatalf(ctx, err, "seed failed")
	}
}

func run(ctx context.Context, path string) error {
	cfg := config.FromEnv()
	s := schema.DefaultAITools()
	if cfg.SchemaPath != "" {
		var err error
		s, err = schema.Load(cfg.SchemaPath)
		if err != nil {
			return err
		}
	}
	if err := cfg.Validate(s); err != nil {
		return err
	}

	records, err := loadRecords(path)
	if err != nil {
		return err
	}
	log.Printf(ctx, "loaded %d records from %s", len(records), path)

	client, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.DocStoreURL))
	if err != nil {
		return fmt.Errorf("connect doc store: %w", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	docs, err := docstoremongo.New(docstoremongo.Options{
		Client:           client,
		Database:         cfg.DocStoreDatabase,
		Timeout:          cfg.StoreTimeout,
		FilterableFields: s.Structured.FilterableFields,
	})
	if err != nil {
		return err
	}

	host, portStr, err := net.SplitHostPort(cfg.VectorStoreURL)
	if err != nil {
		return fmt.Errorf("invalid VECTOR_STORE_URL %q: %w", cfg.VectorStoreURL, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("invalid VECTOR_STORE_URL port %q: %w", portStr, err)
	}
	vectors, err := qdrantstore.NewFromAddr(host, port, os.Getenv("QDRANT_API_KEY"), false)
	if err != nil {
		return err
	}

	embedder, err := openaimodel.NewFromConfig(cfg.EmbeddingAPIKey, cfg.EmbeddingEndpoint, openaimodel.Options{
		EmbedModel: cfg.EmbeddingModel,
		Dimension:  cfg.EmbeddingDim,
	})
	if err != nil {
		return fmt.Errorf("embedding client: %w", err)
	}

	start := time.Now()
	for _, rec := range records {
		if err := seedRecord(ctx, s, docs, vectors, embedder, rec); err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
	}
	log.Printf(ctx, "seeded %d records in %s", len(records), time.Since(start).Round(time.Millisecond))
	return nil
}

// loadRecords parses the dump. YAML is a superset of JSON so one decoder
// serves both formats.
func loadRecords(path string) ([]docstore.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	records := make([]docstore.Record, 0, len(raw))
	for i, fields := range raw {
		id, _ := fields["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("record %d has no id", i)
		}
		records = append(records, docstore.Record{ID: id, Fields: fields})
	}
	return records, nil
}

// seedRecord writes the catalog document and one vector point per enabled
// collection whose embedding field has text.
func seedRecord(
	ctx context.Context,
	s *schema.Schema,
	docs *docstoremongo.Store,
	vectors *qdrantstore.Store,
	embedder embed.Client,
	rec docstore.Record,
) error {
	if err := docs.Upsert(ctx, s.Structured.Collection, rec); err != nil {
		return err
	}
	for _, coll := range s.VectorCollections {
		if !coll.Enabled {
			continue
		}
		text := embeddingText(rec, coll.EmbeddingField)
		if text == "" {
			continue
		}
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embed %s/%s: %w", coll.Name, coll.EmbeddingField, err)
		}
		point := vector.Point{
			ID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(rec.ID+"/"+coll.Name)).String(),
			Vectors: map[string][]float32{coll.EmbeddingField: vec},
			Payload: payload(s, rec),
		}
		if err := vectors.Upsert(ctx, coll.Name, []vector.Point{point}); err != nil {
			return err
		}
	}
	return nil
}

// embeddingText renders the record field behind the embedding field name as
// text; list fields join with ", ".
func embeddingText(rec docstore.Record, field string) string {
	if s := rec.String(field); s != "" {
		return s
	}
	if list := rec.Strings(field); len(list) > 0 {
		return strings.Join(list, ", ")
	}
	return ""
}

// payload carries the tool id, display fields and every filterable field so
// vector hits resolve without a catalog round trip.
func payload(s *schema.Schema, rec docstore.Record) map[string]any {
	out := map[string]any{"id": rec.ID}
	for _, f := range []string{"name", "description", "tagline"} {
		if v, ok := rec.Fields[f]; ok {
			out[f] = v
		}
	}
	for _, f := range s.Structured.FilterableFields {
		if v, ok := rec.Fields[f]; ok {
			out[f] = v
		}
	}
	return out
}
