// Command ensure-indexes bootstraps the backing stores: MongoDB indexes for
// the tool catalog and the plan cache, and Qdrant collections for every
// enabled vector collection plus the plan-cache sidecar. Safe to run
// repeatedly.
//
// Configuration comes from the environment (see the config package).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/log"

	"toolatlas.dev/search/config"
	docstoremongo "toolatlas.dev/search/features/docstore/mongo"
	plancachemongo "toolatlas.dev/search/features/plancache/mongo"
	qdrantstore "toolatlas.dev/search/features/vector/qdrant"
	"toolatlas.dev/search/schema"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if err := run(ctx); err != nil {
		log.Fatalf(ctx, err, "ensure-indexes failed")
	}
}

func run(ctx context.Context) error {
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

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

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
	if err := docs.EnsureIndexes(ctx, s.Structured.Collection); err != nil {
		return err
	}
	log.Printf(ctx, "doc store indexes ready on %s.%s", cfg.DocStoreDatabase, s.Structured.Collection)

	cache, err := plancachemongo.New(plancachemongo.Options{
		Client:        client,
		Database:      cfg.DocStoreDatabase,
		SchemaVersion: s.Version,
		Timeout:       cfg.StoreTimeout,
	})
	if err != nil {
		return err
	}
	if err := cache.EnsureIndexes(ctx); err != nil {
		return err
	}
	log.Printf(ctx, "plan cache indexes ready")

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
	for _, coll := range s.VectorCollections {
		if !coll.Enabled {
			continue
		}
		fields := map[string]int{coll.EmbeddingField: coll.Dimension}
		if err := vectors.EnsureCollection(ctx, coll.Name, fields); err != nil {
			return err
		}
		log.Printf(ctx, "vector collection %s ready", coll.Name)
	}
	// the plan cache sidecar uses a single unnamed vector at the query
	// embedding dimension
	if err := vectors.EnsureCollection(ctx, "plan_cache", map[string]int{"": s.EmbeddingDimension}); err != nil {
		return err
	}
	log.Printf(ctx, "plan cache sidecar ready")
	return nil
}
