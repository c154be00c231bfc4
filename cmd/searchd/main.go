// Command searchd runs the tool discovery search service.
//
// The service drives the search pipeline (plan cache, intent extraction,
// query planning, concurrent retrieval, fusion) over Qdrant and MongoDB and
// exposes it over HTTP:
//
//	POST /search   - run a search request
//	GET  /healthz  - liveness of the backing stores
//
// Configuration comes from the environment (see the config package); the
// flags below override the corresponding settings.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/debug"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"toolatlas.dev/search/config"
	docstoremongo "toolatlas.dev/search/features/docstore/mongo"
	anthropicmodel "toolatlas.dev/search/features/model/anthropic"
	"toolatlas.dev/search/features/model/middleware"
	openaimodel "toolatlas.dev/search/features/model/openai"
	plancachemongo "toolatlas.dev/search/features/plancache/mongo"
	qdrantstore "toolatlas.dev/search/features/vector/qdrant"
	"toolatlas.dev/search/runtime/embed"
	"toolatlas.dev/search/runtime/model"
	"toolatlas.dev/search/runtime/pipeline"
	"toolatlas.dev/search/runtime/pipeline/execute"
	"toolatlas.dev/search/runtime/pipeline/fuse"
	"toolatlas.dev/search/runtime/pipeline/intent"
	"toolatlas.dev/search/runtime/pipeline/plan"
	"toolatlas.dev/search/runtime/plancache"
	"toolatlas.dev/search/runtime/telemetry"
	"toolatlas.dev/search/schema"
)

func main() {
	var (
		httpAddrF = flag.String("http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
		dbgF      = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	if err := run(ctx, *httpAddrF); err != nil {
		log.Fatalf(ctx, err, "searchd exited")
	}
}

func run(ctx context.Context, httpAddr string) error {
	cfg := config.FromEnv()
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}

	s, err := loadSchema(cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(s); err != nil {
		return err
	}
	log.Print(ctx, log.KV{K: "schema", V: s.Version}, log.KV{K: "http-addr", V: cfg.HTTPAddr})

	embedder, err := openaimodel.NewFromConfig(cfg.EmbeddingAPIKey, cfg.EmbeddingEndpoint, openaimodel.Options{
		EmbedModel: cfg.EmbeddingModel,
		Dimension:  cfg.EmbeddingDim,
	})
	if err != nil {
		return fmt.Errorf("embedding client: %w", err)
	}
	embedClient := embed.WithTimeout(embedder, cfg.EmbedTimeout)
	chat, err := chatClient(cfg)
	if err != nil {
		return fmt.Errorf("chat client: %w", err)
	}
	// The limiter wraps the timeout: the per-call deadline starts after any
	// wait for token budget.
	chat = middleware.NewTimeout(cfg.LLMTimeout)(chat)
	limiter := middleware.NewAdaptiveRateLimiter(cfg.LLMTPMBudget, 0)
	chat = limiter.Middleware()(chat)

	vectors, err := dialQdrant(cfg.VectorStoreURL)
	if err != nil {
		return err
	}

	docClient, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.DocStoreURL))
	if err != nil {
		return fmt.Errorf("connect doc store: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if derr := docClient.Disconnect(sctx); derr != nil {
			log.Errorf(ctx, derr, "doc store disconnect")
		}
	}()
	docs, err := docstoremongo.New(docstoremongo.Options{
		Client:           docClient,
		Database:         cfg.DocStoreDatabase,
		Timeout:          cfg.StoreTimeout,
		FilterableFields: s.Structured.FilterableFields,
	})
	if err != nil {
		return fmt.Errorf("doc store: %w", err)
	}

	cacheClient := docClient
	if cfg.CacheStoreURL != cfg.DocStoreURL {
		cacheClient, err = mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.CacheStoreURL))
		if err != nil {
			return fmt.Errorf("connect cache store: %w", err)
		}
	}
	cache, err := plancachemongo.New(plancachemongo.Options{
		Client:        cacheClient,
		Database:      cfg.DocStoreDatabase,
		Vectors:       vectors,
		Embedder:      embedClient,
		SchemaVersion: s.Version,
		Thresholds: plancache.Thresholds{
			Similarity: cfg.SimilarityThreshold,
			Confidence: cfg.CacheConfidenceThreshold,
		},
		Timeout: cfg.StoreTimeout,
	})
	if err != nil {
		return fmt.Errorf("plan cache: %w", err)
	}

	driver, err := buildDriver(s, cfg, chat, embedClient, vectors, docs, cache)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("POST /search", searchHandler(driver))
	mux.Handle("GET /healthz", health.Handler(health.NewChecker(vectors, docs, cache)))
	debug.MountDebugLogEnabler(mux)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           log.HTTP(ctx)(correlationMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("signal: %s", <-c)
	}()
	go func() {
		log.Printf(ctx, "listening on %s", cfg.HTTPAddr)
		errc <- server.ListenAndServe()
	}()

	err = <-errc
	log.Printf(ctx, "shutting down: %v", err)
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(sctx)
}

func loadSchema(cfg config.Config) (*schema.Schema, error) {
	if cfg.SchemaPath != "" {
		return schema.Load(cfg.SchemaPath)
	}
	return schema.DefaultAITools(), nil
}

func chatClient(cfg config.Config) (model.Client, error) {
	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		return anthropicmodel.NewFromAPIKey(cfg.LLMAPIKey, cfg.LLMModel)
	default:
		return openaimodel.NewFromConfig(cfg.LLMAPIKey, cfg.LLMEndpoint, openaimodel.Options{
			ChatModel: cfg.LLMModel,
		})
	}
}

func dialQdrant(addr string) (*qdrantstore.Store, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid VECTOR_STORE_URL %q: %w", addr, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return nil, fmt.Errorf("invalid VECTOR_STORE_URL port %q: %w", portStr, err)
	}
	return qdrantstore.NewFromAddr(host, port, os.Getenv("QDRANT_API_KEY"), false)
}

func buildDriver(
	s *schema.Schema,
	cfg config.Config,
	chat model.Client,
	embedder embed.Client,
	vectors *qdrantstore.Store,
	docs *docstoremongo.Store,
	cache plancache.Cache,
) (*pipeline.Driver, error) {
	lg := telemetry.NewClueLogger()
	extractor, err := intent.New(intent.Options{Schema: s, Model: chat, Logger: lg})
	if err != nil {
		return nil, fmt.Errorf("extractor: %w", err)
	}
	planner, err := plan.New(plan.Options{Schema: s, Logger: lg})
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	executor, err := execute.New(execute.Options{
		Embedder: embedder,
		Vectors:  vectors,
		Docs:     docs,
		Logger:   lg,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	return pipeline.New(pipeline.Options{
		Schema:          s,
		Cache:           cache,
		Extractor:       extractor,
		Planner:         planner,
		Executor:        executor,
		Fuser:           fuse.New(),
		Logger:          lg,
		Budget:          cfg.RequestBudget,
		StoreConfidence: cfg.CacheConfidenceThreshold,
	})
}
