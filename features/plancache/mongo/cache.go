// Package mongo implements the plancache.Cache contract on MongoDB with an
// optional vector-store sidecar for similarity lookups. The plans collection
// is keyed by the normalized query hash; the sidecar collection indexes
// query embeddings and carries the hash in its payload so ANN candidates can
// be resolved back to full entries.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"toolatlas.dev/search/query"
	"toolatlas.dev/search/runtime/embed"
	"toolatlas.dev/search/runtime/plancache"
	"toolatlas.dev/search/runtime/vector"
)

const (
	defaultCollection       = "plans"
	defaultVectorCollection = "plan_cache"
	defaultOpTimeout        = 5 * time.Second
	clientName              = "plancache-mongo"

	// annCandidates is how many sidecar neighbors are resolved per lookup.
	annCandidates = 5
)

// Options configures the persistent plan cache.
type Options struct {
	Client   *mongodriver.Client
	Database string
	// Collection defaults to "plans".
	Collection string

	// Vectors, when set, serves ANN candidate retrieval. Without it lookups
	// are exact-only.
	Vectors vector.Store
	// VectorCollection defaults to "plan_cache".
	VectorCollection string

	// Embedder computes query embeddings for similarity lookups and for the
	// sidecar write-back.
	Embedder embed.Client

	// SchemaVersion guards reuse; entries from other versions miss.
	SchemaVersion string
	Thresholds    plancache.Thresholds
	Timeout       time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Cache implements plancache.Cache.
type Cache struct {
	mongo      *mongodriver.Client
	coll       collection
	vectors    vector.Store
	vectorColl string
	embedder   embed.Client
	version    string
	thresholds plancache.Thresholds
	timeout    time.Duration
	now        func() time.Time
}

// New returns a Cache backed by MongoDB.
func New(opts Options) (*Cache, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	if opts.SchemaVersion == "" {
		return nil, errors.New("schema version is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	c := &Cache{
		mongo:      opts.Client,
		coll:       mongoCollection{coll: opts.Client.Database(opts.Database).Collection(collName)},
		vectors:    opts.Vectors,
		vectorColl: opts.VectorCollection,
		embedder:   opts.Embedder,
		version:    opts.SchemaVersion,
		thresholds: opts.Thresholds,
		timeout:    opts.Timeout,
		now:        opts.Now,
	}
	applyDefaults(c)
	return c, nil
}

func applyDefaults(c *Cache) {
	if c.vectorColl == "" {
		c.vectorColl = defaultVectorCollection
	}
	if c.thresholds.Similarity <= 0 {
		c.thresholds.Similarity = plancache.DefaultThresholds().Similarity
	}
	if c.thresholds.Confidence <= 0 {
		c.thresholds.Confidence = plancache.DefaultThresholds().Confidence
	}
	if c.timeout <= 0 {
		c.timeout = defaultOpTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// Name implements health.Pinger.
func (c *Cache) Name() string { return clientName }

// Ping implements health.Pinger.
func (c *Cache) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Lookup resolves the query: exact hash first, then ANN candidates from the
// sidecar re-scored against the stored embeddings.
func (c *Cache) Lookup(ctx context.Context, queryText string) (plancache.Result, error) {
	hash := plancache.HashQuery(queryText)

	entry, err := c.findUsable(ctx, hash)
	if err != nil {
		return plancache.Result{Type: plancache.HitMiss}, err
	}
	if entry != nil {
		if err := c.bumpUsage(ctx, hash); err != nil {
			return plancache.Result{Type: plancache.HitMiss}, err
		}
		return plancache.Result{Type: plancache.HitExact, Similarity: 1.0, Entry: entry}, nil
	}

	if c.embedder == nil || c.vectors == nil {
		return plancache.Result{Type: plancache.HitMiss}, nil
	}
	vec, err := c.embedder.Embed(ctx, plancache.NormalizeQuery(queryText))
	if err != nil {
		return plancache.Result{Type: plancache.HitMiss}, err
	}

	best, bestSim, err := c.nearestEntry(ctx, vec)
	if err != nil {
		return plancache.Result{Type: plancache.HitMiss, QueryEmbedding: vec}, err
	}
	if best != nil && bestSim >= c.thresholds.Similarity {
		if err := c.bumpUsage(ctx, best.QueryHash); err != nil {
			return plancache.Result{Type: plancache.HitMiss, QueryEmbedding: vec}, err
		}
		return plancache.Result{Type: plancache.HitSimilar, Similarity: bestSim, Entry: best, QueryEmbedding: vec}, nil
	}
	return plancache.Result{Type: plancache.HitMiss, QueryEmbedding: vec}, nil
}

// nearestEntry resolves ANN candidates to entries and rescores them with
// exact cosine over the stored embeddings.
func (c *Cache) nearestEntry(ctx context.Context, vec []float32) (*plancache.Entry, float64, error) {
	hits, err := c.vectors.Search(ctx, vector.Request{
		Collection: c.vectorColl,
		Vector:     vec,
		TopK:       annCandidates,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("plan cache ann: %w", err)
	}
	var (
		best    *plancache.Entry
		bestSim float64
	)
	for _, hit := range hits {
		hash, _ := hit.Payload["query_hash"].(string)
		if hash == "" {
			continue
		}
		entry, err := c.findUsable(ctx, hash)
		if err != nil {
			return nil, 0, err
		}
		if entry == nil || entry.Confidence < c.thresholds.Confidence {
			continue
		}
		if sim := embed.Cosine(vec, entry.QueryEmbedding); sim > bestSim {
			best, bestSim = entry, sim
		}
	}
	return best, bestSim, nil
}

// Store upserts by query hash; a lower-confidence write against an existing
// entry only advances usage stats. The sidecar point is refreshed on every
// accepted write.
func (c *Cache) Store(ctx context.Context, e plancache.Entry) error {
	if e.QueryHash == "" {
		return errors.New("query hash is required")
	}
	doc, err := fromEntry(e, c.now().UTC())
	if err != nil {
		return err
	}

	opCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{
		"query_hash": e.QueryHash,
		"confidence": bson.M{"$lte": e.Confidence},
	}
	update := bson.M{
		"$set": bson.M{
			"original_query": doc.OriginalQuery,
			"embedding":      doc.Embedding,
			"intent":         doc.Intent,
			"plan":           doc.Plan,
			"schema_version": doc.SchemaVersion,
			"confidence":     doc.Confidence,
			"last_used":      doc.LastUsed,
		},
		"$inc": bson.M{"usage_count": 1},
		"$setOnInsert": bson.M{
			"id":         doc.ID,
			"query_hash": doc.QueryHash,
			"created_at": doc.CreatedAt,
		},
	}
	_, err = c.coll.UpdateOne(opCtx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// The upsert races the unique hash index when a higher-confidence
		// entry already holds the hash; fall back to a usage bump.
		if mongodriver.IsDuplicateKeyError(err) {
			return c.bumpUsage(ctx, e.QueryHash)
		}
		return fmt.Errorf("plan cache store: %w", err)
	}

	if c.vectors != nil && len(e.QueryEmbedding) > 0 {
		point := vector.Point{
			ID:      pointID(e.QueryHash),
			Vectors: map[string][]float32{"": e.QueryEmbedding},
			Payload: map[string]any{"query_hash": e.QueryHash},
		}
		if err := c.vectors.Upsert(ctx, c.vectorColl, []vector.Point{point}); err != nil {
			return fmt.Errorf("plan cache sidecar upsert: %w", err)
		}
	}
	return nil
}

// EnsureIndexes creates the unique hash index and the TTL index that expires
// low-use entries.
func (c *Cache) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	models := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "query_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(plancache.LowUseTTL / time.Second)).
				SetPartialFilterExpression(bson.M{
					"usage_count": bson.M{"$lt": plancache.LowUseThreshold},
				}),
		},
	}
	for _, m := range models {
		if _, err := c.coll.Indexes().CreateOne(ctx, m); err != nil {
			return fmt.Errorf("plan cache index: %w", err)
		}
	}
	return nil
}

// findUsable loads the entry for the hash, filtering out schema-version
// mismatches and entries the TTL index has not reaped yet.
func (c *Cache) findUsable(ctx context.Context, hash string) (*plancache.Entry, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc planDocument
	err := c.coll.FindOne(ctx, bson.M{"query_hash": hash}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("plan cache find: %w", err)
	}
	if doc.SchemaVersion != c.version {
		return nil, nil
	}
	if doc.UsageCount < plancache.LowUseThreshold && c.now().UTC().Sub(doc.CreatedAt) > plancache.LowUseTTL {
		return nil, nil
	}
	entry, err := doc.toEntry()
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (c *Cache) bumpUsage(ctx context.Context, hash string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"query_hash": hash},
		bson.M{
			"$inc": bson.M{"usage_count": 1},
			"$set": bson.M{"last_used": c.now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("plan cache usage bump: %w", err)
	}
	return nil
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// pointID derives a stable sidecar point id from the query hash so rewrites
// replace the point instead of accumulating duplicates.
func pointID(hash string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(hash)).String()
}

// planDocument is the persisted shape. Intent and plan are stored as JSON
// payloads so schema evolution stays in one place.
type planDocument struct {
	ID            string    `bson:"id"`
	QueryHash     string    `bson:"query_hash"`
	OriginalQuery string    `bson:"original_query"`
	Embedding     []float32 `bson:"embedding,omitempty"`
	Intent        []byte    `bson:"intent"`
	Plan          []byte    `bson:"plan"`
	SchemaVersion string    `bson:"schema_version"`
	Confidence    float64   `bson:"confidence"`
	UsageCount    int       `bson:"usage_count"`
	LastUsed      time.Time `bson:"last_used"`
	CreatedAt     time.Time `bson:"created_at"`
}

func fromEntry(e plancache.Entry, now time.Time) (planDocument, error) {
	intentJSON, err := json.Marshal(e.Intent)
	if err != nil {
		return planDocument{}, fmt.Errorf("plan cache encode intent: %w", err)
	}
	planJSON, err := json.Marshal(e.Plan)
	if err != nil {
		return planDocument{}, fmt.Errorf("plan cache encode plan: %w", err)
	}
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = now
	}
	return planDocument{
		ID:            id,
		QueryHash:     e.QueryHash,
		OriginalQuery: e.OriginalQuery,
		Embedding:     e.QueryEmbedding,
		Intent:        intentJSON,
		Plan:          planJSON,
		SchemaVersion: e.SchemaVersion,
		Confidence:    e.Confidence,
		LastUsed:      now,
		CreatedAt:     created.UTC(),
	}, nil
}

func (doc planDocument) toEntry() (*plancache.Entry, error) {
	var intent query.IntentState
	if len(doc.Intent) > 0 {
		if err := json.Unmarshal(doc.Intent, &intent); err != nil {
			return nil, fmt.Errorf("plan cache decode intent: %w", err)
		}
	}
	var plan query.QueryPlan
	if len(doc.Plan) > 0 {
		if err := json.Unmarshal(doc.Plan, &plan); err != nil {
			return nil, fmt.Errorf("plan cache decode plan: %w", err)
		}
	}
	return &plancache.Entry{
		ID:             doc.ID,
		QueryHash:      doc.QueryHash,
		OriginalQuery:  doc.OriginalQuery,
		QueryEmbedding: doc.Embedding,
		Intent:         intent,
		Plan:           plan,
		SchemaVersion:  doc.SchemaVersion,
		Confidence:     doc.Confidence,
		UsageCount:     doc.UsageCount,
		LastUsed:       doc.LastUsed,
		CreatedAt:      doc.CreatedAt,
	}, nil
}

// collection wraps the driver collection so tests can substitute fakes.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type singleResult interface {
	Decode(val any) error
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
