// Package mongo implements the docstore.Store contract on MongoDB. Filters
// translate to conjunctive bson selectors; text relevance is served by a
// weighted text index over the descriptive fields.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"toolatlas.dev/search/query"
	"toolatlas.dev/search/runtime/docstore"
)

const (
	defaultOpTimeout = 5 * time.Second
	clientName       = "docstore-mongo"
)

// Text index weights favor the short descriptive fields over long prose.
var textWeights = bson.D{
	{Key: "name", Value: 15},
	{Key: "tagline", Value: 12},
	{Key: "description", Value: 8},
	{Key: "longDescription", Value: 8},
}

// Options configures the Mongo document store.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
	// FilterableFields receive single-field secondary indexes when
	// EnsureIndexes runs.
	FilterableFields []string
}

// Store implements docstore.Store.
type Store struct {
	mongo      *mongodriver.Client
	db         database
	timeout    time.Duration
	filterable []string
}

// New returns a Store backed by MongoDB.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{
		mongo:      opts.Client,
		db:         mongoDatabase{db: opts.Client.Database(opts.Database)},
		timeout:    timeout,
		filterable: opts.FilterableFields,
	}, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Query runs a conjunctive structured query against the collection.
func (s *Store) Query(ctx context.Context, collection string, filters []query.Filter, topK int) ([]docstore.Record, error) {
	if collection == "" {
		return nil, errors.New("collection is required")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	selector, err := buildSelector(filters)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.db.Collection(collection).Find(ctx, selector, options.Find().SetLimit(int64(topK)))
	if err != nil {
		return nil, fmt.Errorf("mongo find %s: %w", collection, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo decode %s: %w", collection, err)
	}
	records := make([]docstore.Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, toRecord(doc))
	}
	return records, nil
}

// Upsert writes a record keyed by its tool id. Used by the seed tooling.
func (s *Store) Upsert(ctx context.Context, collection string, rec docstore.Record) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	doc := bson.M{"id": rec.ID}
	for k, v := range rec.Fields {
		doc[k] = v
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{"id": rec.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo upsert %s: %w", collection, err)
	}
	return nil
}

// EnsureIndexes creates the unique id and slug indexes, a secondary index
// per filterable field, and the weighted text index.
func (s *Store) EnsureIndexes(ctx context.Context, collection string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	views := s.db.Collection(collection).Indexes()

	models := []mongodriver.IndexModel{{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}, {
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	}}
	for _, field := range s.filterable {
		models = append(models, mongodriver.IndexModel{
			Keys: bson.D{{Key: field, Value: 1}},
		})
	}
	textKeys := make(bson.D, 0, len(textWeights))
	for _, w := range textWeights {
		textKeys = append(textKeys, bson.E{Key: w.Key, Value: "text"})
	}
	models = append(models, mongodriver.IndexModel{
		Keys:    textKeys,
		Options: options.Index().SetWeights(textWeights).SetName("text_search"),
	})

	for _, m := range models {
		if _, err := views.CreateOne(ctx, m); err != nil {
			return fmt.Errorf("mongo index %s: %w", collection, err)
		}
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// buildSelector translates conjunctive filters into a bson selector.
// Relational operators on the same field merge into one range clause.
func buildSelector(filters []query.Filter) (bson.M, error) {
	out := bson.M{}
	for _, f := range filters {
		if f.Field == "" {
			return nil, errors.New("filter field is required")
		}
		switch f.Op {
		case query.OpEq:
			out[f.Field] = f.Value
		case query.OpIn:
			values, err := stringValues(f)
			if err != nil {
				return nil, err
			}
			out[f.Field] = bson.M{"$in": values}
		case query.OpContains:
			s, ok := f.Value.(string)
			if !ok {
				return nil, fmt.Errorf("contains on %s needs a string value, got %T", f.Field, f.Value)
			}
			out[f.Field] = primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
		case query.OpGT, query.OpLT, query.OpGTE, query.OpLTE:
			n, ok := numeric(f.Value)
			if !ok {
				return nil, fmt.Errorf("%s on %s needs a numeric value, got %T", f.Op, f.Field, f.Value)
			}
			clause, _ := out[f.Field].(bson.M)
			if clause == nil {
				clause = bson.M{}
				out[f.Field] = clause
			}
			clause[rangeOp(f.Op)] = n
		default:
			return nil, fmt.Errorf("unknown operator %q on %s", f.Op, f.Field)
		}
	}
	return out, nil
}

func rangeOp(op query.Operator) string {
	switch op {
	case query.OpGT:
		return "$gt"
	case query.OpLT:
		return "$lt"
	case query.OpGTE:
		return "$gte"
	default:
		return "$lte"
	}
}

func stringValues(f query.Filter) ([]string, error) {
	switch v := f.Value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("in on %s needs string values, got %T", f.Field, e)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{v}, nil
	}
	return nil, fmt.Errorf("in on %s needs a string list, got %T", f.Field, f.Value)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toRecord(doc bson.M) docstore.Record {
	fields := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		fields[k] = normalize(v)
	}
	id, _ := fields["id"].(string)
	return docstore.Record{ID: id, Fields: fields}
}

// normalize lifts bson container types into plain Go values so callers see
// the same shapes the in-memory fakes produce.
func normalize(v any) any {
	switch t := v.(type) {
	case primitive.A:
		out := make([]any, 0, len(t))
		for _, e := range t {
			out = append(out, normalize(e))
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	default:
		return v
	}
}

// database and collection wrap the driver types so tests can substitute
// fakes without a running mongod.
type database interface {
	Collection(name string) collection
}

type collection interface {
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type cursor interface {
	All(ctx context.Context, results any) error
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type mongoDatabase struct {
	db *mongodriver.Database
}

func (d mongoDatabase) Collection(name string) collection {
	return mongoCollection{coll: d.db.Collection(name)}
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any, opts ...*options.UpdateOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
