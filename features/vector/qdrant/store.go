// Package qdrant implements the vector.Store contract on Qdrant via
// github.com/qdrant/go-client. Collections use named vectors in cosine
// space; payload filters translate to keyword match conditions.
package qdrant

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/qdrant/go-client/qdrant"

	"toolatlas.dev/search/runtime/vector"
)

// API captures the subset of the Qdrant client used by the store. Satisfied
// by *sdk.Client; tests substitute a mock.
type API interface {
	Query(ctx context.Context, req *sdk.QueryPoints) ([]*sdk.ScoredPoint, error)
	Upsert(ctx context.Context, req *sdk.UpsertPoints) (*sdk.UpdateResult, error)
	CreateCollection(ctx context.Context, req *sdk.CreateCollection) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	HealthCheck(ctx context.Context) (*sdk.HealthCheckReply, error)
}

// Options configures the store.
type Options struct {
	Client API
}

// Store implements vector.Store.
type Store struct {
	api API
}

// New builds a Store from the provided options.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("qdrant client is required")
	}
	return &Store{api: opts.Client}, nil
}

// NewFromAddr dials the Qdrant gRPC endpoint.
func NewFromAddr(host string, port int, apiKey string, useTLS bool) (*Store, error) {
	client, err := sdk.NewClient(&sdk.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("dial qdrant %s:%d: %w", host, port, err)
	}
	return New(Options{Client: client})
}

// Search runs a dense top-K query against the named vector.
func (s *Store) Search(ctx context.Context, req vector.Request) ([]vector.Hit, error) {
	if req.Collection == "" {
		return nil, errors.New("collection is required")
	}
	if len(req.Vector) == 0 {
		return nil, errors.New("query vector is required")
	}
	q := &sdk.QueryPoints{
		CollectionName: req.Collection,
		Query:          sdk.NewQueryDense(req.Vector),
		Limit:          sdk.PtrOf(uint64(req.TopK)),
		WithPayload:    sdk.NewWithPayload(true),
	}
	if req.VectorName != "" {
		q.Using = sdk.PtrOf(req.VectorName)
	}
	if req.WithVector {
		q.WithVectors = sdk.NewWithVectors(true)
	}
	if filter, err := buildFilter(req.Must); err != nil {
		return nil, err
	} else if filter != nil {
		q.Filter = filter
	}

	points, err := s.api.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("qdrant query %s: %w", req.Collection, err)
	}
	hits := make([]vector.Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, vector.Hit{
			ID:      pointID(p.GetId()),
			Score:   float64(p.GetScore()),
			Payload: payloadToMap(p.GetPayload()),
			Vector:  pointVector(p.GetVectors(), req.VectorName),
		})
	}
	return hits, nil
}

// Upsert writes points, waiting for the operation to land.
func (s *Store) Upsert(ctx context.Context, collection string, points []vector.Point) error {
	if len(points) == 0 {
		return nil
	}
	converted := make([]*sdk.PointStruct, 0, len(points))
	for _, p := range points {
		ps := &sdk.PointStruct{
			Id:      sdk.NewID(p.ID),
			Payload: sdk.NewValueMap(p.Payload),
		}
		if vec, ok := p.Vectors[""]; ok && len(p.Vectors) == 1 {
			ps.Vectors = sdk.NewVectors(vec...)
		} else {
			named := make(map[string]*sdk.Vector, len(p.Vectors))
			for field, vec := range p.Vectors {
				named[field] = sdk.NewVector(vec...)
			}
			ps.Vectors = sdk.NewVectorsMap(named)
		}
		converted = append(converted, ps)
	}
	_, err := s.api.Upsert(ctx, &sdk.UpsertPoints{
		CollectionName: collection,
		Points:         converted,
		Wait:           sdk.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %s: %w", collection, err)
	}
	return nil
}

// EnsureCollection creates the collection with cosine named vectors when it
// does not exist. fields maps embedding field name to dimension; a single
// entry under "" creates the default unnamed vector instead.
func (s *Store) EnsureCollection(ctx context.Context, name string, fields map[string]int) error {
	exists, err := s.api.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant collection exists %s: %w", name, err)
	}
	if exists {
		return nil
	}
	var cfg *sdk.VectorsConfig
	if dim, ok := fields[""]; ok && len(fields) == 1 {
		cfg = sdk.NewVectorsConfig(&sdk.VectorParams{
			Size:     uint64(dim),
			Distance: sdk.Distance_Cosine,
		})
	} else {
		params := make(map[string]*sdk.VectorParams, len(fields))
		for field, dim := range fields {
			params[field] = &sdk.VectorParams{
				Size:     uint64(dim),
				Distance: sdk.Distance_Cosine,
			}
		}
		cfg = sdk.NewVectorsConfigMap(params)
	}
	err = s.api.CreateCollection(ctx, &sdk.CreateCollection{
		CollectionName: name,
		VectorsConfig:  cfg,
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection %s: %w", name, err)
	}
	return nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return "qdrant" }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.api.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health: %w", err)
	}
	return nil
}

// buildFilter translates conjunctive match conditions.
func buildFilter(conds []vector.Condition) (*sdk.Filter, error) {
	if len(conds) == 0 {
		return nil, nil
	}
	must := make([]*sdk.Condition, 0, len(conds))
	for _, c := range conds {
		switch v := c.Value.(type) {
		case string:
			must = append(must, sdk.NewMatch(c.Field, v))
		case []string:
			must = append(must, sdk.NewMatchKeywords(c.Field, v...))
		default:
			return nil, fmt.Errorf("unsupported filter value %T for field %s", c.Value, c.Field)
		}
	}
	return &sdk.Filter{Must: must}, nil
}

func pointID(id *sdk.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// payloadToMap converts the protobuf payload into plain Go values.
func payloadToMap(payload map[string]*sdk.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *sdk.Value) any {
	switch kind := v.GetKind().(type) {
	case *sdk.Value_StringValue:
		return kind.StringValue
	case *sdk.Value_IntegerValue:
		return kind.IntegerValue
	case *sdk.Value_DoubleValue:
		return kind.DoubleValue
	case *sdk.Value_BoolValue:
		return kind.BoolValue
	case *sdk.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, valueToAny(item))
		}
		return out
	case *sdk.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = valueToAny(item)
		}
		return out
	default:
		return nil
	}
}

// pointVector extracts the named (or default) vector from the output union.
func pointVector(vectors *sdk.VectorsOutput, name string) []float32 {
	if vectors == nil {
		return nil
	}
	if v := vectors.GetVector(); v != nil {
		return v.GetData()
	}
	if named := vectors.GetVectors(); named != nil {
		if v, ok := named.GetVectors()[name]; ok {
			return v.GetData()
		}
	}
	return nil
}
