package qdrant_test

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolatlas.dev/search/features/vector/qdrant"
	"toolatlas.dev/search/runtime/vector"
)

type mockAPI struct {
	queryReq  *sdk.QueryPoints
	queryResp []*sdk.ScoredPoint
	queryErr  error

	upsertReq *sdk.UpsertPoints
	upsertErr error

	createReq *sdk.CreateCollection
	exists    bool
	existsErr error

	healthErr error
}

func (m *mockAPI) Query(_ context.Context, req *sdk.QueryPoints) ([]*sdk.ScoredPoint, error) {
	m.queryReq = req
	return m.queryResp, m.queryErr
}

func (m *mockAPI) Upsert(_ context.Context, req *sdk.UpsertPoints) (*sdk.UpdateResult, error) {
	m.upsertReq = req
	return &sdk.UpdateResult{}, m.upsertErr
}

func (m *mockAPI) CreateCollection(_ context.Context, req *sdk.CreateCollection) error {
	m.createReq = req
	return nil
}

func (m *mockAPI) CollectionExists(_ context.Context, _ string) (bool, error) {
	return m.exists, m.existsErr
}

func (m *mockAPI) HealthCheck(context.Context) (*sdk.HealthCheckReply, error) {
	return &sdk.HealthCheckReply{}, m.healthErr
}

func newStore(t *testing.T, api qdrant.API) *qdrant.Store {
	t.Helper()
	s, err := qdrant.New(qdrant.Options{Client: api})
	require.NoError(t, err)
	return s
}

func TestSearchTranslatesRequest(t *testing.T) {
	mock := &mockAPI{
		queryResp: []*sdk.ScoredPoint{
			{
				Id:    sdk.NewID("5c6e2bcd-0001-4a1a-9d9f-000000000001"),
				Score: 0.91,
				Payload: map[string]*sdk.Value{
					"name":          sdk.NewValueString("Sentinel"),
					"pricingModel":  sdk.NewValueString("Free"),
					"functionality": sdk.NewValueList(&sdk.ListValue{Values: []*sdk.Value{sdk.NewValueString("Code Review")}}),
				},
			},
		},
	}
	store := newStore(t, mock)

	hits, err := store.Search(context.Background(), vector.Request{
		Collection: "tools_semantic",
		VectorName: "description",
		Vector:     []float32{0.1, 0.2, 0.3},
		TopK:       70,
		Must: []vector.Condition{
			{Field: "pricingModel", Value: "Free"},
			{Field: "functionality", Value: []string{"Code Review", "Debugging"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "5c6e2bcd-0001-4a1a-9d9f-000000000001", hits[0].ID)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-6)
	assert.Equal(t, "Sentinel", hits[0].Payload["name"])
	assert.Equal(t, []any{"Code Review"}, hits[0].Payload["functionality"])

	req := mock.queryReq
	require.NotNil(t, req)
	assert.Equal(t, "tools_semantic", req.CollectionName)
	require.NotNil(t, req.Using)
	assert.Equal(t, "description", *req.Using)
	require.NotNil(t, req.Limit)
	assert.Equal(t, uint64(70), *req.Limit)
	require.NotNil(t, req.Filter)
	assert.Len(t, req.Filter.Must, 2)
	assert.Nil(t, req.WithVectors)
}

func TestSearchWithVector(t *testing.T) {
	mock := &mockAPI{
		queryResp: []*sdk.ScoredPoint{{
			Id:      sdk.NewID("5c6e2bcd-0001-4a1a-9d9f-000000000002"),
			Score:   0.8,
			Vectors: &sdk.VectorsOutput{VectorsOptions: &sdk.VectorsOutput_Vector{Vector: &sdk.VectorOutput{Data: []float32{1, 0}}}},
		}},
	}
	store := newStore(t, mock)

	hits, err := store.Search(context.Background(), vector.Request{
		Collection: "plan_cache",
		Vector:     []float32{1, 0},
		TopK:       5,
		WithVector: true,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, []float32{1, 0}, hits[0].Vector)
	require.NotNil(t, mock.queryReq.WithVectors)
	assert.Nil(t, mock.queryReq.Using)
	assert.Nil(t, mock.queryReq.Filter)
}

func TestSearchRejectsUnsupportedFilterValue(t *testing.T) {
	store := newStore(t, &mockAPI{})
	_, err := store.Search(context.Background(), vector.Request{
		Collection: "tools_semantic",
		Vector:     []float32{1},
		TopK:       10,
		Must:       []vector.Condition{{Field: "priceUSD", Value: 3.14}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported filter value")
}

func TestSearchValidation(t *testing.T) {
	store := newStore(t, &mockAPI{})
	_, err := store.Search(context.Background(), vector.Request{Vector: []float32{1}, TopK: 1})
	require.Error(t, err)
	_, err = store.Search(context.Background(), vector.Request{Collection: "c", TopK: 1})
	require.Error(t, err)
}

func TestSearchPropagatesQueryError(t *testing.T) {
	store := newStore(t, &mockAPI{queryErr: errors.New("unavailable")})
	_, err := store.Search(context.Background(), vector.Request{
		Collection: "tools_semantic",
		Vector:     []float32{1},
		TopK:       1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tools_semantic")
}

func TestUpsertNamedVectors(t *testing.T) {
	mock := &mockAPI{}
	store := newStore(t, mock)

	err := store.Upsert(context.Background(), "tools_semantic", []vector.Point{{
		ID:      "5c6e2bcd-0001-4a1a-9d9f-000000000003",
		Vectors: map[string][]float32{"description": {0.1, 0.2}},
		Payload: map[string]any{"name": "Sentinel", "pricingModel": "Free"},
	}})
	require.NoError(t, err)
	require.NotNil(t, mock.upsertReq)
	assert.Equal(t, "tools_semantic", mock.upsertReq.CollectionName)
	require.NotNil(t, mock.upsertReq.Wait)
	assert.True(t, *mock.upsertReq.Wait)
	require.Len(t, mock.upsertReq.Points, 1)
	pt := mock.upsertReq.Points[0]
	assert.Equal(t, "5c6e2bcd-0001-4a1a-9d9f-000000000003", pt.Id.GetUuid())
	assert.Equal(t, "Sentinel", pt.Payload["name"].GetStringValue())
	named := pt.Vectors.GetVectors().GetVectors()
	require.Contains(t, named, "description")
	assert.Equal(t, []float32{0.1, 0.2}, named["description"].GetData())
}

func TestUpsertNoPointsIsNoop(t *testing.T) {
	mock := &mockAPI{}
	store := newStore(t, mock)
	require.NoError(t, store.Upsert(context.Background(), "tools_semantic", nil))
	assert.Nil(t, mock.upsertReq)
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	mock := &mockAPI{exists: false}
	store := newStore(t, mock)

	err := store.EnsureCollection(context.Background(), "tools_semantic", map[string]int{"description": 768})
	require.NoError(t, err)
	require.NotNil(t, mock.createReq)
	assert.Equal(t, "tools_semantic", mock.createReq.CollectionName)
	params := mock.createReq.VectorsConfig.GetParamsMap().GetMap()
	require.Contains(t, params, "description")
	assert.Equal(t, uint64(768), params["description"].Size)
	assert.Equal(t, sdk.Distance_Cosine, params["description"].Distance)
}

func TestEnsureCollectionUnnamedVector(t *testing.T) {
	mock := &mockAPI{exists: false}
	store := newStore(t, mock)

	err := store.EnsureCollection(context.Background(), "plan_cache", map[string]int{"": 768})
	require.NoError(t, err)
	require.NotNil(t, mock.createReq)
	params := mock.createReq.VectorsConfig.GetParams()
	require.NotNil(t, params)
	assert.Equal(t, uint64(768), params.Size)
}

func TestEnsureCollectionSkipsExisting(t *testing.T) {
	mock := &mockAPI{exists: true}
	store := newStore(t, mock)
	require.NoError(t, store.EnsureCollection(context.Background(), "tools_semantic", map[string]int{"description": 768}))
	assert.Nil(t, mock.createReq)
}

func TestPing(t *testing.T) {
	store := newStore(t, &mockAPI{})
	assert.Equal(t, "qdrant", store.Name())
	require.NoError(t, store.Ping(context.Background()))

	store = newStore(t, &mockAPI{healthErr: errors.New("down")})
	require.Error(t, store.Ping(context.Background()))
}

func TestNewValidation(t *testing.T) {
	_, err := qdrant.New(qdrant.Options{})
	require.Error(t, err)
}
