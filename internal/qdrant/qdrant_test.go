package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenancy-rag/internal/models"
)

// fakeQdrant keeps one collection in memory and answers searches with a
// fixed score per point id.
type fakeQdrant struct {
	mu       sync.Mutex
	exists   bool
	size     int
	points   map[float64]map[string]any
	scores   map[float64]float32
	lastBody map[string]any
	apiKey   string
}

func newFake() *fakeQdrant {
	return &fakeQdrant{points: map[float64]map[string]any{}, scores: map[float64]float32{}}
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKey = r.Header.Get("api-key")

	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.lastBody = body

	base := "/collections/rules"
	switch {
	case r.Method == http.MethodGet && r.URL.Path == base:
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"result": map[string]any{
			"points_count": len(f.points),
			"config":       map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size, "distance": "Cosine"}}},
		}})
	case r.Method == http.MethodPut && r.URL.Path == base:
		f.exists = true
		f.size = int(body["vectors"].(map[string]any)["size"].(float64))
		writeJSON(w, map[string]any{"result": true})
	case r.Method == http.MethodDelete && r.URL.Path == base:
		f.exists = false
		f.points = map[float64]map[string]any{}
		writeJSON(w, map[string]any{"result": true})
	case r.Method == http.MethodPut && r.URL.Path == base+"/points":
		for _, p := range body["points"].([]any) {
			pt := p.(map[string]any)
			f.points[pt["id"].(float64)] = pt["payload"].(map[string]any)
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	case r.Method == http.MethodPost && r.URL.Path == base+"/points/scroll":
		ids := make([]float64, 0, len(f.points))
		for id := range f.points {
			ids = append(ids, id)
		}
		sort.Float64s(ids)
		if limit := int(body["limit"].(float64)); len(ids) > limit {
			ids = ids[:limit]
		}
		pts := []map[string]any{}
		for _, id := range ids {
			pts = append(pts, map[string]any{"id": id, "payload": f.points[id]})
		}
		writeJSON(w, map[string]any{"result": map[string]any{"points": pts}})
	case r.Method == http.MethodPost && r.URL.Path == base+"/points/delete":
		for _, id := range body["points"].([]any) {
			delete(f.points, id.(float64))
		}
		writeJSON(w, map[string]any{"result": map[string]any{"status": "completed"}})
	case r.Method == http.MethodPost && r.URL.Path == base+"/points/search":
		var res []map[string]any
		for id, p := range f.points {
			if !matches(body, p) {
				continue
			}
			res = append(res, map[string]any{"id": id, "score": f.scores[id], "payload": p})
		}
		writeJSON(w, map[string]any{"result": res})
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func matches(body, payload map[string]any) bool {
	filter, ok := body["filter"].(map[string]any)
	if !ok {
		return true
	}
	for _, m := range filter["must"].([]any) {
		cond := m.(map[string]any)
		want := cond["match"].(map[string]any)["value"]
		if payload[cond["key"].(string)] != want {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func setup(t *testing.T) (*Storage, *fakeQdrant) {
	fake := newFake()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL, APIKey: "secret", Collection: "rules"}), fake
}

func chunkPoint(id int, cat models.Category, risk models.RiskLevel) models.Point {
	return models.Point{ID: id, Vector: []float32{1, 0}, Chunk: models.Chunk{ID: id, Title: "t", Category: cat, KeyRule: "k", RiskLevel: risk}}
}

func TestEnsureCollectionCreates(t *testing.T) {
	s, fake := setup(t)
	info, err := s.EnsureCollection(context.Background(), 2, "hash:fnv-2", false)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Dimension)
	assert.True(t, fake.exists)
	assert.Equal(t, "secret", fake.apiKey)
}

func TestEnsureCollectionDimensionMismatch(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()
	_, err := s.EnsureCollection(ctx, 2, "m", false)
	require.NoError(t, err)

	_, err = s.EnsureCollection(ctx, 384, "m", false)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	_, err = s.EnsureCollection(ctx, 384, "m", true)
	assert.NoError(t, err)
}

func TestEnsureCollectionModelMismatch(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()
	_, err := s.EnsureCollection(ctx, 2, "ollama:a", false)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, chunkPoint(1, models.CategoryRentCosts, models.RiskNormal)))

	other := NewStorage(Config{URL: s.url, Collection: "rules"})
	_, err = other.EnsureCollection(ctx, 2, "ollama:b", false)
	assert.ErrorIs(t, err, models.ErrModelMismatch)
}

func TestQuery(t *testing.T) {
	s, fake := setup(t)
	ctx := context.Background()
	_, err := s.EnsureCollection(ctx, 2, "m", false)
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, chunkPoint(3, models.CategoryRentCosts, models.RiskNormal)))
	require.NoError(t, s.Upsert(ctx, chunkPoint(1, models.CategoryRentCosts, models.RiskCaution)))
	require.NoError(t, s.Upsert(ctx, chunkPoint(2, models.CategoryNoticePeriods, models.RiskNormal)))
	fake.scores = map[float64]float32{1: 0.5, 2: 0.9, 3: 0.5}

	hits, err := s.Query(ctx, []float32{1, 0}, models.Filter{}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 2, hits[0].Chunk.ID)
	assert.Equal(t, 1, hits[1].Chunk.ID)
	assert.Equal(t, models.CategoryRentCosts, hits[1].Chunk.Category)

	hits, err = s.Query(ctx, []float32{1, 0}, models.Filter{Category: models.CategoryRentCosts, Risk: models.RiskNormal}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 3, hits[0].Chunk.ID)
	assert.NotNil(t, fake.lastBody["filter"])
}

func TestQueryEmptyCollection(t *testing.T) {
	s, _ := setup(t)
	ctx := context.Background()
	_, err := s.EnsureCollection(ctx, 2, "m", false)
	require.NoError(t, err)

	hits, err := s.Query(ctx, []float32{1, 0}, models.Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestPruneRemovesStalePoints(t *testing.T) {
	s, fake := setup(t)
	ctx := context.Background()
	_, err := s.EnsureCollection(ctx, 2, "m", false)
	require.NoError(t, err)
	for id := 1; id <= 4; id++ {
		require.NoError(t, s.Upsert(ctx, chunkPoint(id, models.CategoryRentCosts, models.RiskNormal)))
	}

	removed, err := s.Prune(ctx, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Len(t, fake.points, 2)
	assert.Contains(t, fake.points, float64(1))
	assert.Contains(t, fake.points, float64(2))

	removed, err = s.Prune(ctx, []int{1, 2})
	require.NoError(t, err)
	assert.Zero(t, removed)
}
