package embedding

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenancy-rag/internal/config"
	"tenancy-rag/internal/models"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedderDeterministic(t *testing.T) {
	h := NewHashEmbedder(0)
	ctx := context.Background()

	a, err := h.EmbedQuery(ctx, "Deposit Limit Deposit max 3 months rent")
	require.NoError(t, err)
	b, err := h.EmbedQuery(ctx, "Deposit Limit Deposit max 3 months rent")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, defaultHashDimension)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-5)
}

func TestHashEmbedderSimilarity(t *testing.T) {
	h := NewHashEmbedder(256)
	ctx := context.Background()

	doc, _ := h.EmbedQuery(ctx, "Deposit Limit Deposit max 3 months rent")
	query, _ := h.EmbedQuery(ctx, "deposit limit")
	other, _ := h.EmbedQuery(ctx, "Heating costs are settled yearly")

	assert.Greater(t, cosine(doc, query), cosine(other, query))
	assert.Greater(t, cosine(doc, query), 0.0)
}

func TestHashEmbedderEdgeCases(t *testing.T) {
	h := NewHashEmbedder(32)
	ctx := context.Background()

	_, err := h.EmbedQuery(ctx, "   ")
	assert.ErrorIs(t, err, models.ErrEmptyInput)

	for _, text := range []string{"the", "!!!", "ß"} {
		v, err := h.EmbedQuery(ctx, text)
		require.NoError(t, err, text)
		assert.InDelta(t, 1.0, cosine(v, v), 1e-5, text)
	}
}

type flakyEmbedder struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("connection reset")
	}
	return []float32{1, 0}, nil
}

func TestServiceRetries(t *testing.T) {
	f := &flakyEmbedder{failures: 2}
	s := NewService(f, "test", WithRetry(3, time.Millisecond))

	v, err := s.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)
	assert.Equal(t, int32(3), f.calls.Load())
}

func TestServiceGivesUp(t *testing.T) {
	f := &flakyEmbedder{failures: 10}
	s := NewService(f, "test", WithRetry(2, time.Millisecond))

	_, err := s.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, models.ErrEmbedding)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestServiceDoesNotRetryEmptyInput(t *testing.T) {
	s := NewService(NewHashEmbedder(8), "hash", WithRetry(5, time.Millisecond))
	_, err := s.Embed(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrEmbedding)
	assert.ErrorIs(t, err, models.ErrEmptyInput)
}

func TestServiceDimension(t *testing.T) {
	s := NewService(NewHashEmbedder(64), "hash")
	d, err := s.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, d)

	s = NewService(&flakyEmbedder{}, "probe")
	d, err = s.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, d)
}

func TestServiceCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	f := &flakyEmbedder{}
	s := NewService(f, "m", WithCache(NewCache(client, time.Minute)))
	ctx := context.Background()

	first, err := s.Embed(ctx, "deposit limit")
	require.NoError(t, err)
	second, err := s.Embed(ctx, "deposit limit")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.True(t, mr.Exists(cacheKey("m", "deposit limit")))
}

func TestNewServiceFromConfig(t *testing.T) {
	cfg := config.Default()
	s, err := NewServiceFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "hash:fnv-256", s.Model())

	cfg.EmbedLLM.Provider = "carrier-pigeon"
	_, err = NewServiceFromConfig(cfg, nil)
	assert.Error(t, err)
}
