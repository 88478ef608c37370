package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const cachePrefix = "tenancy-rag:emb:"

// Cache keeps query vectors in Redis, keyed by model and text hash. Cache
// failures are logged and treated as misses.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return cachePrefix + model + ":" + hex.EncodeToString(sum[:])
}

func (c *Cache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	data, err := c.client.Get(ctx, cacheKey(model, text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Msg("embedding cache read failed")
		}
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (c *Cache) Set(ctx context.Context, model, text string, v []float32) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(model, text), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("embedding cache write failed")
	}
}
