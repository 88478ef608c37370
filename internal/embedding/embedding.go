package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"tenancy-rag/internal/config"
)

// Embedder turns text into a vector. langchaingo's *embeddings.EmbedderImpl
// satisfies it, as does HashEmbedder.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

var (
	_ Embedder = (*embeddings.EmbedderImpl)(nil)
	_ Embedder = (*HashEmbedder)(nil)
)

// NewEmbedder builds the embedder selected by cfg.Provider.
func NewEmbedder(cfg *config.LLMConfig) (Embedder, error) {
	switch cfg.Provider {
	case "hash", "":
		return NewHashEmbedder(cfg.Dimension), nil
	case "ollama":
		return NewOllamaEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// NewServiceFromConfig wires the configured embedder with the ingest retry
// settings and, when rdb is non-nil, a Redis vector cache.
func NewServiceFromConfig(cfg *config.Config, rdb *redis.Client) (*Service, error) {
	e, err := NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithRetry(cfg.Ingest.MaxAttempts, cfg.Ingest.Backoff()),
		WithCallTimeout(cfg.Ingest.CallTimeout()),
	}
	if cfg.EmbedLLM.Dimension > 0 {
		opts = append(opts, WithDimension(cfg.EmbedLLM.Dimension))
	}
	if rdb != nil {
		opts = append(opts, WithCache(NewCache(rdb, time.Duration(cfg.Redis.CacheTTL)*time.Second)))
	}
	return NewService(e, ModelName(&cfg.EmbedLLM), opts...), nil
}

// ModelName identifies the embedding model; queries and ingestion must agree on it.
func ModelName(cfg *config.LLMConfig) string {
	switch cfg.Provider {
	case "hash", "":
		return NewHashEmbedder(cfg.Dimension).Model()
	default:
		return cfg.Provider + ":" + cfg.Model
	}
}

// NewOpenAIEmbedder creates an embedder for any OpenAI-compatible endpoint.
func NewOpenAIEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("creating openai embedder")

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// new ollama embedder
func NewOllamaEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}
