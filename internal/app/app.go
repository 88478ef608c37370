// Package app wires configuration into the services used by the commands.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/chromemdb"
	"tenancy-rag/internal/config"
	"tenancy-rag/internal/embedding"
	"tenancy-rag/internal/index"
	"tenancy-rag/internal/llmservice"
	"tenancy-rag/internal/models"
	"tenancy-rag/internal/rag"
)

type App struct {
	Config    *config.Config
	Redis     *redis.Client
	Embedder  *embedding.Service
	Index     index.VectorIndex
	Retriever *rag.Retriever
	Chat      *llmservice.Client
	Translate *llmservice.Client
}

// New connects the optional Redis, the embedder, the vector index and the
// chat models. Redis being unreachable only disables caching and locking.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, running without cache and lock")
			_ = rdb.Close()
		} else {
			a.Redis = rdb
		}
	}

	svc, err := embedding.NewServiceFromConfig(cfg, a.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.Embedder = svc

	idx, err := index.Open(&cfg.VectorDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	a.Index = idx
	a.Retriever = rag.NewRetriever(idx, svc)

	if a.Chat, err = llmservice.NewClient(&cfg.ChatLLM); err != nil {
		return nil, fmt.Errorf("failed to initialize chat model: %w", err)
	}
	if a.Translate, err = llmservice.NewClient(&cfg.Translate); err != nil {
		return nil, fmt.Errorf("failed to initialize translation model: %w", err)
	}
	if a.Translate == nil {
		a.Translate = a.Chat
	}

	log.Debug().
		Str("backend", cfg.VectorDB.Backend).
		Str("collection", cfg.VectorDB.Collection).
		Str("embedding_model", svc.Model()).
		Bool("chat", a.Chat != nil).
		Bool("redis", a.Redis != nil).
		Msg("application initialized")
	return a, nil
}

func (a *App) Close() error {
	if a.Redis != nil {
		return a.Redis.Close()
	}
	return nil
}

// Assistant answers with the chat model, or with a plain listing when none
// is configured.
func (a *App) Assistant() *rag.Assistant {
	if a.Chat == nil {
		return rag.NewAssistant(a.Retriever, nil, a.Config.RAG.TopK)
	}
	return rag.NewAssistant(a.Retriever, a.Chat, a.Config.RAG.TopK)
}

func (a *App) Translator() *llmservice.Translator {
	return llmservice.NewTranslator(a.Translate)
}

// chromem returns the embedded index when it keeps its data in memory only.
func (a *App) chromem() (*chromemdb.VectorDBManager, bool) {
	m, ok := a.Index.(*chromemdb.VectorDBManager)
	return m, ok && a.Config.VectorDB.InMemory
}

// LoadSnapshot restores an in-memory chromem collection from its last export.
func (a *App) LoadSnapshot(ctx context.Context) error {
	m, ok := a.chromem()
	if !ok || !m.SnapshotExists() {
		return nil
	}
	if err := m.Import(ctx); err != nil {
		return err
	}
	log.Info().Str("collection", a.Config.VectorDB.Collection).Msg("imported collection snapshot")
	return nil
}

// SaveSnapshot exports an in-memory chromem collection so later runs can load it.
func (a *App) SaveSnapshot(ctx context.Context) error {
	m, ok := a.chromem()
	if !ok {
		return nil
	}
	if err := m.Export(ctx); err != nil {
		return err
	}
	log.Info().Str("collection", a.Config.VectorDB.Collection).Msg("exported collection snapshot")
	return nil
}

// OpenForQuery loads any snapshot and makes sure the collection exists with
// the dimension and model of the configured embedder. A missing collection is
// created empty so searches return no results instead of failing.
func (a *App) OpenForQuery(ctx context.Context) (models.CollectionInfo, error) {
	if err := a.LoadSnapshot(ctx); err != nil {
		return models.CollectionInfo{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return index.NewIndexer(a.Index, a.Embedder, 1).Prepare(ctx, false)
}
