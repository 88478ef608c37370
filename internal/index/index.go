// Package index embeds knowledge chunks and writes them to a vector index.
package index

import (
	"context"
	"fmt"
	"time"

	"tenancy-rag/internal/chromemdb"
	"tenancy-rag/internal/config"
	"tenancy-rag/internal/models"
	"tenancy-rag/internal/qdrant"
)

// VectorIndex is the storage port shared by the embedded chromem database and
// an external Qdrant collection.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, dim int, model string, recreate bool) (models.CollectionInfo, error)
	Upsert(ctx context.Context, p models.Point) error
	Query(ctx context.Context, vector []float32, f models.Filter, limit int) ([]models.Hit, error)
	Info(ctx context.Context) (models.CollectionInfo, error)
	// Prune removes points whose ids are not in keep.
	Prune(ctx context.Context, keep []int) (int, error)
}

var (
	_ VectorIndex = (*chromemdb.VectorDBManager)(nil)
	_ VectorIndex = (*qdrant.Storage)(nil)
)

// Open returns the backend selected in cfg.VectorDB.
func Open(cfg *config.VectorDBConfig) (VectorIndex, error) {
	switch cfg.Backend {
	case "chromem", "":
		return chromemdb.NewVectorDBManager(cfg.Path, cfg.Collection, cfg.InMemory, cfg.Compress, cfg.EncryptionKey)
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
