package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tenancy-rag/internal/models"
)

// Embedder is the part of embedding.Service the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension(ctx context.Context) (int, error)
}

// ChunkFailure is one chunk that could not be indexed.
type ChunkFailure struct {
	ID    int    `json:"id"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// Report lists which ids were written and which failed.
type Report struct {
	Upserted []int          `json:"upserted"`
	Failed   []ChunkFailure `json:"failed"`
}

// RetryIDs returns the ids to pass to a targeted re-run.
func (r Report) RetryIDs() []int {
	ids := make([]int, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return ids
}

// Indexer embeds chunks and upserts them one point at a time, so a failure
// never affects points already written.
type Indexer struct {
	index       VectorIndex
	embedder    Embedder
	concurrency int
}

func NewIndexer(idx VectorIndex, e Embedder, concurrency int) *Indexer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Indexer{index: idx, embedder: e, concurrency: concurrency}
}

// Prepare creates or validates the collection for the embedder's dimension and
// model. A dimension or model mismatch is returned as is and must not be retried.
func (ix *Indexer) Prepare(ctx context.Context, recreate bool) (models.CollectionInfo, error) {
	dim, err := ix.embedder.Dimension(ctx)
	if err != nil {
		return models.CollectionInfo{}, fmt.Errorf("failed to determine embedding dimension: %w", err)
	}
	return ix.index.EnsureCollection(ctx, dim, ix.embedder.Model(), recreate)
}

// UpsertBatch embeds every chunk's search text and writes it keyed by id.
// Per-chunk failures are collected in the report; only a dimension mismatch
// or context cancellation is returned as an error, together with the report.
// Chunks not attempted before cancellation are reported as failed.
func (ix *Indexer) UpsertBatch(ctx context.Context, chunks []models.Chunk) (Report, error) {
	var (
		mu     sync.Mutex
		report = Report{Upserted: []int{}, Failed: []ChunkFailure{}}
		fatal  error
	)

	var g errgroup.Group
	g.SetLimit(ix.concurrency)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = ix.upsertOne(ctx, c)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, ChunkFailure{ID: c.ID, Error: err.Error(), Err: err})
				if errors.Is(err, models.ErrDimensionMismatch) && fatal == nil {
					fatal = err
				}
				log.Error().Err(err).Int("id", c.ID).Msg("failed to index chunk")
				return nil
			}
			report.Upserted = append(report.Upserted, c.ID)
			return nil
		})
	}
	_ = g.Wait()

	sort.Ints(report.Upserted)
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].ID < report.Failed[j].ID })

	if fatal != nil {
		return report, fatal
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (ix *Indexer) upsertOne(ctx context.Context, c models.Chunk) error {
	vec, err := ix.embedder.Embed(ctx, c.TextForSearch())
	if err != nil {
		return err
	}
	return ix.index.Upsert(ctx, models.Point{ID: c.ID, Vector: vec, Chunk: c})
}

// Prune removes points for chunks that are no longer in the store, so the
// index holds exactly one point per chunk.
func (ix *Indexer) Prune(ctx context.Context, chunks []models.Chunk) (int, error) {
	keep := make([]int, len(chunks))
	for i, c := range chunks {
		keep[i] = c.ID
	}
	return ix.index.Prune(ctx, keep)
}
