package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/db"
	"tenancy-rag/internal/helper"
	"tenancy-rag/internal/index"
	"tenancy-rag/internal/lock"
	"tenancy-rag/internal/merger"
	"tenancy-rag/internal/models"
	"tenancy-rag/internal/normalizer"
	"tenancy-rag/internal/parser"
	"tenancy-rag/internal/store"
)

type IngestOptions struct {
	// OnlyIDs re-indexes these chunks of the existing store instead of
	// merging the batches again.
	OnlyIDs   []int
	Recreate  bool
	MergeOnly bool
	DryRun    bool
	Extractor parser.Extractor
}

// Summary is printed at the end of an ingestion run.
type Summary struct {
	RunID      string                 `json:"run_id"`
	Processed  int                    `json:"processed"`
	Rejected   int                    `json:"rejected"`
	Duplicates int                    `json:"duplicates"`
	Chunks     int                    `json:"chunks"`
	Upserted   int                    `json:"upserted"`
	Pruned     int                    `json:"pruned"`
	Failed     []index.ChunkFailure   `json:"failed"`
	RetryIDs   []int                  `json:"retry_ids,omitempty"`
	Collection *models.CollectionInfo `json:"collection,omitempty"`
}

var errNothingToIndex = errors.New("no chunks to index")

// Ingest runs normalize, merge, store and index. Per-chunk index failures are
// reported in the summary, not returned. When indexing stops early the summary
// is returned together with the error.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) (*Summary, error) {
	runID, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	sum := &Summary{RunID: runID, Failed: []index.ChunkFailure{}}
	logger := log.With().Str("run_id", runID).Logger()

	var chunks []models.Chunk
	if len(opts.OnlyIDs) > 0 {
		s, err := store.Read(a.Config.Store.Path)
		if err != nil {
			return nil, err
		}
		chunks = store.Select(s, opts.OnlyIDs)
		if len(chunks) == 0 {
			return nil, fmt.Errorf("%w: none of ids %v are in %s", errNothingToIndex, opts.OnlyIDs, a.Config.Store.Path)
		}
		sum.Chunks = len(chunks)
		logger.Info().Ints("ids", opts.OnlyIDs).Int("found", len(chunks)).Msg("re-indexing selected chunks")
	} else {
		s, err := a.merge(ctx, opts, sum)
		if err != nil {
			return nil, err
		}
		chunks = s.Chunks
		if opts.DryRun {
			return sum, nil
		}
		if err := store.Write(a.Config.Store.Path, s); err != nil {
			return nil, err
		}
		logger.Info().Str("path", a.Config.Store.Path).Int("chunks", len(s.Chunks)).Msg("unified store written")

		if a.Config.Database.DSN != "" {
			if err := a.mirror(ctx, s.Chunks, runID); err != nil {
				return nil, err
			}
		}
	}
	if opts.MergeOnly || opts.DryRun {
		return sum, nil
	}

	if a.Redis != nil {
		l := lock.NewLock(a.Redis, runID)
		ttl := time.Duration(a.Config.Redis.LockTTL) * time.Second
		name := a.Config.VectorDB.Collection
		if err := l.Acquire(ctx, name, ttl); err != nil {
			return nil, err
		}
		lockCtx, cancel := context.WithCancel(ctx)
		go l.KeepAlive(lockCtx, name, ttl)
		defer func() {
			cancel()
			if err := l.Release(context.Background(), name); err != nil {
				logger.Warn().Err(err).Msg("failed to release ingestion lock")
			}
		}()
	}

	if err := a.LoadSnapshot(ctx); err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	ix := index.NewIndexer(a.Index, a.Embedder, a.Config.Ingest.Concurrency)
	if _, err := ix.Prepare(ctx, opts.Recreate); err != nil {
		return nil, err
	}
	report, err := ix.UpsertBatch(ctx, chunks)
	sum.Upserted = len(report.Upserted)
	sum.Failed = report.Failed
	sum.RetryIDs = report.RetryIDs()
	if err != nil {
		return sum, err
	}

	// Prune only after a full run that wrote every chunk.
	if len(opts.OnlyIDs) == 0 && len(report.Failed) == 0 {
		if sum.Pruned, err = ix.Prune(ctx, chunks); err != nil {
			return sum, fmt.Errorf("failed to prune stale points: %w", err)
		}
	}

	if err := a.SaveSnapshot(ctx); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	info, err := a.Index.Info(ctx)
	if err != nil {
		return nil, err
	}
	sum.Collection = &info

	logger.Info().
		Int("upserted", sum.Upserted).
		Int("failed", len(sum.Failed)).
		Int("pruned", sum.Pruned).
		Int("points", info.PointCount).
		Msg("indexing finished")
	return sum, nil
}

// merge loads every batch file, normalizes it and merges the batches in file
// name order.
func (a *App) merge(ctx context.Context, opts IngestOptions, sum *Summary) (*models.UnifiedStore, error) {
	sources, err := parser.NewLoader(opts.Extractor).LoadDir(ctx, a.Config.Store.Batches)
	if err != nil {
		return nil, err
	}

	batches := make([]merger.Batch, 0, len(sources))
	for _, src := range sources {
		res := normalizer.Normalize(src.Name, src.Records)
		sum.Processed += len(src.Records)
		sum.Rejected += res.Rejected
		for _, r := range res.Rejections {
			log.Warn().Str("document", src.Name).Int("position", r.Position).Str("reason", r.Reason).Msg("record rejected")
		}
		batches = append(batches, merger.Batch{Name: src.Name, Chunks: res.Chunks})
	}

	s, report := merger.Merge(batches,
		merger.WithTitleThreshold(a.Config.Ingest.TitleThreshold),
		merger.WithGeneratedBy("tenancy-rag run "+sum.RunID),
	)
	sum.Duplicates = report.Duplicates
	sum.Chunks = len(s.Chunks)
	return s, nil
}

func (a *App) mirror(ctx context.Context, chunks []models.Chunk, runID string) error {
	sqldb, err := db.ConnectDB(&a.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	bunDB := db.NewDB(sqldb, a.Config.Database.Debug)
	defer bunDB.Close()

	if err := db.InitDB(ctx, bunDB); err != nil {
		return err
	}
	if err := db.SyncChunks(ctx, bunDB, chunks, runID); err != nil {
		return err
	}
	log.Info().Int("chunks", len(chunks)).Msg("database mirror updated")
	return nil
}
