// Package db mirrors the unified knowledge store into Postgres.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"tenancy-rag/internal/config"
	"tenancy-rag/internal/models"
)

type ChunkRecord struct {
	bun.BaseModel    `bun:"table:tenancy_chunks,alias:tc"`
	ID               int       `bun:"id,pk"`
	Title            string    `bun:"title,notnull"`
	Category         string    `bun:"category,notnull"`
	OriginalCategory string    `bun:"original_category"`
	KeyRule          string    `bun:"key_rule,notnull"`
	ExpatImplication string    `bun:"expat_implication,notnull"`
	RiskLevel        string    `bun:"risk_level,notnull"`
	SourceDocument   string    `bun:"source_document,notnull"`
	RunID            string    `bun:"run_id"`
	UpdatedAt        time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func recordFromChunk(c models.Chunk, runID string, now time.Time) ChunkRecord {
	return ChunkRecord{
		ID:               c.ID,
		Title:            c.Title,
		Category:         string(c.Category),
		OriginalCategory: c.OriginalCategory,
		KeyRule:          c.KeyRule,
		ExpatImplication: c.ExpatImplication,
		RiskLevel:        string(c.RiskLevel),
		SourceDocument:   c.SourceDocument,
		RunID:            runID,
		UpdatedAt:        now,
	}
}

func (r ChunkRecord) Chunk() models.Chunk {
	return models.Chunk{
		ID:               r.ID,
		Title:            r.Title,
		Category:         models.Category(r.Category),
		OriginalCategory: r.OriginalCategory,
		KeyRule:          r.KeyRule,
		ExpatImplication: r.ExpatImplication,
		RiskLevel:        models.RiskLevel(r.RiskLevel),
		SourceDocument:   r.SourceDocument,
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the mirror database. Driver "postgres" uses lib/pq,
// anything else the bun pgdriver.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, fmt.Errorf("%w: database dsn", models.ErrNotConfigured)
	}
	if cfg.Driver == "postgres" {
		return sql.Open("postgres", cfg.DSN)
	}
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN))), nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().Model((*ChunkRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	_, err := db.NewCreateIndex().
		Model((*ChunkRecord)(nil)).
		Index("tenancy_chunks_category_idx").
		IfNotExists().
		Column("category", "risk_level").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chunks index: %w", err)
	}
	return nil
}

func upsertQuery(db bun.IDB, records *[]ChunkRecord) *bun.InsertQuery {
	return db.NewInsert().
		Model(records).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("category = EXCLUDED.category").
		Set("original_category = EXCLUDED.original_category").
		Set("key_rule = EXCLUDED.key_rule").
		Set("expat_implication = EXCLUDED.expat_implication").
		Set("risk_level = EXCLUDED.risk_level").
		Set("source_document = EXCLUDED.source_document").
		Set("run_id = EXCLUDED.run_id").
		Set("updated_at = EXCLUDED.updated_at")
}

func pruneQuery(db bun.IDB, ids []int) *bun.DeleteQuery {
	q := db.NewDelete().Model((*ChunkRecord)(nil))
	if len(ids) == 0 {
		return q.Where("TRUE")
	}
	return q.Where("id NOT IN (?)", bun.In(ids))
}

// SyncChunks makes the table hold exactly the given chunks, keyed by id.
func SyncChunks(ctx context.Context, db *bun.DB, chunks []models.Chunk, runID string) error {
	now := time.Now().UTC()
	records := make([]ChunkRecord, len(chunks))
	ids := make([]int, len(chunks))
	for i, c := range chunks {
		records[i] = recordFromChunk(c, runID, now)
		ids[i] = c.ID
	}

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(records) > 0 {
			if _, err := upsertQuery(tx, &records).Exec(ctx); err != nil {
				return fmt.Errorf("failed to upsert chunks: %w", err)
			}
		}
		if _, err := pruneQuery(tx, ids).Exec(ctx); err != nil {
			return fmt.Errorf("failed to prune chunks: %w", err)
		}
		return nil
	})
}

func listQuery(db bun.IDB, records *[]ChunkRecord, f models.Filter) *bun.SelectQuery {
	q := db.NewSelect().Model(records).OrderExpr("id ASC")
	if f.Category != "" {
		q = q.Where("category = ?", string(f.Category))
	}
	if f.Risk != "" {
		q = q.Where("risk_level = ?", string(f.Risk))
	}
	return q
}

// ListChunks returns the mirrored chunks matching f, by id.
func ListChunks(ctx context.Context, db *bun.DB, f models.Filter) ([]models.Chunk, error) {
	var records []ChunkRecord
	if err := listQuery(db, &records, f).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	chunks := make([]models.Chunk, len(records))
	for i, r := range records {
		chunks[i] = r.Chunk()
	}
	return chunks, nil
}

func DropChunks(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*ChunkRecord)(nil)).IfExists().Exec(ctx)
	return err
}
