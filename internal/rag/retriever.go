// Package rag answers searches and chat questions from the indexed knowledge base.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/models"
)

// Searcher is the read side of a vector index.
type Searcher interface {
	Query(ctx context.Context, vector []float32, f models.Filter, limit int) ([]models.Hit, error)
	Info(ctx context.Context) (models.CollectionInfo, error)
}

// QueryEmbedder must be the same embedding service used at ingestion.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// SearchRequest is a semantic search with optional exact-match filters.
type SearchRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	Category string `json:"category_filter,omitempty"`
	Risk     string `json:"risk_filter,omitempty"`
}

// SearchResult is one ranked chunk with its cosine score.
type SearchResult struct {
	Score            float32          `json:"score"`
	ID               int              `json:"id"`
	Title            string           `json:"title"`
	Category         models.Category  `json:"category"`
	KeyRule          string           `json:"key_rule"`
	ExpatImplication string           `json:"expat_implication"`
	RiskLevel        models.RiskLevel `json:"risk_level"`
	SourceDocument   string           `json:"source_document"`
}

func resultFromHit(h models.Hit) SearchResult {
	return SearchResult{
		Score:            h.Score,
		ID:               h.Chunk.ID,
		Title:            h.Chunk.Title,
		Category:         h.Chunk.Category,
		KeyRule:          h.Chunk.KeyRule,
		ExpatImplication: h.Chunk.ExpatImplication,
		RiskLevel:        h.Chunk.RiskLevel,
		SourceDocument:   h.Chunk.SourceDocument,
	}
}

type Retriever struct {
	index    Searcher
	embedder QueryEmbedder
}

func NewRetriever(idx Searcher, e QueryEmbedder) *Retriever {
	return &Retriever{index: idx, embedder: e}
}

// CheckModel fails when the index was built with a different embedding model
// than the one used for queries.
func (r *Retriever) CheckModel(ctx context.Context) error {
	info, err := r.index.Info(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrRetrieval, err)
	}
	if info.Model != "" && info.Model != r.embedder.Model() {
		return fmt.Errorf("%w: index built with %q, queries use %q", models.ErrModelMismatch, info.Model, r.embedder.Model())
	}
	return nil
}

// ParseFilter validates optional category and risk filter values. Empty
// values mean no filter; anything outside the canonical sets is rejected.
func ParseFilter(category, risk string) (models.Filter, error) {
	var f models.Filter
	if category = strings.TrimSpace(category); category != "" {
		c := models.Category(category)
		if !c.Valid() {
			return f, fmt.Errorf("%w: unknown category %q", models.ErrInvalidFilter, category)
		}
		f.Category = c
	}
	if risk = strings.TrimSpace(risk); risk != "" {
		r, ok := models.ParseRisk(risk)
		if !ok {
			return f, fmt.Errorf("%w: unknown risk level %q", models.ErrInvalidFilter, risk)
		}
		f.Risk = r
	}
	return f, nil
}

// Search embeds the query and returns at most req.Limit chunks passing the
// filters, by descending score and ascending id. An empty index yields an
// empty list.
func (r *Retriever) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query", models.ErrEmptyInput)
	}
	if req.Limit < 1 {
		return nil, fmt.Errorf("%w: limit must be at least 1", models.ErrInvalidFilter)
	}
	filter, err := ParseFilter(req.Category, req.Risk)
	if err != nil {
		return nil, err
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrRetrieval, err)
	}
	hits, err := r.index.Query(ctx, vec, filter, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrRetrieval, err)
	}

	models.SortHits(hits)
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, resultFromHit(h))
	}
	log.Debug().Str("query", query).Int("limit", req.Limit).Int("results", len(results)).Msg("search")
	return results, nil
}

// IsClientError reports whether err was caused by a bad request rather than a
// failing backend.
func IsClientError(err error) bool {
	return errors.Is(err, models.ErrInvalidFilter) || errors.Is(err, models.ErrEmptyInput)
}
