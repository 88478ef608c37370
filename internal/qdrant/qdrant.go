// Package qdrant is a minimal REST client for a Qdrant collection holding
// knowledge chunks.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/models"
)

// modelKey is stored in each point payload so a query-time model can be
// checked against the one used at ingestion.
const modelKey = "embedding_model"

var errNotFound = errors.New("not found")

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	dimension int
	model     string
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

type collectionResponse struct {
	Result struct {
		PointsCount int `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// EnsureCollection creates the collection with cosine distance if missing, or
// verifies the existing one's vector size and embedding model.
func (s *Storage) EnsureCollection(ctx context.Context, dim int, model string, recreate bool) (models.CollectionInfo, error) {
	if dim <= 0 {
		return models.CollectionInfo{}, fmt.Errorf("invalid dimension %d", dim)
	}
	if recreate {
		if err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil); err != nil && !errors.Is(err, errNotFound) {
			return models.CollectionInfo{}, err
		}
	}

	info, err := s.fetchInfo(ctx)
	switch {
	case errors.Is(err, errNotFound):
		body := map[string]any{
			"vectors": map[string]any{
				"size":     dim,
				"distance": "Cosine",
			},
		}
		if err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
			return models.CollectionInfo{}, err
		}
		log.Info().Str("collection", s.collection).Int("dimension", dim).Msg("created qdrant collection")
		info = models.CollectionInfo{Name: s.collection, Dimension: dim, Distance: "Cosine"}
	case err != nil:
		return models.CollectionInfo{}, err
	default:
		if info.Dimension != dim {
			return models.CollectionInfo{}, fmt.Errorf("%w: collection %s has %d, embedder produces %d",
				models.ErrDimensionMismatch, s.collection, info.Dimension, dim)
		}
		stored, err := s.storedModel(ctx)
		if err != nil {
			return models.CollectionInfo{}, err
		}
		if stored != "" && model != "" && stored != model {
			return models.CollectionInfo{}, fmt.Errorf("%w: collection %s was built with %q, not %q",
				models.ErrModelMismatch, s.collection, stored, model)
		}
	}

	s.dimension = dim
	s.model = model
	info.Model = model
	return info, nil
}

func (s *Storage) Upsert(ctx context.Context, p models.Point) error {
	if s.dimension > 0 && len(p.Vector) != s.dimension {
		return fmt.Errorf("%w: point %d has %d, collection expects %d",
			models.ErrDimensionMismatch, p.ID, len(p.Vector), s.dimension)
	}
	payload := map[string]any{}
	for k, v := range p.Chunk.Payload() {
		payload[k] = v
	}
	payload[models.PayloadID] = p.ID
	if s.model != "" {
		payload[modelKey] = s.model
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": payload,
		}},
	}
	return s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil)
}

// Query searches the whole filtered collection and returns the top limit hits
// by descending score, then ascending id.
func (s *Storage) Query(ctx context.Context, vector []float32, f models.Filter, limit int) ([]models.Hit, error) {
	if limit <= 0 {
		return []models.Hit{}, nil
	}
	info, err := s.fetchInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info.PointCount == 0 {
		return []models.Hit{}, nil
	}
	if len(vector) != info.Dimension {
		return nil, fmt.Errorf("%w: query has %d, collection expects %d",
			models.ErrDimensionMismatch, len(vector), info.Dimension)
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        info.PointCount,
		"with_payload": true,
	}
	var must []map[string]any
	if f.Category != "" {
		must = append(must, match(models.PayloadCategory, string(f.Category)))
	}
	if f.Risk != "" {
		must = append(must, match(models.PayloadRiskLevel, string(f.Risk)))
	}
	if len(must) > 0 {
		req["filter"] = map[string]any{"must": must}
	}

	var resp struct {
		Result []struct {
			ID      json.Number    `json:"id"`
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}

	hits := make([]models.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		chunk := models.ChunkFromPayload(stringPayload(r.Payload))
		if id, err := strconv.Atoi(r.ID.String()); err == nil {
			chunk.ID = id
		}
		hits = append(hits, models.Hit{Chunk: chunk, Score: r.Score})
	}
	models.SortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Prune deletes every point whose id is not in keep and returns how many
// were removed.
func (s *Storage) Prune(ctx context.Context, keep []int) (int, error) {
	info, err := s.fetchInfo(ctx)
	if err != nil {
		return 0, err
	}
	if info.PointCount == 0 {
		return 0, nil
	}

	var resp struct {
		Result struct {
			Points []struct {
				ID json.Number `json:"id"`
			} `json:"points"`
		} `json:"result"`
	}
	body := map[string]any{"limit": info.PointCount, "with_payload": false, "with_vector": false}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/scroll", body, &resp); err != nil {
		return 0, err
	}

	wanted := make(map[int]bool, len(keep))
	for _, id := range keep {
		wanted[id] = true
	}
	var stale []int
	for _, p := range resp.Result.Points {
		id, err := strconv.Atoi(p.ID.String())
		if err != nil {
			return 0, fmt.Errorf("qdrant: unexpected point id %q", p.ID)
		}
		if !wanted[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/delete?wait=true", map[string]any{"points": stale}, nil); err != nil {
		return 0, err
	}
	log.Info().Str("collection", s.collection).Ints("ids", stale).Msg("pruned stale points")
	return len(stale), nil
}

func (s *Storage) Info(ctx context.Context) (models.CollectionInfo, error) {
	info, err := s.fetchInfo(ctx)
	if err != nil {
		return models.CollectionInfo{}, err
	}
	info.Model, err = s.storedModel(ctx)
	return info, err
}

func (s *Storage) DeleteCollection(ctx context.Context) error {
	err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

func (s *Storage) fetchInfo(ctx context.Context) (models.CollectionInfo, error) {
	var resp collectionResponse
	if err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, &resp); err != nil {
		return models.CollectionInfo{}, err
	}
	return models.CollectionInfo{
		Name:       s.collection,
		Dimension:  resp.Result.Config.Params.Vectors.Size,
		Distance:   resp.Result.Config.Params.Vectors.Distance,
		PointCount: resp.Result.PointsCount,
	}, nil
}

// storedModel reads the embedding model from any one point.
func (s *Storage) storedModel(ctx context.Context) (string, error) {
	var resp struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	body := map[string]any{"limit": 1, "with_payload": true, "with_vector": false}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/scroll", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Result.Points) == 0 {
		return "", nil
	}
	m, _ := resp.Result.Points[0].Payload[modelKey].(string)
	return m, nil
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s %s: %w", method, url, errNotFound)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("qdrant: decode response: %w", err)
	}
	return nil
}

func match(key, value string) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"value": value}}
}

func stringPayload(p map[string]any) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		switch t := v.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		}
	}
	return out
}
