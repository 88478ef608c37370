package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"tenancy-rag/internal/models"
)

const distanceCosine = "cosine"

// VectorDBManager encapsulates the chromem-go database operations for one
// collection. chromem keeps no collection schema, so dimension and embedding
// model are tracked in a manifest file next to the collection.
type VectorDBManager struct {
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	dbPath         string
	inMemory       bool
	compress       bool
	encryptionKey  string
	filePath       string

	mu       sync.RWMutex
	manifest *models.CollectionInfo
}

// NewVectorDBManager initializes a new vector database manager
func NewVectorDBManager(dbPath, collectionName string, inMemory, compress bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(dbPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database folder: %w", err)
		}
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:             db,
		collectionName: collectionName,
		dbPath:         dbPath,
		inMemory:       inMemory,
		compress:       compress,
		encryptionKey:  encryptionKey,
		filePath:       snapshotPath(dbPath, collectionName, compress, encryptionKey),
	}
	if err := m.loadManifest(); err != nil {
		return nil, err
	}
	return m, nil
}

// rejectEmbedding keeps chromem from falling back to its default OpenAI
// embedding function: vectors are always computed by the caller.
func rejectEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromemdb: documents and queries must carry embeddings")
}

// EnsureCollection creates the collection or checks that the existing one was
// built with the same dimension and model. recreate drops existing points.
func (m *VectorDBManager) EnsureCollection(ctx context.Context, dim int, model string, recreate bool) (models.CollectionInfo, error) {
	if dim <= 0 {
		return models.CollectionInfo{}, fmt.Errorf("invalid dimension %d", dim)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if recreate {
		if err := m.db.DeleteCollection(m.collectionName); err != nil {
			return models.CollectionInfo{}, fmt.Errorf("failed to drop collection: %w", err)
		}
		m.collection = nil
		m.manifest = nil
	}

	if m.manifest != nil {
		if m.manifest.Dimension != dim {
			return models.CollectionInfo{}, fmt.Errorf("%w: collection %s has %d, embedder produces %d",
				models.ErrDimensionMismatch, m.collectionName, m.manifest.Dimension, dim)
		}
		if m.manifest.Model != "" && model != "" && m.manifest.Model != model {
			return models.CollectionInfo{}, fmt.Errorf("%w: collection %s was built with %q, not %q",
				models.ErrModelMismatch, m.collectionName, m.manifest.Model, model)
		}
	}

	c, err := m.db.GetOrCreateCollection(m.collectionName, map[string]string{"distance": distanceCosine}, rejectEmbedding)
	if err != nil {
		return models.CollectionInfo{}, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c

	if m.manifest == nil {
		m.manifest = &models.CollectionInfo{Name: m.collectionName, Dimension: dim, Distance: distanceCosine, Model: model}
		if err := m.saveManifest(); err != nil {
			return models.CollectionInfo{}, err
		}
		log.Info().Str("collection", m.collectionName).Int("dimension", dim).Str("model", model).Msg("created collection")
	}

	info := *m.manifest
	info.PointCount = c.Count()
	return info, nil
}

// Upsert writes one point; an existing id is overwritten.
func (m *VectorDBManager) Upsert(ctx context.Context, p models.Point) error {
	m.mu.RLock()
	c, manifest := m.collection, m.manifest
	m.mu.RUnlock()
	if c == nil {
		return errors.New("collection is not initialised")
	}
	if len(p.Vector) != manifest.Dimension {
		return fmt.Errorf("%w: point %d has %d, collection expects %d",
			models.ErrDimensionMismatch, p.ID, len(p.Vector), manifest.Dimension)
	}

	doc := chromem.Document{
		ID:        strconv.Itoa(p.ID),
		Metadata:  p.Chunk.Payload(),
		Embedding: p.Vector,
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document %d: %w", p.ID, err)
	}
	return nil
}

// Query returns up to limit hits matching the filter, by descending score
// and ascending id.
func (m *VectorDBManager) Query(ctx context.Context, vector []float32, f models.Filter, limit int) ([]models.Hit, error) {
	m.mu.RLock()
	c, manifest := m.collection, m.manifest
	m.mu.RUnlock()
	if c == nil {
		return nil, errors.New("collection is not initialised")
	}
	if len(vector) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	if len(vector) != manifest.Dimension {
		return nil, fmt.Errorf("%w: query has %d, collection expects %d",
			models.ErrDimensionMismatch, len(vector), manifest.Dimension)
	}
	n := c.Count()
	if n == 0 || limit <= 0 {
		return []models.Hit{}, nil
	}

	where := map[string]string{}
	if f.Category != "" {
		where[models.PayloadCategory] = string(f.Category)
	}
	if f.Risk != "" {
		where[models.PayloadRiskLevel] = string(f.Risk)
	}

	// Ask for every point so ties at the cut-off are resolved by id below.
	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
		Where:          where,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	hits := make([]models.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, models.Hit{Chunk: models.ChunkFromPayload(r.Metadata), Score: r.Similarity})
	}
	models.SortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Prune deletes every point whose id is not in keep and returns how many
// were removed.
func (m *VectorDBManager) Prune(ctx context.Context, keep []int) (int, error) {
	m.mu.RLock()
	c, manifest := m.collection, m.manifest
	m.mu.RUnlock()
	if c == nil {
		return 0, errors.New("collection is not initialised")
	}
	n := c.Count()
	if n == 0 {
		return 0, nil
	}

	// chromem has no listing call; a query for every point returns all ids.
	all := make([]float32, manifest.Dimension)
	all[0] = 1
	results, err := c.QueryEmbedding(ctx, all, n, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}

	wanted := make(map[string]bool, len(keep))
	for _, id := range keep {
		wanted[strconv.Itoa(id)] = true
	}
	var stale []string
	for _, r := range results {
		if !wanted[r.ID] {
			stale = append(stale, r.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := c.Delete(ctx, nil, nil, stale...); err != nil {
		return 0, fmt.Errorf("failed to delete stale documents: %w", err)
	}
	log.Info().Str("collection", m.collectionName).Strs("ids", stale).Msg("pruned stale points")
	return len(stale), nil
}

func (m *VectorDBManager) Info(ctx context.Context) (models.CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.manifest == nil || m.collection == nil {
		return models.CollectionInfo{}, fmt.Errorf("collection %s does not exist", m.collectionName)
	}
	info := *m.manifest
	info.PointCount = m.collection.Count()
	return info, nil
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	m.collection = nil
	m.manifest = nil
	return m.removeManifest()
}

// Export writes the collection to a snapshot file, encrypted when a key is set.
func (m *VectorDBManager) Export(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(m.dbPath, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot folder: %w", err)
	}

	log.Debug().Str("collection", m.collectionName).Str("file", m.filePath).Bool("compress", m.compress).Msg("exporting collection")
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return m.writeManifestFile()
}

// Import restores a snapshot written by Export.
func (m *VectorDBManager) Import(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	m.collection = m.db.GetCollection(m.collectionName, rejectEmbedding)
	if m.collection == nil {
		return fmt.Errorf("snapshot %s has no collection %s", m.filePath, m.collectionName)
	}
	return m.readManifestFile()
}

// SnapshotExists reports whether an exported snapshot is on disk.
func (m *VectorDBManager) SnapshotExists() bool {
	_, err := os.Stat(m.filePath)
	return err == nil
}

// snapshotPath follows chromem's naming: compressed snapshots end in .gz and
// encrypted ones in .enc.
func snapshotPath(dbPath, collection string, compress bool, encryptionKey string) string {
	name := collection + ".gob"
	if compress {
		name += ".gz"
	}
	if encryptionKey != "" {
		name += ".enc"
	}
	return filepath.Join(dbPath, name)
}

func (m *VectorDBManager) manifestPath() string {
	return filepath.Join(m.dbPath, m.collectionName+".manifest.yaml")
}

// loadManifest picks up an existing persistent collection.
func (m *VectorDBManager) loadManifest() error {
	if m.inMemory {
		return nil
	}
	if err := m.readManifestFile(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	m.collection = m.db.GetCollection(m.collectionName, rejectEmbedding)
	if m.collection == nil {
		m.manifest = nil
	}
	return nil
}

func (m *VectorDBManager) saveManifest() error {
	if m.inMemory {
		return nil
	}
	return m.writeManifestFile()
}

func (m *VectorDBManager) writeManifestFile() error {
	data, err := yaml.Marshal(m.manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(m.manifestPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (m *VectorDBManager) readManifestFile() error {
	data, err := os.ReadFile(m.manifestPath())
	if err != nil {
		return err
	}
	var info models.CollectionInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("failed to decode manifest: %w", err)
	}
	m.manifest = &info
	return nil
}

func (m *VectorDBManager) removeManifest() error {
	if m.inMemory {
		return nil
	}
	if err := os.Remove(m.manifestPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}
	return nil
}
