// Package store persists the unified knowledge base as a JSON document.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"tenancy-rag/internal/models"
)

// Write saves the store to path atomically: readers see either the previous
// file or the new one.
func Write(path string, s *models.UnifiedStore) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Read loads a store and validates its chunks.
func Read(path string) (*models.UnifiedStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	var s models.UnifiedStore
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode store %s: %w", path, err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the store invariants: unique ids, canonical categories and
// risk levels, and counts that agree with the chunk list.
func Validate(s *models.UnifiedStore) error {
	ids := make(map[int]bool, len(s.Chunks))
	counts := map[models.Category]int{}
	for _, c := range s.Chunks {
		if ids[c.ID] {
			return fmt.Errorf("duplicate chunk id %d", c.ID)
		}
		ids[c.ID] = true
		if !c.Category.Valid() {
			return fmt.Errorf("chunk %d: unknown category %q", c.ID, c.Category)
		}
		if !c.RiskLevel.Valid() {
			return fmt.Errorf("chunk %d: unknown risk level %q", c.ID, c.RiskLevel)
		}
		counts[c.Category]++
	}
	if s.Metadata.TotalChunks != len(s.Chunks) {
		return fmt.Errorf("total_chunks is %d but store has %d chunks", s.Metadata.TotalChunks, len(s.Chunks))
	}
	for _, cat := range models.Categories() {
		if s.Metadata.CategoryCounts[cat] != counts[cat] {
			return fmt.Errorf("category_counts[%s] is %d, expected %d", cat, s.Metadata.CategoryCounts[cat], counts[cat])
		}
	}
	return nil
}

// Select returns the chunks whose ids are in ids, in store order.
func Select(s *models.UnifiedStore, ids []int) []models.Chunk {
	want := make(map[int]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Chunk
	for _, c := range s.Chunks {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
