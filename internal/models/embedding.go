package models

import "sort"

// Point is a single vector index entry keyed by chunk id.
type Point struct {
	ID     int
	Vector []float32
	Chunk  Chunk
}

// Hit is a scored search result.
type Hit struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// SortHits orders by descending score, then ascending id.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
}

// Filter restricts a search to exact payload matches. Empty fields match all.
type Filter struct {
	Category Category
	Risk     RiskLevel
}

// Match reports whether c passes the filter.
func (f Filter) Match(c Chunk) bool {
	if f.Category != "" && c.Category != f.Category {
		return false
	}
	if f.Risk != "" && c.RiskLevel != f.Risk {
		return false
	}
	return true
}

// CollectionInfo describes a vector collection.
type CollectionInfo struct {
	Name       string `json:"name" yaml:"name"`
	Dimension  int    `json:"dimension" yaml:"dimension"`
	Distance   string `json:"distance" yaml:"distance"`
	Model      string `json:"model" yaml:"model"`
	PointCount int    `json:"points_count" yaml:"-"`
}
