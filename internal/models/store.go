package models

import "sort"

const KnowledgeSource = "tenancy-law knowledge base"

// Metadata aggregates the unified store. It is always derived from the chunks.
type Metadata struct {
	Source               string              `json:"source"`
	Version              string              `json:"version"`
	HeuristicVersion     string              `json:"heuristic_version"`
	TotalChunks          int                 `json:"total_chunks"`
	Categories           []Category          `json:"categories"`
	CategoryDescriptions map[Category]string `json:"category_descriptions"`
	CategoryCounts       map[Category]int    `json:"category_counts"`
	RiskCounts           map[RiskLevel]int   `json:"risk_counts"`
	SourceFiles          []string            `json:"source_files"`
	SourceBatches        []string            `json:"source_batches,omitempty"`
	GeneratedBy          string              `json:"generated_by,omitempty"`
}

// UnifiedStore is the merged, deduplicated knowledge base.
type UnifiedStore struct {
	Metadata Metadata `json:"metadata"`
	Chunks   []Chunk  `json:"chunks"`
}

// BuildMetadata recomputes counts and provenance from chunks. Every canonical
// category and risk level is present in the counts, zero or not.
func BuildMetadata(chunks []Chunk, heuristicVersion string, batches []string) Metadata {
	m := Metadata{
		Source:               KnowledgeSource,
		Version:              "1.0",
		HeuristicVersion:     heuristicVersion,
		TotalChunks:          len(chunks),
		Categories:           Categories(),
		CategoryDescriptions: make(map[Category]string, len(CategoryDescriptions)),
		CategoryCounts:       make(map[Category]int, len(Categories())),
		RiskCounts:           make(map[RiskLevel]int, len(RiskLevels())),
		SourceFiles:          []string{},
		SourceBatches:        batches,
	}
	for k, v := range CategoryDescriptions {
		m.CategoryDescriptions[k] = v
	}
	for _, c := range Categories() {
		m.CategoryCounts[c] = 0
	}
	for _, r := range RiskLevels() {
		m.RiskCounts[r] = 0
	}

	seen := map[string]bool{}
	for _, c := range chunks {
		m.CategoryCounts[c.Category]++
		m.RiskCounts[c.RiskLevel]++
		if c.SourceDocument != "" && !seen[c.SourceDocument] {
			seen[c.SourceDocument] = true
			m.SourceFiles = append(m.SourceFiles, c.SourceDocument)
		}
	}
	sort.Strings(m.SourceFiles)
	return m
}
