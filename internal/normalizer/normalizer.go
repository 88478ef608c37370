// Package normalizer turns raw extraction records into validated chunks.
package normalizer

import (
	"strings"

	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/models"
)

// Rejection explains why a record was dropped.
type Rejection struct {
	Position int    `json:"position"`
	Reason   string `json:"reason"`
}

// Result is the outcome of normalizing one document's records.
type Result struct {
	Document   string         `json:"document"`
	Chunks     []models.Chunk `json:"chunks"`
	Rejected   int            `json:"rejected"`
	Rejections []Rejection    `json:"rejections,omitempty"`
}

// Normalize validates records of a single document. Records without a title or
// key rule are rejected and counted; the rest become chunks with a
// defaulted risk level. Category is copied as-is and standardized at merge.
func Normalize(document string, records []models.RawRecord) Result {
	res := Result{Document: document, Chunks: make([]models.Chunk, 0, len(records))}
	for i, rec := range records {
		c, reason, ok := normalizeRecord(document, rec)
		if !ok {
			res.Rejected++
			res.Rejections = append(res.Rejections, Rejection{Position: i, Reason: reason})
			log.Debug().Str("document", document).Int("position", i).Str("reason", reason).Msg("record rejected")
			continue
		}
		res.Chunks = append(res.Chunks, c)
	}
	return res
}

// NormalizeRecord converts a single record. ok is false when required fields are missing.
func NormalizeRecord(document string, rec models.RawRecord) (models.Chunk, bool) {
	c, _, ok := normalizeRecord(document, rec)
	return c, ok
}

func normalizeRecord(document string, rec models.RawRecord) (models.Chunk, string, bool) {
	title := clean(rec.Title)
	keyRule := clean(rec.KeyRule)
	if title == "" {
		return models.Chunk{}, "missing title", false
	}
	if keyRule == "" {
		return models.Chunk{}, "missing key_rule", false
	}

	risk := models.DefaultRisk
	if raw := clean(rec.RiskLevel); raw != "" {
		parsed, known := models.ParseRisk(raw)
		if !known {
			log.Debug().Str("document", document).Str("risk_level", raw).Msg("unknown risk level, using default")
		}
		risk = parsed
	}

	source := clean(rec.SourceDocument)
	if source == "" {
		source = document
	}

	return models.Chunk{
		Title:            title,
		Category:         models.Category(clean(rec.Category)),
		KeyRule:          keyRule,
		ExpatImplication: clean(rec.ExpatImplication),
		RiskLevel:        risk,
		SourceDocument:   source,
	}, "", true
}

func clean(p *string) string {
	if p == nil {
		return ""
	}
	return strings.Join(strings.Fields(*p), " ")
}
