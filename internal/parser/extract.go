package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/models"
)

// Completer sends a single prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMExtractor asks a model to pull rule records out of free text. Long
// documents are sent in overlapping windows.
type LLMExtractor struct {
	llm          Completer
	chunkSize    int
	chunkOverlap int
	fenceRe      *regexp.Regexp
}

func NewLLMExtractor(llm Completer, chunkSize, chunkOverlap int) *LLMExtractor {
	if chunkSize <= 0 {
		chunkSize = 4000
	}
	return &LLMExtractor{
		llm:          llm,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		fenceRe:      regexp.MustCompile(models.JSONFenceRegex),
	}
}

func (e *LLMExtractor) Extract(ctx context.Context, doc Document) ([]models.RawRecord, error) {
	categories := make([]string, 0, len(models.Categories()))
	for _, c := range models.Categories() {
		categories = append(categories, fmt.Sprintf("%q", string(c)))
	}

	var records []models.RawRecord
	windows := chunkContent(doc.Text(), e.chunkSize, e.chunkOverlap)
	for i, window := range windows {
		prompt := fmt.Sprintf(models.ExtractionPromptTemplate, doc.Name, window, strings.Join(categories, ", "))
		out, err := e.llm.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("extraction of %s part %d failed: %w", doc.Name, i+1, err)
		}
		recs, err := e.decode(out)
		if err != nil {
			// one malformed reply should not lose the whole document
			log.Warn().Err(err).Str("document", doc.Name).Int("part", i+1).Msg("could not decode extracted records")
			continue
		}
		for j := range recs {
			if recs[j].SourceDocument == nil {
				recs[j].SourceDocument = models.Str(doc.Name)
			}
		}
		records = append(records, recs...)
	}
	log.Info().Str("document", doc.Name).Int("parts", len(windows)).Int("records", len(records)).Msg("extracted records")
	return records, nil
}

// decode accepts a bare JSON array, an object with a "chunks" array, or
// either of those inside a markdown code fence.
func (e *LLMExtractor) decode(out string) ([]models.RawRecord, error) {
	body := strings.TrimSpace(out)
	if m := e.fenceRe.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	if start := strings.IndexAny(body, "[{"); start > 0 {
		body = body[start:]
	}
	if strings.HasPrefix(body, "[") {
		var records []models.RawRecord
		if err := json.Unmarshal([]byte(body), &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var src Source
	if err := json.Unmarshal([]byte(body), &src); err != nil {
		return nil, err
	}
	return src.Records, nil
}
