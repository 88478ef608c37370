package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"tenancy-rag/internal/models"
)

const defaultHashDimension = 256

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "by": true,
	"can": true, "for": true, "from": true, "has": true, "have": true, "if": true, "in": true,
	"is": true, "it": true, "its": true, "may": true, "must": true, "no": true, "not": true,
	"of": true, "on": true, "or": true, "that": true, "the": true, "their": true, "this": true,
	"to": true, "was": true, "what": true, "when": true, "which": true, "will": true, "with": true,
	"you": true, "your": true, "der": true, "die": true, "das": true, "und": true,
}

// HashEmbedder is a deterministic bag-of-words embedder using feature hashing.
// It needs no model server and is used offline and in tests.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = defaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Model() string { return fmt.Sprintf("hash:fnv-%d", h.dim) }

// EmbedQuery returns an L2-normalised vector. Blank text is an error; any
// other input yields a non-zero vector.
func (h *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("hash embedder: %w", models.ErrEmptyInput)
	}

	tokens := tokenize(text, true)
	if len(tokens) == 0 {
		tokens = tokenize(text, false)
	}
	if len(tokens) == 0 {
		tokens = []string{strings.TrimSpace(text)}
	}

	vec := make([]float64, h.dim)
	for _, t := range tokens {
		vec[bucket(t, h.dim)] += 1
	}
	for i := 0; i+1 < len(tokens); i++ {
		vec[bucket(tokens[i]+" "+tokens[i+1], h.dim)] += 0.5
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, h.dim)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func bucket(s string, dim int) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(s))
	return int(f.Sum32() % uint32(dim))
}

func tokenize(text string, dropStopwords bool) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if dropStopwords && stopwords[f] {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

// stem strips a plural "s" so "deposits" and "deposit" share a feature.
func stem(t string) string {
	if len(t) > 3 && strings.HasSuffix(t, "s") && !strings.HasSuffix(t, "ss") {
		return t[:len(t)-1]
	}
	return t
}
