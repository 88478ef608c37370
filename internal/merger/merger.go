// Package merger deduplicates chunks from several extraction batches into the
// unified knowledge store and assigns stable ids.
package merger

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/category"
	"tenancy-rag/internal/models"
)

// Batch is one document's normalized chunks, in input order.
type Batch struct {
	Name   string
	Chunks []models.Chunk
}

// Decision records how a group of colliding chunks was resolved.
type Decision struct {
	Key            string   `json:"key"`
	Kept           string   `json:"kept"`
	Dropped        []string `json:"dropped"`
	Reason         string   `json:"reason"`
	SurvivorTitle  string   `json:"survivor_title"`
	SurvivorSource string   `json:"survivor_source"`
}

// Report summarises a merge.
type Report struct {
	Input      int        `json:"input"`
	Output     int        `json:"output"`
	Duplicates int        `json:"duplicates"`
	Decisions  []Decision `json:"decisions,omitempty"`
}

type options struct {
	titleThreshold float64
	generatedBy    string
}

// Option configures Merge.
type Option func(*options)

// WithTitleThreshold additionally merges groups whose title and key rule token
// sets have a Jaccard similarity of at least t. Zero disables it.
func WithTitleThreshold(t float64) Option {
	return func(o *options) { o.titleThreshold = t }
}

// WithGeneratedBy stamps the store metadata with the producing run.
func WithGeneratedBy(s string) Option {
	return func(o *options) { o.generatedBy = s }
}

type candidate struct {
	chunk    models.Chunk
	batch    int
	position int
	key      string
	tokens   map[string]struct{}
}

func (c candidate) label(batches []Batch) string {
	return batches[c.batch].Name + "#" + strconv.Itoa(c.position)
}

// Merge combines batches into a unified store. The output depends only on the
// batch contents and their order, so re-running it yields identical ids.
func Merge(batches []Batch, opts ...Option) (*models.UnifiedStore, Report) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	var report Report
	groups := map[string][]candidate{}
	var order []string
	for bi, b := range batches {
		for pi, c := range b.Chunks {
			report.Input++
			cand := candidate{chunk: c, batch: bi, position: pi, key: DedupKey(c.KeyRule)}
			if o.titleThreshold > 0 {
				cand.tokens = tokenSet(c.Title + " " + c.KeyRule)
			}
			if _, ok := groups[cand.key]; !ok {
				order = append(order, cand.key)
			}
			groups[cand.key] = append(groups[cand.key], cand)
		}
	}

	if o.titleThreshold > 0 {
		order, groups = clusterSimilar(order, groups, o.titleThreshold)
	}

	survivors := make([]candidate, 0, len(order))
	for _, key := range order {
		group := groups[key]
		winner := group[0]
		for _, c := range group[1:] {
			if better(c, winner) {
				winner = c
			}
		}
		winner.chunk = category.Apply(winner.chunk)
		survivors = append(survivors, winner)

		if len(group) > 1 {
			d := Decision{
				Key:            key,
				Kept:           winner.label(batches),
				Reason:         reason(winner, group),
				SurvivorTitle:  winner.chunk.Title,
				SurvivorSource: winner.chunk.SourceDocument,
			}
			for _, c := range group {
				if c.batch == winner.batch && c.position == winner.position {
					continue
				}
				d.Dropped = append(d.Dropped, c.label(batches))
			}
			report.Duplicates += len(d.Dropped)
			report.Decisions = append(report.Decisions, d)
			log.Info().
				Str("key", key).
				Str("kept", d.Kept).
				Strs("dropped", d.Dropped).
				Str("reason", d.Reason).
				Msg("merged duplicate chunks")
		}
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if oa, ob := a.chunk.Category.Order(), b.chunk.Category.Order(); oa != ob {
			return oa < ob
		}
		if a.batch != b.batch {
			return a.batch < b.batch
		}
		return a.position < b.position
	})

	chunks := make([]models.Chunk, len(survivors))
	for i, s := range survivors {
		s.chunk.ID = i + 1
		chunks[i] = s.chunk
	}
	report.Output = len(chunks)

	names := make([]string, len(batches))
	for i, b := range batches {
		names[i] = b.Name
	}
	meta := models.BuildMetadata(chunks, category.HeuristicVersion, names)
	meta.GeneratedBy = o.generatedBy

	return &models.UnifiedStore{Metadata: meta, Chunks: chunks}, report
}

// better reports whether a should replace the current winner b: non-default
// risk first, then the longer implication, then the earlier batch and position.
func better(a, b candidate) bool {
	aRisk := a.chunk.RiskLevel != models.DefaultRisk
	bRisk := b.chunk.RiskLevel != models.DefaultRisk
	if aRisk != bRisk {
		return aRisk
	}
	if la, lb := len([]rune(a.chunk.ExpatImplication)), len([]rune(b.chunk.ExpatImplication)); la != lb {
		return la > lb
	}
	if a.batch != b.batch {
		return a.batch < b.batch
	}
	return a.position < b.position
}

func reason(winner candidate, group []candidate) string {
	for _, c := range group {
		if (c.chunk.RiskLevel != models.DefaultRisk) != (winner.chunk.RiskLevel != models.DefaultRisk) {
			return "non-default risk level"
		}
	}
	for _, c := range group {
		if len([]rune(c.chunk.ExpatImplication)) != len([]rune(winner.chunk.ExpatImplication)) {
			return "longer expat implication"
		}
	}
	return "earliest batch order"
}

// DedupKey lowercases, strips punctuation and collapses whitespace.
func DedupKey(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// clusterSimilar folds each group into the earliest earlier group that has a
// member above the similarity threshold.
func clusterSimilar(order []string, groups map[string][]candidate, threshold float64) ([]string, map[string][]candidate) {
	var outOrder []string
	out := map[string][]candidate{}
	for _, key := range order {
		target := key
	search:
		for _, existing := range outOrder {
			for _, a := range out[existing] {
				for _, b := range groups[key] {
					if jaccard(a.tokens, b.tokens) >= threshold {
						target = existing
						break search
					}
				}
			}
		}
		if target == key {
			outOrder = append(outOrder, key)
		}
		out[target] = append(out[target], groups[key]...)
	}
	return outOrder, out
}

func tokenSet(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range strings.Fields(DedupKey(s)) {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
