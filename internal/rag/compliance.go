package rag

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/models"
)

// ComplianceResult flags statements heard during a viewing that conflict with
// tenancy rules.
type ComplianceResult struct {
	RiskLevel    models.RiskLevel `json:"risk_level"`
	Warnings     []string         `json:"warnings,omitempty"`
	QuickMatches []string         `json:"quick_matches,omitempty"`
	RelatedRules []SearchResult   `json:"related_rules,omitempty"`
}

// phraseRule matches when phrase, and context if set, occur in the same
// sentence.
type phraseRule struct {
	phrase  string
	context string
	warning string
	risk    models.RiskLevel
}

var phraseRules = []phraseRule{
	{"6 months", "deposit", "Maximum 3 months deposit allowed", models.RiskRedFlag},
	{"deposit more than", "", "Maximum 3 months deposit allowed", models.RiskRedFlag},
	{"sofort", "", "3-month notice period required", models.RiskRedFlag},
	{"no notice period", "", "3-month notice period required", models.RiskRedFlag},
	{"immediate eviction", "", "Eviction requires notice and a court order", models.RiskRedFlag},
	{"illegal fee", "", "Agent and key fees are usually not payable by the tenant", models.RiskRedFlag},
	{"cash only", "", "Bank transfer recommended", models.RiskCaution},
	{"no contract", "", "Ask for a written rental contract", models.RiskCaution},
	{"you must pay", "", "Check whether this payment is actually owed", models.RiskCaution},
}

func (r phraseRule) matches(sentences []string) bool {
	for _, s := range sentences {
		if strings.Contains(s, r.phrase) && (r.context == "" || strings.Contains(s, r.context)) {
			return true
		}
	}
	return false
}

func sentences(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == ';' || r == '\n'
	})
}

const (
	cautionScore = 0.7
	redFlagScore = 0.85
)

// scoreRisk grades a red-flag rule found by search; a score at or above a
// threshold counts.
func scoreRisk(score float32) (models.RiskLevel, bool) {
	switch {
	case score >= redFlagScore:
		return models.RiskRedFlag, true
	case score >= cautionScore:
		return models.RiskCaution, true
	}
	return "", false
}

// Checker combines a phrase list with a semantic lookup of red-flag rules.
// A nil retriever limits it to phrases.
type Checker struct {
	retriever *Retriever
}

func NewChecker(r *Retriever) *Checker {
	return &Checker{retriever: r}
}

func (c *Checker) Check(ctx context.Context, text string) ComplianceResult {
	res := ComplianceResult{RiskLevel: models.RiskNormal}
	parts := sentences(text)

	seen := map[string]bool{}
	for _, r := range phraseRules {
		if !r.matches(parts) {
			continue
		}
		res.QuickMatches = append(res.QuickMatches, r.phrase)
		if !seen[r.warning] {
			seen[r.warning] = true
			res.Warnings = append(res.Warnings, r.warning)
		}
		res.RiskLevel = raise(res.RiskLevel, r.risk)
	}

	if c.retriever == nil || strings.TrimSpace(text) == "" {
		return res
	}
	related, err := c.retriever.Search(ctx, SearchRequest{Query: text, Limit: 3, Risk: string(models.RiskRedFlag)})
	if err != nil {
		log.Warn().Err(err).Msg("compliance lookup failed")
		return res
	}
	for _, r := range related {
		level, ok := scoreRisk(r.Score)
		if !ok {
			continue
		}
		res.RiskLevel = raise(res.RiskLevel, level)
		res.RelatedRules = append(res.RelatedRules, r)
	}
	return res
}

func raise(cur, next models.RiskLevel) models.RiskLevel {
	if next.Severity() > cur.Severity() {
		return next
	}
	return cur
}
