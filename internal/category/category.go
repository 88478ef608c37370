// Package category maps free-form category labels onto the canonical set.
package category

import (
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/models"
)

// HeuristicVersion identifies the label table and keyword rules below. Bump it
// whenever either changes so stored datasets can be traced to the rules that
// categorised them.
const HeuristicVersion = "kw-2"

// Method records which step produced a category.
type Method string

const (
	MethodLabel   Method = "label"
	MethodKeyword Method = "keyword"
	MethodDefault Method = "default"
)

var labels = map[string]models.Category{
	"contract basics":         models.CategoryContractBasics,
	"contract":                models.CategoryContractBasics,
	"deposits and payments":   models.CategoryDepositsPayments,
	"deposits":                models.CategoryDepositsPayments,
	"deposit":                 models.CategoryDepositsPayments,
	"payments":                models.CategoryDepositsPayments,
	"rent and costs":          models.CategoryRentCosts,
	"rent":                    models.CategoryRentCosts,
	"repairs and maintenance": models.CategoryRepairsMaintenance,
	"repairs":                 models.CategoryRepairsMaintenance,
	"maintenance":             models.CategoryRepairsMaintenance,
	"rights and obligations":  models.CategoryRightsObligations,
	"notice periods":          models.CategoryNoticePeriods,
	"notice period":           models.CategoryNoticePeriods,
	"termination and notice":  models.CategoryNoticePeriods,
	"termination":             models.CategoryNoticePeriods,
	"utility costs":           models.CategoryUtilityCosts,
	"utilities":               models.CategoryUtilityCosts,
	"special situations":      models.CategorySpecialSituations,
}

type rule struct {
	category models.Category
	keywords []string
}

// Order matters: the first matching rule wins. Deposits come before rent so
// "deposit max 3 months rent" is a deposit rule.
var rules = []rule{
	{models.CategoryDepositsPayments, []string{
		"deposit", "deposits", "kaution", "mietkaution", "security deposit", "bank guarantee", "guarantee",
	}},
	{models.CategoryUtilityCosts, []string{
		"utility", "utilities", "nebenkosten", "betriebskosten", "service charge", "service charges",
		"heating", "operating costs", "electricity", "water",
	}},
	{models.CategoryNoticePeriods, []string{
		"notice", "termination", "terminate", "kündigung", "kuendigung", "cancel", "cancellation",
		"move out", "moving out",
	}},
	{models.CategoryRepairsMaintenance, []string{
		"repair", "repairs", "maintenance", "defect", "defects", "mould", "mold", "damage",
		"renovation", "renovate", "cosmetic", "schönheitsreparaturen",
	}},
	{models.CategoryRentCosts, []string{
		"rent", "rents", "miete", "rent increase", "mietpreisbremse", "index rent", "indexmiete",
		"staffelmiete", "graduated rent", "rent brake", "price", "cost", "costs",
	}},
	{models.CategoryContractBasics, []string{
		"contract", "lease", "agreement", "mietvertrag", "signing", "sign", "fixed term", "unlimited",
	}},
	{models.CategoryRightsObligations, []string{
		"right", "rights", "obligation", "obligations", "sublet", "subletting", "pet", "pets",
		"visit", "visits", "privacy", "house rules", "registration", "anmeldung",
	}},
	{models.CategorySpecialSituations, []string{
		"furnished", "shared flat", "wg", "temporary", "student", "sublease",
	}},
}

// Standardize returns the canonical category for a label, falling back to
// keyword rules over title and key rule, and finally to the default. It never
// fails.
func Standardize(label *string, title, keyRule string) models.Category {
	c, _ := Resolve(label, title, keyRule)
	return c
}

// Resolve is Standardize that also reports which step decided.
func Resolve(label *string, title, keyRule string) (models.Category, Method) {
	if label != nil {
		if c, ok := labels[normalize(*label)]; ok {
			return c, MethodLabel
		}
	}
	if c, ok := matchKeywords(title + " " + keyRule); ok {
		return c, MethodKeyword
	}
	return models.DefaultCategory, MethodDefault
}

// Apply standardizes the chunk's category in place of its current label and
// keeps the original label when it changed.
func Apply(c models.Chunk) models.Chunk {
	label := c.OriginalCategory
	if label == "" {
		label = string(c.Category)
	}
	var lp *string
	if strings.TrimSpace(label) != "" {
		lp = &label
	}
	var method Method
	c.Category, method = Resolve(lp, c.Title, c.KeyRule)
	if method != MethodLabel {
		log.Debug().Str("title", c.Title).Str("label", label).Str("category", string(c.Category)).
			Str("method", string(method)).Msg("category not resolved from label")
	}
	if label != string(c.Category) && label != "" {
		c.OriginalCategory = label
	} else {
		c.OriginalCategory = ""
	}
	return c
}

func matchKeywords(text string) (models.Category, bool) {
	padded := " " + normalize(text) + " "
	if strings.TrimSpace(padded) == "" {
		return "", false
	}
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(padded, " "+kw+" ") {
				return r.category, true
			}
		}
	}
	return "", false
}

// normalize lowercases, spells out "&", drops punctuation and collapses whitespace.
func normalize(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "&", " and "))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
