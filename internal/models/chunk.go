package models

import (
	"strconv"
	"strings"
)

// Category is one of the canonical tenancy-law topics.
type Category string

const (
	CategoryContractBasics     Category = "Contract Basics"
	CategoryDepositsPayments   Category = "Deposits & Payments"
	CategoryRentCosts          Category = "Rent & Costs"
	CategoryRepairsMaintenance Category = "Repairs & Maintenance"
	CategoryRightsObligations  Category = "Rights & Obligations"
	CategoryNoticePeriods      Category = "Notice Periods"
	CategoryUtilityCosts       Category = "Utility Costs"
	CategorySpecialSituations  Category = "Special Situations"
	DefaultCategory            Category = CategorySpecialSituations
)

// Categories returns the canonical categories in output order.
func Categories() []Category {
	return []Category{
		CategoryContractBasics,
		CategoryDepositsPayments,
		CategoryRentCosts,
		CategoryRepairsMaintenance,
		CategoryRightsObligations,
		CategoryNoticePeriods,
		CategoryUtilityCosts,
		CategorySpecialSituations,
	}
}

// CategoryDescriptions is written into the unified store metadata.
var CategoryDescriptions = map[Category]string{
	CategoryContractBasics:     "Contract formation, language, terms, and structure",
	CategoryDepositsPayments:   "Security deposits, payment methods, and financial obligations",
	CategoryRentCosts:          "Rent amounts, increases, utilities, and cost allocations",
	CategoryRepairsMaintenance: "Repair responsibilities, maintenance obligations, and property upkeep",
	CategoryRightsObligations:  "Tenant and landlord rights, access rules, and legal obligations",
	CategoryNoticePeriods:      "Termination notices, notice periods, and ending tenancy",
	CategoryUtilityCosts:       "Heating, water, electricity, and utility bill settlements",
	CategorySpecialSituations:  "Property sale, inheritance, force majeure, and exceptional cases",
}

// Order returns the position of c in Categories, or len(Categories()) if unknown.
func (c Category) Order() int {
	for i, v := range Categories() {
		if v == c {
			return i
		}
	}
	return len(Categories())
}

// Valid reports whether c is canonical.
func (c Category) Valid() bool {
	return c.Order() < len(Categories())
}

// RiskLevel grades how dangerous a rule is for a tenant.
type RiskLevel string

const (
	RiskNormal  RiskLevel = "normal"
	RiskCaution RiskLevel = "caution"
	RiskRedFlag RiskLevel = "red flag"
	DefaultRisk RiskLevel = RiskNormal
)

// RiskLevels returns all risk levels from least to most severe.
func RiskLevels() []RiskLevel {
	return []RiskLevel{RiskNormal, RiskCaution, RiskRedFlag}
}

// Severity orders risk levels: normal < caution < red flag.
func (r RiskLevel) Severity() int {
	switch r {
	case RiskCaution:
		return 1
	case RiskRedFlag:
		return 2
	default:
		return 0
	}
}

func (r RiskLevel) Valid() bool {
	return r == RiskNormal || r == RiskCaution || r == RiskRedFlag
}

// ParseRisk maps a free-form risk label onto a RiskLevel. The second return
// value is false when the label was not recognised and the default was used.
func ParseRisk(s string) (RiskLevel, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	key = strings.Join(strings.Fields(key), " ")
	switch key {
	case "normal", "low", "info", "ok":
		return RiskNormal, true
	case "caution", "warning", "medium", "moderate":
		return RiskCaution, true
	case "red flag", "redflag", "high", "critical", "danger":
		return RiskRedFlag, true
	}
	return DefaultRisk, false
}

// Chunk is one atomic, self-contained tenancy rule.
type Chunk struct {
	ID               int       `json:"id"`
	Title            string    `json:"title"`
	Category         Category  `json:"category"`
	OriginalCategory string    `json:"original_category,omitempty"`
	KeyRule          string    `json:"key_rule"`
	ExpatImplication string    `json:"expat_implication"`
	RiskLevel        RiskLevel `json:"risk_level"`
	SourceDocument   string    `json:"source_document"`
}

// TextForSearch is the embedding input derived from the chunk's text fields.
func (c Chunk) TextForSearch() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{c.Title, c.KeyRule, c.ExpatImplication} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Payload keys shared by every vector index backend.
const (
	PayloadID               = "id"
	PayloadTitle            = "title"
	PayloadCategory         = "category"
	PayloadOriginalCategory = "original_category"
	PayloadKeyRule          = "key_rule"
	PayloadExpatImplication = "expat_implication"
	PayloadRiskLevel        = "risk_level"
	PayloadSourceDocument   = "source_document"
)

// Payload returns every chunk field except the derived search text.
func (c Chunk) Payload() map[string]string {
	return map[string]string{
		PayloadID:               strconv.Itoa(c.ID),
		PayloadTitle:            c.Title,
		PayloadCategory:         string(c.Category),
		PayloadOriginalCategory: c.OriginalCategory,
		PayloadKeyRule:          c.KeyRule,
		PayloadExpatImplication: c.ExpatImplication,
		PayloadRiskLevel:        string(c.RiskLevel),
		PayloadSourceDocument:   c.SourceDocument,
	}
}

// ChunkFromPayload rebuilds a chunk from an index payload.
func ChunkFromPayload(p map[string]string) Chunk {
	id, _ := strconv.Atoi(p[PayloadID])
	return Chunk{
		ID:               id,
		Title:            p[PayloadTitle],
		Category:         Category(p[PayloadCategory]),
		OriginalCategory: p[PayloadOriginalCategory],
		KeyRule:          p[PayloadKeyRule],
		ExpatImplication: p[PayloadExpatImplication],
		RiskLevel:        RiskLevel(p[PayloadRiskLevel]),
		SourceDocument:   p[PayloadSourceDocument],
	}
}
