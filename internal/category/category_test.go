package category

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"tenancy-rag/internal/models"
)

func TestStandardizeLegacyLabels(t *testing.T) {
	cases := map[string]models.Category{
		"Contract basics":      models.CategoryContractBasics,
		"Deposits":             models.CategoryDepositsPayments,
		"Deposits & Payments":  models.CategoryDepositsPayments,
		"Rights & obligations": models.CategoryRightsObligations,
		"Notice periods":       models.CategoryNoticePeriods,
		"Termination & Notice": models.CategoryNoticePeriods,
		"  utility   COSTS ":   models.CategoryUtilityCosts,
		"Special Situations":   models.CategorySpecialSituations,
	}
	for label, want := range cases {
		got, method := Resolve(models.Str(label), "", "")
		assert.Equal(t, want, got, label)
		assert.Equal(t, MethodLabel, method, label)
	}
}

func TestStandardizeCanonicalIsFixedPoint(t *testing.T) {
	for _, c := range models.Categories() {
		assert.Equal(t, c, Standardize(models.Str(string(c)), "anything", "about rent"))
	}
}

func TestKeywordFallback(t *testing.T) {
	assert.Equal(t, models.CategoryDepositsPayments,
		Standardize(nil, "Deposit Limit", "Deposit max 3 months rent"))
	assert.Equal(t, models.CategoryNoticePeriods,
		Standardize(models.Str("Misc"), "Leaving", "Three months notice for tenants"))
	assert.Equal(t, models.CategoryUtilityCosts,
		Standardize(nil, "Annual statement", "Heating costs are billed yearly"))
	assert.Equal(t, models.CategoryRentCosts,
		Standardize(nil, "Rent brake", "New rent may exceed local comparison by 10%"))

	got, method := Resolve(nil, "Zzz", "qqq")
	assert.Equal(t, models.DefaultCategory, got)
	assert.Equal(t, MethodDefault, method)
}

func TestKeywordsMatchWholeWords(t *testing.T) {
	// "apparently" contains "rent" but is not a rent rule.
	assert.Equal(t, models.DefaultCategory, Standardize(nil, "Parents", "apparently fine"))
}

func TestStandardizeIsTotal(t *testing.T) {
	valid := map[models.Category]bool{}
	for _, c := range models.Categories() {
		valid[c] = true
	}

	inputs := []*string{nil, models.Str(""), models.Str("   "), models.Str("&&&"), models.Str("ÄÖÜ ß 💥")}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		b := make([]rune, rng.Intn(30))
		for j := range b {
			b[j] = rune(rng.Intn(0x2FF))
		}
		inputs = append(inputs, models.Str(string(b)))
	}
	for _, in := range inputs {
		got := Standardize(in, models.Value(in), models.Value(in))
		assert.True(t, valid[got], "input %q produced %q", models.Value(in), got)
	}
}

func TestApplyKeepsOriginalLabel(t *testing.T) {
	c := Apply(models.Chunk{Category: "Deposits", Title: "x", KeyRule: "y"})
	assert.Equal(t, models.CategoryDepositsPayments, c.Category)
	assert.Equal(t, "Deposits", c.OriginalCategory)

	c = Apply(models.Chunk{Category: models.CategoryRentCosts})
	assert.Equal(t, models.CategoryRentCosts, c.Category)
	assert.Empty(t, c.OriginalCategory)

	c = Apply(c)
	assert.Equal(t, models.CategoryRentCosts, c.Category)
}
