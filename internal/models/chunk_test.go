package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextForSearch(t *testing.T) {
	c := Chunk{Title: " Deposit Limit ", KeyRule: "Deposit max 3 months rent", ExpatImplication: ""}
	assert.Equal(t, "Deposit Limit Deposit max 3 months rent", c.TextForSearch())
	assert.Equal(t, c.TextForSearch(), c.TextForSearch())

	c.ExpatImplication = "Never pay more."
	assert.Equal(t, "Deposit Limit Deposit max 3 months rent Never pay more.", c.TextForSearch())
}

func TestParseRisk(t *testing.T) {
	cases := map[string]RiskLevel{
		"normal":   RiskNormal,
		"Caution":  RiskCaution,
		"red_flag": RiskRedFlag,
		"Red Flag": RiskRedFlag,
		" HIGH ":   RiskRedFlag,
		"warning":  RiskCaution,
	}
	for in, want := range cases {
		got, ok := ParseRisk(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	got, ok := ParseRisk("banana")
	assert.False(t, ok)
	assert.Equal(t, RiskNormal, got)
}

func TestSeverityOrder(t *testing.T) {
	assert.Less(t, RiskNormal.Severity(), RiskCaution.Severity())
	assert.Less(t, RiskCaution.Severity(), RiskRedFlag.Severity())
}

func TestPayloadExcludesSearchText(t *testing.T) {
	c := Chunk{ID: 7, Title: "t", Category: CategoryRentCosts, OriginalCategory: "Costs", KeyRule: "k", ExpatImplication: "e", RiskLevel: RiskCaution, SourceDocument: "docA"}
	p := c.Payload()
	assert.NotContains(t, p, "text_for_search")
	assert.Equal(t, "Costs", p[PayloadOriginalCategory])
	assert.Equal(t, c, ChunkFromPayload(p))
}

func TestBuildMetadata(t *testing.T) {
	m := BuildMetadata(nil, "v1", nil)
	assert.Equal(t, 0, m.TotalChunks)
	require.Len(t, m.CategoryCounts, 8)
	for _, c := range Categories() {
		assert.Equal(t, 0, m.CategoryCounts[c])
	}

	chunks := []Chunk{
		{ID: 1, Category: CategoryDepositsPayments, RiskLevel: RiskCaution, SourceDocument: "b.json"},
		{ID: 2, Category: CategoryDepositsPayments, RiskLevel: RiskNormal, SourceDocument: "a.json"},
		{ID: 3, Category: CategoryNoticePeriods, RiskLevel: RiskNormal, SourceDocument: "a.json"},
	}
	m = BuildMetadata(chunks, "v1", []string{"a", "b"})
	assert.Equal(t, 3, m.TotalChunks)
	assert.Equal(t, 2, m.CategoryCounts[CategoryDepositsPayments])
	assert.Equal(t, 1, m.CategoryCounts[CategoryNoticePeriods])
	assert.Equal(t, 2, m.RiskCounts[RiskNormal])
	assert.Equal(t, []string{"a.json", "b.json"}, m.SourceFiles)

	sum := 0
	for _, n := range m.CategoryCounts {
		sum += n
	}
	assert.Equal(t, m.TotalChunks, sum)
}

func TestFilterMatch(t *testing.T) {
	c := Chunk{Category: CategoryRentCosts, RiskLevel: RiskRedFlag}
	assert.True(t, Filter{}.Match(c))
	assert.True(t, Filter{Category: CategoryRentCosts}.Match(c))
	assert.False(t, Filter{Category: CategoryNoticePeriods}.Match(c))
	assert.False(t, Filter{Risk: RiskNormal}.Match(c))
}
