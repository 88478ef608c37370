package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenancy-rag/internal/models"
)

func TestNormalize(t *testing.T) {
	records := []models.RawRecord{
		{Title: models.Str("Deposit Limit"), KeyRule: models.Str("Deposit  max 3\nmonths rent")},
		{Title: models.Str(""), KeyRule: models.Str("orphan rule")},
		{Title: models.Str("No rule")},
		{Title: models.Str("Notice"), KeyRule: models.Str("3 months"), RiskLevel: models.Str("red_flag"), SourceDocument: models.Str("guide.pdf"), Category: models.Str("Notice periods")},
		{Title: models.Str("Odd risk"), KeyRule: models.Str("x"), RiskLevel: models.Str("spicy")},
	}

	res := Normalize("docA", records)
	require.Len(t, res.Chunks, 3)
	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, []Rejection{{Position: 1, Reason: "missing title"}, {Position: 2, Reason: "missing key_rule"}}, res.Rejections)

	first := res.Chunks[0]
	assert.Equal(t, "Deposit max 3 months rent", first.KeyRule)
	assert.Equal(t, models.RiskNormal, first.RiskLevel)
	assert.Equal(t, "docA", first.SourceDocument)
	assert.Zero(t, first.ID)

	second := res.Chunks[1]
	assert.Equal(t, models.RiskRedFlag, second.RiskLevel)
	assert.Equal(t, "guide.pdf", second.SourceDocument)
	assert.Equal(t, models.Category("Notice periods"), second.Category)

	assert.Equal(t, models.RiskNormal, res.Chunks[2].RiskLevel)
}

func TestNormalizeEmpty(t *testing.T) {
	res := Normalize("empty", nil)
	assert.Empty(t, res.Chunks)
	assert.Zero(t, res.Rejected)
}

func TestNormalizeRecord(t *testing.T) {
	_, ok := NormalizeRecord("d", models.RawRecord{})
	assert.False(t, ok)

	c, ok := NormalizeRecord("d", models.RawRecord{Title: models.Str(" t "), KeyRule: models.Str(" k ")})
	require.True(t, ok)
	assert.Equal(t, "t", c.Title)
	assert.Equal(t, "k", c.KeyRule)
}
