package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"tenancy-rag/internal/chromemdb"
	"tenancy-rag/internal/embedding"
	"tenancy-rag/internal/index"
	"tenancy-rag/internal/merger"
	"tenancy-rag/internal/models"
)

func batches() []merger.Batch {
	return []merger.Batch{
		{Name: "docA", Chunks: []models.Chunk{
			{Title: "Deposit Limit", KeyRule: "Deposit max 3 months rent", RiskLevel: models.RiskNormal, SourceDocument: "docA"},
			{Title: "Notice period", KeyRule: "Tenants can terminate with three months notice", ExpatImplication: "Plan your move early", RiskLevel: models.RiskNormal, SourceDocument: "docA"},
			{Title: "Cosmetic repairs", KeyRule: "Clauses forcing repainting on a fixed schedule are void", RiskLevel: models.RiskCaution, SourceDocument: "docA"},
			{Title: "Immediate termination", KeyRule: "A landlord cannot evict without notice and a court order", RiskLevel: models.RiskRedFlag, SourceDocument: "docA"},
		}},
		{Name: "docB", Chunks: []models.Chunk{
			{Title: "Deposit Limit", KeyRule: "deposit max 3 months rent", RiskLevel: models.RiskCaution, SourceDocument: "docB"},
			{Title: "Heating bill", KeyRule: "Heating costs are settled in an annual statement", RiskLevel: models.RiskNormal, SourceDocument: "docB"},
			{Title: "Rent brake", KeyRule: "New rent may not exceed the local comparison rent by more than 10 percent", RiskLevel: models.RiskCaution, SourceDocument: "docB"},
		}},
	}
}

type fixture struct {
	store     *models.UnifiedStore
	idx       *chromemdb.VectorDBManager
	svc       *embedding.Service
	retriever *Retriever
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	store, _ := merger.Merge(batches())
	idx, err := chromemdb.NewVectorDBManager(t.TempDir(), "rules", true, false, "")
	require.NoError(t, err)
	svc := embedding.NewService(embedding.NewHashEmbedder(256), "hash:fnv-256")

	ix := index.NewIndexer(idx, svc, 4)
	_, err = ix.Prepare(ctx, false)
	require.NoError(t, err)
	report, err := ix.UpsertBatch(ctx, store.Chunks)
	require.NoError(t, err)
	require.Empty(t, report.Failed)

	return fixture{store: store, idx: idx, svc: svc, retriever: NewRetriever(idx, svc)}
}

func TestDepositScenarioEndToEnd(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var deposit []models.Chunk
	for _, c := range f.store.Chunks {
		if merger.DedupKey(c.KeyRule) == "deposit max 3 months rent" {
			deposit = append(deposit, c)
		}
	}
	require.Len(t, deposit, 1)
	assert.Equal(t, models.RiskCaution, deposit[0].RiskLevel)
	assert.Equal(t, models.CategoryDepositsPayments, deposit[0].Category)

	results, err := f.retriever.Search(ctx, SearchRequest{Query: "deposit limit", Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, deposit[0].ID, results[0].ID)
	assert.Greater(t, results[0].Score, float32(0))
	assert.Equal(t, models.RiskCaution, results[0].RiskLevel)
}

func TestSearchDepositInTopThree(t *testing.T) {
	f := setup(t)
	results, err := f.retriever.Search(context.Background(), SearchRequest{Query: "How much deposit can the landlord ask for?", Limit: 3})
	require.NoError(t, err)

	found := false
	for _, r := range results {
		if r.Category == models.CategoryDepositsPayments {
			found = true
		}
	}
	assert.True(t, found, "no deposit rule in %+v", results)
}

func TestSearchOrderingAndDeterminism(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := SearchRequest{Query: "rent", Limit: 10}

	first, err := f.retriever.Search(ctx, req)
	require.NoError(t, err)
	second, err := f.retriever.Search(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.LessOrEqual(t, len(first), 10)
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		assert.True(t, prev.Score > cur.Score || (prev.Score == cur.Score && prev.ID < cur.ID),
			"results out of order at %d", i)
	}
}

func TestSearchFilterContainment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	results, err := f.retriever.Search(ctx, SearchRequest{Query: "rent", Limit: 10, Risk: "caution"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, models.RiskCaution, r.RiskLevel)
	}

	results, err = f.retriever.Search(ctx, SearchRequest{Query: "rent", Limit: 10, Category: string(models.CategoryNoticePeriods)})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, models.CategoryNoticePeriods, r.Category)
	}

	// fewer matches than the limit: all of them, no padding
	results, err = f.retriever.Search(ctx, SearchRequest{Query: "rent", Limit: 10, Risk: "red flag"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.retriever.Search(ctx, SearchRequest{Query: "rent", Limit: 5, Category: "Deposits"})
	assert.ErrorIs(t, err, models.ErrInvalidFilter)
	assert.True(t, IsClientError(err))

	_, err = f.retriever.Search(ctx, SearchRequest{Query: "rent", Limit: 5, Risk: "spicy"})
	assert.ErrorIs(t, err, models.ErrInvalidFilter)

	_, err = f.retriever.Search(ctx, SearchRequest{Query: "  ", Limit: 5})
	assert.ErrorIs(t, err, models.ErrEmptyInput)

	_, err = f.retriever.Search(ctx, SearchRequest{Query: "rent", Limit: 0})
	assert.ErrorIs(t, err, models.ErrInvalidFilter)
}

func TestSearchEmptyIndex(t *testing.T) {
	ctx := context.Background()
	idx, err := chromemdb.NewVectorDBManager(t.TempDir(), "empty", true, false, "")
	require.NoError(t, err)
	svc := embedding.NewService(embedding.NewHashEmbedder(16), "hash:fnv-16")
	_, err = index.NewIndexer(idx, svc, 1).Prepare(ctx, false)
	require.NoError(t, err)

	results, err := NewRetriever(idx, svc).Search(ctx, SearchRequest{Query: "deposit", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCheckModel(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	assert.NoError(t, f.retriever.CheckModel(ctx))

	other := embedding.NewService(embedding.NewHashEmbedder(256), "ollama:all-minilm")
	err := NewRetriever(f.idx, other).CheckModel(ctx)
	assert.ErrorIs(t, err, models.ErrModelMismatch)
}

type brokenIndex struct{}

func (brokenIndex) Query(context.Context, []float32, models.Filter, int) ([]models.Hit, error) {
	return nil, errors.New("connection refused")
}

func (brokenIndex) Info(context.Context) (models.CollectionInfo, error) {
	return models.CollectionInfo{}, errors.New("connection refused")
}

func TestSearchBackendFailure(t *testing.T) {
	svc := embedding.NewService(embedding.NewHashEmbedder(16), "hash:fnv-16")
	_, err := NewRetriever(brokenIndex{}, svc).Search(context.Background(), SearchRequest{Query: "deposit", Limit: 1})
	assert.ErrorIs(t, err, models.ErrRetrieval)
	assert.False(t, IsClientError(err))
}

type stubGenerator struct {
	reply    string
	messages []llms.MessageContent
}

func (s *stubGenerator) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (string, error) {
	s.messages = messages
	return s.reply, nil
}

func TestChatFallbackWithoutModel(t *testing.T) {
	f := setup(t)
	a := NewAssistant(f.retriever, nil, 2)

	resp, err := a.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "deposit limit"}}})
	require.NoError(t, err)
	assert.Len(t, resp.Citations, 2)
	assert.Contains(t, resp.Answer, "chat model is not configured")
	assert.Contains(t, resp.Answer, "- Deposit Limit: ")
	assert.Contains(t, resp.Answer, "(risk: caution)")
}

func TestChatWithGenerator(t *testing.T) {
	f := setup(t)
	gen := &stubGenerator{reply: "The deposit is capped at three months.\nFOLLOW-UP: Can I pay in instalments?\nFOLLOW-UP: When do I get it back?"}
	a := NewAssistant(f.retriever, gen, 4)

	history := []Message{{Role: "assistant", Content: "Hello"}}
	for i := 0; i < 20; i++ {
		history = append(history, Message{Role: "user", Content: "filler"})
	}
	history = append(history, Message{Role: "user", Content: "What is the deposit limit?"})

	resp, err := a.Chat(context.Background(), ChatRequest{Messages: history, UserLanguage: "Spanish", MaxResults: 3})
	require.NoError(t, err)
	assert.Equal(t, "The deposit is capped at three months.", resp.Answer)
	assert.Equal(t, []string{"Can I pay in instalments?", "When do I get it back?"}, resp.FollowUps)
	assert.Len(t, resp.Citations, 3)

	require.Len(t, gen.messages, 1+12)
	assert.Equal(t, schema.ChatMessageTypeSystem, gen.messages[0].Role)
	system := gen.messages[0].Parts[0].(llms.TextContent).Text
	assert.Contains(t, system, "Answer in Spanish")
	assert.Contains(t, system, "[Snippet 1]")
}

func TestChatDegradesOnRetrievalFailure(t *testing.T) {
	svc := embedding.NewService(embedding.NewHashEmbedder(16), "hash:fnv-16")
	a := NewAssistant(NewRetriever(brokenIndex{}, svc), &stubGenerator{reply: "General advice."}, 4)

	resp, err := a.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "deposit?"}}})
	require.NoError(t, err)
	assert.Empty(t, resp.Citations)
	assert.Equal(t, "General advice.", resp.Answer)
}

func TestChatRequiresUserMessage(t *testing.T) {
	a := NewAssistant(nil, nil, 4)
	_, err := a.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "assistant", Content: "hi"}}})
	assert.ErrorIs(t, err, models.ErrEmptyInput)
}

func TestComplianceCheck(t *testing.T) {
	c := NewChecker(nil)
	ctx := context.Background()

	res := c.Check(ctx, "The landlord wants 6 months deposit, cash only.")
	assert.Equal(t, models.RiskRedFlag, res.RiskLevel)
	assert.Contains(t, res.Warnings, "Maximum 3 months deposit allowed")
	assert.Contains(t, res.Warnings, "Bank transfer recommended")

	res = c.Check(ctx, "Payment is cash only")
	assert.Equal(t, models.RiskCaution, res.RiskLevel)

	res = c.Check(ctx, "The flat has a balcony")
	assert.Equal(t, models.RiskNormal, res.RiskLevel)
	assert.Empty(t, res.Warnings)
}

func TestComplianceDepositPhraseNeedsDeposit(t *testing.T) {
	c := NewChecker(nil)
	ctx := context.Background()

	res := c.Check(ctx, "You have to give 6 months notice before moving out.")
	assert.Equal(t, models.RiskNormal, res.RiskLevel)
	assert.Empty(t, res.Warnings)

	res = c.Check(ctx, "The contract runs 6 months. The deposit is two months rent.")
	assert.Equal(t, models.RiskNormal, res.RiskLevel)

	res = c.Check(ctx, "They want a deposit of 6 months!")
	assert.Equal(t, models.RiskRedFlag, res.RiskLevel)
	assert.Equal(t, []string{"6 months"}, res.QuickMatches)
}

func TestScoreRiskThresholds(t *testing.T) {
	tests := []struct {
		score float32
		want  models.RiskLevel
		ok    bool
	}{
		{0.95, models.RiskRedFlag, true},
		{redFlagScore, models.RiskRedFlag, true},
		{0.8, models.RiskCaution, true},
		{cautionScore, models.RiskCaution, true},
		{0.69, "", false},
	}
	for _, tt := range tests {
		got, ok := scoreRisk(tt.score)
		assert.Equal(t, tt.ok, ok, "score %v", tt.score)
		assert.Equal(t, tt.want, got, "score %v", tt.score)
	}
}

func TestComplianceCheckUsesRedFlagRules(t *testing.T) {
	f := setup(t)
	res := NewChecker(f.retriever).Check(context.Background(), "Immediate termination: a landlord cannot evict without notice and a court order")
	assert.Equal(t, models.RiskRedFlag, res.RiskLevel)
	require.NotEmpty(t, res.RelatedRules)
	assert.Equal(t, models.RiskRedFlag, res.RelatedRules[0].RiskLevel)
}
