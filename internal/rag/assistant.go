package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"tenancy-rag/internal/models"
)

// Generator produces an answer from chat messages. *llmservice.Client satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (string, error)
}

// Message is one turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages         []Message `json:"messages"`
	UserLanguage     string    `json:"user_language,omitempty"`
	LandlordLanguage string    `json:"landlord_language,omitempty"`
	MaxResults       int       `json:"max_results,omitempty"`
}

type ChatResponse struct {
	Answer     string            `json:"answer"`
	Citations  []SearchResult    `json:"citations"`
	FollowUps  []string          `json:"follow_ups,omitempty"`
	Compliance *ComplianceResult `json:"compliance,omitempty"`
}

// Assistant grounds chat answers in retrieved chunks. With a nil generator it
// answers with a plain listing of the retrieved rules.
type Assistant struct {
	retriever  *Retriever
	generator  Generator
	checker    *Checker
	maxResults int
}

func NewAssistant(r *Retriever, g Generator, maxResults int) *Assistant {
	if maxResults < 1 {
		maxResults = 4
	}
	return &Assistant{retriever: r, generator: g, checker: NewChecker(r), maxResults: maxResults}
}

// Chat answers the latest user message. A retrieval failure degrades to an
// answer without citations instead of failing the request.
func (a *Assistant) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	question := latestUserText(req.Messages)
	if question == "" {
		return nil, fmt.Errorf("%w: no user message provided", models.ErrEmptyInput)
	}
	limit := req.MaxResults
	if limit < 1 {
		limit = a.maxResults
	}

	citations, err := a.retriever.Search(ctx, SearchRequest{Query: question, Limit: limit})
	if err != nil {
		log.Warn().Err(err).Msg("retrieval failed, answering without citations")
		citations = []SearchResult{}
	}

	resp := &ChatResponse{Citations: citations}
	if cr := a.checker.Check(ctx, question); cr.RiskLevel != models.RiskNormal {
		resp.Compliance = &cr
	}

	if a.generator == nil {
		resp.Answer = fallbackAnswer(citations)
		return resp, nil
	}

	language := req.UserLanguage
	if language == "" {
		language = "English"
	}
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, fmt.Sprintf(models.ChatSystemPrompt, language, knowledgeBlock(citations))),
	}
	history := req.Messages
	if len(history) > models.ChatHistorySize {
		history = history[len(history)-models.ChatHistorySize:]
	}
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		messages = append(messages, llms.TextParts(roleOf(m.Role), m.Content))
	}

	out, err := a.generator.GenerateContent(ctx, messages, llms.WithTemperature(0.3))
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}
	resp.Answer, resp.FollowUps = splitFollowUps(out)
	return resp, nil
}

func latestUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			if s := strings.TrimSpace(messages[i].Content); s != "" {
				return s
			}
		}
	}
	return ""
}

func roleOf(role string) schema.ChatMessageType {
	switch role {
	case "assistant", "ai":
		return schema.ChatMessageTypeAI
	case "system":
		return schema.ChatMessageTypeSystem
	default:
		return schema.ChatMessageTypeHuman
	}
}

func fallbackAnswer(citations []SearchResult) string {
	if len(citations) == 0 {
		return "I could not find tenant-law guidance for this question, and the chat model is not configured."
	}
	items := make([]string, len(citations))
	for i, c := range citations {
		items[i] = fmt.Sprintf("- %s: %s (risk: %s)\n  %s", c.Title, c.KeyRule, c.RiskLevel, c.ExpatImplication)
	}
	return "I found relevant tenant-law guidance, but the chat model is not configured. Here are the top items:\n\n" +
		strings.Join(items, "\n\n")
}

func knowledgeBlock(citations []SearchResult) string {
	if len(citations) == 0 {
		return "(no snippets found)"
	}
	parts := make([]string, len(citations))
	for i, c := range citations {
		parts[i] = fmt.Sprintf("[Snippet %d]\nTitle: %s\nCategory: %s\nRisk: %s\nRule: %s\nExpat implication: %s",
			i+1, c.Title, c.Category, c.RiskLevel, c.KeyRule, c.ExpatImplication)
	}
	return strings.Join(parts, "\n\n")
}

// splitFollowUps separates "FOLLOW-UP:" lines from the answer text.
func splitFollowUps(out string) (string, []string) {
	var answer []string
	var followUps []string
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToUpper(trimmed), models.FollowUpPrefix) {
			if q := strings.TrimSpace(trimmed[len(models.FollowUpPrefix):]); q != "" {
				followUps = append(followUps, q)
			}
			continue
		}
		answer = append(answer, line)
	}
	return strings.TrimSpace(strings.Join(answer, "\n")), followUps
}
