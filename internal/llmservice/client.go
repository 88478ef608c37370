package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"tenancy-rag/internal/config"
	"tenancy-rag/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Client is a chat model reached through langchaingo.
type Client struct {
	llm   llms.Model
	model string
}

// NewClient returns nil and no error when cfg has no provider; callers treat a
// nil client as "model not configured".
func NewClient(cfg *config.LLMConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	log.Debug().Str("provider", cfg.Provider).Str("model", cfg.Model).Msg("creating llm client")

	var (
		llm llms.Model
		err error
	)
	switch cfg.Provider {
	case "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case "openai":
		llm, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialise %s client: %w", cfg.Provider, err)
	}
	return &Client{llm: llm, model: cfg.Model}, nil
}

// NewClientWithModel wraps an existing langchaingo model.
func NewClientWithModel(llm llms.Model, name string) *Client {
	return &Client{llm: llm, model: name}
}

// GenerateContent sends messages and returns the first choice with any
// reasoning block removed.
func (c *Client) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	res, err := c.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return strings.TrimSpace(thinkRe.ReplaceAllString(res.Choices[0].Content, "")), nil
}

// Complete sends a single human prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	})
}
