package llmservice

import (
	"context"
	"fmt"
	"strings"

	"tenancy-rag/internal/models"
)

// Translator converts text between languages. Without a model it returns the
// text tagged with the target language so callers can still show something.
type Translator struct {
	client *Client
}

func NewTranslator(c *Client) *Translator {
	return &Translator{client: c}
}

func (t *Translator) Configured() bool { return t.client != nil }

func (t *Translator) Translate(ctx context.Context, text, from, to string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", models.ErrEmptyInput
	}
	if from == "" {
		from = "the source language"
	}
	if t.client == nil {
		return fmt.Sprintf("[%s] %s", strings.ToUpper(to), text), nil
	}
	out, err := t.client.Complete(ctx, fmt.Sprintf(models.TranslatePromptTemplate, from, to, text))
	if err != nil {
		return "", fmt.Errorf("translation failed: %w", err)
	}
	return out, nil
}
