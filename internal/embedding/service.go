package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/models"
)

// Service wraps an Embedder with a fixed model identity, a per-call timeout,
// bounded retries and an optional cache. Ingestion and retrieval must share
// one Service so both sides embed with the same model.
type Service struct {
	embedder    Embedder
	model       string
	maxAttempts int
	backoff     time.Duration
	callTimeout time.Duration
	cache       *Cache

	dimOnce sync.Once
	dim     int
	dimErr  error
}

type Option func(*Service)

func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Service) {
		s.maxAttempts = attempts
		s.backoff = backoff
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) { s.callTimeout = d }
}

func WithCache(c *Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithDimension skips probing the model for its vector size.
func WithDimension(n int) Option {
	return func(s *Service) { s.dim = n }
}

func NewService(e Embedder, model string, opts ...Option) *Service {
	s := &Service{
		embedder:    e,
		model:       model,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	if h, ok := e.(*HashEmbedder); ok && s.dim == 0 {
		s.dim = h.Dimension()
	}
	return s
}

func (s *Service) Model() string { return s.model }

// Dimension returns the vector size, embedding a probe text once if it was
// not configured.
func (s *Service) Dimension(ctx context.Context) (int, error) {
	if s.dim > 0 {
		return s.dim, nil
	}
	s.dimOnce.Do(func() {
		v, err := s.Embed(ctx, "dimension probe")
		if err != nil {
			s.dimErr = err
			return
		}
		s.dim = len(v)
	})
	return s.dim, s.dimErr
}

// Embed returns the vector for text, retrying transient failures with
// exponential backoff. Errors wrap models.ErrEmbedding.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, s.model, text); ok {
			return v, nil
		}
	}

	var lastErr error
	wait := s.backoff
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		v, err := s.embedOnce(ctx, text)
		if err == nil {
			if len(v) == 0 {
				err = errors.New("empty vector")
			} else {
				if s.cache != nil {
					s.cache.Set(ctx, s.model, text, v)
				}
				return v, nil
			}
		}
		lastErr = err
		if !retryable(ctx, err) || attempt == s.maxAttempts {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("embedding failed, retrying")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, lastErr)
}

func (s *Service) embedOnce(ctx context.Context, text string) ([]float32, error) {
	if s.callTimeout <= 0 {
		return s.embedder.EmbedQuery(ctx, text)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.embedder.EmbedQuery(callCtx, text)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, models.ErrEmptyInput)
}
