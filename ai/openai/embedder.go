package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/ragchat/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
// Failed batches are retried with exponential backoff.
type Embedder struct {
	embedder   embeddings.Embedder
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(tokenOrNone(config.EmbeddingAPIKey)),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return newEmbedderWith(embedder, config.MaxRetries, config.RetryDelay), nil
}

func newEmbedderWith(embedder embeddings.Embedder, maxRetries int, retryDelay time.Duration) *Embedder {
	return &Embedder{
		embedder:   embedder,
		maxRetries: max(maxRetries, 1),
		retryDelay: retryDelay,
		logger:     slog.Default().With("component", "openai-embedder"),
	}
}

// NewEmbedder builds a standalone embedding client from config.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts in one request, retrying the whole batch on
// failure or when the server returns the wrong number of vectors.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	start := time.Now()
	var vectors [][]float32
	err := ai.RetryWithBackoff(ctx, func() error {
		var err error
		vectors, err = e.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", ai.ErrEmbeddingCount, len(vectors), len(texts))
		}
		return nil
	}, e.maxRetries, e.retryDelay)
	if err != nil {
		e.logger.Error("embedding failed", "texts", len(texts), "err", err)
		return nil, err
	}
	e.logger.Debug("embedded texts", "texts", len(texts), "elapsed", time.Since(start))
	return vectors, nil
}

// Local servers ignore the token but langchaingo requires one.
func tokenOrNone(key string) string {
	if key == "" {
		return "none"
	}
	return key
}
