package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

// BatchProcessor re-embeds one batch of entries and stores the new vectors.
type BatchProcessor struct {
	index          Index
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts for each embedding call
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(index Index, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		index:          index,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds the text of every entry, normalizes the vectors and writes
// them back. It returns how many entries were updated; entries deleted while
// the batch was embedding are not counted.
func (bp *BatchProcessor) Process(ctx context.Context, entries []*core.IndexEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Text
	}

	var embeddings [][]float32
	err := ai.RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return 0, fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxRetries, err)
	}
	if len(embeddings) != len(entries) {
		return 0, fmt.Errorf("%w: expected %d, received %d", ai.ErrEmbeddingCount, len(entries), len(embeddings))
	}

	updates := make([]*core.IndexEntry, len(entries))
	for i, entry := range entries {
		updates[i] = &core.IndexEntry{Seq: entry.Seq, Vector: ai.NormalizeVector(embeddings[i])}
	}

	updated, err := bp.index.UpdateVectors(ctx, updates...)
	if err != nil {
		return 0, fmt.Errorf("failed to update entries: %w", err)
	}
	return updated, nil
}
