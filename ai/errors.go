package ai

import "errors"

var (
	// ErrInvalidMaxAttempts indicates that maxAttempts must be positive.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrEmptyCompletion indicates the model returned no choices.
	ErrEmptyCompletion = errors.New("model returned no completion")

	// ErrEmbeddingCount indicates a batch embedding returned the wrong number of vectors.
	ErrEmbeddingCount = errors.New("embedding count mismatch")
)
