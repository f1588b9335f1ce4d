package reembed

import "errors"

var (
	// ErrIndexRequired is returned when no index is supplied.
	ErrIndexRequired = errors.New("index is required")

	// ErrEmbedderRequired is returned when no embedder is supplied.
	ErrEmbedderRequired = errors.New("embedder is required")
)
