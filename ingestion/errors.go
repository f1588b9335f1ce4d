package ingestion

import "errors"

var (
	// ErrChunkStoreRequired is returned when a chunk store is not provided.
	ErrChunkStoreRequired = errors.New("chunk store required")

	// ErrFilenameRequired is returned when a document has no usable name.
	ErrFilenameRequired = errors.New("filename required")
)
