package core

import (
	"time"
)

// ChunkMetadata describes where a chunk came from.
// Source is the filename of the uploaded document and is required.
// Owner is the session that uploaded the document; it may be empty.
type ChunkMetadata struct {
	Source string
	Owner  string
}

// Chunk is a bounded segment of a document's extracted text.
// Chunks are immutable once stored and are only removed by deleting
// every chunk that shares their Source.
type Chunk struct {
	ID       string
	Text     string
	Metadata ChunkMetadata
}

// IndexEntry is the persisted form of a Chunk inside the vector index.
// Seq orders entries by insertion and is never reused.
type IndexEntry struct {
	Seq        uint64
	ID         string
	Text       string
	Source     string
	Owner      string
	Vector     []float32 // L2-normalised embedding, never mutated after insert
	InsertedAt time.Time
}

// Chunk returns the chunk view of the entry.
func (e *IndexEntry) Chunk() Chunk {
	return Chunk{
		ID:   e.ID,
		Text: e.Text,
		Metadata: ChunkMetadata{
			Source: e.Source,
			Owner:  e.Owner,
		},
	}
}

// SimilarityMatch is an index entry returned from a nearest-neighbour query.
type SimilarityMatch struct {
	Entry *IndexEntry
	Score float32
}

// SessionTurn is one question/answer exchange within a chat session.
type SessionTurn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ChatResponse is the result of answering a question.
type ChatResponse struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	NumSources int      `json:"num_sources"`
}

// StoreStats summarises the contents of the vector store.
type StoreStats struct {
	TotalChunks int    `json:"total_chunks"`
	Collection  string `json:"collection"`
}

// IngestResult reports the outcome of uploading a document.
type IngestResult struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
}

// DeleteResult reports the outcome of deleting a document.
type DeleteResult struct {
	Filename              string `json:"filename"`
	DeletedChunks         int    `json:"deleted_chunks"`
	EncryptedFilesRemoved int    `json:"encrypted_files_removed"`
}

// PreviewResult holds the first chunks of a stored document.
type PreviewResult struct {
	Filename      string   `json:"filename"`
	PreviewChunks []string `json:"preview_chunks"`
	TotalChunks   int      `json:"total_chunks"`
}

// AuditAction names an auditable operation.
type AuditAction string

const (
	AuditUpload  AuditAction = "upload"
	AuditChat    AuditAction = "chat"
	AuditPreview AuditAction = "preview"
	AuditDelete  AuditAction = "delete"
	AuditClear   AuditAction = "clear"
)

// AuditEvent records who did what to which document.
type AuditEvent struct {
	ID         string      `json:"id"`
	Actor      string      `json:"user"`
	Action     AuditAction `json:"action"`
	Target     string      `json:"file"`
	OccurredAt time.Time   `json:"time"`
}
