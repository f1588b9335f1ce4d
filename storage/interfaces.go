package storage

import (
	"context"

	"github.com/poiesic/ragchat/core"
)

// EntryFilter restricts which index entries a similarity query may return.
// A nil filter matches every entry.
type EntryFilter func(entry *core.IndexEntry) bool

// OwnedBy returns a filter that matches entries uploaded by owner.
func OwnedBy(owner string) EntryFilter {
	return func(entry *core.IndexEntry) bool {
		return entry.Owner == owner
	}
}

// VectorIndex stores embedded chunks and answers nearest-neighbour queries.
// Implementations must be thread-safe. Mutations are serialised with
// respect to each other; queries may run concurrently.
type VectorIndex interface {
	// AddEntries persists every entry in one transaction.
	// Seq and InsertedAt are assigned by the index; callers fill the rest.
	// Either all entries are stored or none are.
	AddEntries(ctx context.Context, entries ...*core.IndexEntry) ([]*core.IndexEntry, error)

	// FindSimilar returns up to topK entries ordered by descending
	// similarity to vector. Entries rejected by filter are skipped.
	FindSimilar(ctx context.Context, vector []float32, topK int, filter EntryFilter) ([]*core.SimilarityMatch, error)

	// DeleteBySource removes every entry whose Source equals source and
	// returns how many were removed. Unknown sources remove nothing. On
	// error the returned count is how many were removed before it.
	DeleteBySource(ctx context.Context, source string) (int, error)

	// ReplaceSource atomically removes every entry of source and stores
	// entries, which must all carry that source, in their place. It returns
	// how many entries were removed. On error nothing changes.
	ReplaceSource(ctx context.Context, source string, entries ...*core.IndexEntry) (int, error)

	// ListSources returns the distinct sources currently stored, sorted.
	ListSources(ctx context.Context) ([]string, error)

	// EntriesBySource returns up to limit entries for source in storage
	// order. A limit <= 0 returns all of them.
	EntriesBySource(ctx context.Context, source string, limit int) ([]*core.IndexEntry, error)

	// ScanEntries returns up to limit entries with Seq greater than
	// afterSeq, in Seq order. Pass the last Seq seen to page through the
	// whole index.
	ScanEntries(ctx context.Context, afterSeq uint64, limit int) ([]*core.IndexEntry, error)

	// UpdateVectors replaces the vectors of existing entries, matched by
	// Seq, and returns how many were updated. Entries deleted in the
	// meantime are skipped.
	UpdateVectors(ctx context.Context, entries ...*core.IndexEntry) (int, error)

	// Clear removes every entry. The index remains usable.
	Clear(ctx context.Context) error

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the index.
	Close() error
}

// AuditLog persists audit events. Implementations must be safe for
// concurrent use.
type AuditLog interface {
	// Append stores event. ID and OccurredAt must already be set.
	Append(ctx context.Context, event *core.AuditEvent) error

	// Recent returns up to limit events, most recent first.
	// A limit <= 0 returns every event.
	Recent(ctx context.Context, limit int) ([]*core.AuditEvent, error)

	// Close releases resources held by the log.
	Close() error
}
