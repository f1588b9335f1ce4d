package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

const (
	// DefaultCollection names the store in Stats.
	DefaultCollection = "rag_documents"

	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 32

	// DefaultEmbedTimeout bounds every embedding call.
	DefaultEmbedTimeout = 30 * time.Second
)

// Store embeds chunk text and keeps it in a vector index alongside its
// source and owner. Every method is safe for concurrent use.
type Store struct {
	index        storage.VectorIndex
	embedder     ai.Embedder
	pool         *ants.Pool
	batchSize    int
	embedTimeout time.Duration
	collection   string
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "vectorstore")
		return nil
	}
}

// WithEmbedTimeout bounds each embedding call. Expiry surfaces as core.ErrTimeout.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Store) error {
		if d <= 0 {
			return fmt.Errorf("%w: embed timeout must be positive", core.ErrInvalidConfiguration)
		}
		s.embedTimeout = d
		return nil
	}
}

// WithBatchSize sets how many texts go into one embedding request.
func WithBatchSize(n int) Option {
	return func(s *Store) error {
		if n < 1 {
			return fmt.Errorf("%w: batch size must be positive", core.ErrInvalidConfiguration)
		}
		s.batchSize = n
		return nil
	}
}

// WithPoolSize sets how many embedding batches run concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(s *Store) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if s.pool != nil {
			s.pool.Release()
		}
		s.pool = pool
		return nil
	}
}

// WithCollection sets the store identifier reported by Stats.
func WithCollection(name string) Option {
	return func(s *Store) error {
		s.collection = name
		return nil
	}
}

// NewStore creates a vector store over index using embedder.
// Call Release when done to stop the embedding workers.
func NewStore(index storage.VectorIndex, embedder ai.Embedder, opts ...Option) (*Store, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	pool, err := ants.NewPool(max(runtime.NumCPU()/2, 1))
	if err != nil {
		return nil, err
	}

	s := &Store{
		index:        index,
		embedder:     embedder,
		pool:         pool,
		batchSize:    DefaultBatchSize,
		embedTimeout: DefaultEmbedTimeout,
		collection:   DefaultCollection,
		logger:       slog.Default().With("component", "vectorstore"),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			s.Release()
			return nil, err
		}
	}
	return s, nil
}

// Release stops the embedding worker pool. The index is not closed.
func (s *Store) Release() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// Add embeds every text, then stores them all in one index transaction.
// Either every chunk is stored or none is. Empty input is a no-op.
func (s *Store) Add(ctx context.Context, texts []string, meta core.ChunkMetadata) ([]core.Chunk, error) {
	if len(texts) == 0 {
		return []core.Chunk{}, nil
	}
	entries, err := s.embedEntries(ctx, texts, meta)
	if err != nil {
		return nil, err
	}

	if _, err := s.index.AddEntries(ctx, entries...); err != nil {
		s.logger.Error("error storing chunks", "source", meta.Source, "count", len(entries), "err", err)
		return nil, unavailable(err)
	}
	s.logger.Info("stored chunks", "source", meta.Source, "count", len(entries))
	return toChunks(entries), nil
}

// Replace swaps every chunk of meta.Source for texts. All texts are
// embedded before the index is touched and the swap is a single index
// transaction, so a failure leaves the previous chunks in place. Empty
// texts remove the source. It returns the new chunks and how many old ones
// were replaced.
func (s *Store) Replace(ctx context.Context, texts []string, meta core.ChunkMetadata) ([]core.Chunk, int, error) {
	var entries []*core.IndexEntry
	if len(texts) > 0 {
		var err error
		if entries, err = s.embedEntries(ctx, texts, meta); err != nil {
			return nil, 0, err
		}
	} else if err := core.ValidateMetadata(meta); err != nil {
		return nil, 0, err
	}

	replaced, err := s.index.ReplaceSource(ctx, meta.Source, entries...)
	if err != nil {
		s.logger.Error("error replacing chunks", "source", meta.Source, "count", len(entries), "err", err)
		return nil, 0, unavailable(err)
	}
	s.logger.Info("replaced chunks", "source", meta.Source, "old", replaced, "new", len(entries))
	return toChunks(entries), replaced, nil
}

// embedEntries validates texts and meta and builds normalised index
// entries for them.
func (s *Store) embedEntries(ctx context.Context, texts []string, meta core.ChunkMetadata) ([]*core.IndexEntry, error) {
	if err := core.ValidateMetadata(meta); err != nil {
		return nil, err
	}
	for _, text := range texts {
		if err := core.ValidateChunkText(text); err != nil {
			return nil, err
		}
	}

	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	entries := make([]*core.IndexEntry, len(texts))
	for i, text := range texts {
		entries[i] = &core.IndexEntry{
			ID:     uuid.NewString(),
			Text:   text,
			Source: meta.Source,
			Owner:  meta.Owner,
			Vector: ai.NormalizeVector(vectors[i]),
		}
	}
	return entries, nil
}

func toChunks(entries []*core.IndexEntry) []core.Chunk {
	chunks := make([]core.Chunk, len(entries))
	for i, entry := range entries {
		chunks[i] = entry.Chunk()
	}
	return chunks
}

// Query returns up to topK chunk texts most similar to question.
func (s *Store) Query(ctx context.Context, question string, topK int) ([]string, error) {
	matches, err := s.search(ctx, question, topK, nil)
	if err != nil {
		return nil, err
	}
	texts, _ := split(matches)
	return texts, nil
}

// QueryWithSources returns the best chunk texts and the sorted distinct
// sources they came from.
func (s *Store) QueryWithSources(ctx context.Context, question string, topK int) ([]string, []string, error) {
	return s.query(ctx, question, topK, nil)
}

// QueryScoped is QueryWithSources restricted to chunks uploaded by owner.
func (s *Store) QueryScoped(ctx context.Context, question string, topK int, owner string) ([]string, []string, error) {
	return s.query(ctx, question, topK, storage.OwnedBy(owner))
}

func (s *Store) query(ctx context.Context, question string, topK int, filter storage.EntryFilter) ([]string, []string, error) {
	matches, err := s.search(ctx, question, topK, filter)
	if err != nil {
		return nil, nil, err
	}
	texts, sources := split(matches)
	return texts, sources, nil
}

func (s *Store) search(ctx context.Context, question string, topK int, filter storage.EntryFilter) ([]*core.SimilarityMatch, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", core.ErrInvalidConfiguration, topK)
	}

	vectors, err := s.embedAll(ctx, []string{question})
	if err != nil {
		return nil, err
	}

	matches, err := s.index.FindSimilar(ctx, ai.NormalizeVector(vectors[0]), topK, filter)
	if err != nil {
		s.logger.Error("error querying index", "err", err)
		return nil, unavailable(err)
	}
	s.logger.Debug("retrieved chunks", "requested", topK, "found", len(matches))
	return matches, nil
}

// DeleteBySource removes every chunk of filename and returns the count.
// Unknown filenames remove nothing and are not an error.
func (s *Store) DeleteBySource(ctx context.Context, filename string) (int, error) {
	deleted, err := s.index.DeleteBySource(ctx, filename)
	if err != nil {
		s.logger.Error("error deleting chunks", "source", filename, "deleted", deleted, "err", err)
		return deleted, unavailable(err)
	}
	s.logger.Info("deleted chunks", "source", filename, "count", deleted)
	return deleted, nil
}

// ListSources returns the distinct stored filenames, sorted.
func (s *Store) ListSources(ctx context.Context) ([]string, error) {
	sources, err := s.index.ListSources(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	return sources, nil
}

// Preview returns the first limit chunk texts of filename in storage order.
func (s *Store) Preview(ctx context.Context, filename string, limit int) ([]string, error) {
	entries, err := s.index.EntriesBySource(ctx, filename, limit)
	if err != nil {
		return nil, unavailable(err)
	}
	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Text
	}
	return texts, nil
}

// Clear removes every chunk. The store remains usable.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.index.Clear(ctx); err != nil {
		return unavailable(err)
	}
	s.logger.Info("cleared vector store")
	return nil
}

// Stats reports the chunk count and store identifier.
func (s *Store) Stats(ctx context.Context) (core.StoreStats, error) {
	count, err := s.index.Count(ctx)
	if err != nil {
		return core.StoreStats{}, unavailable(err)
	}
	return core.StoreStats{TotalChunks: count, Collection: s.collection}, nil
}

// embedAll embeds texts in batches on the worker pool under the embed
// timeout. The result is in input order.
func (s *Store) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	vectors := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	for offset := 0; offset < len(texts); offset += s.batchSize {
		end := min(offset+s.batchSize, len(texts))
		batch := texts[offset:end]
		start := offset

		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			batchVectors, err := s.embedder.EmbedTexts(ctx, batch)
			if err != nil {
				fail(err)
				return
			}
			if len(batchVectors) != len(batch) {
				fail(fmt.Errorf("%w: expected %d, received %d", ai.ErrEmbeddingCount, len(batch), len(batchVectors)))
				return
			}
			copy(vectors[start:], batchVectors)
		})
		if err != nil {
			wg.Done()
			fail(err)
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		s.logger.Error("error generating embeddings", "count", len(texts), "err", firstErr)
		if errors.Is(firstErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embedding: %w", core.ErrTimeout, firstErr)
		}
		return nil, unavailable(firstErr)
	}
	return vectors, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", core.ErrStoreUnavailable, err)
}

// split separates matched texts from their sorted distinct sources.
func split(matches []*core.SimilarityMatch) ([]string, []string) {
	texts := make([]string, len(matches))
	sources := make([]string, 0, len(matches))
	for i, match := range matches {
		texts[i] = match.Entry.Text
		sources = append(sources, match.Entry.Source)
	}
	slices.Sort(sources)
	return texts, slices.Compact(sources)
}
