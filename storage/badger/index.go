// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage"
)

// deleteBatchSize bounds the number of keys removed per transaction so
// large documents stay under badger's transaction size limit.
const deleteBatchSize = 1000

// IndexRepository implements storage.VectorIndex for BadgerDB.
//
// Entries are scanned brute force on every query. Mutations hold the write
// lock for their whole duration, so a query never observes a partially
// applied add, delete or clear.
type IndexRepository struct {
	backend *Backend
	seq     *badger.Sequence
	mu      sync.RWMutex
}

var _ storage.VectorIndex = (*IndexRepository)(nil)

// NewIndexRepository creates a new IndexRepository.
func NewIndexRepository(backend *Backend) (*IndexRepository, error) {
	seq, err := backend.GetSequence(entrySeq)
	if err != nil {
		return nil, err
	}

	return &IndexRepository{
		backend: backend,
		seq:     seq,
	}, nil
}

// Close releases the entry sequence. The backend is owned by the caller.
func (r *IndexRepository) Close() error {
	return r.seq.Release()
}

func (r *IndexRepository) nextSeq() (uint64, error) {
	next, err := r.seq.Next()
	if err != nil {
		return 0, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if next == 0 {
		return r.seq.Next()
	}
	return next, nil
}

// AddEntries persists every entry in a single transaction.
func (r *IndexRepository) AddEntries(ctx context.Context, entries ...*core.IndexEntry) ([]*core.IndexEntry, error) {
	if len(entries) == 0 {
		return entries, nil
	}
	if err := checkSources(entries); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		if err := r.putEntries(tx, entries, time.Now().UTC()); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ReplaceSource removes the entries of source and stores entries in their
// place within one transaction, so readers see either the old document or
// the new one. It returns how many old entries were removed. The whole
// replacement must fit in a single badger transaction.
func (r *IndexRepository) ReplaceSource(ctx context.Context, source string, entries ...*core.IndexEntry) (int, error) {
	for _, entry := range entries {
		if entry.Source != source {
			return 0, fmt.Errorf("%w: entry source %q differs from %q", storage.ErrInvalidQuery, entry.Source, source)
		}
	}
	if err := checkSources(entries); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		seqs := scanSourceSeqs(tx, source, 0)
		for _, seq := range seqs {
			if err := tx.Delete(makeEntryKey(seq)); err != nil {
				return err
			}
			if err := tx.Delete(makeSourceKey(source, seq)); err != nil {
				return err
			}
		}
		if err := r.putEntries(tx, entries, time.Now().UTC()); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		removed = len(seqs)
		return nil
	}, true)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func checkSources(entries []*core.IndexEntry) error {
	for _, entry := range entries {
		if strings.IndexByte(entry.Source, sourceTerminator) >= 0 {
			return fmt.Errorf("%w: source contains NUL byte", storage.ErrInvalidQuery)
		}
	}
	return nil
}

// putEntries assigns Seq and InsertedAt and writes the entry and source keys.
func (r *IndexRepository) putEntries(tx *badger.Txn, entries []*core.IndexEntry, now time.Time) error {
	for _, entry := range entries {
		seq, err := r.nextSeq()
		if err != nil {
			return err
		}
		entry.Seq = seq
		entry.InsertedAt = now

		if err := tx.Set(makeEntryKey(seq), storage.MarshalEntry(entry)); err != nil {
			return err
		}
		if err := tx.Set(makeSourceKey(entry.Source, seq), nil); err != nil {
			return err
		}
	}
	return nil
}

// FindSimilar scans every entry and returns the topK best matches by dot
// product. Ties keep storage order. Every stored vector must have the query's
// length.
func (r *IndexRepository) FindSimilar(ctx context.Context, vector []float32, topK int, filter storage.EntryFilter) ([]*core.SimilarityMatch, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", storage.ErrInvalidQuery, topK)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*core.SimilarityMatch
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := readEntry(iter.Item())
			if err != nil {
				return err
			}
			if len(entry.Vector) == 0 {
				continue
			}
			if len(entry.Vector) != len(vector) {
				return fmt.Errorf("%w: query has %d dimensions, entry %d has %d",
					storage.ErrDimensionMismatch, len(vector), entry.Seq, len(entry.Vector))
			}
			if filter != nil && !filter(entry) {
				continue
			}
			results = append(results, &core.SimilarityMatch{
				Entry: entry,
				Score: dotProduct(vector, entry.Vector),
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending; stable so equal scores stay in seq order
	slices.SortStableFunc(results, func(a, b *core.SimilarityMatch) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteBySource removes every entry of source in transactions of at most
// deleteBatchSize entries. Large deletes are therefore not atomic: on error
// the count of entries already removed is returned with it.
func (r *IndexRepository) DeleteBySource(ctx context.Context, source string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seqs, err := r.sourceSeqs(source, 0)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for batch := range slices.Chunk(seqs, deleteBatchSize) {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			for _, seq := range batch {
				if err := tx.Delete(makeEntryKey(seq)); err != nil {
					return err
				}
				if err := tx.Delete(makeSourceKey(source, seq)); err != nil {
					return err
				}
			}
			return tx.Commit()
		}, true)
		if err != nil {
			return deleted, err
		}
		deleted += len(batch)
	}
	return deleted, nil
}

// ListSources returns the distinct stored sources in byte order.
func (r *IndexRepository) ListSources(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := []string{}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sourcePrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			source, _, ok := parseSourceKey(iter.Item().Key())
			if !ok {
				continue
			}
			if n := len(sources); n == 0 || sources[n-1] != source {
				sources = append(sources, source)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// EntriesBySource returns entries of source in storage order.
func (r *IndexRepository) EntriesBySource(ctx context.Context, source string, limit int) ([]*core.IndexEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seqs, err := r.sourceSeqs(source, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]*core.IndexEntry, 0, len(seqs))
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		for _, seq := range seqs {
			item, err := tx.Get(makeEntryKey(seq))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			entry, err := readEntry(item)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ScanEntries returns up to limit entries after afterSeq in seq order.
func (r *IndexRepository) ScanEntries(ctx context.Context, afterSeq uint64, limit int) ([]*core.IndexEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*core.IndexEntry, 0, limit)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(makeEntryKey(afterSeq + 1)); iter.Valid() && len(entries) < limit; iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := readEntry(iter.Item())
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// UpdateVectors rewrites the vector of every entry that still exists, in a
// single transaction. Everything else stored with the entry is kept.
func (r *IndexRepository) UpdateVectors(ctx context.Context, entries ...*core.IndexEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, entry := range entries {
			key := makeEntryKey(entry.Seq)
			item, err := tx.Get(key)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			stored, err := readEntry(item)
			if err != nil {
				return err
			}
			stored.Vector = entry.Vector
			if err := tx.Set(key, storage.MarshalEntry(stored)); err != nil {
				return err
			}
			updated++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// Clear drops every entry and source index key. The sequence is kept so
// sequence numbers are never reused.
func (r *IndexRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend.DropPrefix(entryPrefix, sourcePrefix)
}

// Count returns the number of stored entries.
func (r *IndexRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// sourceSeqs lists the sequence numbers stored under source, in order.
// Callers must hold r.mu.
func (r *IndexRepository) sourceSeqs(source string, limit int) ([]uint64, error) {
	var seqs []uint64
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		seqs = scanSourceSeqs(tx, source, limit)
		return nil
	}, false)
	return seqs, err
}

func scanSourceSeqs(tx *badger.Txn, source string, limit int) []uint64 {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialSourceKey(source)
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var seqs []uint64
	for iter.Rewind(); iter.Valid(); iter.Next() {
		_, seq, ok := parseSourceKey(iter.Item().Key())
		if !ok {
			continue
		}
		seqs = append(seqs, seq)
		if limit > 0 && len(seqs) >= limit {
			break
		}
	}
	return seqs
}

func readEntry(item *badger.Item) (*core.IndexEntry, error) {
	var entry *core.IndexEntry
	err := item.Value(func(val []byte) error {
		var err error
		entry, err = storage.UnmarshalEntry(val)
		return err
	})
	return entry, err
}

// dotProduct calculates the dot product of two equal-length vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
