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


package reembed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

// Index is the part of storage.VectorIndex the reembedder needs.
type Index interface {
	Count(ctx context.Context) (int, error)
	ScanEntries(ctx context.Context, afterSeq uint64, limit int) ([]*core.IndexEntry, error)
	UpdateVectors(ctx context.Context, entries ...*core.IndexEntry) (int, error)
}

// Progress receives progress updates. Implementations are called from a
// single goroutine.
type Progress interface {
	Start(total int)
	Add(n int)
	Finish()
}

// Config holds configuration for a reembedding run.
type Config struct {
	// BatchSize is the number of entries embedded per call
	BatchSize int

	// MaxRetries is the maximum number of attempts per embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:  DefaultBatchSize,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// Stats summarises a finished run.
type Stats struct {
	Total   int           `json:"total"`
	Updated int           `json:"updated"`
	Elapsed time.Duration `json:"elapsed"`
}

// Reembedder rebuilds the vector of every entry in an index.
type Reembedder struct {
	index     Index
	config    *Config
	progress  Progress
	processor *BatchProcessor
	iterator  *EntryIterator
	logger    *slog.Logger
}

// NewReembedder creates a reembedder. A nil config uses DefaultConfig and a
// nil progress reports nothing.
func NewReembedder(index Index, embedder ai.Embedder, config *Config, progress Progress) (*Reembedder, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, fmt.Errorf("%w: max retries must be positive", core.ErrInvalidConfiguration)
	}
	if progress == nil {
		progress = noProgress{}
	}

	return &Reembedder{
		index:     index,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(index, embedder, config.MaxRetries, config.RetryDelay),
		iterator:  NewEntryIterator(index, config.BatchSize),
		logger:    slog.Default().With("component", "reembedder"),
	}, nil
}

// Run re-embeds every entry. A failed batch stops the run; batches already
// written keep their new vectors.
func (r *Reembedder) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	total, err := r.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	stats := &Stats{Total: total}
	if total == 0 {
		r.logger.Info("no entries to reembed")
		return stats, nil
	}

	r.logger.Info("starting reembedding", "entries", total, "batchSize", r.config.BatchSize)
	r.progress.Start(total)
	defer r.progress.Finish()

	err = r.iterator.ForEach(ctx, func(batch []*core.IndexEntry) error {
		updated, err := r.processor.Process(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		stats.Updated += updated
		r.progress.Add(len(batch))
		return nil
	})
	stats.Elapsed = time.Since(start)
	if err != nil {
		r.logger.Error("reembedding failed", "updated", stats.Updated, "err", err)
		return stats, err
	}

	r.logger.Info("reembedding complete", "updated", stats.Updated, "elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}

type noProgress struct{}

func (noProgress) Start(int) {}
func (noProgress) Add(int)   {}
func (noProgress) Finish()   {}
