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

	"github.com/poiesic/ragchat/core"
)

// DefaultBatchSize is the default number of entries fetched per batch.
const DefaultBatchSize = 100

// EntryIterator pages through every index entry in sequence order.
type EntryIterator struct {
	index     Index
	batchSize int
}

// NewEntryIterator creates an iterator. A batchSize <= 0 uses
// DefaultBatchSize.
func NewEntryIterator(index Index, batchSize int) *EntryIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &EntryIterator{index: index, batchSize: batchSize}
}

// ForEach calls fn for each batch until the index is exhausted, fn fails or
// ctx ends. Entries added during iteration are visited if their sequence
// number is past the current position.
func (it *EntryIterator) ForEach(ctx context.Context, fn func([]*core.IndexEntry) error) error {
	var after uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := it.index.ScanEntries(ctx, after, it.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		after = batch[len(batch)-1].Seq
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < it.batchSize {
			return nil
		}
	}
}
