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


package chunking

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/ragchat/core"
)

const (
	// DefaultChunkSize is the window length in characters.
	DefaultChunkSize = 500

	// DefaultOverlap is the number of characters consecutive chunks share.
	DefaultOverlap = 50
)

// Chunker splits extracted document text into overlapping segments.
// A Chunker is immutable after construction and safe for concurrent use.
type Chunker struct {
	size      int
	overlap   int
	minLength int
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithChunkSize sets the window length in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) error {
		c.size = size
		return nil
	}
}

// WithOverlap sets how many characters consecutive windows share.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) error {
		c.overlap = overlap
		return nil
	}
}

// WithMinLength sets the trimmed length a chunk must exceed to be kept.
func WithMinLength(n int) Option {
	return func(c *Chunker) error {
		if n < 0 {
			return fmt.Errorf("%w: min length cannot be negative", core.ErrInvalidConfiguration)
		}
		c.minLength = n
		return nil
	}
}

// NewChunker creates a Chunker. Defaults: size 500, overlap 50, and the
// domain chunk floor of core.MinChunkLength.
func NewChunker(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:      DefaultChunkSize,
		overlap:   DefaultOverlap,
		minLength: core.MinChunkLength,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := validate(c.size, c.overlap); err != nil {
		return nil, err
	}
	return c, nil
}

// Size returns the configured window length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks text with the configured parameters.
func (c *Chunker) Split(text string) []string {
	return split(text, c.size, c.overlap, c.minLength)
}

// Split chunks text into windows of size characters sharing overlap
// characters, dropping chunks whose trimmed length is at or below
// core.MinChunkLength.
func Split(text string, size, overlap int) ([]string, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return split(text, size, overlap, core.MinChunkLength), nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", core.ErrInvalidConfiguration, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap cannot be negative, got %d", core.ErrInvalidConfiguration, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", core.ErrInvalidConfiguration, overlap, size)
	}
	return nil
}

// split works on runes so windows never cut a multi-byte character.
func split(text string, size, overlap, minLength int) []string {
	chunks := []string{}
	runes := []rune(text)
	for _, w := range windows(runes, size, overlap) {
		trimmed := strings.TrimSpace(string(runes[w.start:w.end]))
		if utf8.RuneCountInString(trimmed) > minLength {
			chunks = append(chunks, trimmed)
		}
	}
	return chunks
}

type span struct {
	start, end int
}

// windows computes the untrimmed chunk spans over runes.
func windows(runes []rune, size, overlap int) []span {
	var spans []span
	n := len(runes)
	start := 0
	for start < n {
		end := start + size
		if end >= n {
			// Final window is taken verbatim to the end
			spans = append(spans, span{start, n})
			break
		}

		cut := end
		// A boundary cut must still move the next window forward
		if b := boundary(runes, start, end, size); b > 0 && b-overlap > start {
			cut = b
		}
		spans = append(spans, span{start, cut})
		start = cut - overlap
	}
	return spans
}

// boundary returns the index just past the last newline or
// sentence-ending period in runes[start:end] that lies beyond the
// window's midpoint, or 0 if there is none. end must be < len(runes).
func boundary(runes []rune, start, end, size int) int {
	for i := end - 1; i > start+size/2; i-- {
		switch {
		case runes[i] == '\n':
			return i + 1
		case runes[i] == '.' && unicode.IsSpace(runes[i+1]):
			return i + 1
		}
	}
	return 0
}
