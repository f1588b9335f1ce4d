package mock

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/poiesic/ragchat/ai"
)

// DefaultDimension is the vector length produced by the default mock behaviour.
const DefaultDimension = 384

// MockEmbedder is an ai.Embedder whose behaviour can be swapped through the
// Func fields. Safe for concurrent use.
type MockEmbedder struct {
	// EmbedTextFunc and EmbedTextsFunc replace the hash-based default.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	mu        sync.Mutex
	callCount int
}

// NewMockEmbedder returns an embedder producing DeterministicVector output.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{}
}

// EmbedText generates a deterministic embedding based on text hash.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.callCount++
	custom := m.EmbedTextFunc
	m.mu.Unlock()

	if custom != nil {
		return custom(ctx, text)
	}
	return DeterministicVector(text, DefaultDimension), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.callCount++
	custom := m.EmbedTextsFunc
	m.mu.Unlock()

	if custom != nil {
		return custom(ctx, texts)
	}

	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = DeterministicVector(text, DefaultDimension)
	}
	return embeddings, nil
}

// CallCount counts EmbedText and EmbedTexts calls together.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and custom behaviour.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
}

// DeterministicVector creates a unit-length embedding vector from text.
// It uses an FNV hash so the same text always produces the same vector.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	for i := range vector {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000) / 1000.0
	}
	return ai.NormalizeVector(vector)
}

// NewKeywordEmbedder creates a mock embedder whose vectors are hashed
// bag-of-words counts, so texts sharing words score as similar.
func NewKeywordEmbedder() *MockEmbedder {
	m := &MockEmbedder{}
	m.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return KeywordVector(text, DefaultDimension), nil
	}
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = KeywordVector(text, DefaultDimension)
		}
		return out, nil
	}
	return m
}

// KeywordVector hashes each lower-cased word of text into one of dim
// buckets and returns the unit-length count vector.
func KeywordVector(text string, dim int) []float32 {
	vector := make([]float32, dim)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vector[h.Sum32()%uint32(dim)]++
	}
	return ai.NormalizeVector(vector)
}
