package mock

import (
	"sync/atomic"

	"github.com/poiesic/ragchat/ai"
)

// MockProvider bundles a MockEmbedder and a MockGenerator behind
// ai.AIProvider and remembers whether it was closed.
type MockProvider struct {
	Embed    *MockEmbedder
	Generate *MockGenerator

	// CloseErr is returned from Close when set.
	CloseErr error

	closes atomic.Int32
}

// NewMockProvider returns a provider backed by default mocks.
func NewMockProvider() *MockProvider {
	return NewMockProviderWithServices(NewMockEmbedder(), NewMockGenerator())
}

// NewMockProviderWithServices wraps the given mocks. Nil arguments get
// default mocks.
func NewMockProviderWithServices(embedder *MockEmbedder, generator *MockGenerator) *MockProvider {
	if embedder == nil {
		embedder = NewMockEmbedder()
	}
	if generator == nil {
		generator = NewMockGenerator()
	}
	return &MockProvider{Embed: embedder, Generate: generator}
}

func (p *MockProvider) Embedder() ai.Embedder   { return p.Embed }
func (p *MockProvider) Generator() ai.Generator { return p.Generate }

// Close counts the call and returns CloseErr.
func (p *MockProvider) Close() error {
	p.closes.Add(1)
	return p.CloseErr
}

// Closed reports whether Close was called at least once.
func (p *MockProvider) Closed() bool {
	return p.closes.Load() > 0
}
