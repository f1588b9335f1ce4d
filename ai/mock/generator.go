package mock

import (
	"context"
	"sync"

	"github.com/poiesic/ragchat/ai"
)

// DefaultAnswer is returned by MockGenerator when no GenerateFunc is set.
const DefaultAnswer = "mock answer"

// MockGenerator is a test double for ai.Generator.
// It records every prompt it receives and is safe for concurrent use.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, Generate returns DefaultAnswer.
	GenerateFunc func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error)

	mu       sync.Mutex
	prompts  []string
	lastOpts ai.GenerateOptions
}

// NewMockGenerator creates a mock generator with default behaviour.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate records the prompt and returns the configured answer.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.lastOpts = opts
	custom := m.GenerateFunc
	m.mu.Unlock()

	if custom != nil {
		return custom(ctx, prompt, opts)
	}
	return DefaultAnswer, nil
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// LastPrompt returns the most recent prompt, or "" if none was sent.
func (m *MockGenerator) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// LastOptions returns the options of the most recent call.
func (m *MockGenerator) LastOptions() ai.GenerateOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}

// Reset clears recorded prompts and custom behaviour.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = nil
	m.lastOpts = ai.GenerateOptions{}
	m.GenerateFunc = nil
}
