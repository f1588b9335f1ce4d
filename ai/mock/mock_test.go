package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/poiesic/ragchat/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ai.Embedder   = (*MockEmbedder)(nil)
	_ ai.Generator  = (*MockGenerator)(nil)
	_ ai.AIProvider = (*MockProvider)(nil)
)

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestDeterministicVector(t *testing.T) {
	a := DeterministicVector("hello", 16)
	b := DeterministicVector("hello", 16)
	c := DeterministicVector("world", 16)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.InDelta(t, 1.0, dot(a, a), 1e-5)
}

func TestKeywordVector_SharedWordsScoreHigher(t *testing.T) {
	q := KeywordVector("What is the refund policy?", DefaultDimension)
	related := KeywordVector("Our refund policy allows returns within 30 days.", DefaultDimension)
	unrelated := KeywordVector("Servers are patched every Tuesday night.", DefaultDimension)

	assert.Greater(t, dot(q, related), dot(q, unrelated))
}

func TestMockEmbedder_ConcurrentCalls(t *testing.T) {
	m := NewMockEmbedder()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.EmbedTexts(context.Background(), []string{"a", "b"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, m.CallCount())

	m.Reset()
	assert.Zero(t, m.CallCount())
}

func TestMockGenerator(t *testing.T) {
	g := NewMockGenerator()

	answer, err := g.Generate(context.Background(), "the prompt", ai.GenerateOptions{MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, DefaultAnswer, answer)
	assert.Equal(t, "the prompt", g.LastPrompt())
	assert.Equal(t, 10, g.LastOptions().MaxTokens)
	assert.Equal(t, 1, g.CallCount())

	g.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		return "custom", nil
	}
	answer, err = g.Generate(context.Background(), "p2", ai.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "custom", answer)

	g.Reset()
	assert.Zero(t, g.CallCount())
	assert.Empty(t, g.LastPrompt())
}

func TestMockProvider(t *testing.T) {
	p := NewMockProviderWithServices(NewKeywordEmbedder(), nil)
	require.NotNil(t, p.Generate)
	assert.Same(t, p.Embed, p.Embedder())
	assert.False(t, p.Closed())

	p.CloseErr = assert.AnError
	assert.ErrorIs(t, p.Close(), assert.AnError)
	assert.True(t, p.Closed())
}
