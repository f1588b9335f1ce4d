package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/ai/mock"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	chunks  []string
	sources []string
	err     error

	calls     int
	scoped    int
	lastTopK  int
	lastOwner string
}

func (f *fakeRetriever) QueryWithSources(ctx context.Context, question string, topK int) ([]string, []string, error) {
	f.calls++
	f.lastTopK = topK
	return f.chunks, f.sources, f.err
}

func (f *fakeRetriever) QueryScoped(ctx context.Context, question string, topK int, owner string) ([]string, []string, error) {
	f.calls++
	f.scoped++
	f.lastTopK = topK
	f.lastOwner = owner
	return f.chunks, f.sources, f.err
}

func newTestOrchestrator(t *testing.T, r Retriever, g ai.Generator, opts ...Option) (*Orchestrator, *memory.Store) {
	t.Helper()
	mem, err := memory.NewStore()
	require.NoError(t, err)
	o, err := NewOrchestrator(r, mem, g, opts...)
	require.NoError(t, err)
	return o, mem
}

func TestNewOrchestrator_RequiredDependencies(t *testing.T) {
	mem, err := memory.NewStore()
	require.NoError(t, err)
	gen := mock.NewMockGenerator()
	r := &fakeRetriever{}

	_, err = NewOrchestrator(nil, mem, gen)
	assert.ErrorIs(t, err, ErrRetrieverRequired)
	_, err = NewOrchestrator(r, nil, gen)
	assert.ErrorIs(t, err, ErrMemoryRequired)
	_, err = NewOrchestrator(r, mem, nil)
	assert.ErrorIs(t, err, ErrGeneratorRequired)

	_, err = NewOrchestrator(r, mem, gen, WithTopK(0))
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
	_, err = NewOrchestrator(r, mem, gen, WithGenerateTimeout(0))
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	r := &fakeRetriever{chunks: []string{"something"}, sources: []string{"a.txt"}}
	gen := mock.NewMockGenerator()
	o, mem := newTestOrchestrator(t, r, gen)

	for _, q := range []string{"", "   ", "\n\t"} {
		resp, err := o.Ask(context.Background(), Request{Question: q, SessionID: "s1"})
		assert.ErrorIs(t, err, core.ErrEmptyQuestion)
		assert.Nil(t, resp)
	}
	assert.Equal(t, 0, r.calls)
	assert.Equal(t, 0, gen.CallCount())
	assert.Equal(t, 0, mem.Len("s1"))
}

func TestAsk_NoDocuments(t *testing.T) {
	r := &fakeRetriever{}
	gen := mock.NewMockGenerator()
	o, mem := newTestOrchestrator(t, r, gen)

	resp, err := o.Ask(context.Background(), Request{Question: "What is the revenue?"})
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsAnswer, resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.NotNil(t, resp.Sources)
	assert.Equal(t, 0, resp.NumSources)
	assert.Equal(t, 0, gen.CallCount())
	assert.Equal(t, 0, mem.Len(DefaultSessionID))
}

func TestAsk_Answer(t *testing.T) {
	r := &fakeRetriever{
		chunks:  []string{"Revenue was ten million.", "Costs were four million.", "Profit was six million."},
		sources: []string{"a.pdf", "b.txt"},
	}
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		return "Revenue was ten million [1].", nil
	}
	o, mem := newTestOrchestrator(t, r, gen)

	resp, err := o.Ask(context.Background(), Request{Question: "What is the revenue?", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "Revenue was ten million [1].", resp.Answer)
	assert.Equal(t, []string{"a.pdf", "b.txt"}, resp.Sources)
	assert.Equal(t, 2, resp.NumSources)
	assert.Equal(t, DefaultTopK, r.lastTopK)

	prompt := gen.LastPrompt()
	first := strings.Index(prompt, "[1] Revenue was ten million.")
	second := strings.Index(prompt, "[2] Costs were four million.")
	third := strings.Index(prompt, "[3] Profit was six million.")
	require.True(t, first >= 0 && second > first && third > second, "context numbered in retrieval order")
	assert.Contains(t, prompt, "What is the revenue?")
	assert.Contains(t, prompt, "Do NOT reveal full documents.")
	assert.Equal(t, ai.GenerateOptions{MaxTokens: 500, Temperature: 0.3}, gen.LastOptions())

	history := mem.History("s1")
	require.Len(t, history, 1)
	assert.Equal(t, core.SessionTurn{Question: "What is the revenue?", Answer: "Revenue was ten million [1]."}, history[0])
}

func TestAsk_DefaultSession(t *testing.T) {
	r := &fakeRetriever{chunks: []string{"text"}, sources: []string{"a.txt"}}
	o, mem := newTestOrchestrator(t, r, mock.NewMockGenerator())

	_, err := o.Ask(context.Background(), Request{Question: "q?"})
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Len(DefaultSessionID))
}

func TestAsk_RequestTopK(t *testing.T) {
	r := &fakeRetriever{chunks: []string{"text"}, sources: []string{"a.txt"}}
	o, _ := newTestOrchestrator(t, r, mock.NewMockGenerator(), WithTopK(5))

	_, err := o.Ask(context.Background(), Request{Question: "q?"})
	require.NoError(t, err)
	assert.Equal(t, 5, r.lastTopK)

	_, err = o.Ask(context.Background(), Request{Question: "q?", TopK: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, r.lastTopK)
}

func TestAsk_HistoryInPrompt(t *testing.T) {
	r := &fakeRetriever{chunks: []string{"context text"}, sources: []string{"a.txt"}}
	gen := mock.NewMockGenerator()
	n := 0
	gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		n++
		return fmt.Sprintf("answer %d", n), nil
	}
	o, mem := newTestOrchestrator(t, r, gen)

	for i := 1; i <= 7; i++ {
		_, err := o.Ask(context.Background(), Request{Question: fmt.Sprintf("question %d", i), SessionID: "s1"})
		require.NoError(t, err)
	}

	// The seventh prompt carries turns 2..6 in order
	prompt := gen.LastPrompt()
	assert.NotContains(t, prompt, "Q: question 1\n")
	prev := -1
	for i := 2; i <= 6; i++ {
		idx := strings.Index(prompt, fmt.Sprintf("Q: question %d\nA: answer %d\n", i, i))
		require.Greater(t, idx, prev, "turn %d out of order", i)
		prev = idx
	}
	assert.Equal(t, memory.DefaultCapacity, mem.Len("s1"))

	// Another session starts with no history
	_, err := o.Ask(context.Background(), Request{Question: "fresh", SessionID: "s2"})
	require.NoError(t, err)
	assert.NotContains(t, gen.LastPrompt(), "Previous conversation:")
}

func TestAsk_GenerationFailure(t *testing.T) {
	r := &fakeRetriever{chunks: []string{"text"}, sources: []string{"a.txt"}}
	gen := mock.NewMockGenerator()
	cause := errors.New("upstream 500")
	gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		return "", cause
	}
	o, mem := newTestOrchestrator(t, r, gen)

	resp, err := o.Ask(context.Background(), Request{Question: "q?", SessionID: "s1"})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, core.ErrGenerationFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, core.ErrTimeout)
	assert.Equal(t, 0, mem.Len("s1"))
}

func TestAsk_GenerationTimeout(t *testing.T) {
	r := &fakeRetriever{chunks: []string{"text"}, sources: []string{"a.txt"}}
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	o, mem := newTestOrchestrator(t, r, gen, WithGenerateTimeout(20*time.Millisecond))

	resp, err := o.Ask(context.Background(), Request{Question: "q?", SessionID: "s1"})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.NotErrorIs(t, err, core.ErrGenerationFailed)
	assert.Equal(t, 0, mem.Len("s1"))
}

func TestAsk_LateAnswerIsDiscarded(t *testing.T) {
	r := &fakeRetriever{chunks: []string{"text"}, sources: []string{"a.txt"}}
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		<-ctx.Done()
		return "too late", nil
	}
	o, mem := newTestOrchestrator(t, r, gen, WithGenerateTimeout(20*time.Millisecond))

	_, err := o.Ask(context.Background(), Request{Question: "q?", SessionID: "s1"})
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.Equal(t, 0, mem.Len("s1"))
}

func TestAsk_RetrievalFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr []error
		notErr  error
	}{
		{
			name:    "store unavailable",
			err:     fmt.Errorf("%w: disk gone", core.ErrStoreUnavailable),
			wantErr: []error{core.ErrGenerationFailed, core.ErrStoreUnavailable},
			notErr:  core.ErrTimeout,
		},
		{
			name:    "embedding timeout",
			err:     fmt.Errorf("%w: embedding: %w", core.ErrTimeout, context.DeadlineExceeded),
			wantErr: []error{core.ErrTimeout},
			notErr:  core.ErrGenerationFailed,
		},
		{
			name:    "bare deadline",
			err:     context.DeadlineExceeded,
			wantErr: []error{core.ErrTimeout},
			notErr:  core.ErrGenerationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRetriever{err: tt.err}
			gen := mock.NewMockGenerator()
			o, _ := newTestOrchestrator(t, r, gen)

			_, err := o.Ask(context.Background(), Request{Question: "q?"})
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
			assert.NotErrorIs(t, err, tt.notErr)
			assert.Equal(t, 0, gen.CallCount())
		})
	}
}

func TestAsk_OwnerIsolation(t *testing.T) {
	r := &fakeRetriever{chunks: []string{"text"}, sources: []string{"a.txt"}}
	o, _ := newTestOrchestrator(t, r, mock.NewMockGenerator(), WithOwnerIsolation(true))

	_, err := o.Ask(context.Background(), Request{Question: "q?", SessionID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.scoped)
	assert.Equal(t, "alice", r.lastOwner)

	shared, _ := newTestOrchestrator(t, r, mock.NewMockGenerator())
	_, err = shared.Ask(context.Background(), Request{Question: "q?", SessionID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, r.scoped)
}

func TestAsk_Language(t *testing.T) {
	r := &fakeRetriever{chunks: []string{"text"}, sources: []string{"a.txt"}}
	gen := mock.NewMockGenerator()
	o, _ := newTestOrchestrator(t, r, gen, WithLanguageDetection(false))

	_, err := o.Ask(context.Background(), Request{Question: "q?", Language: "fr"})
	require.NoError(t, err)
	assert.Contains(t, gen.LastPrompt(), LanguageInstruction("fr"))

	_, err = o.Ask(context.Background(), Request{Question: "q?", Language: "ja"})
	require.NoError(t, err)
	assert.Contains(t, gen.LastPrompt(), "Answer only in Japanese.")
	assert.NotContains(t, gen.LastPrompt(), DefaultLanguageInstruction)

	_, err = o.Ask(context.Background(), Request{Question: "q?"})
	require.NoError(t, err)
	assert.Contains(t, gen.LastPrompt(), DefaultLanguageInstruction)
}

func TestAsk_DetectsContextLanguage(t *testing.T) {
	r := &fakeRetriever{
		chunks: []string{
			"Le chiffre d'affaires de l'entreprise a augmenté de douze pour cent au cours du dernier trimestre.",
			"Les coûts de production sont restés stables malgré la hausse des prix de l'énergie en Europe.",
		},
		sources: []string{"rapport.pdf"},
	}
	gen := mock.NewMockGenerator()
	o, _ := newTestOrchestrator(t, r, gen)

	_, err := o.Ask(context.Background(), Request{Question: "Quel est le chiffre d'affaires ?"})
	require.NoError(t, err)
	assert.Contains(t, gen.LastPrompt(), LanguageInstruction("fr"))
}
