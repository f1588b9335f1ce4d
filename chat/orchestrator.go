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


package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/core"
)

const (
	// DefaultTopK is the number of chunks retrieved when a request names none.
	DefaultTopK = 3

	// DefaultSessionID is used for requests without a session.
	DefaultSessionID = "default"

	// DefaultGenerateTimeout bounds a single generation call.
	DefaultGenerateTimeout = 60 * time.Second
)

// Retriever finds the chunks relevant to a question.
type Retriever interface {
	QueryWithSources(ctx context.Context, question string, topK int) ([]string, []string, error)
	QueryScoped(ctx context.Context, question string, topK int, owner string) ([]string, []string, error)
}

// Memory holds the recent turns of each session.
type Memory interface {
	History(sessionID string) []core.SessionTurn
	Append(sessionID, question, answer string)
}

// Request is a single question from a chat session.
type Request struct {
	Question  string
	TopK      int    // <= 0 uses the orchestrator default
	SessionID string // "" uses DefaultSessionID
	Language  string // ISO 639-1; "" detects from the retrieved context
}

// Orchestrator answers questions from retrieved document chunks and the
// session's recent turns.
type Orchestrator struct {
	retriever       Retriever
	memory          Memory
	generator       ai.Generator
	topK            int
	generateTimeout time.Duration
	generateOpts    ai.GenerateOptions
	isolateOwners   bool
	detectLanguage  bool
	logger          *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger.With("component", "chat")
		return nil
	}
}

// WithTopK sets the default number of chunks to retrieve.
func WithTopK(k int) Option {
	return func(o *Orchestrator) error {
		if k <= 0 {
			return fmt.Errorf("%w: topK must be positive", core.ErrInvalidConfiguration)
		}
		o.topK = k
		return nil
	}
}

// WithGenerateTimeout bounds each generation call. Expiry surfaces as core.ErrTimeout.
func WithGenerateTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return fmt.Errorf("%w: generate timeout must be positive", core.ErrInvalidConfiguration)
		}
		o.generateTimeout = d
		return nil
	}
}

// WithGenerateOptions sets the token cap and temperature of answers.
func WithGenerateOptions(opts ai.GenerateOptions) Option {
	return func(o *Orchestrator) error {
		o.generateOpts = opts
		return nil
	}
}

// WithOwnerIsolation restricts retrieval to chunks uploaded by the asking session.
func WithOwnerIsolation(enabled bool) Option {
	return func(o *Orchestrator) error {
		o.isolateOwners = enabled
		return nil
	}
}

// WithLanguageDetection toggles detecting the answer language from the
// retrieved context when a request does not name one.
func WithLanguageDetection(enabled bool) Option {
	return func(o *Orchestrator) error {
		o.detectLanguage = enabled
		return nil
	}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(retriever Retriever, memory Memory, generator ai.Generator, opts ...Option) (*Orchestrator, error) {
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if memory == nil {
		return nil, ErrMemoryRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}

	o := &Orchestrator{
		retriever:       retriever,
		memory:          memory,
		generator:       generator,
		topK:            DefaultTopK,
		generateTimeout: DefaultGenerateTimeout,
		generateOpts:    ai.GenerateOptions{MaxTokens: 500, Temperature: 0.3},
		detectLanguage:  true,
		logger:          slog.Default().With("component", "chat"),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Ask answers req.Question. The session's memory is updated only when an
// answer is generated; validation errors, empty retrievals and failures
// leave it untouched.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*core.ChatResponse, error) {
	if err := core.ValidateQuestion(req.Question); err != nil {
		return nil, err
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	topK := req.TopK
	if topK <= 0 {
		topK = o.topK
	}

	var (
		chunks, sources []string
		err             error
	)
	if o.isolateOwners {
		chunks, sources, err = o.retriever.QueryScoped(ctx, req.Question, topK, sessionID)
	} else {
		chunks, sources, err = o.retriever.QueryWithSources(ctx, req.Question, topK)
	}
	if err != nil {
		o.logger.Error("retrieval failed", "session", sessionID, "err", err)
		return nil, failure("retrieval", err)
	}

	if len(chunks) == 0 {
		return &core.ChatResponse{
			Answer:     NoDocumentsAnswer,
			Sources:    []string{},
			NumSources: 0,
		}, nil
	}

	prompt := BuildPrompt(req.Question, chunks, o.memory.History(sessionID), o.languageInstruction(req.Language, chunks))

	genCtx, cancel := context.WithTimeout(ctx, o.generateTimeout)
	defer cancel()
	answer, err := o.generator.Generate(genCtx, prompt, o.generateOpts)
	if err == nil && genCtx.Err() != nil {
		// An answer that arrives after the deadline is abandoned
		err = genCtx.Err()
	}
	if err != nil {
		o.logger.Error("generation failed", "session", sessionID, "err", err)
		return nil, failure("generation", err)
	}

	o.memory.Append(sessionID, req.Question, answer)
	o.logger.Debug("answered question", "session", sessionID, "chunks", len(chunks), "sources", len(sources))

	return &core.ChatResponse{
		Answer:     answer,
		Sources:    sources,
		NumSources: len(sources),
	}, nil
}

func (o *Orchestrator) languageInstruction(requested string, chunks []string) string {
	if requested != "" {
		return LanguageInstruction(requested)
	}
	if o.detectLanguage {
		if code := DetectLanguage(strings.Join(chunks, "\n")); code != "" {
			return LanguageInstruction(code)
		}
	}
	return DefaultLanguageInstruction
}

// failure classifies err: deadlines become core.ErrTimeout, everything
// else core.ErrGenerationFailed with the cause kept for errors.Is.
func failure(stage string, err error) error {
	if errors.Is(err, core.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", core.ErrTimeout, stage, err)
	}
	return fmt.Errorf("%w: %s: %w", core.ErrGenerationFailed, stage, err)
}
