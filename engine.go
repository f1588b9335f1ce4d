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


package ragchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/ai/openai"
	"github.com/poiesic/ragchat/audit"
	"github.com/poiesic/ragchat/chat"
	"github.com/poiesic/ragchat/chunking"
	"github.com/poiesic/ragchat/config"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/ingestion"
	"github.com/poiesic/ragchat/memory"
	"github.com/poiesic/ragchat/reembed"
	"github.com/poiesic/ragchat/storage/badger"
	"github.com/poiesic/ragchat/storage/sqlite"
	"github.com/poiesic/ragchat/vault"
	"github.com/poiesic/ragchat/vectorstore"
)

// PreviewLimit is the number of chunks Preview returns.
const PreviewLimit = 3

// Engine wires storage, AI services, session memory and the audit log into
// the operations exposed by the HTTP API and the CLI.
type Engine struct {
	cfg          *config.Config
	backend      *badger.Backend
	index        *badger.IndexRepository
	provider     ai.AIProvider
	store        *vectorstore.Store
	memory       *memory.Store
	vault        *vault.Vault
	recorder     *audit.Recorder
	pipeline     *ingestion.Pipeline
	orchestrator *chat.Orchestrator
	logger       *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	provider ai.AIProvider
	inMemory bool
	logger   *slog.Logger
}

// WithProvider replaces the OpenAI-compatible provider built from the config.
func WithProvider(provider ai.AIProvider) EngineOption {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithInMemory keeps the index and the audit log in memory. The vault still
// lives under the data directory.
func WithInMemory(inMemory bool) EngineOption {
	return func(o *engineOptions) {
		o.inMemory = inMemory
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// Open builds an Engine from cfg. The caller must Close it.
func Open(cfg *config.Config, opts ...EngineOption) (*Engine, error) {
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: options.logger.With("component", "engine")}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	var err error
	if e.backend, err = badger.OpenBackend(cfg.IndexDir(), options.inMemory); err != nil {
		return nil, err
	}
	if e.index, err = badger.NewIndexRepository(e.backend); err != nil {
		return nil, err
	}

	e.provider = options.provider
	if e.provider == nil {
		if e.provider, err = openai.NewProvider(cfg.AIConfig()); err != nil {
			return nil, err
		}
	}

	if e.store, err = vectorstore.NewStore(e.index, e.provider.Embedder(),
		vectorstore.WithLogger(options.logger),
		vectorstore.WithBatchSize(cfg.Retrieval.BatchSize),
		vectorstore.WithPoolSize(cfg.Retrieval.EmbedWorkers),
		vectorstore.WithEmbedTimeout(cfg.EmbedTimeout()),
	); err != nil {
		return nil, err
	}

	if e.memory, err = memory.NewStore(
		memory.WithCapacity(cfg.Memory.Capacity),
		memory.WithLogger(options.logger),
	); err != nil {
		return nil, err
	}

	key, err := encryptionKey(cfg)
	if err != nil {
		return nil, err
	}
	if e.vault, err = vault.Open(cfg.VaultDir(), key, vault.WithLogger(options.logger)); err != nil {
		return nil, err
	}

	auditPath := cfg.AuditPath()
	if options.inMemory {
		auditPath = sqlite.MemoryPath
	}
	db, err := sqlite.Open(auditPath)
	if err != nil {
		return nil, err
	}
	if e.recorder, err = audit.NewRecorder(sqlite.NewAuditRepository(db), audit.WithLogger(options.logger)); err != nil {
		db.Close()
		return nil, err
	}

	chunker, err := chunking.NewChunker(
		chunking.WithChunkSize(cfg.Chunking.Size),
		chunking.WithOverlap(cfg.Chunking.Overlap),
	)
	if err != nil {
		return nil, err
	}
	if e.pipeline, err = ingestion.NewPipeline(e.store,
		ingestion.WithVault(e.vault),
		ingestion.WithAuditor(e.recorder),
		ingestion.WithChunker(chunker),
		ingestion.WithPoolSize(cfg.Ingest.Workers),
		ingestion.WithReplaceExisting(cfg.Ingest.ReplaceExisting),
		ingestion.WithLogger(options.logger),
	); err != nil {
		return nil, err
	}

	if e.orchestrator, err = chat.NewOrchestrator(e.store, e.memory, e.provider.Generator(),
		chat.WithTopK(cfg.Retrieval.TopK),
		chat.WithGenerateTimeout(cfg.GenerateTimeout()),
		chat.WithGenerateOptions(ai.GenerateOptions{MaxTokens: cfg.AI.MaxTokens, Temperature: cfg.AI.Temperature}),
		chat.WithOwnerIsolation(cfg.Retrieval.IsolateOwners),
		chat.WithLogger(options.logger),
	); err != nil {
		return nil, err
	}

	ok = true
	e.logger.Info("engine ready", "data_dir", cfg.DataDir, "in_memory", options.inMemory, "isolate_owners", cfg.Retrieval.IsolateOwners)
	return e, nil
}

func encryptionKey(cfg *config.Config) ([]byte, error) {
	if cfg.EncryptionKey != "" {
		return vault.ParseKey(cfg.EncryptionKey)
	}
	return vault.LoadOrCreateKeyFile(cfg.KeyPath())
}

// Close releases every component. It is safe to call on a partially
// opened Engine.
func (e *Engine) Close() error {
	var errs []error
	if e.pipeline != nil {
		e.pipeline.Release()
	}
	if e.store != nil {
		e.store.Release()
	}
	if e.recorder != nil {
		if err := e.recorder.Close(); err != nil {
			e.logger.Error("error closing audit log", "err", err)
			errs = append(errs, err)
		}
	}
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
		}
	}
	if e.index != nil {
		if err := e.index.Close(); err != nil {
			e.logger.Error("error closing index", "err", err)
			errs = append(errs, err)
		}
	}
	if e.backend != nil {
		if err := e.backend.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Upload ingests one document for owner.
func (e *Engine) Upload(ctx context.Context, filename, owner string, raw []byte) (*core.IngestResult, error) {
	return e.pipeline.Ingest(ctx, filename, owner, raw)
}

// IngestAll ingests docs concurrently. See ingestion.Pipeline.IngestAll.
func (e *Engine) IngestAll(ctx context.Context, docs []ingestion.Document, onDone func(ingestion.Result)) []ingestion.Result {
	return e.pipeline.IngestAll(ctx, docs, onDone)
}

// Ask answers a question and audits the sources it used.
func (e *Engine) Ask(ctx context.Context, req chat.Request) (*core.ChatResponse, error) {
	resp, err := e.orchestrator.Ask(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.NumSources > 0 {
		e.recorder.Record(ctx, sessionOrDefault(req.SessionID), core.AuditChat, strings.Join(resp.Sources, ","))
	}
	return resp, nil
}

// Preview returns the first PreviewLimit chunks of filename. A document
// with no chunks is core.ErrNotFound.
func (e *Engine) Preview(ctx context.Context, filename, actor string) (*core.PreviewResult, error) {
	chunks, err := e.store.Preview(ctx, filename, PreviewLimit)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, filename)
	}
	e.recorder.Record(ctx, sessionOrDefault(actor), core.AuditPreview, filename)
	return &core.PreviewResult{Filename: filename, PreviewChunks: chunks, TotalChunks: len(chunks)}, nil
}

// Delete removes a document's chunks and encrypted copies.
func (e *Engine) Delete(ctx context.Context, filename, actor string) (*core.DeleteResult, error) {
	return e.pipeline.Delete(ctx, filename, sessionOrDefault(actor))
}

// Clear removes every document.
func (e *Engine) Clear(ctx context.Context, actor string) error {
	return e.pipeline.Clear(ctx, sessionOrDefault(actor))
}

// Stats reports the stored chunk count.
func (e *Engine) Stats(ctx context.Context) (core.StoreStats, error) {
	return e.store.Stats(ctx)
}

// Sources lists the stored document names.
func (e *Engine) Sources(ctx context.Context) ([]string, error) {
	return e.store.ListSources(ctx)
}

// History returns a session's recent turns, oldest first.
func (e *Engine) History(sessionID string) []core.SessionTurn {
	return e.memory.History(sessionOrDefault(sessionID))
}

// AuditEvents returns up to limit audit events, most recent first.
func (e *Engine) AuditEvents(ctx context.Context, limit int) ([]*core.AuditEvent, error) {
	return e.recorder.List(ctx, limit)
}

// Reembed rebuilds every stored vector with the current embedder. Run it
// after changing the embedding model; answers are unreliable until it ends.
func (e *Engine) Reembed(ctx context.Context, progress reembed.Progress) (*reembed.Stats, error) {
	aiCfg := e.cfg.AIConfig()
	r, err := reembed.NewReembedder(e.index, e.provider.Embedder(), &reembed.Config{
		BatchSize:  e.cfg.Retrieval.BatchSize,
		MaxRetries: aiCfg.MaxRetries,
		RetryDelay: aiCfg.RetryDelay,
	}, progress)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

func sessionOrDefault(id string) string {
	if id == "" {
		return chat.DefaultSessionID
	}
	return id
}
