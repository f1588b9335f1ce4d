package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/ragchat/chunking"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/extract"
)

// ChunkStore stores embedded chunks. vectorstore.Store implements it.
type ChunkStore interface {
	Add(ctx context.Context, texts []string, meta core.ChunkMetadata) ([]core.Chunk, error)
	Replace(ctx context.Context, texts []string, meta core.ChunkMetadata) ([]core.Chunk, int, error)
	DeleteBySource(ctx context.Context, filename string) (int, error)
	Clear(ctx context.Context) error
}

// Vault keeps encrypted copies of uploaded documents. vault.Vault implements it.
type Vault interface {
	Put(owner, filename string, raw []byte) error
	DeleteFile(filename string) (int, error)
	Clear() (int, error)
}

// Auditor records audit events. audit.Recorder implements it.
type Auditor interface {
	Record(ctx context.Context, actor string, action core.AuditAction, target string) *core.AuditEvent
}

// Document is one upload handed to IngestAll.
type Document struct {
	Filename string
	Owner    string
	Raw      []byte
}

// Result is the outcome of ingesting one Document.
type Result struct {
	Filename string
	Ingest   *core.IngestResult
	Err      error
}

// Pipeline orchestrates extraction, chunking, encryption and storage of
// uploaded documents.
type Pipeline struct {
	store           ChunkStore
	vault           Vault
	auditor         Auditor
	chunker         *chunking.Chunker
	pool            *ants.Pool
	replaceExisting bool
	logger          *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets how many documents IngestAll processes concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// WithVault keeps an encrypted copy of every upload.
func WithVault(v Vault) Option {
	return func(p *Pipeline) error {
		p.vault = v
		return nil
	}
}

// WithAuditor records upload, delete and clear events.
func WithAuditor(a Auditor) Option {
	return func(p *Pipeline) error {
		p.auditor = a
		return nil
	}
}

// WithChunker sets the chunker. Default is chunking.NewChunker().
func WithChunker(c *chunking.Chunker) Option {
	return func(p *Pipeline) error {
		if c != nil {
			p.chunker = c
		}
		return nil
	}
}

// WithReplaceExisting controls whether re-uploading a filename atomically
// replaces the chunks stored under it. Default is true.
func WithReplaceExisting(replace bool) Option {
	return func(p *Pipeline) error {
		p.replaceExisting = replace
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(store ChunkStore, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrChunkStoreRequired
	}

	chunker, err := chunking.NewChunker()
	if err != nil {
		return nil, err
	}

	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:           store,
		chunker:         chunker,
		pool:            pool,
		replaceExisting: true,
		logger:          slog.Default().With("component", "ingestion"),
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Ingest extracts, chunks, encrypts and stores one document for owner.
func (p *Pipeline) Ingest(ctx context.Context, filename, owner string, raw []byte) (*core.IngestResult, error) {
	filename, err := cleanFilename(filename)
	if err != nil {
		return nil, err
	}
	if !extract.Supported(filename) {
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, filepath.Ext(filename))
	}

	text, err := extract.Text(filename, raw)
	if err != nil {
		p.logger.Warn("extraction failed", "file", filename, "err", err)
		return nil, err
	}
	texts := p.chunker.Split(text)

	meta := core.ChunkMetadata{Source: filename, Owner: owner}
	var chunks []core.Chunk
	if p.replaceExisting {
		var replaced int
		if chunks, replaced, err = p.store.Replace(ctx, texts, meta); err != nil {
			return nil, err
		}
		if replaced > 0 {
			p.logger.Info("replaced existing document", "file", filename, "chunks", replaced)
		}
	} else if chunks, err = p.store.Add(ctx, texts, meta); err != nil {
		return nil, err
	}

	// The encrypted copy is written only once the chunks are stored, so a
	// failed upload never overwrites the previous copy.
	if p.vault != nil {
		if err := p.vault.Put(owner, filename, raw); err != nil {
			p.logger.Error("chunks stored but encrypted copy failed", "file", filename, "err", err)
			return nil, fmt.Errorf("%w: vault: %w", core.ErrStoreUnavailable, err)
		}
	}

	p.audit(ctx, owner, core.AuditUpload, filename)
	p.logger.Info("ingested document", "file", filename, "owner", owner, "bytes", len(raw), "chunks", len(chunks))
	return &core.IngestResult{Filename: filename, Chunks: len(chunks)}, nil
}

// IngestAll ingests docs concurrently on the worker pool. Results are in
// input order; onDone, when set, is called once per document as it
// finishes and must be safe for concurrent use.
func (p *Pipeline) IngestAll(ctx context.Context, docs []Document, onDone func(Result)) []Result {
	results := make([]Result, len(docs))
	var wg sync.WaitGroup

	for i, doc := range docs {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			res := Result{Filename: doc.Filename}
			if err := ctx.Err(); err != nil {
				res.Err = err
			} else {
				res.Ingest, res.Err = p.Ingest(ctx, doc.Filename, doc.Owner, doc.Raw)
			}
			results[i] = res
			if onDone != nil {
				onDone(res)
			}
		}
		if err := p.pool.Submit(task); err != nil {
			p.logger.Error("error submitting document", "file", doc.Filename, "err", err)
			wg.Done()
			results[i] = Result{Filename: doc.Filename, Err: err}
			if onDone != nil {
				onDone(results[i])
			}
		}
	}

	wg.Wait()
	return results
}

// Delete removes every chunk and encrypted copy of filename. A filename
// with neither is core.ErrNotFound.
func (p *Pipeline) Delete(ctx context.Context, filename, actor string) (*core.DeleteResult, error) {
	filename, err := cleanFilename(filename)
	if err != nil {
		return nil, err
	}

	deleted, err := p.store.DeleteBySource(ctx, filename)
	if err != nil {
		return nil, err
	}
	removed := 0
	if p.vault != nil {
		if removed, err = p.vault.DeleteFile(filename); err != nil {
			p.logger.Error("error removing encrypted copies", "file", filename, "err", err)
			return nil, fmt.Errorf("%w: vault: %w", core.ErrStoreUnavailable, err)
		}
	}
	if deleted == 0 && removed == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, filename)
	}

	p.audit(ctx, actor, core.AuditDelete, filename)
	return &core.DeleteResult{
		Filename:              filename,
		DeletedChunks:         deleted,
		EncryptedFilesRemoved: removed,
	}, nil
}

// Clear removes every stored chunk and encrypted copy.
func (p *Pipeline) Clear(ctx context.Context, actor string) error {
	if err := p.store.Clear(ctx); err != nil {
		return err
	}
	if p.vault != nil {
		if _, err := p.vault.Clear(); err != nil {
			return fmt.Errorf("%w: vault: %w", core.ErrStoreUnavailable, err)
		}
	}
	p.audit(ctx, actor, core.AuditClear, "all")
	return nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

func (p *Pipeline) audit(ctx context.Context, actor string, action core.AuditAction, target string) {
	if p.auditor != nil {
		p.auditor.Record(ctx, actor, action, target)
	}
}

// cleanFilename strips any directory part so a filename can never name a
// path outside the document namespace.
func cleanFilename(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return "", ErrFilenameRequired
	}
	base := filepath.Base(filepath.FromSlash(name))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", ErrFilenameRequired
	}
	return base, nil
}
