package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/ragchat/ai/mock"
	"github.com/poiesic/ragchat/audit"
	"github.com/poiesic/ragchat/core"
	"github.com/poiesic/ragchat/storage/badger"
	"github.com/poiesic/ragchat/storage/sqlite"
	"github.com/poiesic/ragchat/vault"
	"github.com/poiesic/ragchat/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	pipeline *Pipeline
	store    *vectorstore.Store
	vault    *vault.Vault
	recorder *audit.Recorder
}

func setupPipeline(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return setupPipelineWith(t, mock.NewKeywordEmbedder(), opts...)
}

func setupPipelineWith(t *testing.T, embedder *mock.MockEmbedder, opts ...Option) *testEnv {
	t.Helper()

	index, backend, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	store, err := vectorstore.NewStore(index, embedder)
	require.NoError(t, err)

	key := make([]byte, vault.KeySize)
	v, err := vault.Open(t.TempDir(), key)
	require.NoError(t, err)

	db, err := sqlite.Open(sqlite.MemoryPath)
	require.NoError(t, err)
	recorder, err := audit.NewRecorder(sqlite.NewAuditRepository(db))
	require.NoError(t, err)

	opts = append([]Option{WithVault(v), WithAuditor(recorder)}, opts...)
	p, err := NewPipeline(store, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		p.Release()
		store.Release()
		recorder.Close()
		index.Close()
		backend.Close()
	})
	return &testEnv{pipeline: p, store: store, vault: v, recorder: recorder}
}

func policyDocument(n int) string {
	var b strings.Builder
	for i := range n {
		fmt.Fprintf(&b, "Section %d of the policy explains how refunds are processed for returned products. ", i)
	}
	return b.String()
}

func TestNewPipeline_RequiresStore(t *testing.T) {
	_, err := NewPipeline(nil)
	assert.ErrorIs(t, err, ErrChunkStoreRequired)
}

func TestIngest(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()
	raw := []byte(policyDocument(20))

	res, err := env.pipeline.Ingest(ctx, "policy.txt", "alice", raw)
	require.NoError(t, err)
	assert.Equal(t, "policy.txt", res.Filename)
	assert.Greater(t, res.Chunks, 1)

	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, stats.TotalChunks)

	stored, err := env.vault.Get("alice", "policy.txt")
	require.NoError(t, err)
	assert.Equal(t, raw, stored)

	events, err := env.recorder.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.AuditUpload, events[0].Action)
	assert.Equal(t, "alice", events[0].Actor)
	assert.Equal(t, "policy.txt", events[0].Target)

	texts, sources, err := env.store.QueryScoped(ctx, "refunds returned products", 3, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, texts)
	assert.Equal(t, []string{"policy.txt"}, sources)
}

func TestIngest_StripsDirectories(t *testing.T) {
	env := setupPipeline(t)
	res, err := env.pipeline.Ingest(context.Background(), "../../etc/policy.txt", "alice", []byte(policyDocument(3)))
	require.NoError(t, err)
	assert.Equal(t, "policy.txt", res.Filename)

	_, err = env.pipeline.Ingest(context.Background(), "  ", "alice", []byte("x"))
	assert.ErrorIs(t, err, ErrFilenameRequired)
}

func TestIngest_UnsupportedFormat(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	_, err := env.pipeline.Ingest(ctx, "legacy.xls", "alice", []byte("data"))
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)

	// Nothing is kept for a rejected upload
	_, err = env.vault.Get("alice", "legacy.xls")
	assert.ErrorIs(t, err, core.ErrNotFound)
	events, err := env.recorder.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestIngest_ExtractionFailure(t *testing.T) {
	env := setupPipeline(t)
	_, err := env.pipeline.Ingest(context.Background(), "broken.xml", "alice", []byte("<a><b></a>"))
	assert.ErrorIs(t, err, core.ErrExtractionFailed)
}

func TestIngest_ShortDocument(t *testing.T) {
	env := setupPipeline(t)
	res, err := env.pipeline.Ingest(context.Background(), "tiny.txt", "alice", []byte("too short"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Chunks)
}

func TestIngest_ReplacesExisting(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	first, err := env.pipeline.Ingest(ctx, "policy.txt", "alice", []byte(policyDocument(20)))
	require.NoError(t, err)
	second, err := env.pipeline.Ingest(ctx, "policy.txt", "alice", []byte(policyDocument(5)))
	require.NoError(t, err)
	require.NotEqual(t, first.Chunks, second.Chunks)

	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Chunks, stats.TotalChunks)
}

func TestIngest_FailedReplacementKeepsPrevious(t *testing.T) {
	embedder := mock.NewKeywordEmbedder()
	env := setupPipelineWith(t, embedder)
	ctx := context.Background()

	original := []byte(policyDocument(20))
	first, err := env.pipeline.Ingest(ctx, "policy.txt", "alice", original)
	require.NoError(t, err)
	require.Greater(t, first.Chunks, 0)

	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("backend down")
	}
	_, err = env.pipeline.Ingest(ctx, "policy.txt", "alice", []byte(policyDocument(5)))
	require.ErrorIs(t, err, core.ErrStoreUnavailable)

	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, stats.TotalChunks)

	preview, err := env.store.Preview(ctx, "policy.txt", 0)
	require.NoError(t, err)
	assert.Len(t, preview, first.Chunks)

	stored, err := env.vault.Get("alice", "policy.txt")
	require.NoError(t, err)
	assert.Equal(t, original, stored)

	events, err := env.recorder.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestIngest_KeepExisting(t *testing.T) {
	env := setupPipeline(t, WithReplaceExisting(false))
	ctx := context.Background()

	first, err := env.pipeline.Ingest(ctx, "policy.txt", "alice", []byte(policyDocument(5)))
	require.NoError(t, err)
	_, err = env.pipeline.Ingest(ctx, "policy.txt", "alice", []byte(policyDocument(5)))
	require.NoError(t, err)

	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*first.Chunks, stats.TotalChunks)
}

func TestIngestAll(t *testing.T) {
	env := setupPipeline(t, WithPoolSize(3))
	ctx := context.Background()

	docs := []Document{
		{Filename: "a.txt", Owner: "alice", Raw: []byte(policyDocument(4))},
		{Filename: "b.md", Owner: "alice", Raw: []byte(policyDocument(6))},
		{Filename: "c.xls", Owner: "bob", Raw: []byte("legacy")},
		{Filename: "d.txt", Owner: "bob", Raw: []byte(policyDocument(8))},
	}

	var (
		mu   sync.Mutex
		done []string
	)
	results := env.pipeline.IngestAll(ctx, docs, func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		done = append(done, r.Filename)
	})

	require.Len(t, results, len(docs))
	assert.ElementsMatch(t, []string{"a.txt", "b.md", "c.xls", "d.txt"}, done)
	for i, r := range results {
		assert.Equal(t, docs[i].Filename, r.Filename)
	}
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.ErrorIs(t, results[2].Err, core.ErrUnsupportedFormat)
	assert.NoError(t, results[3].Err)

	sources, err := env.store.ListSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.md", "d.txt"}, sources)
}

func TestIngestAll_CancelledContext(t *testing.T) {
	env := setupPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := env.pipeline.IngestAll(ctx, []Document{{Filename: "a.txt", Raw: []byte(policyDocument(4))}}, nil)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestDelete(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	res, err := env.pipeline.Ingest(ctx, "policy.txt", "alice", []byte(policyDocument(10)))
	require.NoError(t, err)
	_, err = env.pipeline.Ingest(ctx, "other.txt", "bob", []byte(policyDocument(3)))
	require.NoError(t, err)

	del, err := env.pipeline.Delete(ctx, "policy.txt", "alice")
	require.NoError(t, err)
	assert.Equal(t, "policy.txt", del.Filename)
	assert.Equal(t, res.Chunks, del.DeletedChunks)
	assert.Equal(t, 1, del.EncryptedFilesRemoved)

	sources, err := env.store.ListSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other.txt"}, sources)

	_, err = env.pipeline.Delete(ctx, "policy.txt", "alice")
	assert.ErrorIs(t, err, core.ErrNotFound)

	events, err := env.recorder.List(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, core.AuditDelete, events[0].Action)
}

func TestClear(t *testing.T) {
	env := setupPipeline(t)
	ctx := context.Background()

	_, err := env.pipeline.Ingest(ctx, "a.txt", "alice", []byte(policyDocument(4)))
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Clear(ctx, "admin"))

	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalChunks)
	_, err = env.vault.Get("alice", "a.txt")
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Still usable
	_, err = env.pipeline.Ingest(ctx, "a.txt", "alice", []byte(policyDocument(4)))
	require.NoError(t, err)
}

type failingStore struct{}

func (failingStore) Add(ctx context.Context, texts []string, meta core.ChunkMetadata) ([]core.Chunk, error) {
	return nil, fmt.Errorf("%w: index down", core.ErrStoreUnavailable)
}

func (failingStore) Replace(ctx context.Context, texts []string, meta core.ChunkMetadata) ([]core.Chunk, int, error) {
	return nil, 0, fmt.Errorf("%w: index down", core.ErrStoreUnavailable)
}

func (failingStore) DeleteBySource(ctx context.Context, filename string) (int, error) { return 0, nil }

func (failingStore) Clear(ctx context.Context) error { return errors.New("down") }

func TestIngest_StoreFailure(t *testing.T) {
	p, err := NewPipeline(failingStore{})
	require.NoError(t, err)
	defer p.Release()

	_, err = p.Ingest(context.Background(), "a.txt", "alice", []byte(policyDocument(4)))
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}
