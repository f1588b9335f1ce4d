package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/poiesic/ragchat"
	"github.com/poiesic/ragchat/ai"
	"github.com/poiesic/ragchat/ai/mock"
	"github.com/poiesic/ragchat/config"
	"github.com/poiesic/ragchat/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handbook = "The employee handbook states that every employee receives twenty five days of paid holiday leave per year. " +
	"Holiday requests must be approved by a manager at least two weeks in advance of the first day off."

func newTestServer(t *testing.T, gen *mock.MockGenerator, opts ...Option) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	if gen == nil {
		gen = mock.NewMockGenerator()
	}
	engine, err := ragchat.Open(cfg,
		ragchat.WithProvider(mock.NewMockProviderWithServices(mock.NewKeywordEmbedder(), gen)),
		ragchat.WithInMemory(true),
	)
	require.NoError(t, err)

	srv, err := New(engine, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		engine.Close()
	})
	return ts
}

func upload(t *testing.T, ts *httptest.Server, session, filename, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/upload?session_id="+session, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func postChat(t *testing.T, ts *httptest.Server, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/chat", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func doRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestNew_RequiresService(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrServiceRequired)
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := doRequest(t, http.MethodGet, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "Secure RAG Chatbot API", body["message"])

	resp = doRequest(t, http.MethodGet, ts.URL+"/nope")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := doRequest(t, http.MethodOptions, ts.URL+"/chat")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUploadChatFlow(t *testing.T) {
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		return "Twenty five days [1].", nil
	}
	ts := newTestServer(t, gen)

	resp := upload(t, ts, "alice", "handbook.txt", handbook)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decode[uploadResponse](t, resp)
	assert.Equal(t, "Document securely uploaded", up.Message)
	assert.Equal(t, "handbook.txt", up.Filename)
	assert.Equal(t, 1, up.Chunks)

	resp = postChat(t, ts, map[string]any{"question": "How many holiday days?", "session_id": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	answer := decode[core.ChatResponse](t, resp)
	assert.Equal(t, "Twenty five days [1].", answer.Answer)
	assert.Equal(t, []string{"handbook.txt"}, answer.Sources)
	assert.Equal(t, 1, answer.NumSources)

	resp = doRequest(t, http.MethodGet, ts.URL+"/chat-history?session_id=alice")
	history := decode[historyResponse](t, resp)
	require.Len(t, history.History, 1)
	assert.Equal(t, 1, history.TotalQuestions)
	assert.Equal(t, "How many holiday days?", history.History[0].Question)

	resp = doRequest(t, http.MethodGet, ts.URL+"/chat-history?session_id=bob")
	empty := decode[historyResponse](t, resp)
	assert.Empty(t, empty.History)
	assert.Equal(t, "No past questions found", empty.Message)

	resp = doRequest(t, http.MethodGet, ts.URL+"/preview/handbook.txt?session_id=alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	preview := decode[core.PreviewResult](t, resp)
	assert.Equal(t, "handbook.txt", preview.Filename)
	assert.Len(t, preview.PreviewChunks, 1)

	resp = doRequest(t, http.MethodGet, ts.URL+"/stats")
	stats := decode[core.StoreStats](t, resp)
	assert.Equal(t, 1, stats.TotalChunks)

	resp = doRequest(t, http.MethodGet, ts.URL+"/files")
	files := decode[filesResponse](t, resp)
	assert.Equal(t, []string{"handbook.txt"}, files.Files)

	resp = doRequest(t, http.MethodGet, ts.URL+"/audit?limit=10")
	events := decode[[]core.AuditEvent](t, resp)
	require.Len(t, events, 3)
	assert.Equal(t, core.AuditPreview, events[0].Action)

	resp = doRequest(t, http.MethodDelete, ts.URL+"/files/handbook.txt")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	del := decode[map[string]any](t, resp)
	assert.Equal(t, "handbook.txt deleted successfully", del["message"])
	assert.EqualValues(t, 1, del["deleted_chunks"])
	assert.EqualValues(t, 1, del["encrypted_files_removed"])

	resp = doRequest(t, http.MethodDelete, ts.URL+"/files/handbook.txt")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChat_Errors(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postChat(t, ts, map[string]any{"question": "   "})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(ts.URL+"/chat", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postChat(t, ts, map[string]any{"question": "anything?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	answer := decode[core.ChatResponse](t, resp)
	assert.Equal(t, "No documents available.", answer.Answer)
	assert.Empty(t, answer.Sources)
}

func TestChat_GenerationErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"generation failure", fmt.Errorf("boom"), http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := mock.NewMockGenerator()
			gen.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
				return "", tt.err
			}
			ts := newTestServer(t, gen)
			upload(t, ts, "alice", "handbook.txt", handbook).Body.Close()

			resp := postChat(t, ts, map[string]any{"question": "holiday days?"})
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestUpload_Errors(t *testing.T) {
	ts := newTestServer(t, nil, WithMaxUploadBytes(1024))

	resp := upload(t, ts, "alice", "legacy.xls", "binary")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = upload(t, ts, "alice", "big.txt", strings.Repeat("a", 2048))
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, err := http.Post(ts.URL+"/upload", "text/plain", strings.NewReader("no form"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreview_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := doRequest(t, http.MethodGet, ts.URL+"/preview/missing.txt")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	assert.Equal(t, "File not found", body.Detail)
}

func TestClear(t *testing.T) {
	ts := newTestServer(t, nil)
	upload(t, ts, "alice", "handbook.txt", handbook).Body.Close()

	resp := doRequest(t, http.MethodDelete, ts.URL+"/files")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/files")
	files := decode[filesResponse](t, resp)
	assert.Empty(t, files.Files)
}

func TestAudit_BadLimit(t *testing.T) {
	ts := newTestServer(t, nil)
	resp := doRequest(t, http.MethodGet, ts.URL+"/audit?limit=abc")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrEmptyQuestion, http.StatusBadRequest},
		{fmt.Errorf("%w: .xls", core.ErrUnsupportedFormat), http.StatusBadRequest},
		{core.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: x", core.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: x", core.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: %w", core.ErrGenerationFailed, core.ErrStoreUnavailable), http.StatusBadGateway},
		{fmt.Errorf("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
