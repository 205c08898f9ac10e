package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	answer    Answer
	asked     []string
	ingest    IngestResult
	ingestErr error
	status    IndexStatus
	statusErr error
	answerer  *Answerer
}

func (b *fakeBackend) Ask(_ context.Context, q string) Answer {
	b.asked = append(b.asked, q)
	return b.answer
}

func (b *fakeBackend) Ingest(context.Context) (IngestResult, error) {
	return b.ingest, b.ingestErr
}

func (b *fakeBackend) Status(context.Context) (IndexStatus, error) {
	return b.status, b.statusErr
}

func (b *fakeBackend) Answerer(context.Context) *Answerer {
	return b.answerer
}

func healthyAnswerer(t *testing.T) *Answerer {
	t.Helper()
	store := NewDirIndexStore(t.TempDir(), DefaultIndexOptions())
	return newTestAnswerer(t, newKeywordEmbedder("x"), &stubGenerator{}, store)
}

func testServer(t *testing.T, b *fakeBackend) *HTTPServer {
	t.Helper()
	return NewHTTPServer(b, Messages{CitationPrefix: "Source:"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func doJSON(t *testing.T, s *HTTPServer, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHTTPHealth(t *testing.T) {
	b := &fakeBackend{answerer: healthyAnswerer(t)}
	code, body := doJSON(t, testServer(t, b), http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	b.answerer = NewAnswerer(context.Background(), AnswererConfig{}, InitResult{Err: errors.New("no api key")})
	code, body = doJSON(t, testServer(t, b), http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
	assert.Equal(t, "no api key", body["error"])
}

func TestHTTPAsk(t *testing.T) {
	b := &fakeBackend{answer: Answer{Text: "Nine to five.", Citation: "policy.txt"}}
	code, body := doJSON(t, testServer(t, b), http.MethodPost, "/api/v1/ask", `{"question":"office hours?"}`)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Nine to five.", body["text"])
	assert.Equal(t, "policy.txt", body["citation"])
	assert.Equal(t, "Nine to five.\n\nSource: policy.txt", body["formatted"])
	assert.Equal(t, []string{"office hours?"}, b.asked)
}

func TestHTTPAskWithoutCitation(t *testing.T) {
	b := &fakeBackend{answer: Answer{Text: DefaultNotFoundMessage}}
	code, body := doJSON(t, testServer(t, b), http.MethodPost, "/api/v1/ask", `{"question":"anything?"}`)

	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "citation")
	assert.Nil(t, body["citation"])
	assert.Equal(t, DefaultNotFoundMessage, body["formatted"])
}

func TestHTTPAskBadRequest(t *testing.T) {
	b := &fakeBackend{}
	s := testServer(t, b)

	code, _ := doJSON(t, s, http.MethodPost, "/api/v1/ask", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, b.asked)
}

func TestHTTPAskBlankQuestion(t *testing.T) {
	b := &fakeBackend{answer: Answer{Text: DefaultNotFoundMessage}}
	s := testServer(t, b)

	code, body := doJSON(t, s, http.MethodPost, "/api/v1/ask", `{"question":"  "}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, DefaultNotFoundMessage, body["text"])
	assert.Nil(t, body["citation"])
	assert.Equal(t, []string{"  "}, b.asked)
}

func TestHTTPIngest(t *testing.T) {
	b := &fakeBackend{ingest: IngestResult{
		RunID:        "run-1",
		New:          []string{"a.txt", "b.pdf"},
		Committed:    []string{"a.txt"},
		Failed:       []FileFailure{{Name: "b.pdf", Error: "no text"}},
		Chunks:       4,
		IndexEntries: 10,
	}}
	code, body := doJSON(t, testServer(t, b), http.MethodPost, "/api/v1/ingest", "")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "run-1", body["run_id"])
	assert.EqualValues(t, 2, body["new"])
	assert.EqualValues(t, 10, body["index_entries"])
	assert.Equal(t, []any{"a.txt"}, body["committed"])
	assert.Len(t, body["failed"], 1)
}

func TestHTTPIngestErrors(t *testing.T) {
	b := &fakeBackend{
		ingest:    IngestResult{RunID: "run-2"},
		ingestErr: ErrIngestionLocked,
	}
	code, body := doJSON(t, testServer(t, b), http.MethodPost, "/api/v1/ingest", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "run-2", body["run_id"])

	b.ingestErr = errors.New("save index: disk full")
	code, body = doJSON(t, testServer(t, b), http.MethodPost, "/api/v1/ingest", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "save index: disk full", body["error"])
}

func TestHTTPStatus(t *testing.T) {
	b := &fakeBackend{status: IndexStatus{Path: "/idx", Exists: true, Entries: 5, Model: "m", Pending: []string{"new.txt"}}}
	code, body := doJSON(t, testServer(t, b), http.MethodGet, "/api/v1/status", "")

	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 5, body["entries"])
	assert.Equal(t, []any{"new.txt"}, body["pending"])

	b.statusErr = errors.New("list corpus: permission denied")
	code, _ = doJSON(t, testServer(t, b), http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestSummarizeIngestNoop(t *testing.T) {
	s := SummarizeIngest(IngestResult{RunID: "r", NoOp: true})
	assert.True(t, s.NoOp)
	assert.NotNil(t, s.Committed)
	assert.NotNil(t, s.Failed)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"committed":[]`)
}
