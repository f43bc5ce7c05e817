package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/secondbrain/internal/answer"
	"github.com/hyperjump/secondbrain/internal/config"
	"github.com/hyperjump/secondbrain/internal/embedding"
	"github.com/hyperjump/secondbrain/internal/indexer"
	"github.com/hyperjump/secondbrain/internal/models"
	"github.com/hyperjump/secondbrain/internal/search"
	"github.com/hyperjump/secondbrain/internal/storage"
	"github.com/hyperjump/secondbrain/internal/vector"
)

type stubGenerator struct {
	err error
}

func (g *stubGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return "Grounded answer.", nil
}

func (g *stubGenerator) Name() string { return "stub" }

type testServer struct {
	srv     *Server
	handler http.Handler
	gen     *stubGenerator
	cfg     *config.Config
	dir     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.NotesPath = filepath.Join(dir, "notes.json")
	cfg.Storage.IndexPath = filepath.Join(dir, "index.db")
	cfg.Embedding.Provider = "mock"

	repo, err := storage.NewJSONRepository(cfg.Storage.NotesPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	index, err := vector.NewSQLiteIndex(cfg.Storage.IndexPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = index.Close() })
	embedder := embedding.NewMockEmbedder(8)
	gen := &stubGenerator{}

	engine := search.NewEngine(embedder, index, answer.NewComposer(gen), &cfg.Retrieval)
	idx := indexer.NewIndexer(repo, embedder, index, nil, cfg)
	srv := NewServer(engine, idx, repo, cfg, zap.NewNop())
	return &testServer{srv: srv, handler: srv.Handler(), gen: gen, cfg: cfg, dir: dir}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestCreateAndGetNote(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/notes", `{"title":"Recipe","content":"Pancakes need flour, milk, and one egg."}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status: got %d, body %s", w.Code, w.Body.String())
	}
	var created models.Note
	decodeBody(t, w, &created)
	if created.ID == "" || created.Title != "Recipe" {
		t.Fatalf("created = %+v", created)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/notes/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status: got %d", w.Code)
	}
	var got models.Note
	decodeBody(t, w, &got)
	if got.Content != "Pancakes need flour, milk, and one egg." {
		t.Errorf("content = %q", got.Content)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/notes", "")
	var list struct {
		Notes []models.Note `json:"notes"`
	}
	decodeBody(t, w, &list)
	if len(list.Notes) != 1 || list.Notes[0].ID != created.ID {
		t.Errorf("list = %+v", list.Notes)
	}
}

func TestCreateNote_errors(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"blank content", `{"title":"x","content":"   "}`, http.StatusBadRequest},
		{"bad json", `{"title":`, http.StatusBadRequest},
		{"no body", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/notes", tt.body)
			if w.Code != tt.want {
				t.Errorf("status: got %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestGetNote_notFound(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/notes/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestChat(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/notes", `{"title":"Recipe","content":"Pancakes need flour."}`)

	w := ts.do(t, http.MethodPost, "/api/v1/chat", `{"question":"What do pancakes need?","top_k":3}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp models.AskResponse
	decodeBody(t, w, &resp)
	if resp.Answer != "Grounded answer." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(resp.Contexts) != 1 || resp.Contexts[0].Text != "Pancakes need flour." {
		t.Errorf("contexts = %+v", resp.Contexts)
	}
	if resp.Contexts[0].Metadata["title"] != "Recipe" {
		t.Errorf("metadata = %v", resp.Contexts[0].Metadata)
	}
}

func TestChat_noNotes(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/chat", `{"question":"anything?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var resp models.AskResponse
	decodeBody(t, w, &resp)
	if resp.Answer != models.NoMatchesAnswer || len(resp.Contexts) != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestChat_errors(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/chat", `{"question":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty question status: got %d, want 400", w.Code)
	}

	ts.do(t, http.MethodPost, "/api/v1/notes", `{"title":"t","content":"some note"}`)
	ts.gen.err = fmt.Errorf("upstream down: %w", models.ErrExternal)
	w = ts.do(t, http.MethodPost, "/api/v1/chat", `{"question":"q"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("generation failure status: got %d, want 502", w.Code)
	}
	var body struct {
		Error     string `json:"error"`
		Retriable bool   `json:"retriable"`
	}
	decodeBody(t, w, &body)
	if !body.Retriable || !strings.Contains(body.Error, "upstream down") {
		t.Errorf("body = %+v", body)
	}

	ts.gen.err = errors.New("bug")
	w = ts.do(t, http.MethodPost, "/api/v1/chat", `{"question":"q"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("unclassified failure status: got %d, want 500", w.Code)
	}
}

func TestIngest(t *testing.T) {
	ts := newTestServer(t)
	src := filepath.Join(ts.dir, "notes")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "a.md"), []byte("Alpha"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "b.txt"), []byte(""), 0600); err != nil {
		t.Fatal(err)
	}

	w := ts.do(t, http.MethodPost, "/api/v1/ingest", `{"directory":"`+filepath.ToSlash(src)+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var report indexer.IngestReport
	decodeBody(t, w, &report)
	if len(report.Notes) != 1 || report.Notes[0].Title != "a" {
		t.Errorf("notes = %+v", report.Notes)
	}
	if len(report.Skipped) != 1 {
		t.Errorf("skipped = %+v", report.Skipped)
	}
}

func TestIngest_defaultDirectory(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/ingest", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("no directory status: got %d, want 400", w.Code)
	}

	ts.cfg.Ingest.Directory = ts.dir
	w = ts.do(t, http.MethodPost, "/api/v1/ingest", "")
	if w.Code != http.StatusOK {
		t.Errorf("configured directory status: got %d, body %s", w.Code, w.Body.String())
	}
}

func TestIngest_clientCancelStillImports(t *testing.T) {
	ts := newTestServer(t)
	src := filepath.Join(ts.dir, "notes")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "a.md"), []byte("Alpha"), 0600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/ingest",
		strings.NewReader(`{"directory":"`+filepath.ToSlash(src)+`"}`)).WithContext(ctx)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var report indexer.IngestReport
	decodeBody(t, w, &report)
	if len(report.Notes) != 1 {
		t.Errorf("notes = %+v, want one", report.Notes)
	}
}

func TestErrorStatus(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		err       error
		status    int
		retriable bool
	}{
		{fmt.Errorf("bad: %w", models.ErrInvalidArgument), http.StatusBadRequest, false},
		{models.ErrDimensionMismatch, http.StatusBadRequest, false},
		{fmt.Errorf("gone: %w", models.ErrNotFound), http.StatusNotFound, false},
		{fmt.Errorf("provider: %w", models.ErrExternal), http.StatusBadGateway, true},
		{fmt.Errorf("stopped after 1 of 3 notes: %w", models.ErrInterrupted), http.StatusServiceUnavailable, false},
		{fmt.Errorf("disk: %w", models.ErrStorage), http.StatusInternalServerError, false},
		{errors.New("unknown"), http.StatusInternalServerError, false},
	}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, tt := range tests {
		status, retriable := ts.srv.logErr(r, "failed", tt.err)
		if status != tt.status || retriable != tt.retriable {
			t.Errorf("logErr(%v) = %d, %v; want %d, %v", tt.err, status, retriable, tt.status, tt.retriable)
		}
	}
}

func TestRequestTimeout(t *testing.T) {
	tests := []struct {
		embedding, generation time.Duration
		want                  time.Duration
	}{
		{30 * time.Second, 60 * time.Second, 100 * time.Second},
		{5 * time.Second, 5 * time.Second, minRequestTimeout},
		{2 * time.Minute, 3 * time.Minute, 5*time.Minute + 10*time.Second},
	}
	for _, tt := range tests {
		cfg := config.Default()
		cfg.Embedding.Timeout = tt.embedding
		cfg.Generation.Timeout = tt.generation
		if got := requestTimeout(cfg); got != tt.want {
			t.Errorf("requestTimeout(%v, %v) = %v, want %v", tt.embedding, tt.generation, got, tt.want)
		}
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/notes", `{"title":"t","content":"status note"}`)

	w := ts.do(t, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var st models.Status
	decodeBody(t, w, &st)
	if st.Notes != 1 || st.IndexEntries != 1 || !st.Consistent {
		t.Errorf("status = %+v", st)
	}
	if st.IndexType != "sqlite" || st.Dimensions != 8 || st.EmbeddingProvider != "mock" {
		t.Errorf("status = %+v", st)
	}
	if st.DiskUsageBytes <= 0 {
		t.Errorf("disk usage = %d", st.DiskUsageBytes)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/health", "")
	w := ts.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "secondbrain_http_requests_total") {
		t.Error("metrics output missing secondbrain_http_requests_total")
	}
}
