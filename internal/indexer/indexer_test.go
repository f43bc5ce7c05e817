package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/secondbrain/internal/config"
	"github.com/hyperjump/secondbrain/internal/embedding"
	"github.com/hyperjump/secondbrain/internal/extract"
	"github.com/hyperjump/secondbrain/internal/models"
	"github.com/hyperjump/secondbrain/internal/storage"
	"github.com/hyperjump/secondbrain/internal/vector"
)

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{".txt", ".md"}, true},
		{".md", []string{"md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
		{".rst", []string{".txt", ".md", ".rst"}, true},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func TestPreprocess(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  hello  ", "hello"},
		{"a\r\nb\rc", "a\nb\nc"},
		{"\ufeffbom", "bom"},
		{"keep  inner   spaces", "keep  inner   spaces"},
		{" \n\t ", ""},
	}
	for _, tt := range tests {
		if got := Preprocess(tt.in); got != tt.want {
			t.Errorf("Preprocess(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type testEnv struct {
	idx      *Indexer
	repo     *storage.JSONRepository
	index    vector.Index
	embedder *failingEmbedder
	dir      string
}

// failingEmbedder wraps the mock embedder and fails the call numbered failOn (1-based).
type failingEmbedder struct {
	embedding.Embedder
	calls  int
	failOn int
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return nil, errors.New("provider unavailable")
	}
	return f.Embedder.EmbedBatch(ctx, texts)
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if cfg == nil {
		cfg = config.Default()
	}
	repo, err := storage.NewJSONRepository(filepath.Join(dir, "notes.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	index, err := vector.NewSQLiteIndex(filepath.Join(dir, "index.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = index.Close() })
	emb := &failingEmbedder{Embedder: embedding.NewMockEmbedder(8)}
	clock := func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	idx := NewIndexer(repo, emb, index, extract.NewExtractor(), cfg, WithClock(clock))
	return &testEnv{idx: idx, repo: repo, index: index, embedder: emb, dir: dir}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func assertConsistent(t *testing.T, env *testEnv) {
	t.Helper()
	report, err := env.idx.CheckConsistency(context.Background())
	if err != nil {
		t.Fatalf("CheckConsistency: %v", err)
	}
	if !report.Consistent() {
		t.Fatalf("stores diverged: index only %v, repository only %v", report.IndexOnly, report.RepositoryOnly)
	}
}

func TestCreateNote(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	note, err := env.idx.CreateNote(ctx, &models.NoteInput{Title: "Go", Content: "  Go has goroutines  "})
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if note.ID == "" {
		t.Fatal("expected an id")
	}
	if note.Title != "Go" || note.Content != "  Go has goroutines  " {
		t.Errorf("note stored with altered fields: %+v", note)
	}
	if !note.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", note.CreatedAt)
	}

	got, err := env.repo.Get(ctx, note.ID)
	if err != nil {
		t.Fatalf("repo.Get: %v", err)
	}
	if got.Content != note.Content {
		t.Errorf("repo content = %q", got.Content)
	}
	entry, err := env.index.Get(ctx, note.ID)
	if err != nil {
		t.Fatalf("index.Get: %v", err)
	}
	if entry.Content != note.Content || entry.Metadata[MetaTitle] != "Go" {
		t.Errorf("index entry = %+v", entry)
	}
	assertConsistent(t, env)
}

func TestCreateNote_emptyTitleAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	note, err := env.idx.CreateNote(context.Background(), &models.NoteInput{Content: "untitled"})
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if note.Title != "" {
		t.Errorf("Title = %q, want empty", note.Title)
	}
}

func TestCreateNote_blankContentRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, in := range []*models.NoteInput{nil, {Title: "t", Content: ""}, {Title: "t", Content: " \n\t"}} {
		_, err := env.idx.CreateNote(context.Background(), in)
		if !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("CreateNote(%+v) err = %v, want ErrInvalidArgument", in, err)
		}
	}
	if env.embedder.calls != 0 {
		t.Errorf("embedder called %d times for invalid input", env.embedder.calls)
	}
	if env.index.Size() != 0 {
		t.Errorf("index size = %d, want 0", env.index.Size())
	}
}

func TestCreateNote_embeddingFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.embedder.failOn = 1

	_, err := env.idx.CreateNote(context.Background(), &models.NoteInput{Title: "t", Content: "c"})
	if !errors.Is(err, models.ErrExternal) {
		t.Fatalf("err = %v, want ErrExternal", err)
	}
	if n, _ := env.repo.Count(context.Background()); n != 0 {
		t.Errorf("repo count = %d, want 0", n)
	}
	if env.index.Size() != 0 {
		t.Errorf("index size = %d, want 0", env.index.Size())
	}
}

// failingRepo rejects every Put.
type failingRepo struct {
	storage.NoteRepository
}

func (failingRepo) Put(ctx context.Context, note *models.Note) error {
	return fmt.Errorf("disk full: %w", models.ErrStorage)
}

func TestCreateNote_repositoryFailureRemovesIndexEntry(t *testing.T) {
	env := newTestEnv(t, nil)
	idx := NewIndexer(failingRepo{env.repo}, env.embedder, env.index, nil, config.Default())

	if _, err := idx.CreateNote(context.Background(), &models.NoteInput{Title: "t", Content: "lost"}); err == nil {
		t.Fatal("expected error")
	}
	if env.index.Size() != 0 {
		t.Errorf("index kept %d entries after failed repository write", env.index.Size())
	}
	assertConsistent(t, env)
}

func TestIngestDirectory(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	src := filepath.Join(env.dir, "notes")
	writeFile(t, filepath.Join(src, "a.md"), "Alpha")
	writeFile(t, filepath.Join(src, "b.txt"), "   ")
	writeFile(t, filepath.Join(src, "c.pdf"), "not allowed")

	report, err := env.idx.IngestDirectory(ctx, src)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if report.Created() != 1 {
		t.Fatalf("created %d notes, want 1", report.Created())
	}
	if report.Notes[0].Title != "a" || report.Notes[0].Content != "Alpha" {
		t.Errorf("note = %+v", report.Notes[0])
	}
	if len(report.Skipped) != 1 || filepath.Base(report.Skipped[0].Path) != "b.txt" {
		t.Fatalf("skipped = %+v, want b.txt", report.Skipped)
	}
	if !strings.Contains(report.Skipped[0].Reason, "empty") {
		t.Errorf("skip reason = %q", report.Skipped[0].Reason)
	}

	entry, err := env.index.Get(ctx, report.Notes[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := entry.Metadata[MetaPath].(string); filepath.Base(p) != "a.md" {
		t.Errorf("path metadata = %v", entry.Metadata[MetaPath])
	}
	assertConsistent(t, env)
}

func TestIngestDirectory_unreadableFileSkipped(t *testing.T) {
	env := newTestEnv(t, nil)
	src := filepath.Join(env.dir, "notes")
	writeFile(t, filepath.Join(src, "b.md"), "Still here")
	if err := os.Symlink(filepath.Join(env.dir, "gone.md"), filepath.Join(src, "a.md")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	report, err := env.idx.IngestDirectory(context.Background(), src)
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if report.Created() != 1 || report.Notes[0].Title != "b" {
		t.Fatalf("created = %+v, want only b", report.Notes)
	}
	if len(report.Skipped) != 1 || filepath.Base(report.Skipped[0].Path) != "a.md" {
		t.Fatalf("skipped = %+v, want a.md", report.Skipped)
	}
	if !strings.Contains(report.Skipped[0].Reason, "stat") {
		t.Errorf("skip reason = %q", report.Skipped[0].Reason)
	}
	assertConsistent(t, env)
}

func TestIngestDirectory_sortedAndRecursive(t *testing.T) {
	env := newTestEnv(t, nil)
	src := filepath.Join(env.dir, "notes")
	writeFile(t, filepath.Join(src, "b.md"), "second")
	writeFile(t, filepath.Join(src, "a.md"), "first")
	writeFile(t, filepath.Join(src, "sub", "c.md"), "nested")

	report, err := env.idx.IngestDirectory(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	var titles []string
	for _, n := range report.Notes {
		titles = append(titles, n.Title)
	}
	if strings.Join(titles, ",") != "a,b,c" {
		t.Errorf("titles = %v, want [a b c]", titles)
	}
}

func TestIngestDirectory_nonRecursive(t *testing.T) {
	cfg := config.Default()
	off := false
	cfg.Ingest.Recursive = &off
	env := newTestEnv(t, cfg)
	src := filepath.Join(env.dir, "notes")
	writeFile(t, filepath.Join(src, "a.md"), "top")
	writeFile(t, filepath.Join(src, "sub", "c.md"), "nested")

	report, err := env.idx.IngestDirectory(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if report.Created() != 1 {
		t.Errorf("created %d, want 1", report.Created())
	}
}

func TestIngestDirectory_batchFailureWritesNothing(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.BatchSize = 2
	env := newTestEnv(t, cfg)
	env.embedder.failOn = 2
	src := filepath.Join(env.dir, "notes")
	for _, name := range []string{"a", "b", "c", "d"} {
		writeFile(t, filepath.Join(src, name+".md"), "content "+name)
	}

	report, err := env.idx.IngestDirectory(context.Background(), src)
	if !errors.Is(err, models.ErrExternal) {
		t.Fatalf("err = %v, want ErrExternal", err)
	}
	if report.Created() != 0 {
		t.Errorf("report lists %d created notes", report.Created())
	}
	if n, _ := env.repo.Count(context.Background()); n != 0 {
		t.Errorf("repo count = %d, want 0", n)
	}
	if env.index.Size() != 0 {
		t.Errorf("index size = %d, want 0", env.index.Size())
	}
}

// cancellingIndex cancels the run once the first entry is stored.
type cancellingIndex struct {
	vector.Index
	cancel context.CancelFunc
}

func (c *cancellingIndex) Add(ctx context.Context, entry *vector.Entry) error {
	err := c.Index.Add(ctx, entry)
	c.cancel()
	return err
}

func TestIngestDirectory_interruptedKeepsWrittenNotes(t *testing.T) {
	env := newTestEnv(t, nil)
	src := filepath.Join(env.dir, "notes")
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(src, name+".md"), "content "+name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	idx := NewIndexer(env.repo, env.embedder, &cancellingIndex{Index: env.index, cancel: cancel}, nil, config.Default())

	report, err := idx.IngestDirectory(ctx, src)
	if !errors.Is(err, models.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if report.Created() != 1 || report.Notes[0].Title != "a" {
		t.Fatalf("report notes = %+v, want only a", report.Notes)
	}
	if n, _ := env.repo.Count(context.Background()); n != 1 {
		t.Errorf("repo count = %d, want 1", n)
	}
	assertConsistent(t, env)
}

func TestIngestDirectory_batches(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.BatchSize = 2
	env := newTestEnv(t, cfg)
	src := filepath.Join(env.dir, "notes")
	for _, name := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(src, name+".md"), "content "+name)
	}
	report, err := env.idx.IngestDirectory(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if report.Created() != 3 {
		t.Errorf("created %d, want 3", report.Created())
	}
	if env.embedder.calls != 2 {
		t.Errorf("embedder calls = %d, want 2", env.embedder.calls)
	}
}

func TestIngestDirectory_twiceDuplicates(t *testing.T) {
	env := newTestEnv(t, nil)
	src := filepath.Join(env.dir, "notes")
	writeFile(t, filepath.Join(src, "a.md"), "Alpha")

	for i := 0; i < 2; i++ {
		if _, err := env.idx.IngestDirectory(context.Background(), src); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := env.repo.Count(context.Background()); n != 2 {
		t.Errorf("repo count = %d, want 2", n)
	}
	assertConsistent(t, env)
}

func TestIngestDirectory_notADirectory(t *testing.T) {
	env := newTestEnv(t, nil)
	file := filepath.Join(env.dir, "a.md")
	writeFile(t, file, "x")

	for _, dir := range []string{file, filepath.Join(env.dir, "missing")} {
		if _, err := env.idx.IngestDirectory(context.Background(), dir); !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("IngestDirectory(%s) err = %v, want ErrInvalidArgument", dir, err)
		}
	}
}

func TestIngestDirectory_excel(t *testing.T) {
	cfg := config.Default()
	cfg.Ingest.Extensions = []string{".xlsx"}
	env := newTestEnv(t, cfg)
	src := filepath.Join(env.dir, "sheets")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}

	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Budget notes")
	if err := f.SaveAs(filepath.Join(src, "budget.xlsx")); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	report, err := env.idx.IngestDirectory(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if report.Created() != 1 || report.Notes[0].Title != "budget" {
		t.Fatalf("report = %+v", report)
	}
	if !strings.Contains(report.Notes[0].Content, "Budget notes") {
		t.Errorf("content = %q", report.Notes[0].Content)
	}
}

func TestIngestFile(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	path := filepath.Join(env.dir, "idea.md")
	writeFile(t, path, "\r\nAn idea\r\n")

	note, err := env.idx.IngestFile(ctx, path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if note.Title != "idea" || note.Content != "An idea" {
		t.Errorf("note = %+v", note)
	}

	other := filepath.Join(env.dir, "script.sh")
	writeFile(t, other, "#!/bin/sh")
	if _, err := env.idx.IngestFile(ctx, other); !errors.Is(err, models.ErrSkipped) {
		t.Errorf("disallowed extension err = %v, want ErrSkipped", err)
	}
	empty := filepath.Join(env.dir, "empty.md")
	writeFile(t, empty, "")
	if _, err := env.idx.IngestFile(ctx, empty); !errors.Is(err, models.ErrSkipped) {
		t.Errorf("empty file err = %v, want ErrSkipped", err)
	}
	if _, err := env.idx.IngestFile(ctx, filepath.Join(env.dir, "missing.md")); !errors.Is(err, models.ErrSkipped) {
		t.Errorf("missing file err = %v, want ErrSkipped", err)
	}
	assertConsistent(t, env)
}

func TestRepair_restoresNoteFromIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	vec, _ := env.embedder.Embed(ctx, "orphan")
	if err := env.index.Add(ctx, &vector.Entry{
		ID: "orphan-1", Vector: vec, Content: "orphan", Metadata: map[string]any{MetaTitle: "Lost"},
	}); err != nil {
		t.Fatal(err)
	}

	report, err := env.idx.CheckConsistency(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.IndexOnly) != 1 || report.IndexOnly[0] != "orphan-1" {
		t.Fatalf("IndexOnly = %v", report.IndexOnly)
	}

	report, err = env.idx.Repair(ctx)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if report.Restored != 1 {
		t.Errorf("Restored = %d, want 1", report.Restored)
	}
	note, err := env.repo.Get(ctx, "orphan-1")
	if err != nil {
		t.Fatal(err)
	}
	if note.Title != "Lost" || note.Content != "orphan" {
		t.Errorf("restored note = %+v", note)
	}
	assertConsistent(t, env)
}

func TestRepair_reembedsMissingEntries(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if err := env.repo.Put(ctx, &models.Note{ID: "n1", Title: "T", Content: "only in repo"}); err != nil {
		t.Fatal(err)
	}

	report, err := env.idx.Repair(ctx)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if report.Reembedded != 1 || len(report.RepositoryOnly) != 1 {
		t.Errorf("report = %+v", report)
	}
	entry, err := env.index.Get(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Content != "only in repo" || entry.Metadata[MetaTitle] != "T" {
		t.Errorf("entry = %+v", entry)
	}
	assertConsistent(t, env)
}

func TestRepair_consistentIsNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.idx.CreateNote(context.Background(), &models.NoteInput{Content: "x"}); err != nil {
		t.Fatal(err)
	}
	calls := env.embedder.calls
	report, err := env.idx.Repair(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Consistent() || report.Restored != 0 || report.Reembedded != 0 {
		t.Errorf("report = %+v", report)
	}
	if env.embedder.calls != calls {
		t.Error("repair of consistent stores called the embedder")
	}
}

func TestNotesSurviveReopen(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	created, err := env.idx.CreateNote(ctx, &models.NoteInput{Title: "Persist", Content: "durable text"})
	if err != nil {
		t.Fatal(err)
	}
	_ = env.repo.Close()
	_ = env.index.Close()

	repo, err := storage.NewJSONRepository(filepath.Join(env.dir, "notes.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	index, err := vector.NewSQLiteIndex(filepath.Join(env.dir, "index.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer index.Close()

	got, err := repo.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Persist" || got.Content != "durable text" {
		t.Errorf("reloaded note = %+v", got)
	}
	if index.Size() != 1 {
		t.Errorf("reloaded index size = %d, want 1", index.Size())
	}
}
