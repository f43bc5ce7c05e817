// Package indexer writes notes into the vector index and the note repository.
//
// Every note is written to the index first and the repository second. If the repository write
// fails the index entry is removed again. A crash between the two writes leaves an index entry
// without a note; CheckConsistency reports it and Repair restores it.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/secondbrain/internal/config"
	"github.com/hyperjump/secondbrain/internal/embedding"
	"github.com/hyperjump/secondbrain/internal/extract"
	"github.com/hyperjump/secondbrain/internal/metrics"
	"github.com/hyperjump/secondbrain/internal/models"
	"github.com/hyperjump/secondbrain/internal/storage"
	"github.com/hyperjump/secondbrain/internal/vector"
)

// Metadata keys stored with each index entry.
const (
	MetaTitle = "title"
	MetaPath  = "path"
)

// Indexer creates notes and imports them from files.
type Indexer struct {
	repo      storage.NoteRepository
	embedder  embedding.Embedder
	index     vector.Index
	extractor *extract.Extractor
	config    *config.Config
	logger    *zap.Logger
	now       func() time.Time

	// writeMu keeps each index-then-repository pair, and its compensation, from interleaving.
	writeMu sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for skip warnings and debug output.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) IndexerOption {
	return func(idx *Indexer) { idx.now = now }
}

// NewIndexer creates an indexer with the given dependencies.
// extractor may be nil; when nil, files are read as plain text. A nil cfg uses config.Default().
// embedder may be nil when the indexer is only used for CheckConsistency and Status.
func NewIndexer(
	repo storage.NoteRepository,
	embedder embedding.Embedder,
	index vector.Index,
	extractor *extract.Extractor,
	cfg *config.Config,
	opts ...IndexerOption,
) *Indexer {
	if cfg == nil {
		cfg = config.Default()
	}
	idx := &Indexer{
		repo:      repo,
		embedder:  embedder,
		index:     index,
		extractor: extractor,
		config:    cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	if extractor != nil {
		for _, ext := range cfg.Ingest.Extensions {
			if !extractor.Supported(ext) {
				idx.logger.Warn("no extractor for extension, files will be read as plain text", zap.String("extension", ext))
			}
		}
	}
	return idx
}

// CreateNote embeds and stores a new note. Title and content are stored exactly as given.
// Whitespace-only content fails with models.ErrInvalidArgument before anything is embedded.
func (idx *Indexer) CreateNote(ctx context.Context, input *models.NoteInput) (*models.Note, error) {
	if input == nil || strings.TrimSpace(input.Content) == "" {
		return nil, fmt.Errorf("note content cannot be empty: %w", models.ErrInvalidArgument)
	}
	vecs, err := idx.embedder.EmbedBatch(ctx, []string{input.Content})
	if err != nil {
		return nil, fmt.Errorf("embed note: %w", asExternal(err))
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one note: %w", len(vecs), models.ErrExternal)
	}

	note := &models.Note{
		ID:        uuid.New().String(),
		Title:     input.Title,
		Content:   input.Content,
		CreatedAt: idx.now().UTC(),
	}
	if err := idx.writeNote(ctx, note, vecs[0], map[string]any{MetaTitle: note.Title}); err != nil {
		return nil, err
	}
	idx.logger.Debug("note created", zap.String("id", note.ID), zap.String("title", note.Title))
	return note, nil
}

// writeNote adds the index entry, then stores the note. A failed repository write removes the entry again.
func (idx *Indexer) writeNote(ctx context.Context, note *models.Note, vec []float32, meta map[string]any) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	entry := &vector.Entry{ID: note.ID, Vector: vec, Content: note.Content, Metadata: meta}
	if err := idx.index.Add(ctx, entry); err != nil {
		return fmt.Errorf("index note %s: %w", note.ID, err)
	}
	if err := idx.repo.Put(ctx, note); err != nil {
		// Compensation must run even when the request context is already cancelled.
		if rmErr := idx.index.Remove(context.WithoutCancel(ctx), note.ID); rmErr != nil {
			idx.logger.Error("failed to remove index entry after repository write failed; run repair",
				zap.String("id", note.ID), zap.Error(rmErr))
		}
		return fmt.Errorf("store note %s: %w", note.ID, err)
	}
	metrics.NotesCreatedTotal.Inc()
	return nil
}

// Skip records a source file that ingestion did not import.
type Skip struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IngestReport summarizes one directory import.
type IngestReport struct {
	Directory string         `json:"directory"`
	Notes     []*models.Note `json:"notes"`
	Skipped   []Skip         `json:"skipped"`
}

// Created returns the number of notes written.
func (r *IngestReport) Created() int {
	return len(r.Notes)
}

type document struct {
	path    string
	title   string
	content string
}

// IngestDirectory imports every file under dir whose extension is in ingest.extensions.
//
// Unreadable and empty files are skipped and reported. All remaining documents are embedded,
// in batches of embedding.batch_size, before anything is written; a failed batch aborts the run
// with models.ErrExternal and no store is touched. A store failure while writing aborts the run
// and returns the partial report along with the error; so does cancellation between writes,
// reported as models.ErrInterrupted. Running twice imports files twice.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string) (*IngestReport, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %v: %w", err, models.ErrInvalidArgument)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s: %w", absDir, models.ErrInvalidArgument)
	}

	report := &IngestReport{Directory: absDir, Notes: []*models.Note{}, Skipped: []Skip{}}
	paths, err := idx.collectFiles(absDir)
	if err != nil {
		return report, err
	}

	var docs []document
	for _, path := range paths {
		doc, err := idx.loadDocument(path)
		if err != nil {
			idx.skip(report, path, err)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		idx.logger.Info("ingestion finished", zap.String("directory", absDir),
			zap.Int("created", 0), zap.Int("skipped", len(report.Skipped)))
		return report, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.content
	}
	vecs, err := idx.embedBatches(ctx, texts)
	if err != nil {
		return report, err
	}

	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("ingestion stopped after %d of %d notes: %v: %w",
				len(report.Notes), len(docs), err, models.ErrInterrupted)
		}
		note := &models.Note{
			ID:        uuid.New().String(),
			Title:     d.title,
			Content:   d.content,
			CreatedAt: idx.now().UTC(),
		}
		if err := idx.writeNote(ctx, note, vecs[i], map[string]any{MetaTitle: d.title, MetaPath: d.path}); err != nil {
			return report, err
		}
		report.Notes = append(report.Notes, note)
		metrics.IngestedFilesTotal.WithLabelValues("created").Inc()
		idx.logger.Debug("file ingested", zap.String("path", d.path), zap.String("id", note.ID))
	}

	idx.logger.Info("ingestion finished", zap.String("directory", absDir),
		zap.Int("created", len(report.Notes)), zap.Int("skipped", len(report.Skipped)))
	return report, nil
}

// IngestFile imports a single file as a new note. Files that would be skipped by IngestDirectory
// return an error wrapping models.ErrSkipped.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*models.Note, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !extensionAllowed(filepath.Ext(absPath), idx.config.Ingest.Extensions) {
		metrics.IngestedFilesTotal.WithLabelValues("skipped").Inc()
		return nil, fmt.Errorf("extension %q not in allowed list: %w", filepath.Ext(absPath), models.ErrSkipped)
	}
	doc, err := idx.loadDocument(absPath)
	if err != nil {
		metrics.IngestedFilesTotal.WithLabelValues("skipped").Inc()
		return nil, fmt.Errorf("%s: %v: %w", absPath, err, models.ErrSkipped)
	}

	vecs, err := idx.embedder.EmbedBatch(ctx, []string{doc.content})
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", absPath, asExternal(err))
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one file: %w", len(vecs), models.ErrExternal)
	}
	note := &models.Note{
		ID:        uuid.New().String(),
		Title:     doc.title,
		Content:   doc.content,
		CreatedAt: idx.now().UTC(),
	}
	if err := idx.writeNote(ctx, note, vecs[0], map[string]any{MetaTitle: doc.title, MetaPath: doc.path}); err != nil {
		return nil, err
	}
	metrics.IngestedFilesTotal.WithLabelValues("created").Inc()
	idx.logger.Info("file ingested", zap.String("path", absPath), zap.String("id", note.ID))
	return note, nil
}

// collectFiles returns matching regular files under dir, sorted by path.
func (idx *Indexer) collectFiles(dir string) ([]string, error) {
	recursive := idx.config.Ingest.RecursiveOrDefault()
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			idx.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !extensionAllowed(filepath.Ext(path), idx.config.Ingest.Extensions) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

var errEmptyContent = errors.New("empty content")

// loadDocument reads and normalizes one file. Title is the file name without extension.
func (idx *Indexer) loadDocument(path string) (document, error) {
	// Stat follows symlinks so only regular files are read.
	info, err := os.Stat(path)
	if err != nil {
		return document{}, fmt.Errorf("stat: %w", err)
	}
	if !info.Mode().IsRegular() {
		return document{}, fmt.Errorf("not a regular file")
	}
	text, err := idx.extractContent(path)
	if err != nil {
		return document{}, fmt.Errorf("extract content: %w", err)
	}
	content := Preprocess(text)
	if content == "" {
		return document{}, errEmptyContent
	}
	base := filepath.Base(path)
	return document{
		path:    path,
		title:   strings.TrimSuffix(base, filepath.Ext(base)),
		content: content,
	}, nil
}

func (idx *Indexer) skip(report *IngestReport, path string, reason error) {
	report.Skipped = append(report.Skipped, Skip{Path: path, Reason: reason.Error()})
	metrics.IngestedFilesTotal.WithLabelValues("skipped").Inc()
	idx.logger.Warn("skipping file", zap.String("path", path), zap.Error(reason))
}

// embedBatches embeds texts in batches of embedding.batch_size and returns vectors in input order.
func (idx *Indexer) embedBatches(ctx context.Context, texts []string) ([][]float32, error) {
	size := idx.config.Embedding.BatchSize
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := idx.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed documents %d-%d: %w", start+1, end, asExternal(err))
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d documents: %w", len(vecs), end-start, models.ErrExternal)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (idx *Indexer) extractContent(path string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// asExternal marks err as an external capability failure unless it already is one.
func asExternal(err error) error {
	if errors.Is(err, models.ErrExternal) {
		return err
	}
	return fmt.Errorf("%w: %w", err, models.ErrExternal)
}
