package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperjump/secondbrain/internal/models"
	"go.uber.org/zap"
)

// JSONRepository keeps notes in memory and rewrites a single JSON object {id: note, ...}
// on every Put. Object keys are written and read back in insertion order.
type JSONRepository struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	order []string
	notes map[string]*models.Note
}

// NewJSONRepository opens the notes file at path. A missing file starts an empty repository.
// A file that cannot be read or parsed is renamed aside, logged, and the repository starts empty.
func NewJSONRepository(path string, logger *zap.Logger) (*JSONRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("notes path is required: %w", models.ErrInvalidArgument)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &JSONRepository{path: path, logger: logger, notes: make(map[string]*models.Note)}

	order, notes, err := readNotesFile(path)
	switch {
	case err == nil:
		r.order, r.notes = order, notes
		logger.Debug("notes loaded", zap.String("path", path), zap.Int("notes", len(order)))
	case errors.Is(err, os.ErrNotExist):
	default:
		moved := quarantine(path)
		logger.Error("notes file unreadable, starting empty",
			zap.String("path", path), zap.String("moved_to", moved), zap.Error(err))
	}
	return r, nil
}

// Put inserts or replaces a note. A replaced note keeps its position in List.
// On a write failure the in-memory state is left unchanged.
func (r *JSONRepository) Put(ctx context.Context, note *models.Note) error {
	if note == nil || note.ID == "" {
		return fmt.Errorf("note id is required: %w", models.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *note
	order := r.order
	if _, exists := r.notes[note.ID]; !exists {
		order = append(order[:len(order):len(order)], note.ID)
	}
	notes := make(map[string]*models.Note, len(r.notes)+1)
	for id, n := range r.notes {
		notes[id] = n
	}
	notes[note.ID] = &stored

	if err := writeNotesFile(r.path, order, notes); err != nil {
		return fmt.Errorf("persist notes: %v: %w", err, models.ErrStorage)
	}
	r.order, r.notes = order, notes
	return nil
}

// Get returns a copy of the note for id.
func (r *JSONRepository) Get(ctx context.Context, id string) (*models.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notes[id]
	if !ok {
		return nil, fmt.Errorf("note %s: %w", id, models.ErrNotFound)
	}
	out := *n
	return &out, nil
}

// List returns copies of all notes in insertion order.
func (r *JSONRepository) List(ctx context.Context) ([]*models.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Note, 0, len(r.order))
	for _, id := range r.order {
		n := *r.notes[id]
		out = append(out, &n)
	}
	return out, nil
}

// Count returns the number of notes.
func (r *JSONRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order), nil
}

// Close is a no-op; every Put is already on disk.
func (r *JSONRepository) Close() error {
	return nil
}

// Path returns the notes file path.
func (r *JSONRepository) Path() string {
	return r.path
}

func readNotesFile(path string) ([]string, map[string]*models.Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	notes := make(map[string]*models.Note)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, notes, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("read notes object: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("notes file must contain a JSON object")
	}
	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("read note key: %w", err)
		}
		id, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var n models.Note
		if err := dec.Decode(&n); err != nil {
			return nil, nil, fmt.Errorf("decode note %s: %w", id, err)
		}
		// The key is authoritative; records written without an id field still load.
		n.ID = id
		if _, dup := notes[id]; !dup {
			order = append(order, id)
		}
		notes[id] = &n
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("read end of notes object: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, fmt.Errorf("trailing data after notes object")
	}
	return order, notes, nil
}

// writeNotesFile streams the notes object to a temp file, syncs it, and renames it over path.
func writeNotesFile(path string, order []string, notes map[string]*models.Note) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create notes dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	if err := encodeNotes(w, order, notes); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush notes: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync notes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close notes: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace notes file: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func encodeNotes(w io.Writer, order []string, notes map[string]*models.Note) error {
	if _, err := io.WriteString(w, "{"); err != nil {
		return err
	}
	for i, id := range order {
		key, err := json.Marshal(id)
		if err != nil {
			return fmt.Errorf("encode key %s: %w", id, err)
		}
		val, err := json.MarshalIndent(notes[id], "  ", "  ")
		if err != nil {
			return fmt.Errorf("encode note %s: %w", id, err)
		}
		sep := ","
		if i == 0 {
			sep = ""
		}
		if _, err := fmt.Fprintf(w, "%s\n  %s: %s", sep, key, val); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n}\n")
	return err
}

func quarantine(path string) string {
	moved := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, moved); err != nil {
		return ""
	}
	return moved
}
