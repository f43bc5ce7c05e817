package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperjump/secondbrain/internal/models"
	"go.uber.org/zap"
)

// snapshotMagic identifies the index snapshot file format.
var snapshotMagic = [4]byte{'S', 'B', 'V', 'I'}

const snapshotVersion uint32 = 1

// MemoryIndex keeps entries in memory and rewrites a snapshot file after every mutation.
// With an empty path it is purely in-memory.
type MemoryIndex struct {
	path   string
	set    *entrySet
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewMemoryIndex opens the snapshot at path. A missing file starts an empty index. An unreadable
// or corrupt file is moved aside and the index starts empty; the condition is logged.
func NewMemoryIndex(path string, logger *zap.Logger) (*MemoryIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MemoryIndex{path: path, set: newEntrySet(), logger: logger}
	if path == "" {
		return m, nil
	}
	set, err := loadSnapshot(path)
	switch {
	case err == nil:
		m.set = set
		logger.Debug("vector index loaded", zap.String("path", path), zap.Int("entries", len(set.entries)), zap.Int("dimensions", set.dims))
	case errors.Is(err, os.ErrNotExist):
	default:
		moved := quarantine(path)
		logger.Error("vector index unreadable, starting empty",
			zap.String("path", path), zap.String("moved_to", moved), zap.Error(err))
	}
	return m, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeFile)
}

// Add inserts or replaces the entry and persists the snapshot before returning.
func (m *MemoryIndex) Add(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validateEntry(entry, m.set.dims); err != nil {
		return err
	}
	next := m.set.clone()
	next.upsert(copyEntry(entry))
	if err := m.persist(next); err != nil {
		return err
	}
	m.set = next
	return nil
}

// Query returns up to k entries by descending cosine similarity.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]*Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.query(vector, k)
}

// Get returns a copy of the entry for id.
func (m *MemoryIndex) Get(ctx context.Context, id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.set.get(id)
	if !ok {
		return nil, fmt.Errorf("index entry %s: %w", id, models.ErrNotFound)
	}
	return copyEntry(e), nil
}

// Remove deletes the entry for id. Removing an unknown id is a no-op.
func (m *MemoryIndex) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.set.get(id); !ok {
		return nil
	}
	next := m.set.clone()
	next.remove(id)
	if err := m.persist(next); err != nil {
		return err
	}
	m.set = next
	return nil
}

// IDs returns entry ids in insertion order.
func (m *MemoryIndex) IDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.ids(), nil
}

// Size returns the number of entries.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.set.entries)
}

// Dimensions returns the established dimension, or 0 before the first insertion.
func (m *MemoryIndex) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.dims
}

// Close is a no-op; every mutation is already on disk.
func (m *MemoryIndex) Close() error {
	return nil
}

func (m *MemoryIndex) persist(set *entrySet) error {
	if m.path == "" {
		return nil
	}
	if err := writeSnapshot(m.path, set); err != nil {
		return fmt.Errorf("persist vector index: %v: %w", err, models.ErrStorage)
	}
	return nil
}

// writeSnapshot writes set to a temp file next to path, syncs it, and renames it into place.
// Format (little endian): magic, version, dimensions, count, then per entry:
// id, content, metadata JSON (each uint32 length + bytes), vector (dimensions*4 bytes).
func writeSnapshot(path string, set *entrySet) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	if err := encodeSnapshot(w, set); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	syncDir(dir)
	return nil
}

func encodeSnapshot(w io.Writer, set *entrySet) error {
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	header := []uint32{snapshotVersion, uint32(set.dims), uint32(len(set.entries))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, e := range set.entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", e.ID, err)
		}
		for _, field := range [][]byte{[]byte(e.ID), []byte(e.Content), meta} {
			if err := writeBytes(w, field); err != nil {
				return fmt.Errorf("write entry %s: %w", e.ID, err)
			}
		}
		if _, err := w.Write(float32SliceToBytes(e.Vector)); err != nil {
			return fmt.Errorf("write vector %s: %w", e.ID, err)
		}
	}
	return nil
}

func loadSnapshot(path string) (*entrySet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeSnapshot(bufio.NewReader(f))
}

func decodeSnapshot(r io.Reader) (*entrySet, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("not an index snapshot")
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", header[0])
	}
	dims, n := int(header[1]), int(header[2])
	if n > 0 && dims == 0 {
		return nil, fmt.Errorf("snapshot has %d entries but no dimension", n)
	}
	set := newEntrySet()
	set.dims = dims
	vecBuf := make([]byte, dims*4)
	for i := 0; i < n; i++ {
		id, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("read id %d: %w", i, err)
		}
		content, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("read content %d: %w", i, err)
		}
		metaJSON, err := readBytes(r)
		if err != nil {
			return nil, fmt.Errorf("read metadata %d: %w", i, err)
		}
		var meta map[string]any
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return nil, fmt.Errorf("decode metadata %d: %w", i, err)
		}
		if _, err := io.ReadFull(r, vecBuf); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		set.upsert(&Entry{ID: string(id), Vector: bytesToFloat32Slice(vecBuf), Content: string(content), Metadata: meta})
	}
	return set, nil
}

// maxFieldLen guards against allocating absurd buffers when reading a damaged file.
const maxFieldLen = 64 << 20

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > maxFieldLen {
		return nil, fmt.Errorf("field length %d too large", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// quarantine renames a damaged file out of the way and returns the new name ("" if the rename failed).
func quarantine(path string) string {
	moved := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, moved); err != nil {
		return ""
	}
	return moved
}

// syncDir flushes the directory entry after a rename. Best effort: not every platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
