package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/secondbrain/internal/models"
	"go.uber.org/zap"
)

// SQLiteIndex persists entries in SQLite and serves queries from an in-memory mirror.
// The mirror is updated only after the write has committed.
type SQLiteIndex struct {
	db     *sql.DB
	set    *entrySet
	logger *zap.Logger
	mu     sync.RWMutex
}

// sqliteSidecars are the journal files SQLite keeps next to the database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm"}

// NewSQLiteIndex opens or creates the database at dbPath and loads all entries in insertion order.
// Parent directories are created if they do not exist. Rows that cannot be decoded are skipped
// and logged. A file that cannot be opened or loaded as an index is renamed aside, logged, and
// replaced by an empty index.
func NewSQLiteIndex(dbPath string, logger *zap.Logger) (*SQLiteIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create index directory: %v: %w", err, models.ErrStorage)
		}
	}

	s, err := openSQLiteIndex(dbPath, logger)
	if err != nil {
		if _, statErr := os.Stat(dbPath); statErr != nil {
			return nil, fmt.Errorf("open index database: %v: %w", err, models.ErrStorage)
		}
		moved := quarantine(dbPath)
		for _, suffix := range sqliteSidecars {
			_ = os.Remove(dbPath + suffix)
		}
		logger.Error("vector index unreadable, starting empty",
			zap.String("path", dbPath), zap.String("moved_to", moved), zap.Error(err))
		if s, err = openSQLiteIndex(dbPath, logger); err != nil {
			return nil, fmt.Errorf("open index database: %v: %w", err, models.ErrStorage)
		}
	}
	logger.Debug("vector index loaded", zap.String("path", dbPath), zap.Int("entries", len(s.set.entries)), zap.Int("dimensions", s.set.dims))
	return s, nil
}

func openSQLiteIndex(dbPath string, logger *zap.Logger) (*SQLiteIndex, error) {
	db, err := openIndexDB(dbPath)
	if err != nil {
		return nil, err
	}
	s := &SQLiteIndex{db: db, logger: logger}
	set, err := s.load(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load index: %w", err)
	}
	s.set = set
	return s, nil
}

func openIndexDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps the pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=FULL"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := initIndexSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize index schema: %w", err)
	}
	return db, nil
}

func initIndexSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		vector BLOB NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteIndex) load(ctx context.Context) (*entrySet, error) {
	set := newEntrySet()
	var dimsText string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM index_meta WHERE key = 'dimensions'").Scan(&dimsText)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("read dimensions: %w", err)
	default:
		dims, convErr := strconv.Atoi(dimsText)
		if convErr != nil {
			return nil, fmt.Errorf("parse dimensions %q: %w", dimsText, convErr)
		}
		set.dims = dims
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id, vector, content, metadata FROM entries ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, content string
			blob        []byte
			metaJSON    sql.NullString
		)
		if err := rows.Scan(&id, &blob, &content, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if len(blob) == 0 || len(blob)%4 != 0 {
			s.logger.Warn("skipping index entry with bad vector", zap.String("id", id), zap.Int("bytes", len(blob)))
			continue
		}
		vec := bytesToFloat32Slice(blob)
		if set.dims == 0 {
			set.dims = len(vec)
		}
		if len(vec) != set.dims {
			s.logger.Warn("skipping index entry with wrong dimension",
				zap.String("id", id), zap.Int("dimensions", len(vec)), zap.Int("expected", set.dims))
			continue
		}
		var meta map[string]any
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &meta); err != nil {
				s.logger.Warn("skipping index entry with bad metadata", zap.String("id", id), zap.Error(err))
				continue
			}
		}
		set.upsert(&Entry{ID: id, Vector: vec, Content: content, Metadata: meta})
	}
	return set, rows.Err()
}

// Type returns the index type identifier.
func (s *SQLiteIndex) Type() string {
	return string(IndexTypeSQLite)
}

// Add upserts the entry. A replaced entry keeps its original sequence number.
func (s *SQLiteIndex) Add(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := validateEntry(entry, s.set.dims); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %v: %w", err, models.ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index write: %v: %w", err, models.ErrStorage)
	}
	defer tx.Rollback()

	if s.set.dims == 0 {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO index_meta (key, value) VALUES ('dimensions', ?)",
			strconv.Itoa(len(entry.Vector)),
		); err != nil {
			return fmt.Errorf("store dimensions: %v: %w", err, models.ErrStorage)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, vector, content, metadata) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vector = excluded.vector,
			content = excluded.content,
			metadata = excluded.metadata`,
		entry.ID, float32SliceToBytes(entry.Vector), entry.Content, string(metaJSON),
	); err != nil {
		return fmt.Errorf("upsert entry %s: %v: %w", entry.ID, err, models.ErrStorage)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index write: %v: %w", err, models.ErrStorage)
	}
	s.set.upsert(copyEntry(entry))
	return nil
}

// Query returns up to k entries by descending cosine similarity.
func (s *SQLiteIndex) Query(ctx context.Context, vector []float32, k int) ([]*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.query(vector, k)
}

// Get returns a copy of the entry for id.
func (s *SQLiteIndex) Get(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.set.get(id)
	if !ok {
		return nil, fmt.Errorf("index entry %s: %w", id, models.ErrNotFound)
	}
	return copyEntry(e), nil
}

// Remove deletes the entry for id. Removing an unknown id is a no-op.
func (s *SQLiteIndex) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete entry %s: %v: %w", id, err, models.ErrStorage)
	}
	s.set.remove(id)
	return nil
}

// IDs returns entry ids in insertion order.
func (s *SQLiteIndex) IDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.ids(), nil
}

// Size returns the number of entries.
func (s *SQLiteIndex) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set.entries)
}

// Dimensions returns the established dimension, or 0 before the first insertion.
func (s *SQLiteIndex) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.dims
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
