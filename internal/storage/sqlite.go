package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/secondbrain/internal/models"
	"go.uber.org/zap"
)

// SQLiteRepository stores notes in an SQLite database. Reads go to the database;
// there is no in-memory copy to drift from what was committed.
type SQLiteRepository struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// NewSQLiteRepository opens or creates the database at dbPath. Parent directories are created
// if they do not exist. A file that is not a usable notes database is renamed aside, logged,
// and replaced by an empty one.
func NewSQLiteRepository(dbPath string, logger *zap.Logger) (*SQLiteRepository, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("notes path is required: %w", models.ErrInvalidArgument)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create notes directory: %v: %w", err, models.ErrStorage)
		}
	}

	db, err := openNotesDB(dbPath)
	if err != nil {
		if _, statErr := os.Stat(dbPath); statErr != nil {
			return nil, fmt.Errorf("open notes database: %v: %w", err, models.ErrStorage)
		}
		moved := quarantine(dbPath)
		for _, suffix := range sqliteSidecars {
			_ = os.Remove(dbPath + suffix)
		}
		logger.Error("notes database unreadable, starting empty",
			zap.String("path", dbPath), zap.String("moved_to", moved), zap.Error(err))
		if db, err = openNotesDB(dbPath); err != nil {
			return nil, fmt.Errorf("open notes database: %v: %w", err, models.ErrStorage)
		}
	}

	r := &SQLiteRepository{db: db, path: dbPath, logger: logger}
	if n, err := r.Count(context.Background()); err == nil {
		logger.Debug("notes loaded", zap.String("path", dbPath), zap.Int("notes", n))
	}
	return r, nil
}

func openNotesDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=FULL"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := initNotesSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

func initNotesSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS notes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Put inserts or replaces a note. A replaced note keeps its position in List.
func (r *SQLiteRepository) Put(ctx context.Context, note *models.Note) error {
	if note == nil || note.ID == "" {
		return fmt.Errorf("note id is required: %w", models.ErrInvalidArgument)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			created_at = excluded.created_at`,
		note.ID, note.Title, note.Content, formatCreatedAt(note.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("persist note %s: %v: %w", note.ID, err, models.ErrStorage)
	}
	return nil
}

// Get returns the note for id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Note, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, title, content, created_at FROM notes WHERE id = ?`, id)
	note, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read note %s: %v: %w", id, err, models.ErrStorage)
	}
	return note, nil
}

// List returns all notes in insertion order.
func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Note, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, content, created_at FROM notes ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list notes: %v: %w", err, models.ErrStorage)
	}
	defer rows.Close()

	notes := []*models.Note{}
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %v: %w", err, models.ErrStorage)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notes: %v: %w", err, models.ErrStorage)
	}
	return notes, nil
}

// Count returns the number of notes.
func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notes: %v: %w", err, models.ErrStorage)
	}
	return n, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Path returns the database path.
func (r *SQLiteRepository) Path() string {
	return r.path
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*models.Note, error) {
	var (
		note      models.Note
		createdAt string
	)
	if err := row.Scan(&note.ID, &note.Title, &note.Content, &createdAt); err != nil {
		return nil, err
	}
	if createdAt != "" {
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		note.CreatedAt = t
	}
	return &note, nil
}

func formatCreatedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
