// Package storage provides note repositories and disk usage helpers for the store files.
package storage

import (
	"context"
	"fmt"

	"github.com/hyperjump/secondbrain/internal/models"
	"go.uber.org/zap"
)

// NoteRepository defines durable note persistence keyed by note id.
type NoteRepository interface {
	// Put inserts or replaces a note. The note is durable when Put returns nil.
	Put(ctx context.Context, note *models.Note) error
	// Get returns the note for id or an error wrapping models.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Note, error)
	// List returns all notes in insertion order.
	List(ctx context.Context) ([]*models.Note, error)
	Count(ctx context.Context) (int, error)

	Close() error
}

// Options configures NewRepository.
type Options struct {
	// Backend is "json" (default) or "sqlite".
	Backend string
	Path    string
	Logger  *zap.Logger
}

// NewRepository opens a note repository for the requested backend.
func NewRepository(opts Options) (NoteRepository, error) {
	switch opts.Backend {
	case "json", "":
		return NewJSONRepository(opts.Path, opts.Logger)
	case "sqlite":
		return NewSQLiteRepository(opts.Path, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown notes backend %q (supported: json, sqlite): %w", opts.Backend, models.ErrInvalidArgument)
	}
}
