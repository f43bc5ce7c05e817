package vector

import (
	"fmt"

	"go.uber.org/zap"
)

// IndexType represents the persistence backend of a vector index.
type IndexType string

const (
	// IndexTypeSQLite stores entries in an SQLite database. Default.
	IndexTypeSQLite IndexType = "sqlite"
	// IndexTypeFile rewrites a single binary snapshot file on every mutation.
	IndexTypeFile IndexType = "file"
)

// Options configures NewIndex.
type Options struct {
	Type   string
	Path   string
	Logger *zap.Logger
}

// NewIndex creates a vector index of the requested type. Supported types: "sqlite" (default), "file".
func NewIndex(opts Options) (Index, error) {
	switch IndexType(opts.Type) {
	case IndexTypeSQLite, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite index requires a path")
		}
		return NewSQLiteIndex(opts.Path, opts.Logger)
	case IndexTypeFile:
		return NewMemoryIndex(opts.Path, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: sqlite, file)", opts.Type)
	}
}
