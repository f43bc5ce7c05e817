package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/secondbrain/internal/models"
	"github.com/hyperjump/secondbrain/internal/storage"
)

// Status reports store sizes, the consistency check, and disk usage of the configured paths.
func (idx *Indexer) Status(ctx context.Context) (*models.Status, error) {
	report, err := idx.CheckConsistency(ctx)
	if err != nil {
		return nil, err
	}
	count, err := idx.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count notes: %w", err)
	}
	st := &models.Status{
		Notes:             count,
		IndexEntries:      idx.index.Size(),
		IndexType:         idx.index.Type(),
		Dimensions:        idx.index.Dimensions(),
		EmbeddingProvider: idx.config.Embedding.Provider,
		EmbeddingModel:    idx.config.Embedding.Model,
		Consistent:        report.Consistent(),
		IndexOnly:         report.IndexOnly,
		RepositoryOnly:    report.RepositoryOnly,
	}
	paths := idx.config.Storage
	usage, err := storage.DiskUsageBytes(storage.StoreFiles(paths.NotesPath, paths.IndexPath)...)
	if err != nil {
		idx.logger.Warn("disk usage unavailable", zap.Error(err))
	} else {
		st.DiskUsageBytes = usage
	}
	return st, nil
}
