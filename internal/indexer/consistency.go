package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/secondbrain/internal/models"
	"github.com/hyperjump/secondbrain/internal/vector"
)

// ConsistencyReport lists ids present in only one of the two stores.
type ConsistencyReport struct {
	IndexOnly      []string `json:"index_only"`
	RepositoryOnly []string `json:"repository_only"`
	// Restored and Reembedded are set by Repair.
	Restored   int `json:"restored,omitempty"`
	Reembedded int `json:"reembedded,omitempty"`
}

// Consistent reports whether both stores hold the same ids.
func (r *ConsistencyReport) Consistent() bool {
	return len(r.IndexOnly) == 0 && len(r.RepositoryOnly) == 0
}

// CheckConsistency compares the ids held by the index and the repository.
func (idx *Indexer) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()
	return idx.diff(ctx)
}

func (idx *Indexer) diff(ctx context.Context) (*ConsistencyReport, error) {
	indexIDs, err := idx.index.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list index ids: %w", err)
	}
	notes, err := idx.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}

	inIndex := make(map[string]struct{}, len(indexIDs))
	for _, id := range indexIDs {
		inIndex[id] = struct{}{}
	}
	inRepo := make(map[string]struct{}, len(notes))
	report := &ConsistencyReport{IndexOnly: []string{}, RepositoryOnly: []string{}}
	for _, n := range notes {
		inRepo[n.ID] = struct{}{}
		if _, ok := inIndex[n.ID]; !ok {
			report.RepositoryOnly = append(report.RepositoryOnly, n.ID)
		}
	}
	for _, id := range indexIDs {
		if _, ok := inRepo[id]; !ok {
			report.IndexOnly = append(report.IndexOnly, id)
		}
	}
	return report, nil
}

// Repair brings the stores back in line. Index entries without a note are restored as notes from
// the entry's content and title metadata. Notes without an index entry are embedded again.
// The returned report describes the state found before repairing.
func (idx *Indexer) Repair(ctx context.Context) (*ConsistencyReport, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	report, err := idx.diff(ctx)
	if err != nil {
		return nil, err
	}
	if report.Consistent() {
		return report, nil
	}

	for _, id := range report.IndexOnly {
		entry, err := idx.index.Get(ctx, id)
		if err != nil {
			return report, fmt.Errorf("read index entry %s: %w", id, err)
		}
		title, _ := entry.Metadata[MetaTitle].(string)
		note := &models.Note{ID: id, Title: title, Content: entry.Content, CreatedAt: idx.now().UTC()}
		if err := idx.repo.Put(ctx, note); err != nil {
			return report, fmt.Errorf("restore note %s: %w", id, err)
		}
		report.Restored++
		idx.logger.Info("restored note from index entry", zap.String("id", id))
	}

	if len(report.RepositoryOnly) > 0 {
		notes := make([]*models.Note, 0, len(report.RepositoryOnly))
		for _, id := range report.RepositoryOnly {
			n, err := idx.repo.Get(ctx, id)
			if err != nil {
				return report, fmt.Errorf("read note %s: %w", id, err)
			}
			notes = append(notes, n)
		}
		texts := make([]string, len(notes))
		for i, n := range notes {
			texts[i] = n.Content
		}
		vecs, err := idx.embedBatches(ctx, texts)
		if err != nil {
			return report, err
		}
		for i, n := range notes {
			entry := &vector.Entry{
				ID:       n.ID,
				Vector:   vecs[i],
				Content:  n.Content,
				Metadata: map[string]any{MetaTitle: n.Title},
			}
			if err := idx.index.Add(ctx, entry); err != nil {
				return report, fmt.Errorf("index note %s: %w", n.ID, err)
			}
			report.Reembedded++
			idx.logger.Info("re-embedded note missing from index", zap.String("id", n.ID))
		}
	}
	return report, nil
}
