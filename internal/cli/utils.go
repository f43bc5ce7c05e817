// Package cli renders command results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/secondbrain/internal/indexer"
	"github.com/hyperjump/secondbrain/internal/models"
	"github.com/hyperjump/secondbrain/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const (
	excerptLen = 200
	listLen    = 80
	separator  = "─────────────────────────────────────────────────────────"
)

// ParseOutputFormat accepts "text", "json", or "" (text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes the answer followed by the notes it was grounded on.
func WriteAnswer(w io.Writer, resp *models.AskResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%s\n", resp.Answer)
	if len(resp.Contexts) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\nSources (%d):\n", len(resp.Contexts))
	for i, c := range resp.Contexts {
		title, _ := c.Metadata["title"].(string)
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "  %d. %s: %s\n", i+1, title, utils.Excerpt(c.Text, listLen))
	}
	return nil
}

// WriteNotes writes one line per note in the order given.
func WriteNotes(w io.Writer, notes []*models.Note, format OutputFormat) error {
	if format == OutputJSON {
		if notes == nil {
			notes = []*models.Note{}
		}
		return writeJSON(w, map[string]any{"notes": notes})
	}
	if len(notes) == 0 {
		fmt.Fprintln(w, "No notes yet.")
		return nil
	}
	for _, n := range notes {
		title := n.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(w, "%s  %s  %s\n", n.ID, formatTime(n.CreatedAt), utils.Truncate(title, listLen))
	}
	fmt.Fprintf(w, "\n%d note(s)\n", len(notes))
	return nil
}

// WriteNote writes a single note in full.
func WriteNote(w io.Writer, n *models.Note, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, n)
	}
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "ID:      %s\n", n.ID)
	if n.Title != "" {
		fmt.Fprintf(w, "Title:   %s\n", n.Title)
	}
	fmt.Fprintf(w, "Created: %s\n", formatTime(n.CreatedAt))
	fmt.Fprintln(w, separator)
	fmt.Fprintln(w, n.Content)
	return nil
}

// WriteIngestReport lists created notes and skipped files.
func WriteIngestReport(w io.Writer, report *indexer.IngestReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "Ingested %d file(s) from %s\n", report.Created(), report.Directory)
	for _, n := range report.Notes {
		fmt.Fprintf(w, "  + %s  %s\n", n.ID, n.Title)
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped %d file(s):\n", len(report.Skipped))
		for _, s := range report.Skipped {
			fmt.Fprintf(w, "  - %s: %s\n", s.Path, s.Reason)
		}
	}
	return nil
}

// WriteStatus writes store sizes and the consistency result.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "notes:              %d   # notes in the repository\n", st.Notes)
	fmt.Fprintf(w, "index_entries:      %d   # vectors in the index\n", st.IndexEntries)
	fmt.Fprintf(w, "disk_usage_bytes:   %d   # notes file + index on disk\n", st.DiskUsageBytes)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "index_type:         %s\n", st.IndexType)
	if st.Dimensions > 0 {
		fmt.Fprintf(w, "dimensions:         %d\n", st.Dimensions)
	}
	fmt.Fprintf(w, "embedding_provider: %s\n", st.EmbeddingProvider)
	if st.EmbeddingModel != "" {
		fmt.Fprintf(w, "embedding_model:    %s\n", st.EmbeddingModel)
	}
	fmt.Fprintln(w)
	if st.Consistent {
		fmt.Fprintln(w, "consistency:        ok")
		return nil
	}
	fmt.Fprintf(w, "consistency:        %d index-only, %d repository-only (run `secondbrain repair`)\n",
		len(st.IndexOnly), len(st.RepositoryOnly))
	return nil
}

// WriteRepairReport describes what Repair found and fixed.
func WriteRepairReport(w io.Writer, report *indexer.ConsistencyReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	if report.Consistent() {
		fmt.Fprintln(w, "Stores are consistent; nothing to repair.")
		return nil
	}
	fmt.Fprintf(w, "Restored %d note(s) from index entries.\n", report.Restored)
	fmt.Fprintf(w, "Re-embedded %d note(s) missing from the index.\n", report.Reembedded)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
