// Package extract turns note source files into plain text.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrBinary is returned when a file with no registered format does not look like text.
var ErrBinary = errors.New("binary content")

type formatFunc func(content []byte) (string, error)

// Extractor maps file extensions to text extraction functions.
// Extensions without a registered format are read as plain text.
type Extractor struct {
	formats map[string]formatFunc
}

// NewExtractor returns an Extractor with every built-in format registered.
func NewExtractor() *Extractor {
	return &Extractor{formats: map[string]formatFunc{
		".txt":  extractPlain,
		".md":   extractPlain,
		".rst":  extractPlain,
		".pdf":  extractPDF,
		".xlsx": extractExcel,
		".docx": extractDOCX,
		".pptx": extractPPTX,
		".odt":  extractODT,
		".odp":  extractODP,
		".ods":  extractODS,
	}}
}

// Supported reports whether ext (with or without the leading dot) has a registered format.
func (e *Extractor) Supported(ext string) bool {
	_, ok := e.formats[normalizeExt(ext)]
	return ok
}

// Extensions returns the registered extensions, sorted.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.formats))
	for ext := range e.formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Extract reads the file at path and returns its text.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content according to ext. Unregistered extensions are
// treated as plain text unless the content contains NUL bytes, which gives ErrBinary.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	ext = normalizeExt(ext)
	if fn, ok := e.formats[ext]; ok {
		return fn(content)
	}
	if looksBinary(content) {
		return "", fmt.Errorf("extension %q: %w", ext, ErrBinary)
	}
	return extractPlain(content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
