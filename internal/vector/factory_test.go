package vector

import (
	"path/filepath"
	"testing"
)

func TestNewIndex(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		opts     Options
		wantType string
		wantErr  bool
	}{
		{"default is sqlite", Options{Path: filepath.Join(dir, "a.db")}, "sqlite", false},
		{"sqlite", Options{Type: "sqlite", Path: filepath.Join(dir, "b.db")}, "sqlite", false},
		{"file", Options{Type: "file", Path: filepath.Join(dir, "c.bin")}, "file", false},
		{"sqlite without path", Options{Type: "sqlite"}, "", true},
		{"unknown", Options{Type: "faiss", Path: filepath.Join(dir, "d")}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := NewIndex(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewIndex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer idx.Close()
			if idx.Type() != tt.wantType {
				t.Errorf("Type() = %s, want %s", idx.Type(), tt.wantType)
			}
			if idx.Size() != 0 {
				t.Errorf("new index Size() = %d", idx.Size())
			}
		})
	}
}
