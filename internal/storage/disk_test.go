package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSized(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, n), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "f1")
	writeSized(t, f1, 5)
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(filepath.Join(sub, "deep"), 0755); err != nil {
		t.Fatal(err)
	}
	writeSized(t, filepath.Join(sub, "a"), 2)
	writeSized(t, filepath.Join(sub, "deep", "b"), 3)

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{f1}, 5},
		{"directory", []string{sub}, 5},
		{"file and directory", []string{f1, sub}, 10},
		{"missing path skipped", []string{f1, filepath.Join(dir, "nope"), sub}, 10},
		{"empty path skipped", []string{"", f1}, 5},
		{"nothing", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d bytes, want %d", got, tt.want)
			}
		})
	}
}

func TestStoreFiles(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.json")
	index := filepath.Join(dir, "index.db")
	writeSized(t, notes, 1)
	writeSized(t, index, 1)
	writeSized(t, index+"-wal", 1)
	writeSized(t, notes+".tmp-123", 1)
	writeSized(t, filepath.Join(dir, "unrelated.txt"), 1)

	got := StoreFiles(notes, index)
	want := map[string]bool{notes: true, notes + ".tmp-123": true, index: true, index + "-wal": true}
	if len(got) != len(want) {
		t.Fatalf("StoreFiles() = %v", got)
	}
	for _, p := range got {
		if !want[p] {
			t.Errorf("unexpected path %s", p)
		}
	}

	if got := StoreFiles(filepath.Join(dir, "missing.json"), ""); len(got) != 0 {
		t.Errorf("StoreFiles(missing) = %v", got)
	}
}
