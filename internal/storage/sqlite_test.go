package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/secondbrain/internal/models"
)

func newSQLiteRepo(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "notes.db")
	repo, err := NewSQLiteRepository(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo, path
}

func TestSQLiteRepository_PutGet(t *testing.T) {
	repo, _ := newSQLiteRepo(t)
	ctx := context.Background()
	created := time.Date(2025, 3, 4, 5, 6, 7, 890, time.UTC)
	note := &models.Note{ID: "n1", Title: "", Content: "Call the plumber.", CreatedAt: created}
	if err := repo.Put(ctx, note); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Get(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "" || got.Content != note.Content || !got.CreatedAt.Equal(created) {
		t.Errorf("Get = %+v, want %+v", got, note)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	for _, n := range []*models.Note{nil, {Title: "x"}} {
		if err := repo.Put(ctx, n); !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("Put(%v): expected ErrInvalidArgument, got %v", n, err)
		}
	}
}

func TestSQLiteRepository_OrderStableAcrossReopenAndReplace(t *testing.T) {
	repo, path := newSQLiteRepo(t)
	ctx := context.Background()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := repo.Put(ctx, &models.Note{ID: id, Title: id, Content: "c-" + id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.Put(ctx, &models.Note{ID: "zeta", Title: "zeta v2", Content: "c-zeta"}); err != nil {
		t.Fatal(err)
	}

	check := func(r NoteRepository) {
		t.Helper()
		list, err := r.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, n := range list {
			ids = append(ids, n.ID)
		}
		if strings.Join(ids, ",") != "zeta,alpha,mid" {
			t.Errorf("List order = %v", ids)
		}
		if list[0].Title != "zeta v2" {
			t.Errorf("replaced note title = %q", list[0].Title)
		}
		if n, _ := r.Count(ctx); n != 3 {
			t.Errorf("Count = %d, want 3", n)
		}
	}
	check(repo)
	if err := repo.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteRepository(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	check(reopened)
}

func TestSQLiteRepository_EmptyList(t *testing.T) {
	repo, _ := newSQLiteRepo(t)
	list, err := repo.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("List = %#v, want empty non-nil slice", list)
	}
}

func TestSQLiteRepository_CorruptFileDegradesToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.db")
	if err := os.WriteFile(path, []byte(strings.Repeat("not a database ", 400)), 0644); err != nil {
		t.Fatal(err)
	}
	repo, err := NewSQLiteRepository(path, nil)
	if err != nil {
		t.Fatalf("corrupt file must not fail construction: %v", err)
	}
	defer repo.Close()
	if n, err := repo.Count(context.Background()); err != nil || n != 0 {
		t.Errorf("Count = %d, %v; want 0", n, err)
	}
	moved, _ := filepath.Glob(path + ".corrupt-*")
	if len(moved) != 1 {
		t.Errorf("corrupt file should have been moved aside, found %v", moved)
	}
	if err := repo.Put(context.Background(), &models.Note{ID: "a", Content: "fresh"}); err != nil {
		t.Errorf("Put after recovery: %v", err)
	}
}

func TestNewRepository(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{"", "*storage.JSONRepository", false},
		{"json", "*storage.JSONRepository", false},
		{"sqlite", "*storage.SQLiteRepository", false},
		{"postgres", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			repo, err := NewRepository(Options{Backend: tt.backend, Path: filepath.Join(dir, "notes-"+tt.backend)})
			if tt.wantErr {
				if !errors.Is(err, models.ErrInvalidArgument) {
					t.Fatalf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer repo.Close()
			if got := typeName(repo); got != tt.want {
				t.Errorf("type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *JSONRepository:
		return "*storage.JSONRepository"
	case *SQLiteRepository:
		return "*storage.SQLiteRepository"
	}
	return "unknown"
}
