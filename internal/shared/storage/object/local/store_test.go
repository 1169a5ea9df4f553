package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"breva-backend/internal/shared/storage/object"
)

func TestPutOpenDelete(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()
	key := object.CaptureArchiveKey("m-1", "c-1")

	n, err := object.PutJSON(ctx, store, key, map[string]string{"side": "left"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected bytes written")
	}

	rc, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if !strings.Contains(string(body), `"side":"left"`) {
		t.Fatalf("unexpected body %s", body)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Open(ctx, key); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected not exist after delete, got %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.Put(context.Background(), "../escape.json", "application/json", strings.NewReader("{}")); !errors.Is(err, object.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) { return 0, errors.New("client went away") }

func TestPutFailureKeepsPreviousObject(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()
	key := object.CaptureArchiveKey("m-1", "c-1")

	if _, err := store.Put(ctx, key, "application/json", strings.NewReader(`{"v":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, key, "application/json", failingReader{}); err == nil {
		t.Fatalf("expected write error")
	}

	rc, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != `{"v":1}` {
		t.Fatalf("expected previous payload intact, got %s", body)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "captures", "m-1", ".put-*"))
	if len(leftovers) != 0 {
		t.Fatalf("expected temp files cleaned up, got %v", leftovers)
	}
	if _, err := os.Stat(filepath.Join(dir, "captures", "m-1", "c-1.json")); err != nil {
		t.Fatalf("expected object on disk: %v", err)
	}
}
