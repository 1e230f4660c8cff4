package storage

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestWriteAndOpenRoundTrip(t *testing.T) {
	store := newTestStore(t)

	written, err := store.Write(1, 1, strings.NewReader("glTF-binary-bytes"))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if written != int64(len("glTF-binary-bytes")) {
		t.Fatalf("unexpected byte count %d", written)
	}

	reader, size, err := store.Open(1, 1)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer reader.Close()

	if size != written {
		t.Fatalf("expected size %d, got %d", written, size)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(content) != "glTF-binary-bytes" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestWriteReplacesExistingRevision(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Write(1, 1, strings.NewReader("first")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := store.Write(1, 1, strings.NewReader("second")); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	reader, _, err := store.Open(1, 1)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer reader.Close()
	content, _ := io.ReadAll(reader)
	if string(content) != "second" {
		t.Fatalf("expected replaced content, got %q", content)
	}
}

func TestOpenMissingFile(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Open(42, 1)
	if !errors.Is(err, ErrFileMissing) {
		t.Fatalf("expected ErrFileMissing, got %v", err)
	}
}

func TestRemoveModelDeletesAllRevisions(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Write(7, 1, strings.NewReader("one")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := store.Write(7, 2, strings.NewReader("two")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := store.RemoveModel(7); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if _, err := os.Stat(store.Path(7, 1)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected revision 1 to be gone, got %v", err)
	}
	if _, err := os.Stat(store.Path(7, 2)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected revision 2 to be gone, got %v", err)
	}
}

func TestRemoveModelWithoutFiles(t *testing.T) {
	store := newTestStore(t)

	if err := store.RemoveModel(99); err != nil {
		t.Fatalf("removing absent model should succeed, got %v", err)
	}
}
