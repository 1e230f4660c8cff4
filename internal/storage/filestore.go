// Package storage keeps the binary GLB assets on the local filesystem, laid
// out as <root>/<model_id>/<revision>.glb so a whole model can be removed by
// deleting one directory.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// ErrFileMissing indicates no stored file exists for the requested
// (model_id, revision) pair.
var ErrFileMissing = errors.New("storage: model file missing")

// Store is a filesystem tree of model files addressed by model id and
// revision number.
type Store struct {
	root string
}

// NewStore creates the root directory if needed and returns the store.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("storage: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root: %w", err)
	}
	return &Store{root: root}, nil
}

// Path returns the location a revision's file is stored at.
func (s *Store) Path(modelID, revision int) string {
	return filepath.Join(s.root, strconv.Itoa(modelID), strconv.Itoa(revision)+".glb")
}

// Write stores the content for one revision, replacing any previous file at
// the same address, and returns the number of bytes written.
func (s *Store) Write(modelID, revision int, content io.Reader) (int64, error) {
	path := s.Path(modelID, revision)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("storage: creating model directory: %w", err)
	}

	destination, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("storage: creating file: %w", err)
	}

	written, err := io.Copy(destination, content)
	if err != nil {
		destination.Close()
		os.Remove(path)
		return 0, fmt.Errorf("storage: writing file: %w", err)
	}
	if err := destination.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("storage: closing file: %w", err)
	}
	return written, nil
}

// Open returns a reader over the stored file plus its size. The caller
// closes the reader.
func (s *Store) Open(modelID, revision int) (io.ReadCloser, int64, error) {
	path := s.Path(modelID, revision)
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, ErrFileMissing
	}
	if err != nil {
		return nil, 0, fmt.Errorf("storage: opening file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("storage: stat file: %w", err)
	}
	return file, info.Size(), nil
}

// RemoveModel deletes the whole directory for a model id, covering every
// revision. Removing a model that has no files is not an error.
func (s *Store) RemoveModel(modelID int) error {
	path := filepath.Join(s.root, strconv.Itoa(modelID))
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("storage: removing model tree: %w", err)
	}
	return nil
}
