package adapt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Compile-time interface check.
var _ Store = (*FileStore)(nil)

// FileStore persists adaptation records as append-only JSON lines in a
// local file. Suitable for the default single-user installation; the
// postgres sub-package covers shared deployments. Thread-safe.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path. The file
// is created on first append.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Append writes one record as a JSON line.
func (fs *FileStore) Append(_ context.Context, rec Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("adapt file: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("adapt file: open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("adapt file: write: %w", err)
	}
	return nil
}

// Replay decodes the file line by line into fn. A missing file replays as
// empty.
func (fs *FileStore) Replay(_ context.Context, fn func(Record) error) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.Open(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("adapt file: open: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("adapt file: decode %s: %w", fs.path, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Close is a no-op; the file is opened per append.
func (fs *FileStore) Close() error { return nil }
