package pending

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/starford/snippets/internal/apperr"
)

// FileQueue keeps one empty marker file per pending note id.
type FileQueue struct {
	dir string
}

var _ Queue = (*FileQueue)(nil)

// NewFileQueue creates the marker directory when missing.
func NewFileQueue(dir string) (*FileQueue, error) {
	if dir == "" {
		return nil, fmt.Errorf("pending: marker dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pending: create dir: %w", err)
	}
	return &FileQueue{dir: dir}, nil
}

// Enqueue writes the marker for id.
func (q *FileQueue) Enqueue(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		return apperr.WriteFailed("pending: create dir", err)
	}
	if err := os.WriteFile(filepath.Join(q.dir, id), nil, 0o644); err != nil {
		return apperr.WriteFailed("pending: write marker", err)
	}
	return nil
}

// Dequeue removes the marker for id if present.
func (q *FileQueue) Dequeue(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(q.dir, id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperr.WriteFailed("pending: remove marker", err)
	}
	return nil
}

// List returns the pending ids in lexical order.
func (q *FileQueue) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending: read dir: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of pending ids.
func (q *FileQueue) Len(ctx context.Context) (int, error) {
	ids, err := q.List(ctx)
	return len(ids), err
}
