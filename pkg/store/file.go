package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
)

// document is the on-disk shape: {"flows": [...]}.
type document struct {
	Flows []flow.Flow `json:"flows"`
}

// File stores all flows in a single JSON document. Every change rewrites
// the document atomically.
type File struct {
	mu   sync.Mutex
	path string
	mem  *Memory
}

// OpenFile loads the flows document at path. A missing file is treated as
// an empty store and created on the first Save.
func OpenFile(path string) (*File, error) {
	s := &File{path: path, mem: NewMemory()}

	data, err := os.ReadFile(path) //#nosec G304 -- configured flows file
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read flows: %w", err)
	}

	flows, err := flow.ParseList(data, path)
	if err != nil {
		return nil, err
	}
	for i := range flows {
		if err := s.mem.Save(context.Background(), &flows[i]); err != nil {
			logger.Warn("Skipping flow %d in %s: %v", i+1, path, err)
		}
	}
	logger.Debug("Loaded %d flows from %s", len(flows), path)
	return s, nil
}

// Path returns the document location.
func (s *File) Path() string { return s.path }

// List returns all flows in document order.
func (s *File) List(ctx context.Context) ([]flow.Flow, error) {
	return s.mem.List(ctx)
}

// Get returns a copy of the flow.
func (s *File) Get(ctx context.Context, id string) (*flow.Flow, error) {
	return s.mem.Get(ctx, id)
}

// Save creates or replaces the flow and rewrites the document.
func (s *File) Save(ctx context.Context, f *flow.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *flow.Flow
	if f != nil {
		prev, _ = s.mem.Get(ctx, f.ID)
	}
	if err := s.mem.Save(ctx, f); err != nil {
		return err
	}
	if err := s.flush(ctx); err != nil {
		// Keep memory consistent with disk.
		if prev != nil {
			_ = s.mem.Save(ctx, prev)
		} else {
			_ = s.mem.Delete(ctx, f.ID)
		}
		return err
	}
	return nil
}

// Delete removes the flow and rewrites the document.
func (s *File) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.Delete(ctx, id); err != nil {
		return err
	}
	return s.flush(ctx)
}

// Close is a no-op; every change is already on disk.
func (s *File) Close() error { return nil }

func (s *File) flush(ctx context.Context) error {
	flows, err := s.mem.List(ctx)
	if err != nil {
		return err
	}
	return writeJSONAtomic(s.path, document{Flows: flows})
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal flows: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create flows dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".flows-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write flows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close flows: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace flows: %w", err)
	}
	return nil
}
