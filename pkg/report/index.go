package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
)

// ErrNotFound is returned for an unknown recording id.
var ErrNotFound = errors.New("recording not found")

// IndexWriter provides thread-safe updates to the recordings index.
// Concurrent recorders append through one writer.
type IndexWriter struct {
	mu        sync.Mutex
	outputDir string
	path      string
	index     *Index
	html      bool
}

// OpenIndex loads the index in outputDir, or starts an empty one.
func OpenIndex(outputDir string) (*IndexWriter, error) {
	index, err := ReadIndex(outputDir)
	if err != nil {
		return nil, err
	}
	return &IndexWriter{
		outputDir: outputDir,
		path:      filepath.Join(outputDir, IndexFile),
		index:     index,
		html:      true,
	}, nil
}

// ReadIndex reads recordings.json from outputDir. A missing file yields an
// empty index.
func ReadIndex(outputDir string) (*Index, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, IndexFile))
	if errors.Is(err, os.ErrNotExist) {
		return &Index{Version: Version, Recordings: []core.RecordingResult{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse %s: %w", IndexFile, err)
	}
	if index.Recordings == nil {
		index.Recordings = []core.RecordingResult{}
	}
	return &index, nil
}

// SetHTML enables or disables regenerating recordings.html on each write.
func (w *IndexWriter) SetHTML(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.html = enabled
}

// Append adds a recording, replacing an entry with the same id.
func (w *IndexWriter) Append(result *core.RecordingResult) error {
	if result == nil || result.ID == "" {
		return errors.New("recording id is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	replaced := false
	for i := range w.index.Recordings {
		if w.index.Recordings[i].ID == result.ID {
			w.index.Recordings[i] = *result
			replaced = true
			break
		}
	}
	if !replaced {
		w.index.Recordings = append(w.index.Recordings, *result)
	}
	return w.flushLocked()
}

// Update applies fn to the recording with id and persists the change.
func (w *IndexWriter) Update(id string, fn func(r *core.RecordingResult)) (*core.RecordingResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.index.Recordings {
		if w.index.Recordings[i].ID == id {
			fn(&w.index.Recordings[i])
			r := w.index.Recordings[i]
			return &r, w.flushLocked()
		}
	}
	return nil, ErrNotFound
}

// Get returns a copy of the recording with id.
func (w *IndexWriter) Get(id string) (*core.RecordingResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.index.Recordings {
		if w.index.Recordings[i].ID == id {
			r := w.index.Recordings[i]
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// List returns all recordings, newest first.
func (w *IndexWriter) List() []core.RecordingResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]core.RecordingResult, 0, len(w.index.Recordings))
	for i := len(w.index.Recordings) - 1; i >= 0; i-- {
		out = append(out, w.index.Recordings[i])
	}
	return out
}

// Summary returns the aggregate counts.
func (w *IndexWriter) Summary() Summary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return computeSummary(w.index.Recordings)
}

// flushLocked writes the index while holding the lock.
func (w *IndexWriter) flushLocked() error {
	w.index.Version = Version
	w.index.UpdateSeq++
	w.index.LastUpdated = time.Now()
	w.index.Summary = computeSummary(w.index.Recordings)

	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := atomicWriteJSON(w.path, w.index); err != nil {
		return err
	}

	// Regenerate HTML for live file:// viewing
	if w.html {
		if err := GenerateHTML(w.outputDir, w.index, HTMLConfig{}); err != nil {
			logger.Warn("Failed to write %s: %v", HTMLFile, err)
		}
	}
	return nil
}

// computeSummary calculates summary from recording statuses.
func computeSummary(recordings []core.RecordingResult) Summary {
	var s Summary
	for _, r := range recordings {
		s.Total++
		switch r.Status {
		case core.RecordingCompleted:
			s.Completed++
			s.GifBytes += r.GifSize
		case core.RecordingFailed:
			s.Failed++
		}
	}
	return s
}

// atomicWriteJSON writes v to a temp file in the same directory and renames
// it over path.
func atomicWriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
