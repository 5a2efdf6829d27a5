// Package report persists the recordings index.
//
// Layout in the output directory:
//   - recordings.json: every finished recording, newest last
//   - recordings.html: a gallery of the recorded gifs, regenerated on each write
//
// Writes go through a temp file and rename, so readers never see a
// partially written index.
package report

import (
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
)

// Version is the index schema version.
const Version = "1.0.0"

// File names inside the output directory.
const (
	IndexFile = "recordings.json"
	HTMLFile  = "recordings.html"
)

// Index is the content of recordings.json.
type Index struct {
	Version     string                 `json:"version"`
	UpdateSeq   uint64                 `json:"updateSeq"`
	LastUpdated time.Time              `json:"lastUpdated"`
	Summary     Summary                `json:"summary"`
	Recordings  []core.RecordingResult `json:"recordings"`
}

// Summary contains aggregate counts.
type Summary struct {
	Total     int   `json:"total"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	GifBytes  int64 `json:"gifBytes"`
}
