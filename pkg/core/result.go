package core

import (
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// StepResult captures the outcome of executing a single step
type StepResult struct {
	// Identity
	Index       int         `json:"index"`  // 0-based position in flow
	Action      flow.Action `json:"action"` // Parsed action kind
	Description string      `json:"description,omitempty"`

	// Status
	Status StepStatus `json:"status"`

	// Timing
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`

	// Output
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	// Screenshot path, for screenshot steps
	Attachments []Attachment `json:"attachments,omitempty"`
}

// RecordingSession is the live state of one recording. It is owned and
// mutated by a single run; callers get copies through Snapshot.
type RecordingSession struct {
	ID       string `json:"id"`
	FlowID   string `json:"flowId"`
	FlowName string `json:"name"`

	Status RecordingStatus `json:"status"`
	Phase  Phase           `json:"phase"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	Paths ArtifactPaths `json:"-"`

	VideoSize int64 `json:"videoSize,omitempty"`
	GifSize   int64 `json:"gifSize,omitempty"`

	Steps         []StepResult `json:"steps,omitempty"`
	StepsExecuted int          `json:"stepsExecuted"`
	StepsSkipped  int          `json:"stepsSkipped"`
	Screenshots   []string     `json:"screenshots,omitempty"`

	Error    string        `json:"error,omitempty"`
	Category ErrorCategory `json:"-"`
}

// NewRecordingSession creates a session in the recording state.
func NewRecordingSession(id string, f *flow.Flow, paths ArtifactPaths, now time.Time) *RecordingSession {
	return &RecordingSession{
		ID:        id,
		FlowID:    f.ID,
		FlowName:  f.DisplayName(),
		Status:    RecordingInProgress,
		Phase:     PhaseInitializing,
		StartTime: now,
		Paths:     paths,
	}
}

// AddStep appends a step result and keeps the counters in sync.
func (s *RecordingSession) AddStep(r StepResult) {
	s.Steps = append(s.Steps, r)
	switch r.Status {
	case StatusPassed:
		s.StepsExecuted++
	case StatusSkipped:
		s.StepsSkipped++
	}
	for _, a := range r.Attachments {
		if a.Name == AttachmentScreenshot {
			s.Screenshots = append(s.Screenshots, a.Path)
		}
	}
}

// Complete marks the session completed.
func (s *RecordingSession) Complete(now time.Time) {
	s.Status = RecordingCompleted
	s.Phase = PhaseCompleted
	s.EndTime = &now
}

// Fail marks the session failed with err.
func (s *RecordingSession) Fail(err error, now time.Time) {
	s.Status = RecordingFailed
	s.Phase = PhaseFailed
	s.EndTime = &now
	s.Category = CategoryOf(err)
	if err != nil {
		s.Error = err.Error()
	}
}

// Duration returns elapsed time, up to now for an unfinished session.
func (s *RecordingSession) Duration(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// Result returns the externally visible shape of the session.
func (s *RecordingSession) Result() *RecordingResult {
	r := &RecordingResult{
		ID:            s.ID,
		Name:          s.FlowName,
		FlowID:        s.FlowID,
		Status:        s.Status,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		VideoSize:     s.VideoSize,
		GifSize:       s.GifSize,
		StepsExecuted: s.StepsExecuted,
		StepsSkipped:  s.StepsSkipped,
		Screenshots:   append([]string(nil), s.Screenshots...),
		Error:         s.Error,
	}
	if s.Status == RecordingCompleted {
		r.VideoPath = s.Paths.Video
		r.GifPath = s.Paths.Gif
	}
	if s.Category != ErrCategoryNone {
		r.ErrorCategory = s.Category.String()
	}
	return r
}

// RecordingResult is the outcome of a recording as returned to callers and
// persisted in the recordings index.
type RecordingResult struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	FlowID        string          `json:"flowId"`
	Status        RecordingStatus `json:"status"`
	StartTime     time.Time       `json:"startTime"`
	EndTime       *time.Time      `json:"endTime,omitempty"`
	VideoPath     string          `json:"videoPath,omitempty"`
	GifPath       string          `json:"gifPath,omitempty"`
	VideoSize     int64           `json:"videoSize,omitempty"`
	GifSize       int64           `json:"gifSize,omitempty"`
	StepsExecuted int             `json:"stepsExecuted"`
	StepsSkipped  int             `json:"stepsSkipped"`
	Screenshots   []string        `json:"screenshots,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorCategory string          `json:"errorCategory,omitempty"`
}

// SessionStatus reports whether a recorder holds a browser and is recording.
type SessionStatus struct {
	SessionOpen bool   `json:"sessionOpen"`
	Recording   bool   `json:"recording"`
	RecordingID string `json:"recordingId,omitempty"`
}
