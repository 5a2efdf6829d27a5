package core

// StepStatus represents the execution status of a step
type StepStatus int

const (
	StatusPending StepStatus = iota // Not yet started
	StatusRunning                   // Currently executing
	StatusPassed                    // Completed successfully
	StatusFailed                    // Interaction failed; the recording stops here
	StatusSkipped                   // Unknown action or an earlier step failed
)

// String returns the string representation of StepStatus
func (s StepStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s StepStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// RecordingStatus is the overall state of a recording.
type RecordingStatus string

const (
	RecordingInProgress RecordingStatus = "recording"
	RecordingCompleted  RecordingStatus = "completed"
	RecordingFailed     RecordingStatus = "failed"
)

// IsTerminal reports whether the recording has finished.
func (s RecordingStatus) IsTerminal() bool {
	return s == RecordingCompleted || s == RecordingFailed
}

// Phase is the fine-grained progress of a running recording.
type Phase string

// Phases in the order a successful recording passes through them.
const (
	PhaseInitializing   Phase = "initializing"
	PhaseNavigating     Phase = "navigating"
	PhaseExecutingSteps Phase = "executing-steps"
	PhaseFinalizing     Phase = "finalizing"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
)

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone     ErrorCategory = iota // No error
	ErrCategorySession                       // Browser launch or ownership problem
	ErrCategoryStep                          // A step interaction failed
	ErrCategoryTimeout                       // Operation timed out
	ErrCategoryEncoding                      // Capture or ffmpeg failure
	ErrCategoryConfig                        // Invalid configuration or flow
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategorySession:
		return "session"
	case ErrCategoryStep:
		return "step"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryEncoding:
		return "encoding"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
