package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: session_busy, timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches any ExecutionError with the same code, so copies made by
// WithCause/WithMessage still compare equal to the predefined error.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Session errors
	ErrSessionUnavailable = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_unavailable",
		Message:  "browser session could not be started",
	}
	ErrSessionBusy = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_busy",
		Message:  "browser session is already in use",
	}
	ErrRecordingInProgress = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "recording_in_progress",
		Message:  "a recording is already in progress",
	}
	ErrSessionClosed = &ExecutionError{
		Category: ErrCategorySession,
		Code:     "session_closed",
		Message:  "browser session is closed",
	}

	// Timeout errors
	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}
	ErrNavigationTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "navigation_timeout",
		Message:  "page did not reach network idle",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// StepFailure is returned when a step interaction fails.
type StepFailure struct {
	Index    int // 0-based position in the flow
	Action   flow.Action
	Selector flow.Selector
	Err      error
}

func (e *StepFailure) Error() string {
	if e.Selector.IsZero() {
		return fmt.Sprintf("step %d (%s) failed: %v", e.Index+1, e.Action, e.Err)
	}
	return fmt.Sprintf("step %d (%s %s) failed: %v", e.Index+1, e.Action, e.Selector.DescribeQuoted(), e.Err)
}

func (e *StepFailure) Unwrap() error { return e.Err }

// Encoding stages.
const (
	StageCapture  = "capture"
	StagePalette  = "palette"
	StageApply    = "paletteuse"
	StageOptimize = "optimize"
	StageProbe    = "probe"
)

// EncodingFailure is returned when capture or transcoding fails.
// Diagnostic carries the tool's combined output.
type EncodingFailure struct {
	Stage      string
	Diagnostic string
	Err        error
}

func (e *EncodingFailure) Error() string {
	msg := fmt.Sprintf("encoding failed at %s stage", e.Stage)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Diagnostic != "" {
		msg += "\n" + e.Diagnostic
	}
	return msg
}

func (e *EncodingFailure) Unwrap() error { return e.Err }

// CategoryOf classifies any error returned by a recording.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var stepErr *StepFailure
	var encErr *EncodingFailure
	var execErr *ExecutionError
	switch {
	case errors.As(err, &stepErr):
		return ErrCategoryStep
	case errors.As(err, &encErr):
		return ErrCategoryEncoding
	case errors.As(err, &execErr):
		return execErr.Category
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCategoryTimeout
	}
	return ErrCategoryNone
}
