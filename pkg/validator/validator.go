// Package validator checks screencast flows before they are recorded.
// It parses flow files upfront and reports every problem it finds rather than
// stopping at the first one.
package validator

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/screencast-runner/pkg/encoder"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Step    int // 1-based, 0 for flow-level problems
	Message string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	if e.Step > 0 {
		fmt.Fprintf(&b, "step %d: ", e.Step)
	}
	b.WriteString(e.Message)
	return b.String()
}

// Result contains the validation result.
type Result struct {
	// Flows holds every flow that parsed, in file order.
	Flows []*flow.Flow
	// Errors contains all validation errors found.
	Errors []error
	// Warnings are problems that do not block a recording, such as unknown
	// actions that will be skipped.
	Warnings []string
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator validates flows and flow files.
type Validator struct {
	// RequireID rejects flows without an explicit id. Flows loaded from disk
	// get one from their file name, API payloads do not.
	RequireID bool
}

// New creates a new Validator.
func New() *Validator {
	return &Validator{}
}

// Validate validates a file or directory of flow files.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = collectFlowFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	} else {
		files = []string{path}
	}

	seen := make(map[string]string)
	for _, file := range files {
		f, err := flow.ParseFile(file)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    file,
				Message: fmt.Sprintf("parse error: %v", err),
			})
			continue
		}
		if prev, dup := seen[f.ID]; dup {
			result.Errors = append(result.Errors, &ValidationError{
				File:    file,
				Message: fmt.Sprintf("duplicate flow id %q (also in %s)", f.ID, prev),
			})
		}
		seen[f.ID] = file
		result.Flows = append(result.Flows, f)
		v.check(f, file, result)
	}
	return result
}

// ValidateFlow validates a flow that did not come from a file.
func (v *Validator) ValidateFlow(f *flow.Flow) *Result {
	result := &Result{}
	if f == nil {
		result.Errors = append(result.Errors, &ValidationError{Message: "flow is required"})
		return result
	}
	result.Flows = []*flow.Flow{f}
	v.check(f, f.SourcePath, result)
	return result
}

func (v *Validator) check(f *flow.Flow, file string, result *Result) {
	fail := func(step int, format string, args ...any) {
		result.Errors = append(result.Errors, &ValidationError{
			File:    file,
			Step:    step,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if v.RequireID && strings.TrimSpace(f.ID) == "" {
		fail(0, "id is required")
	}
	if msg := checkBaseURL(f.BaseURL); msg != "" {
		fail(0, "%s", msg)
	}
	if len(f.Steps) == 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: flow has no steps", f.DisplayName()))
	}

	if f.Options != nil {
		if d := f.Options.StepDelay; d != nil && *d < 0 {
			fail(0, "stepDelay must not be negative, got %d", *d)
		}
		if f.Options.Gif != nil {
			// Validate against placeholder defaults so only the fields the
			// flow sets are checked.
			if err := encoder.DefaultOptions().Merge(f.Options.Gif).Validate(); err != nil {
				fail(0, "gif options: %v", err)
			}
			if f.Options.Gif.FPS < 0 {
				fail(0, "gif options: fps must not be negative, got %d", f.Options.Gif.FPS)
			}
			if f.Options.Gif.Start < 0 || f.Options.Gif.Duration < 0 {
				fail(0, "gif options: trim start and duration must not be negative")
			}
		}
	}

	for i := range f.Steps {
		step := &f.Steps[i]
		n := i + 1
		action := step.Action()

		if strings.TrimSpace(step.RawAction) == "" {
			fail(n, "action is required")
			continue
		}
		if !action.Known() {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: step %d: unknown action %q will be skipped", f.DisplayName(), n, step.RawAction))
			continue
		}
		if action.RequiresSelector() && step.Selector.IsZero() {
			fail(n, "%s requires a selector", action)
		}
		if step.Delay != nil && *step.Delay < 0 {
			fail(n, "delay must not be negative, got %d", *step.Delay)
		}

		switch action {
		case flow.ActionSelect, flow.ActionKeypress:
			if step.Value.IsZero() {
				fail(n, "%s requires a value", action)
			}
		case flow.ActionDrag:
			if step.Value.IsZero() || strings.TrimSpace(step.Value.String()) == "" {
				fail(n, "drag requires a target selector in value")
			}
		case flow.ActionNavigate:
			// A relative path resolves against baseUrl at run time.
			if step.Value.IsZero() {
				fail(n, "navigate requires a url in value")
			}
		}
	}
}

func checkBaseURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "baseUrl is required"
	}
	// Variables are expanded at run time.
	if strings.Contains(raw, "$") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid baseUrl %q: %v", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "file", "about", "data":
	default:
		return fmt.Sprintf("baseUrl %q must be an absolute http(s) url", raw)
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return fmt.Sprintf("baseUrl %q has no host", raw)
	}
	return ""
}

// collectFlowFiles finds all flow files in a directory.
func collectFlowFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	})

	return files, err
}
