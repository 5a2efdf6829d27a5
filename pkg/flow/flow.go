// Package flow handles parsing and representation of screencast flow files.
package flow

// Flow represents a named, ordered recipe of browser interactions.
type Flow struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	BaseURL     string            `json:"baseUrl" yaml:"baseUrl"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"` // Variables for ${...} / $VAR expansion
	Steps       []Step            `json:"steps" yaml:"steps"`
	Options     *Options          `json:"options,omitempty" yaml:"options,omitempty"`

	SourcePath string `json:"-" yaml:"-"` // Path to the source file, if loaded from disk
}

// Options represents flow-level recording options.
type Options struct {
	Gif       *GifOptions `json:"gif,omitempty" yaml:"gif,omitempty"`
	StepDelay *int        `json:"stepDelay,omitempty" yaml:"stepDelay,omitempty"` // ms between steps
}

// GifOptions controls how the raw recording is encoded. Zero values fall back
// to the configured defaults.
type GifOptions struct {
	FPS      int     `json:"fps,omitempty" yaml:"fps,omitempty"`
	Scale    string  `json:"scale,omitempty" yaml:"scale,omitempty"`
	Quality  string  `json:"quality,omitempty" yaml:"quality,omitempty"`
	Start    float64 `json:"start,omitempty" yaml:"start,omitempty"`       // Trim start offset in seconds
	Duration float64 `json:"duration,omitempty" yaml:"duration,omitempty"` // Trim duration in seconds
}

// DisplayName returns the flow name, falling back to its ID.
func (f *Flow) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	if f.ID != "" {
		return f.ID
	}
	return "screencast"
}

// GifOptions returns the flow's encoding options, or nil.
func (f *Flow) GifOptions() *GifOptions {
	if f.Options == nil {
		return nil
	}
	return f.Options.Gif
}

// StepDelay returns the flow-level step delay override, or nil.
func (f *Flow) StepDelay() *int {
	if f.Options == nil {
		return nil
	}
	return f.Options.StepDelay
}

// Clone returns a deep copy of the flow so callers can expand variables
// without mutating the stored definition.
func (f Flow) Clone() Flow {
	out := f
	if f.Env != nil {
		out.Env = make(map[string]string, len(f.Env))
		for k, v := range f.Env {
			out.Env[k] = v
		}
	}
	if f.Steps != nil {
		out.Steps = make([]Step, len(f.Steps))
		for i, s := range f.Steps {
			out.Steps[i] = s.Clone()
		}
	}
	if f.Options != nil {
		opts := *f.Options
		if f.Options.Gif != nil {
			gif := *f.Options.Gif
			opts.Gif = &gif
		}
		if f.Options.StepDelay != nil {
			d := *f.Options.StepDelay
			opts.StepDelay = &d
		}
		out.Options = &opts
	}
	return out
}
