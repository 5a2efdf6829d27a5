package flow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single flow file. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided flow file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses flow content. The format is taken from the source path
// extension, or sniffed from the content when the path has none.
func Parse(data []byte, sourcePath string) (*Flow, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty flow file"}
	}

	var f *Flow
	var err error
	if isYAML(sourcePath, trimmed) {
		f, err = parseYAML(trimmed, sourcePath)
	} else {
		f, err = parseJSON(trimmed, sourcePath)
	}
	if err != nil {
		return nil, err
	}

	f.SourcePath = sourcePath
	if f.ID == "" && sourcePath != "" {
		base := filepath.Base(sourcePath)
		f.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return f, nil
}

// ParseList parses a list of flows. It accepts a JSON/YAML array, a single
// flow object, or a store document of the form {"flows": [...]}.
func ParseList(data []byte, sourcePath string) ([]Flow, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var doc struct {
		Flows []rawFlow `json:"flows" yaml:"flows"`
	}
	var list []rawFlow

	yamlInput := isYAML(sourcePath, trimmed)
	unmarshal := json.Unmarshal
	if yamlInput {
		unmarshal = yaml.Unmarshal
	}

	switch {
	case trimmed[0] == '[' || (yamlInput && trimmed[0] == '-'):
		if err := unmarshal(trimmed, &list); err != nil {
			return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid flow list: %v", err)}
		}
	default:
		if err := unmarshal(trimmed, &doc); err != nil {
			return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid flow document: %v", err)}
		}
		list = doc.Flows
		if list == nil {
			f, err := Parse(trimmed, sourcePath)
			if err != nil {
				return nil, err
			}
			return []Flow{*f}, nil
		}
	}

	flows := make([]Flow, 0, len(list))
	for i := range list {
		f, err := list[i].toFlow(sourcePath)
		if err != nil {
			return nil, err
		}
		flows = append(flows, *f)
	}
	return flows, nil
}

func isYAML(sourcePath string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(sourcePath)) {
	case ".yaml", ".yml":
		return true
	case ".json":
		return false
	}
	return data[0] != '{' && data[0] != '['
}

func parseJSON(data []byte, sourcePath string) (*Flow, error) {
	var raw rawFlow
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		msg := fmt.Sprintf("invalid flow: %v", err)
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, &ParseError{Path: sourcePath, Line: lineOf(data, syntaxErr.Offset), Message: msg}
		}
		return nil, &ParseError{Path: sourcePath, Message: msg}
	}
	return raw.toFlow(sourcePath)
}

func parseYAML(data []byte, sourcePath string) (*Flow, error) {
	var raw rawFlow
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("invalid flow: %v", err)}
	}
	return raw.toFlow(sourcePath)
}

func lineOf(data []byte, offset int64) int {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return bytes.Count(data[:offset], []byte("\n")) + 1
}

// rawFlow mirrors Flow but decodes steps through rawStep so walkthrough-style
// step files (locator_type / locator_value / pause) are accepted too.
type rawFlow struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description" yaml:"description"`
	BaseURL     string            `json:"baseUrl" yaml:"baseUrl"`
	URL         string            `json:"url" yaml:"url"`
	Env         map[string]string `json:"env" yaml:"env"`
	Steps       []rawStep         `json:"steps" yaml:"steps"`
	Options     *Options          `json:"options" yaml:"options"`
}

type rawStep struct {
	Action      string         `json:"action" yaml:"action"`
	Selector    string         `json:"selector" yaml:"selector"`
	Value       Value          `json:"value" yaml:"value"`
	Text        string         `json:"text" yaml:"text"`
	Description string         `json:"description" yaml:"description"`
	Delay       *int           `json:"delay" yaml:"delay"`
	Options     map[string]any `json:"options" yaml:"options"`

	LocatorType  string   `json:"locator_type" yaml:"locator_type"`
	LocatorValue string   `json:"locator_value" yaml:"locator_value"`
	Pause        *float64 `json:"pause" yaml:"pause"` // seconds
}

func (r *rawFlow) toFlow(sourcePath string) (*Flow, error) {
	f := &Flow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		BaseURL:     r.BaseURL,
		Env:         r.Env,
		Options:     r.Options,
		SourcePath:  sourcePath,
	}
	if f.BaseURL == "" {
		f.BaseURL = r.URL
	}

	f.Steps = make([]Step, 0, len(r.Steps))
	for i, rs := range r.Steps {
		step, err := rs.toStep()
		if err != nil {
			return nil, &ParseError{Path: sourcePath, Message: fmt.Sprintf("step %d: %v", i+1, err)}
		}
		f.Steps = append(f.Steps, step)
	}
	return f, nil
}

func (r *rawStep) toStep() (Step, error) {
	step := Step{
		RawAction:   r.Action,
		Selector:    Selector(r.Selector),
		Value:       r.Value,
		Description: r.Description,
		Delay:       r.Delay,
		Options:     normalizeOptions(r.Options),
	}

	if step.Value.IsZero() && r.Text != "" {
		step.Value = NewValue(r.Text)
	}

	if r.LocatorValue != "" {
		if step.RawAction == "" {
			step.RawAction = string(ActionClick)
		}
		lt := strings.ToLower(strings.TrimSpace(r.LocatorType))
		switch lt {
		case "", "css":
			step.Selector = Selector(r.LocatorValue)
		case "id", "xpath":
			step.Selector = Selector(lt + "=" + r.LocatorValue)
		default:
			return step, fmt.Errorf("unsupported locator_type %q", r.LocatorType)
		}
	}

	if r.Pause != nil && step.Delay == nil {
		ms := int(*r.Pause * 1000)
		step.Delay = &ms
	}

	if step.RawAction == "" {
		return step, fmt.Errorf("missing action")
	}
	return step, nil
}

// normalizeOptions converts YAML-decoded numbers into the float64 shape JSON
// decoding produces so option lookups behave the same for both formats.
func normalizeOptions(opts map[string]any) map[string]any {
	if opts == nil {
		return nil
	}
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case uint64:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}
