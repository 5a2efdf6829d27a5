package flow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action represents the kind of interaction a step performs.
type Action string

// Action constants.
const (
	// Element interaction
	ActionClick     Action = "click"
	ActionType      Action = "type"
	ActionHover     Action = "hover"
	ActionSelect    Action = "select"
	ActionCheck     Action = "check"
	ActionUncheck   Action = "uncheck"
	ActionDrag      Action = "drag"
	ActionHighlight Action = "highlight"

	// Page-level
	ActionScroll     Action = "scroll"
	ActionWait       Action = "wait"
	ActionNavigate   Action = "navigate"
	ActionKeypress   Action = "keypress"
	ActionScreenshot Action = "screenshot"

	// ActionUnknown is any action name not listed above. Executing it is a no-op.
	ActionUnknown Action = "unknown"
)

var knownActions = map[Action]bool{
	ActionClick: true, ActionType: true, ActionHover: true, ActionSelect: true,
	ActionCheck: true, ActionUncheck: true, ActionDrag: true, ActionHighlight: true,
	ActionScroll: true, ActionWait: true, ActionNavigate: true, ActionKeypress: true,
	ActionScreenshot: true,
}

// ParseAction maps a raw action name to its Action. Matching is
// case-insensitive; unrecognized names map to ActionUnknown.
func ParseAction(name string) Action {
	a := Action(strings.ToLower(strings.TrimSpace(name)))
	if knownActions[a] {
		return a
	}
	return ActionUnknown
}

// Known reports whether the action is a recognized kind.
func (a Action) Known() bool { return knownActions[a] }

// RequiresSelector reports whether the action manipulates an element and
// therefore needs a locator.
func (a Action) RequiresSelector() bool {
	switch a {
	case ActionClick, ActionType, ActionHover, ActionSelect,
		ActionCheck, ActionUncheck, ActionDrag, ActionHighlight:
		return true
	}
	return false
}

// Step is one interaction instruction within a flow.
type Step struct {
	RawAction   string         `json:"action" yaml:"action"`
	Selector    Selector       `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value       Value          `json:"value,omitempty" yaml:"value,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Delay       *int           `json:"delay,omitempty" yaml:"delay,omitempty"` // ms after this step
	Options     map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// MarshalJSON leaves out an unset value; omitempty has no effect on the
// Value struct.
func (s Step) MarshalJSON() ([]byte, error) {
	type plain Step
	out := struct {
		plain
		Value *Value `json:"value,omitempty"`
	}{plain: plain(s)}
	if !s.Value.IsZero() {
		out.Value = &s.Value
	}
	return json.Marshal(out)
}

// Action returns the parsed action kind.
func (s *Step) Action() Action { return ParseAction(s.RawAction) }

// Describe returns a human-readable description of the step.
func (s *Step) Describe() string {
	if s.Description != "" {
		return s.Description
	}
	var b strings.Builder
	b.WriteString(s.RawAction)
	if !s.Selector.IsZero() {
		b.WriteString(" ")
		b.WriteString(s.Selector.String())
	}
	if !s.Value.IsZero() {
		fmt.Fprintf(&b, " %q", s.Value.String())
	}
	return b.String()
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	if s.Delay != nil {
		d := *s.Delay
		out.Delay = &d
	}
	if s.Options != nil {
		out.Options = make(map[string]any, len(s.Options))
		for k, v := range s.Options {
			out.Options[k] = v
		}
	}
	return out
}

// OptionBool returns a boolean option, or def when absent or mistyped.
func (s *Step) OptionBool(key string, def bool) bool {
	v, ok := s.Options[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// OptionInt returns a numeric option, or def when absent or mistyped.
func (s *Step) OptionInt(key string, def int) int {
	v, ok := s.Options[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return def
}

// OptionString returns a string option, or def when absent.
func (s *Step) OptionString(key, def string) string {
	v, ok := s.Options[key]
	if !ok || v == nil {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", v)
}

// Value is a step payload: text, a numeric duration, or a key name.
// It decodes from either a string or a number.
type Value struct {
	raw string
	set bool
}

// NewValue creates a Value from a string.
func NewValue(s string) Value { return Value{raw: s, set: true} }

// IntValue creates a Value from a number.
func IntValue(n int) Value { return Value{raw: strconv.Itoa(n), set: true} }

// String returns the raw text of the value.
func (v Value) String() string { return v.raw }

// IsZero reports whether no value was provided.
func (v Value) IsZero() bool { return !v.set }

// Int parses the value as an integer, returning def when absent or invalid.
func (v Value) Int(def int) int {
	if !v.set {
		return def
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v.raw)); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(v.raw), 64); err == nil {
		return int(f)
	}
	return def
}

// MarshalJSON encodes numeric values as numbers and everything else as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(v.raw, 64); err == nil && json.Valid([]byte(v.raw)) && !strings.ContainsAny(v.raw, " \t") {
		return []byte(v.raw), nil
	}
	return json.Marshal(v.raw)
}

// UnmarshalJSON accepts a string or a number.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = NewValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value must be a string or a number: %s", string(data))
	}
	*v = NewValue(n.String())
	return nil
}

// MarshalYAML encodes the value as a scalar.
func (v Value) MarshalYAML() (interface{}, error) {
	if !v.set {
		return nil, nil
	}
	if n, err := strconv.Atoi(v.raw); err == nil && strconv.Itoa(n) == v.raw {
		return n, nil
	}
	return v.raw, nil
}

// UnmarshalYAML accepts any scalar.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: value must be a scalar", node.Line)
	}
	if node.Tag == "!!null" {
		*v = Value{}
		return nil
	}
	*v = NewValue(node.Value)
	return nil
}
