package executor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
	"github.com/devicelab-dev/screencast-runner/pkg/jsengine"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
)

// envVarPattern matches ALL_CAPS identifiers that look like env variables
var envVarPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9_]{2,})\b`)

// ScriptEngine handles variable expansion in step fields.
type ScriptEngine struct {
	js        *jsengine.Engine
	variables map[string]string
}

// NewScriptEngine creates a script engine seeded with vars.
func NewScriptEngine(vars map[string]string) *ScriptEngine {
	se := &ScriptEngine{
		js:        jsengine.New(),
		variables: make(map[string]string),
	}
	se.SetVariables(vars)
	return se
}

// SetVariable sets a variable in both Go map and JS engine.
func (se *ScriptEngine) SetVariable(name, value string) {
	se.variables[name] = value
	se.js.SetVariable(name, value)
}

// SetVariables sets multiple variables.
func (se *ScriptEngine) SetVariables(vars map[string]string) {
	for k, v := range vars {
		se.SetVariable(k, v)
	}
}

// GetVariable returns a variable value.
func (se *ScriptEngine) GetVariable(name string) string {
	return se.variables[name]
}

// ExpandVariables expands ${expr} and $VAR syntax in text.
func (se *ScriptEngine) ExpandVariables(text string) (string, error) {
	if !strings.Contains(text, "$") {
		return text, nil
	}

	// Pre-define potential env variables as undefined so that
	// ${MISSING ?? 'x'} does not raise a ReferenceError.
	for _, name := range envVarPattern.FindAllString(text, -1) {
		se.js.DefineUndefinedIfMissing(name)
	}

	// First pass: JS engine for ${expression} syntax
	text, err := se.js.ExpandVariables(text)

	// Second pass: $VAR syntax (without braces)
	return se.expandDollarVars(text), err
}

// expandDollarVars expands $VAR using stored variables, longest names first
// to avoid partial matches.
func (se *ScriptEngine) expandDollarVars(text string) string {
	names := make([]string, 0, len(se.variables))
	for name := range se.variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return len(names[i]) > len(names[j])
	})

	for _, name := range names {
		text = expandDollarVar(text, name, se.variables[name])
	}
	return text
}

// expandDollarVar replaces $VAR with value, checking word boundaries.
func expandDollarVar(text, name, value string) string {
	pattern := "$" + name
	idx := 0
	for {
		pos := strings.Index(text[idx:], pattern)
		if pos == -1 {
			break
		}
		pos += idx

		// Check if followed by alphanumeric (would be different variable)
		endPos := pos + len(pattern)
		if endPos < len(text) {
			next := text[endPos]
			if (next >= 'a' && next <= 'z') || (next >= 'A' && next <= 'Z') ||
				(next >= '0' && next <= '9') || next == '_' {
				idx = endPos
				continue
			}
		}

		text = text[:pos] + value + text[endPos:]
		idx = pos + len(value)
	}
	return text
}

// ExpandFlow returns a deep copy of f with variables expanded in the base
// URL and in every step's selector, value and string options. The input is
// never modified. Expressions that fail to evaluate are left in place and
// logged.
func (se *ScriptEngine) ExpandFlow(f *flow.Flow) *flow.Flow {
	out := f.Clone()

	out.BaseURL = se.expand(out.BaseURL, "baseUrl")
	for i := range out.Steps {
		step := &out.Steps[i]
		where := fmt.Sprintf("step %d", i+1)

		if !step.Selector.IsZero() {
			step.Selector = flow.Selector(se.expand(string(step.Selector), where+" selector"))
		}
		if !step.Value.IsZero() {
			step.Value = flow.NewValue(se.expand(step.Value.String(), where+" value"))
		}
		for k, v := range step.Options {
			if s, ok := v.(string); ok {
				step.Options[k] = se.expand(s, where+" option "+k)
			}
		}
	}
	return &out
}

func (se *ScriptEngine) expand(text, where string) string {
	result, err := se.ExpandVariables(text)
	if err != nil {
		logger.Warn("Variable expansion in %s: %v", where, err)
	}
	return result
}
