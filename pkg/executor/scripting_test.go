package executor

import (
	"testing"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

func TestNewScriptEngine(t *testing.T) {
	se := NewScriptEngine(map[string]string{"A": "1", "B": "2"})

	if se.js == nil {
		t.Error("js engine not initialized")
	}
	if got := se.GetVariable("A"); got != "1" {
		t.Errorf("GetVariable(A) = %q, want %q", got, "1")
	}
	if got := se.GetVariable("B"); got != "2" {
		t.Errorf("GetVariable(B) = %q, want %q", got, "2")
	}
}

func TestScriptEngine_SetVariable(t *testing.T) {
	se := NewScriptEngine(nil)

	se.SetVariable("USERNAME", "john")
	se.SetVariable("USERNAME", "jane")

	if got := se.GetVariable("USERNAME"); got != "jane" {
		t.Errorf("GetVariable(USERNAME) = %q, want %q", got, "jane")
	}
	if got, _ := se.ExpandVariables("${USERNAME}"); got != "jane" {
		t.Errorf("JS sees %q, want %q", got, "jane")
	}
}

func TestScriptEngine_ExpandVariables_JSExpression(t *testing.T) {
	se := NewScriptEngine(map[string]string{"name": "John", "age": "30"})

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple var", "Hello ${name}", "Hello John"},
		{"expression", "Age: ${age}", "Age: 30"},
		{"math", "Result: ${1 + 2}", "Result: 3"},
		{"no vars", "plain text", "plain text"},
		{"multiple", "${name} is ${age}", "John is 30"},
		{"missing env var with fallback", "${API_HOST ?? 'localhost'}", "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := se.ExpandVariables(tt.input)
			if err != nil {
				t.Fatalf("ExpandVariables(%q) error = %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ExpandVariables(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestScriptEngine_ExpandVariables_DollarVar(t *testing.T) {
	se := NewScriptEngine(map[string]string{"USER": "admin", "USERNAME": "john"})

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "Hello $USER", "Hello admin"},
		{"longer first", "Hello $USERNAME", "Hello john"},
		{"end of string", "User: $USER", "User: admin"},
		{"multiple", "$USER and $USERNAME", "admin and john"},
		{"unknown left alone", "$OTHER", "$OTHER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := se.ExpandVariables(tt.input)
			if err != nil {
				t.Fatalf("ExpandVariables(%q) error = %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ExpandVariables(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestScriptEngine_ExpandVariables_Error(t *testing.T) {
	se := NewScriptEngine(nil)

	got, err := se.ExpandVariables("id-${missing.prop}")
	if err == nil {
		t.Fatal("expected error")
	}
	if got != "id-${missing.prop}" {
		t.Errorf("ExpandVariables() = %q, want expression left in place", got)
	}
}

func TestExpandDollarVar(t *testing.T) {
	tests := []struct {
		text     string
		name     string
		value    string
		expected string
	}{
		{"Hello $USER", "USER", "admin", "Hello admin"},
		{"$USER", "USER", "admin", "admin"},
		{"$USER!", "USER", "admin", "admin!"},
		{"$USERNAME", "USER", "admin", "$USERNAME"},   // Should NOT match
		{"$USER_NAME", "USER", "admin", "$USER_NAME"}, // Should NOT match
	}

	for _, tt := range tests {
		got := expandDollarVar(tt.text, tt.name, tt.value)
		if got != tt.expected {
			t.Errorf("expandDollarVar(%q, %q, %q) = %q, want %q",
				tt.text, tt.name, tt.value, got, tt.expected)
		}
	}
}

func TestScriptEngine_ExpandFlow(t *testing.T) {
	f := &flow.Flow{
		ID:      "signup",
		BaseURL: "https://$HOST/signup",
		Env:     map[string]string{"HOST": "example.com", "EMAIL": "a@b.c"},
		Steps: []flow.Step{
			{RawAction: "type", Selector: "input[name=email]", Value: flow.NewValue("$EMAIL")},
			{RawAction: "screenshot", Options: map[string]any{"name": "${'shot-' + HOST}", "fullPage": false}},
			{RawAction: "wait", Value: flow.IntValue(500)},
			{RawAction: "click", Selector: "#submit"},
		},
	}

	out := NewScriptEngine(f.Env).ExpandFlow(f)

	if out.BaseURL != "https://example.com/signup" {
		t.Errorf("BaseURL = %q", out.BaseURL)
	}
	if out.Steps[0].Value.String() != "a@b.c" {
		t.Errorf("step 1 value = %q", out.Steps[0].Value.String())
	}
	if got := out.Steps[1].OptionString("name", ""); got != "shot-example.com" {
		t.Errorf("step 2 name option = %q", got)
	}
	if out.Steps[1].OptionBool("fullPage", true) {
		t.Error("non-string option changed")
	}
	if out.Steps[2].Value.Int(0) != 500 {
		t.Errorf("numeric value = %q", out.Steps[2].Value.String())
	}
	if !out.Steps[3].Value.IsZero() {
		t.Error("unset value became set")
	}

	// Input is untouched.
	if f.BaseURL != "https://$HOST/signup" || f.Steps[0].Value.String() != "$EMAIL" {
		t.Error("ExpandFlow modified its input")
	}
	if f.Steps[1].Options["name"] != "${'shot-' + HOST}" {
		t.Error("ExpandFlow modified input options")
	}
}
