package validator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

func intPtr(n int) *int { return &n }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func validFlow() *flow.Flow {
	return &flow.Flow{
		ID:      "login",
		Name:    "Login",
		BaseURL: "https://example.com/login",
		Steps: []flow.Step{
			{RawAction: "type", Selector: "#user", Value: flow.NewValue("admin")},
			{RawAction: "click", Selector: "button[type=submit]"},
			{RawAction: "wait", Value: flow.IntValue(1000)},
		},
		Options: &flow.Options{Gif: &flow.GifOptions{Quality: "high", FPS: 12}},
	}
}

func errorsContain(errs []error, substr string) bool {
	for _, err := range errs {
		if strings.Contains(err.Error(), substr) {
			return true
		}
	}
	return false
}

func TestValidate_SingleFile(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "login.yaml", `
name: Login
baseUrl: https://example.com
steps:
  - action: click
    selector: "#login"
  - action: type
    selector: "#user"
    value: admin
`)

	result := New().Validate(file)

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Flows) != 1 {
		t.Fatalf("expected 1 flow, got %d", len(result.Flows))
	}
	if result.Flows[0].ID != "login" {
		t.Errorf("ID = %q, want file name", result.Flows[0].ID)
	}
}

func TestValidate_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", `{"id":"a","baseUrl":"https://a.example","steps":[{"action":"scroll"}]}`)
	writeFile(t, dir, "b.yml", "id: b\nbaseUrl: https://b.example\nsteps:\n  - action: wait\n    value: 200\n")
	writeFile(t, dir, "notes.txt", "not a flow")

	result := New().Validate(dir)

	if !result.IsValid() {
		t.Errorf("expected valid result, got errors: %v", result.Errors)
	}
	if len(result.Flows) != 2 {
		t.Errorf("expected 2 flows, got %d", len(result.Flows))
	}
}

func TestValidate_DuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.json", `{"id":"same","baseUrl":"https://a.example","steps":[]}`)
	writeFile(t, dir, "two.json", `{"id":"same","baseUrl":"https://b.example","steps":[]}`)

	result := New().Validate(dir)
	if !errorsContain(result.Errors, "duplicate flow id") {
		t.Errorf("expected duplicate id error, got %v", result.Errors)
	}
}

func TestValidate_ParseError(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "broken.json", `{"id": "x", "steps": [`)

	result := New().Validate(file)
	if result.IsValid() {
		t.Fatal("expected error for invalid JSON")
	}
	if !errorsContain(result.Errors, "parse error") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestValidate_NonExistentPath(t *testing.T) {
	result := New().Validate("/nonexistent/flows")
	if result.IsValid() {
		t.Error("expected error for nonexistent path")
	}
	if !errorsContain(result.Errors, "cannot access") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestValidateFlow_Valid(t *testing.T) {
	result := New().ValidateFlow(validFlow())
	if !result.IsValid() {
		t.Errorf("errors = %v", result.Errors)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("warnings = %v", result.Warnings)
	}
}

func TestValidateFlow_Nil(t *testing.T) {
	if New().ValidateFlow(nil).IsValid() {
		t.Error("nil flow should be invalid")
	}
}

func TestValidateFlow_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *flow.Flow)
		want   string
	}{
		{"missing baseUrl", func(f *flow.Flow) { f.BaseURL = "" }, "baseUrl is required"},
		{"relative baseUrl", func(f *flow.Flow) { f.BaseURL = "/login" }, "absolute"},
		{"no host", func(f *flow.Flow) { f.BaseURL = "https://" }, "no host"},
		{"click without selector", func(f *flow.Flow) { f.Steps[1].Selector = "" }, "step 2: click requires a selector"},
		{"hover without selector", func(f *flow.Flow) {
			f.Steps = append(f.Steps, flow.Step{RawAction: "hover"})
		}, "hover requires a selector"},
		{"drag without target", func(f *flow.Flow) {
			f.Steps = append(f.Steps, flow.Step{RawAction: "drag", Selector: "#card"})
		}, "drag requires a target"},
		{"select without value", func(f *flow.Flow) {
			f.Steps = append(f.Steps, flow.Step{RawAction: "select", Selector: "#country"})
		}, "select requires a value"},
		{"keypress without key", func(f *flow.Flow) {
			f.Steps = append(f.Steps, flow.Step{RawAction: "keypress"})
		}, "keypress requires a value"},
		{"navigate without url", func(f *flow.Flow) {
			f.Steps = append(f.Steps, flow.Step{RawAction: "navigate"})
		}, "navigate requires a url"},
		{"negative step delay", func(f *flow.Flow) { f.Steps[0].Delay = intPtr(-5) }, "delay must not be negative"},
		{"negative flow delay", func(f *flow.Flow) { f.Options.StepDelay = intPtr(-1) }, "stepDelay must not be negative"},
		{"bad quality", func(f *flow.Flow) { f.Options.Gif.Quality = "ultra" }, "gif options"},
		{"negative fps", func(f *flow.Flow) { f.Options.Gif.FPS = -3 }, "fps must not be negative"},
		{"negative trim", func(f *flow.Flow) { f.Options.Gif.Start = -1 }, "trim"},
		{"scale with extra filters", func(f *flow.Flow) {
			f.Options.Gif.Scale = "800:-1[a];movie=/etc/passwd[b];[a][b]overlay"
		}, "invalid character"},
		{"empty action", func(f *flow.Flow) { f.Steps[2].RawAction = " " }, "action is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFlow()
			tt.mutate(f)
			result := New().ValidateFlow(f)
			if result.IsValid() {
				t.Fatal("expected errors")
			}
			if !errorsContain(result.Errors, tt.want) {
				t.Errorf("errors = %v, want one containing %q", result.Errors, tt.want)
			}
		})
	}
}

func TestValidateFlow_AllowedBaseURLs(t *testing.T) {
	for _, u := range []string{
		"http://localhost:3000",
		"https://example.com/path?q=1",
		"file:///tmp/index.html",
		"about:blank",
		"https://${HOST}/app",
		"$BASE_URL",
	} {
		f := validFlow()
		f.BaseURL = u
		if result := New().ValidateFlow(f); !result.IsValid() {
			t.Errorf("baseUrl %q rejected: %v", u, result.Errors)
		}
	}
}

func TestValidateFlow_UnknownActionWarns(t *testing.T) {
	f := validFlow()
	f.Steps = append(f.Steps, flow.Step{RawAction: "teleport"})

	result := New().ValidateFlow(f)
	if !result.IsValid() {
		t.Errorf("unknown action should not be an error: %v", result.Errors)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], `"teleport"`) {
		t.Errorf("warnings = %v", result.Warnings)
	}
}

func TestValidateFlow_NoStepsWarns(t *testing.T) {
	f := validFlow()
	f.Steps = nil

	result := New().ValidateFlow(f)
	if !result.IsValid() {
		t.Errorf("errors = %v", result.Errors)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("warnings = %v", result.Warnings)
	}
}

func TestValidateFlow_RequireID(t *testing.T) {
	f := validFlow()
	f.ID = ""

	if !New().ValidateFlow(f).IsValid() {
		t.Error("id should be optional by default")
	}

	v := &Validator{RequireID: true}
	if result := v.ValidateFlow(f); !errorsContain(result.Errors, "id is required") {
		t.Errorf("errors = %v", result.Errors)
	}
}

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		err  ValidationError
		want string
	}{
		{ValidationError{File: "a.json", Message: "bad"}, "a.json: bad"},
		{ValidationError{File: "a.json", Step: 3, Message: "bad"}, "a.json: step 3: bad"},
		{ValidationError{Step: 1, Message: "bad"}, "step 1: bad"},
		{ValidationError{Message: "bad"}, "bad"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
