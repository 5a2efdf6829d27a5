package flow

import (
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		raw  string
		want Action
	}{
		{"click", ActionClick},
		{"CLICK", ActionClick},
		{" type ", ActionType},
		{"navigate", ActionNavigate},
		{"keypress", ActionKeypress},
		{"drag", ActionDrag},
		{"highlight", ActionHighlight},
		{"teleport", ActionUnknown},
		{"", ActionUnknown},
	}

	for _, tt := range tests {
		if got := ParseAction(tt.raw); got != tt.want {
			t.Errorf("ParseAction(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestAction_RequiresSelector(t *testing.T) {
	element := []Action{ActionClick, ActionType, ActionHover, ActionSelect, ActionCheck, ActionUncheck, ActionDrag}
	page := []Action{ActionScroll, ActionWait, ActionNavigate, ActionKeypress, ActionScreenshot, ActionUnknown}

	for _, a := range element {
		if !a.RequiresSelector() {
			t.Errorf("%s.RequiresSelector() = false, want true", a)
		}
	}
	for _, a := range page {
		if a.RequiresSelector() {
			t.Errorf("%s.RequiresSelector() = true, want false", a)
		}
	}
}

func TestStep_Describe(t *testing.T) {
	tests := []struct {
		name string
		step Step
		want string
	}{
		{"description wins", Step{RawAction: "click", Selector: "#a", Description: "Open menu"}, "Open menu"},
		{"selector", Step{RawAction: "click", Selector: "#a"}, "click #a"},
		{"value", Step{RawAction: "type", Selector: "#b", Value: NewValue("hi")}, `type #b "hi"`},
		{"bare", Step{RawAction: "screenshot"}, "screenshot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.step.Describe(); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStep_Options(t *testing.T) {
	s := Step{Options: map[string]any{
		"highlight": true,
		"y":         float64(300),
		"name":      "final",
		"smooth":    "false",
	}}

	if !s.OptionBool("highlight", false) {
		t.Error("OptionBool(highlight) = false")
	}
	if s.OptionBool("smooth", true) {
		t.Error("OptionBool(smooth) = true, want false from string")
	}
	if got := s.OptionInt("y", 500); got != 300 {
		t.Errorf("OptionInt(y) = %d", got)
	}
	if got := s.OptionInt("x", 7); got != 7 {
		t.Errorf("OptionInt(x) default = %d", got)
	}
	if got := s.OptionString("name", ""); got != "final" {
		t.Errorf("OptionString(name) = %q", got)
	}
}

func TestValue_Int(t *testing.T) {
	tests := []struct {
		v    Value
		def  int
		want int
	}{
		{Value{}, 1000, 1000},
		{NewValue("250"), 0, 250},
		{NewValue("1.5"), 0, 1},
		{NewValue("soon"), 42, 42},
		{IntValue(9), 0, 9},
	}
	for _, tt := range tests {
		if got := tt.v.Int(tt.def); got != tt.want {
			t.Errorf("Value(%q).Int(%d) = %d, want %d", tt.v.String(), tt.def, got, tt.want)
		}
	}
}

func TestSelector_Strategy(t *testing.T) {
	tests := []struct {
		sel      Selector
		strategy Strategy
		query    string
	}{
		{"#login", StrategyCSS, "#login"},
		{"css=.btn", StrategyCSS, ".btn"},
		{"xpath=//a", StrategyXPath, "//a"},
		{"//div[@id='x']", StrategyXPath, "//div[@id='x']"},
		{"id=submit", StrategyID, "submit"},
		{"ID=submit", StrategyID, "submit"},
	}
	for _, tt := range tests {
		if got := tt.sel.Strategy(); got != tt.strategy {
			t.Errorf("%q.Strategy() = %v, want %v", tt.sel, got, tt.strategy)
		}
		if got := tt.sel.Query(); got != tt.query {
			t.Errorf("%q.Query() = %q, want %q", tt.sel, got, tt.query)
		}
	}
}

func TestFlow_CloneIsDeep(t *testing.T) {
	delay := 100
	f := Flow{
		ID:      "a",
		Env:     map[string]string{"USER": "x"},
		Steps:   []Step{{RawAction: "click", Selector: "#a", Delay: &delay}},
		Options: &Options{Gif: &GifOptions{FPS: 5}},
	}

	c := f.Clone()
	c.Env["USER"] = "y"
	c.Steps[0].Selector = "#b"
	*c.Steps[0].Delay = 999
	c.Options.Gif.FPS = 20

	if f.Env["USER"] != "x" || f.Steps[0].Selector != "#a" || *f.Steps[0].Delay != 100 || f.Options.Gif.FPS != 5 {
		t.Errorf("Clone() shares state with original: %+v", f)
	}
}

func TestFlow_DisplayName(t *testing.T) {
	if got := (&Flow{Name: "Demo", ID: "d"}).DisplayName(); got != "Demo" {
		t.Errorf("got %q", got)
	}
	if got := (&Flow{ID: "d"}).DisplayName(); got != "d" {
		t.Errorf("got %q", got)
	}
	if got := (&Flow{}).DisplayName(); got != "screencast" {
		t.Errorf("got %q", got)
	}
}

func TestValue_MarshalJSON(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{Value{}, "null"},
		{IntValue(500), "500"},
		{NewValue("1.5"), "1.5"},
		{NewValue("hello"), `"hello"`},
		{NewValue("007"), `"007"`},
		{NewValue("NaN"), `"NaN"`},
		{NewValue(""), `""`},
	}
	for _, tt := range tests {
		got, err := tt.value.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%q) error = %v", tt.value.String(), err)
		}
		if string(got) != tt.want {
			t.Errorf("MarshalJSON(%q) = %s, want %s", tt.value.String(), got, tt.want)
		}
	}
}

func TestStep_MarshalOmitsUnsetValue(t *testing.T) {
	tests := []struct {
		name      string
		step      Step
		wantJSON  string
		wantValue bool
	}{
		{"click", Step{RawAction: "click", Selector: "#go"}, `{"action":"click","selector":"#go"}`, false},
		{"wait", Step{RawAction: "wait", Value: IntValue(1500)}, `{"action":"wait","value":1500}`, true},
		{"empty text", Step{RawAction: "type", Selector: "#q", Value: NewValue("")}, `{"action":"type","selector":"#q","value":""}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := json.Marshal(tt.step)
			if err != nil {
				t.Fatalf("json.Marshal() error = %v", err)
			}
			if string(out) != tt.wantJSON {
				t.Errorf("json = %s, want %s", out, tt.wantJSON)
			}

			var back Step
			if err := json.Unmarshal(out, &back); err != nil {
				t.Fatalf("json.Unmarshal() error = %v", err)
			}
			if back.Value != tt.step.Value {
				t.Errorf("value after decode = %+v, want %+v", back.Value, tt.step.Value)
			}

			y, err := yaml.Marshal(tt.step)
			if err != nil {
				t.Fatalf("yaml.Marshal() error = %v", err)
			}
			if got := strings.Contains(string(y), "value:"); got != tt.wantValue {
				t.Errorf("yaml has value = %v, want %v:\n%s", got, tt.wantValue, y)
			}
		})
	}
}
