// Package interpreter executes individual flow steps against a browser
// driver.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
)

// Config holds the timing defaults for step execution.
type Config struct {
	LocatorTimeout    time.Duration // Wait for an element to become visible
	NavigationTimeout time.Duration // Wait for network idle after navigation
	DefaultWait       time.Duration // wait step without selector or value
	DefaultScrollY    int
	HighlightDuration time.Duration
	BaseURL           string // Relative navigate targets resolve against this
	ScreenshotDir     string
}

// DefaultConfig returns 10s locator / 30s navigation timeouts, a 1s wait,
// a 500px scroll and a 2s highlight.
func DefaultConfig() Config {
	return Config{
		LocatorTimeout:    10 * time.Second,
		NavigationTimeout: 30 * time.Second,
		DefaultWait:       time.Second,
		DefaultScrollY:    500,
		HighlightDuration: 2 * time.Second,
	}
}

// Interpreter executes steps. It holds no per-step state, so one value can
// serve a whole flow.
type Interpreter struct {
	driver core.Driver
	cfg    Config
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates an Interpreter over driver.
func New(driver core.Driver, cfg Config) *Interpreter {
	def := DefaultConfig()
	if cfg.LocatorTimeout <= 0 {
		cfg.LocatorTimeout = def.LocatorTimeout
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = def.DefaultWait
	}
	if cfg.DefaultScrollY == 0 {
		cfg.DefaultScrollY = def.DefaultScrollY
	}
	if cfg.HighlightDuration <= 0 {
		cfg.HighlightDuration = def.HighlightDuration
	}
	return &Interpreter{driver: driver, cfg: cfg, sleep: Sleep}
}

// Run executes step and returns a *core.StepFailure on failure.
func (in *Interpreter) Run(ctx context.Context, index int, step *flow.Step) error {
	result := in.Execute(ctx, index, step)
	if result.Success {
		return nil
	}
	return result.Error
}

// Execute runs a single step. A failed result always carries a
// *core.StepFailure in Error.
func (in *Interpreter) Execute(ctx context.Context, index int, step *flow.Step) *core.CommandResult {
	start := time.Now()
	action := step.Action()

	var result *core.CommandResult
	if action.RequiresSelector() && step.Selector.IsZero() {
		result = errorResult(errors.New("selector is required"), fmt.Sprintf("%s requires a selector", action))
	} else {
		result = in.dispatch(ctx, action, step)
	}

	result.Duration = time.Since(start)
	if !result.Success {
		cause := result.Error
		if cause == nil {
			cause = errors.New(result.Message)
		}
		result.Error = &core.StepFailure{Index: index, Action: action, Selector: step.Selector, Err: cause}
	}
	return result
}

func (in *Interpreter) dispatch(ctx context.Context, action flow.Action, step *flow.Step) *core.CommandResult {
	if step.OptionBool("highlight", false) && action.RequiresSelector() && action != flow.ActionHighlight {
		if r := in.highlight(ctx, step); !r.Success {
			return r
		}
	}

	switch action {
	// Element interaction
	case flow.ActionClick:
		return in.click(ctx, step)
	case flow.ActionType:
		return in.typeText(ctx, step)
	case flow.ActionHover:
		return in.hover(ctx, step)
	case flow.ActionSelect:
		return in.selectOption(ctx, step)
	case flow.ActionCheck:
		return in.setChecked(ctx, step, true)
	case flow.ActionUncheck:
		return in.setChecked(ctx, step, false)
	case flow.ActionDrag:
		return in.drag(ctx, step)
	case flow.ActionHighlight:
		return in.highlight(ctx, step)

	// Page-level
	case flow.ActionScroll:
		return in.scroll(ctx, step)
	case flow.ActionWait:
		return in.wait(ctx, step)
	case flow.ActionNavigate:
		return in.navigate(ctx, step)
	case flow.ActionKeypress:
		return in.keypress(ctx, step)
	case flow.ActionScreenshot:
		return in.screenshot(ctx, step)

	default:
		logger.Warn("Unknown action %q, skipping step", step.RawAction)
		return successResult(fmt.Sprintf("Skipped unknown action %q", step.RawAction))
	}
}

// ============================================================================
// Element Commands
// ============================================================================

func (in *Interpreter) click(ctx context.Context, step *flow.Step) *core.CommandResult {
	ctx, cancel := in.locatorContext(ctx, step)
	defer cancel()

	if err := in.driver.Click(ctx, step.Selector); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to click %s: %v", step.Selector.DescribeQuoted(), err))
	}
	return successResult("Clicked " + step.Selector.String())
}

func (in *Interpreter) typeText(ctx context.Context, step *flow.Step) *core.CommandResult {
	ctx, cancel := in.locatorContext(ctx, step)
	defer cancel()

	if err := in.driver.Fill(ctx, step.Selector, step.Value.String()); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to type into %s: %v", step.Selector.DescribeQuoted(), err))
	}
	return successResult(fmt.Sprintf("Typed %q", step.Value.String()))
}

func (in *Interpreter) hover(ctx context.Context, step *flow.Step) *core.CommandResult {
	ctx, cancel := in.locatorContext(ctx, step)
	defer cancel()

	if err := in.driver.Hover(ctx, step.Selector); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to hover %s: %v", step.Selector.DescribeQuoted(), err))
	}
	return successResult("Hovered " + step.Selector.String())
}

func (in *Interpreter) selectOption(ctx context.Context, step *flow.Step) *core.CommandResult {
	ctx, cancel := in.locatorContext(ctx, step)
	defer cancel()

	if err := in.driver.SelectOption(ctx, step.Selector, step.Value.String()); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to select %q in %s: %v", step.Value.String(), step.Selector.DescribeQuoted(), err))
	}
	return successResult(fmt.Sprintf("Selected %q", step.Value.String()))
}

func (in *Interpreter) setChecked(ctx context.Context, step *flow.Step, checked bool) *core.CommandResult {
	ctx, cancel := in.locatorContext(ctx, step)
	defer cancel()

	if err := in.driver.SetChecked(ctx, step.Selector, checked); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to set checked=%v on %s: %v", checked, step.Selector.DescribeQuoted(), err))
	}
	return successResult(fmt.Sprintf("Set checked=%v", checked))
}

func (in *Interpreter) drag(ctx context.Context, step *flow.Step) *core.CommandResult {
	target := flow.Selector(step.Value.String())
	if target.IsZero() {
		return errorResult(errors.New("drag target is required in value"), "drag requires a target selector")
	}

	ctx, cancel := in.locatorContext(ctx, step)
	defer cancel()

	if err := in.driver.DragTo(ctx, step.Selector, target); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to drag %s onto %s: %v", step.Selector.DescribeQuoted(), target.DescribeQuoted(), err))
	}
	return successResult(fmt.Sprintf("Dragged %s onto %s", step.Selector, target))
}

func (in *Interpreter) highlight(ctx context.Context, step *flow.Step) *core.CommandResult {
	d := in.cfg.HighlightDuration
	if ms := step.OptionInt("highlightMs", 0); ms > 0 {
		d = time.Duration(ms) * time.Millisecond
	}

	lctx, cancel := in.locatorContext(ctx, step)
	defer cancel()

	if err := in.driver.WaitVisible(lctx, step.Selector); err != nil {
		return errorResult(err, fmt.Sprintf("Element %s not visible: %v", step.Selector.DescribeQuoted(), err))
	}
	if err := in.driver.Highlight(ctx, step.Selector, d); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to highlight %s: %v", step.Selector.DescribeQuoted(), err))
	}
	return successResult("Highlighted " + step.Selector.String())
}

// ============================================================================
// Page Commands
// ============================================================================

func (in *Interpreter) scroll(ctx context.Context, step *flow.Step) *core.CommandResult {
	x := step.OptionInt("x", 0)
	y := step.OptionInt("y", in.cfg.DefaultScrollY)
	if !step.Value.IsZero() && step.Options["y"] == nil {
		y = step.Value.Int(y)
	}
	smooth := step.OptionBool("smooth", true)

	if err := in.driver.Scroll(ctx, x, y, smooth); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to scroll: %v", err))
	}
	return successResult(fmt.Sprintf("Scrolled by (%d, %d)", x, y))
}

func (in *Interpreter) wait(ctx context.Context, step *flow.Step) *core.CommandResult {
	if !step.Selector.IsZero() {
		ctx, cancel := in.locatorContext(ctx, step)
		defer cancel()
		if err := in.driver.WaitVisible(ctx, step.Selector); err != nil {
			return errorResult(err, fmt.Sprintf("Element %s not visible: %v", step.Selector.DescribeQuoted(), err))
		}
		return successResult(step.Selector.String() + " is visible")
	}

	d := time.Duration(step.Value.Int(int(in.cfg.DefaultWait/time.Millisecond))) * time.Millisecond
	if err := in.sleep(ctx, d); err != nil {
		return errorResult(err, "Wait interrupted")
	}
	return successResult(fmt.Sprintf("Waited %s", d))
}

func (in *Interpreter) navigate(ctx context.Context, step *flow.Step) *core.CommandResult {
	target := step.Value.String()
	if target == "" {
		target = step.Selector.String()
	}
	if target == "" {
		return errorResult(errors.New("navigate requires a URL"), "No URL to navigate to")
	}
	target, err := ResolveURL(in.cfg.BaseURL, target)
	if err != nil {
		return errorResult(err, fmt.Sprintf("Invalid URL: %v", err))
	}

	timeout := in.cfg.NavigationTimeout
	if ms := step.OptionInt("timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := in.driver.Navigate(ctx, target); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to navigate to %s: %v", target, err))
	}
	return successResult("Navigated to " + target)
}

func (in *Interpreter) keypress(ctx context.Context, step *flow.Step) *core.CommandResult {
	key := step.Value.String()
	if key == "" {
		return errorResult(errors.New("keypress requires a key in value"), "No key to press")
	}
	if err := in.driver.Press(ctx, key); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to press %s: %v", key, err))
	}
	return successResult("Pressed " + key)
}

func (in *Interpreter) screenshot(ctx context.Context, step *flow.Step) *core.CommandResult {
	if in.cfg.ScreenshotDir == "" {
		return errorResult(errors.New("no screenshot directory configured"), "Cannot save screenshot")
	}

	data, err := in.driver.Screenshot(ctx, step.OptionBool("fullPage", true))
	if err != nil {
		return errorResult(err, fmt.Sprintf("Failed to take screenshot: %v", err))
	}

	name := step.OptionString("name", step.Value.String())
	if name == "" {
		name = fmt.Sprintf("screenshot_%s", time.Now().Format("20060102_150405.000"))
	}
	paths := core.ArtifactPaths{ScreenshotDir: in.cfg.ScreenshotDir}
	path := paths.ScreenshotPath(name)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to create screenshot dir: %v", err))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errorResult(err, fmt.Sprintf("Failed to write screenshot: %v", err))
	}

	result := successResult("Saved screenshot " + path)
	result.Data = core.NewScreenshotAttachment(path, nil)
	return result
}

// ============================================================================
// Helpers
// ============================================================================

func (in *Interpreter) locatorContext(ctx context.Context, step *flow.Step) (context.Context, context.CancelFunc) {
	timeout := in.cfg.LocatorTimeout
	if ms := step.OptionInt("timeout", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	return context.WithTimeout(ctx, timeout)
}

// ResolveURL resolves ref against base. Absolute refs are returned as is.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if u.IsAbs() || base == "" {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(u).String(), nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// successResult creates a success result.
func successResult(msg string) *core.CommandResult {
	return &core.CommandResult{
		Success: true,
		Message: msg,
	}
}

// errorResult creates an error result.
func errorResult(err error, msg string) *core.CommandResult {
	return &core.CommandResult{
		Success: false,
		Error:   err,
		Message: msg,
	}
}
