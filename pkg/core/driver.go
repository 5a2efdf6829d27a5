package core

import (
	"context"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// Driver defines the browser primitives a recording needs.
// Implementations: chrome (CDP), mock.
// The interpreter decides what a step means; the Driver just performs the
// individual page operation. Every element operation waits for its locator
// to become visible before acting, bounded by the context deadline.
type Driver interface {
	// Navigate loads url and waits for network idle.
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until the element is visible.
	WaitVisible(ctx context.Context, sel flow.Selector) error

	Click(ctx context.Context, sel flow.Selector) error
	Fill(ctx context.Context, sel flow.Selector, text string) error
	Hover(ctx context.Context, sel flow.Selector) error
	SelectOption(ctx context.Context, sel flow.Selector, value string) error
	SetChecked(ctx context.Context, sel flow.Selector, checked bool) error
	DragTo(ctx context.Context, src, dst flow.Selector) error
	Highlight(ctx context.Context, sel flow.Selector, d time.Duration) error

	// Scroll scrolls the viewport by (x, y) pixels.
	Scroll(ctx context.Context, x, y int, smooth bool) error

	// Press dispatches a single key by name (Enter, Tab, ArrowDown, "a").
	Press(ctx context.Context, key string) error

	// Screenshot captures the page as PNG.
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	// StartScreencast begins streaming encoded frames to sink until
	// StopScreencast is called.
	StartScreencast(ctx context.Context, opts ScreencastOptions, sink func(Frame)) error
	StopScreencast(ctx context.Context) error

	// BrowserInfo returns browser/viewport details.
	BrowserInfo() *BrowserInfo

	// Close releases the browser. Calling it twice is a no-op.
	Close() error
}

// Launcher starts a new browser session.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Driver, error)
}

// LaunchOptions configures a new browser session.
type LaunchOptions struct {
	Headless    bool
	Width       int
	Height      int
	UserAgent   string
	NoSandbox   bool
	ExecPath    string // Browser binary, empty for auto-detect
	ExtraFlags  map[string]interface{}
	PageLogging bool // Forward console/pageerror/requestfailed to the logger
}

// ScreencastOptions controls frame capture.
type ScreencastOptions struct {
	Format    string // jpeg or png
	Quality   int    // 0-100, jpeg only
	MaxWidth  int
	MaxHeight int
}

// Frame is one encoded screencast image.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// CommandResult represents the outcome of executing a single step
type CommandResult struct {
	// Core outcome
	Success  bool          `json:"success"`
	Error    error         `json:"-"`
	Duration time.Duration `json:"duration"`

	// Human-readable output
	Message string `json:"message,omitempty"`

	// Generic data for command-specific results
	// Examples: screenshot path
	Data interface{} `json:"data,omitempty"`
}

// Bounds represents element position and size in CSS pixels
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// BrowserInfo contains browser and viewport details
type BrowserInfo struct {
	Browser   string `json:"browser"`             // chrome, mock
	Version   string `json:"version,omitempty"`   // e.g., "HeadlessChrome/120.0"
	UserAgent string `json:"userAgent,omitempty"` // Effective user agent
	Headless  bool   `json:"headless"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}
