// Package mock provides an in-process browser driver for tests and dry runs.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// Driver is a mock implementation of core.Driver. It records every call.
type Driver struct {
	// Configuration
	Config Config

	mu        sync.Mutex
	calls     []Call
	opCount   int
	casting   bool
	stopCast  chan struct{}
	castDone  chan struct{}
	closed    bool
	closeHits int
}

// Config configures mock driver behavior.
type Config struct {
	// FailOnCall makes operation N fail (1-indexed, counting every
	// interaction method). 0 = never fail.
	FailOnCall int
	// Missing selectors never become visible; operations on them block
	// until the context is done.
	Missing []flow.Selector
	// OpDelay adds artificial delay per operation
	OpDelay time.Duration
	// FrameInterval is how often screencast frames are emitted. Default 20ms.
	FrameInterval time.Duration
	// CloseError is returned by Close.
	CloseError error

	Width, Height int
}

// Call is one recorded driver operation.
type Call struct {
	Op       string
	Selector flow.Selector
	Value    string
	At       time.Time
}

// New creates a new mock driver.
func New(cfg Config) *Driver {
	if cfg.Width == 0 {
		cfg.Width = 1920
	}
	if cfg.Height == 0 {
		cfg.Height = 1080
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 20 * time.Millisecond
	}
	return &Driver{Config: cfg}
}

// Calls returns a copy of the recorded operations.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Ops returns the recorded operation names in order.
func (d *Driver) Ops() []string {
	calls := d.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Closed reports whether Close was called, and how many times.
func (d *Driver) Closed() (bool, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed, d.closeHits
}

// Screencasting reports whether a screencast is active.
func (d *Driver) Screencasting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.casting
}

func (d *Driver) record(ctx context.Context, op string, sel flow.Selector, value string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return core.ErrSessionClosed
	}
	d.opCount++
	n := d.opCount
	d.calls = append(d.calls, Call{Op: op, Selector: sel, Value: value, At: time.Now()})
	d.mu.Unlock()

	if d.Config.OpDelay > 0 {
		select {
		case <-time.After(d.Config.OpDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !sel.IsZero() && d.isMissing(sel) {
		<-ctx.Done()
		return fmt.Errorf("waiting for %s: %w", sel.DescribeQuoted(), ctx.Err())
	}

	if d.Config.FailOnCall > 0 && n == d.Config.FailOnCall {
		return fmt.Errorf("mock failure on call %d (%s)", n, op)
	}
	return nil
}

func (d *Driver) isMissing(sel flow.Selector) bool {
	for _, m := range d.Config.Missing {
		if m == sel {
			return true
		}
	}
	return false
}

// Navigate implements core.Driver.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	return d.record(ctx, "navigate", "", url)
}

// WaitVisible implements core.Driver.
func (d *Driver) WaitVisible(ctx context.Context, sel flow.Selector) error {
	return d.record(ctx, "waitVisible", sel, "")
}

// Click implements core.Driver.
func (d *Driver) Click(ctx context.Context, sel flow.Selector) error {
	return d.record(ctx, "click", sel, "")
}

// Fill implements core.Driver.
func (d *Driver) Fill(ctx context.Context, sel flow.Selector, text string) error {
	return d.record(ctx, "fill", sel, text)
}

// Hover implements core.Driver.
func (d *Driver) Hover(ctx context.Context, sel flow.Selector) error {
	return d.record(ctx, "hover", sel, "")
}

// SelectOption implements core.Driver.
func (d *Driver) SelectOption(ctx context.Context, sel flow.Selector, value string) error {
	return d.record(ctx, "select", sel, value)
}

// SetChecked implements core.Driver.
func (d *Driver) SetChecked(ctx context.Context, sel flow.Selector, checked bool) error {
	return d.record(ctx, "setChecked", sel, fmt.Sprint(checked))
}

// DragTo implements core.Driver.
func (d *Driver) DragTo(ctx context.Context, src, dst flow.Selector) error {
	if err := d.record(ctx, "drag", src, string(dst)); err != nil {
		return err
	}
	if d.isMissing(dst) {
		<-ctx.Done()
		return fmt.Errorf("waiting for %s: %w", dst.DescribeQuoted(), ctx.Err())
	}
	return nil
}

// Highlight implements core.Driver.
func (d *Driver) Highlight(ctx context.Context, sel flow.Selector, dur time.Duration) error {
	return d.record(ctx, "highlight", sel, dur.String())
}

// Scroll implements core.Driver.
func (d *Driver) Scroll(ctx context.Context, x, y int, smooth bool) error {
	return d.record(ctx, "scroll", "", fmt.Sprintf("%d,%d,%v", x, y, smooth))
}

// Press implements core.Driver.
func (d *Driver) Press(ctx context.Context, key string) error {
	return d.record(ctx, "press", "", key)
}

// Screenshot returns a minimal PNG.
func (d *Driver) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if err := d.record(ctx, "screenshot", "", fmt.Sprint(fullPage)); err != nil {
		return nil, err
	}
	// Minimal valid PNG (1x1 transparent pixel)
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}, nil
}

// StartScreencast emits a fake JPEG frame every FrameInterval.
func (d *Driver) StartScreencast(ctx context.Context, opts core.ScreencastOptions, sink func(core.Frame)) error {
	if err := d.record(ctx, "startScreencast", "", opts.Format); err != nil {
		return err
	}
	d.mu.Lock()
	if d.casting {
		d.mu.Unlock()
		return fmt.Errorf("screencast already started")
	}
	d.casting = true
	d.stopCast = make(chan struct{})
	d.castDone = make(chan struct{})
	stop, done := d.stopCast, d.castDone
	d.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(d.Config.FrameInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case t := <-ticker.C:
				sink(core.Frame{Data: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Timestamp: t})
			}
		}
	}()
	return nil
}

// StopScreencast stops frame emission. Stopping an inactive screencast is a
// no-op.
func (d *Driver) StopScreencast(ctx context.Context) error {
	d.mu.Lock()
	if !d.casting {
		d.mu.Unlock()
		return nil
	}
	d.casting = false
	stop, done := d.stopCast, d.castDone
	d.calls = append(d.calls, Call{Op: "stopScreencast", At: time.Now()})
	d.mu.Unlock()

	close(stop)
	<-done
	return nil
}

// BrowserInfo returns mock browser info.
func (d *Driver) BrowserInfo() *core.BrowserInfo {
	return &core.BrowserInfo{
		Browser:  "mock",
		Version:  "1.0",
		Headless: true,
		Width:    d.Config.Width,
		Height:   d.Config.Height,
	}
}

// Close stops any screencast and marks the driver closed.
func (d *Driver) Close() error {
	_ = d.StopScreencast(context.Background())

	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeHits++
	if d.closed {
		return nil
	}
	d.closed = true
	return d.Config.CloseError
}

// Launcher creates mock drivers.
type Launcher struct {
	Config Config
	Err    error // Returned by every Launch call when set

	mu       sync.Mutex
	launched []*Driver
	options  []core.LaunchOptions
}

// Launch implements core.Launcher.
func (l *Launcher) Launch(ctx context.Context, opts core.LaunchOptions) (core.Driver, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.options = append(l.options, opts)
	if l.Err != nil {
		return nil, l.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := l.Config
	if opts.Width > 0 {
		cfg.Width = opts.Width
	}
	if opts.Height > 0 {
		cfg.Height = opts.Height
	}
	d := New(cfg)
	l.launched = append(l.launched, d)
	return d, nil
}

// Launched returns every driver created so far.
func (l *Launcher) Launched() []*Driver {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Driver(nil), l.launched...)
}

// Options returns the options of every Launch call.
func (l *Launcher) Options() []core.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.LaunchOptions(nil), l.options...)
}
