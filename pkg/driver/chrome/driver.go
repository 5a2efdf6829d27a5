// Package chrome implements core.Driver over the Chrome DevTools Protocol
// using chromedp.
package chrome

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
)

// Launcher starts headless or headful Chrome instances.
type Launcher struct{}

// Launch implements core.Launcher. The browser outlives ctx; ctx only
// bounds startup.
func (Launcher) Launch(ctx context.Context, opts core.LaunchOptions) (core.Driver, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) { logger.Debug("cdp: "+format, args...) }),
		chromedp.WithErrorf(func(format string, args ...interface{}) { logger.Debug("cdp error: "+format, args...) }),
	)

	d := &Driver{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		opts:        opts,
		idle:        make(chan struct{}, 1),
	}
	chromedp.ListenTarget(tabCtx, d.onEvent)

	// The first Run allocates the browser and ties its lifetime to the
	// context it is given, so it must get the tab context itself.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("start chrome: %w", err)
		}
	case <-ctx.Done():
		d.Close()
		return nil, fmt.Errorf("start chrome: %w", ctx.Err())
	}

	startup := chromedp.Tasks{
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, product, _, ua, _, err := browser.GetVersion().Do(ctx)
			if err != nil {
				return err
			}
			d.version, d.userAgent = product, ua
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			d.mu.Lock()
			d.mainFrame = tree.Frame.ID
			d.mu.Unlock()
			return nil
		}),
	}
	if err := d.run(ctx, startup); err != nil {
		d.Close()
		return nil, fmt.Errorf("configure chrome: %w", err)
	}

	logger.Info("Browser ready: %s (%dx%d)", d.version, opts.Width, opts.Height)
	return d, nil
}

func allocatorOptions(opts core.LaunchOptions) []chromedp.ExecAllocatorOption {
	o := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	o = append(o,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", false),
	)
	if opts.Width > 0 && opts.Height > 0 {
		o = append(o, chromedp.WindowSize(opts.Width, opts.Height))
	}
	if opts.UserAgent != "" {
		o = append(o, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.NoSandbox {
		o = append(o, chromedp.NoSandbox)
	}
	if opts.ExecPath != "" {
		o = append(o, chromedp.ExecPath(opts.ExecPath))
	}
	for name, value := range opts.ExtraFlags {
		o = append(o, chromedp.Flag(name, value))
	}
	return o
}

// Driver implements core.Driver for one Chrome tab.
type Driver struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	opts        core.LaunchOptions

	version   string
	userAgent string

	idle chan struct{} // main-frame networkIdle signal, capacity 1

	mu        sync.Mutex
	mainFrame cdp.FrameID
	sink      func(core.Frame)
	closeOnce sync.Once
	closed    bool
}

// run executes actions on the tab, bounded by the caller's ctx. chromedp
// needs its own context lineage, so the caller's deadline and cancellation
// are copied onto a child of the tab context.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := d.scope(ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (d *Driver) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(d.tabCtx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(d.tabCtx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (d *Driver) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventLifecycleEvent:
		d.mu.Lock()
		main := d.mainFrame
		d.mu.Unlock()
		if isMainFrameIdle(e, main) {
			select {
			case d.idle <- struct{}{}:
			default:
			}
		}

	case *page.EventScreencastFrame:
		d.mu.Lock()
		sink := d.sink
		d.mu.Unlock()
		sessionID := e.SessionID
		// Acks must not run on the event goroutine.
		go func() {
			if err := chromedp.Run(d.tabCtx, page.ScreencastFrameAck(sessionID)); err != nil {
				logger.Debug("screencast ack failed: %v", err)
			}
		}()
		if sink == nil {
			return
		}
		data, err := base64.StdEncoding.DecodeString(e.Data)
		if err != nil {
			logger.Warn("Bad screencast frame: %v", err)
			return
		}
		sink(core.Frame{Data: data, Timestamp: time.Now()})

	case *runtime.EventConsoleAPICalled:
		if !d.opts.PageLogging {
			return
		}
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			if arg.Value != nil {
				parts = append(parts, string(arg.Value))
			} else {
				parts = append(parts, arg.Description)
			}
		}
		logger.Debug("console.%s: %s", e.Type, strings.Join(parts, " "))

	case *runtime.EventExceptionThrown:
		if !d.opts.PageLogging || e.ExceptionDetails == nil {
			return
		}
		msg := e.ExceptionDetails.Text
		if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
			msg = e.ExceptionDetails.Exception.Description
		}
		logger.Error("Page error: %s", msg)

	case *network.EventLoadingFailed:
		if !d.opts.PageLogging || e.Canceled {
			return
		}
		logger.Warn("Request failed: %s (%s)", e.ErrorText, e.Type)
	}
}

// isMainFrameIdle reports whether e is the networkIdle event of the top
// frame. Iframes emit their own lifecycle events.
func isMainFrameIdle(e *page.EventLifecycleEvent, main cdp.FrameID) bool {
	return e.Name == "networkIdle" && main != "" && e.FrameID == main
}

// BrowserInfo implements core.Driver.
func (d *Driver) BrowserInfo() *core.BrowserInfo {
	return &core.BrowserInfo{
		Browser:   "chrome",
		Version:   d.version,
		UserAgent: d.userAgent,
		Headless:  d.opts.Headless,
		Width:     d.opts.Width,
		Height:    d.opts.Height,
	}
}

// Close shuts the browser down. Repeated calls are no-ops.
func (d *Driver) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.sink = nil
		d.mu.Unlock()

		if cerr := chromedp.Cancel(d.tabCtx); cerr != nil && cerr != context.Canceled {
			err = cerr
		}
		d.tabCancel()
		d.allocCancel()
	})
	return err
}
