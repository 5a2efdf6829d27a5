package chrome

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// dragSteps is the number of intermediate mouse moves in a drag.
const dragSteps = 10

// smoothScrollSettle is how long a smooth scroll is given to finish.
const smoothScrollSettle = 600 * time.Millisecond

// queryOptions maps a selector onto a chromedp query.
func queryOptions(sel flow.Selector) (string, []chromedp.QueryOption) {
	switch sel.Strategy() {
	case flow.StrategyXPath:
		return sel.Query(), []chromedp.QueryOption{chromedp.BySearch}
	case flow.StrategyID:
		return sel.Query(), []chromedp.QueryOption{chromedp.ByID}
	default:
		return sel.Query(), []chromedp.QueryOption{chromedp.ByQuery}
	}
}

// ============================================================================
// Navigation
// ============================================================================

// Navigate loads url and waits for the main frame's networkIdle lifecycle
// event. A change of fragment only scrolls the current document, so it
// returns as soon as the location is updated.
func (d *Driver) Navigate(ctx context.Context, target string) error {
	var current string
	if err := d.run(ctx, chromedp.Location(&current)); err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}
	if sameDocument(current, target) {
		var href string
		if err := d.run(ctx, chromedp.Evaluate("location.href = "+jsString(target), &href)); err != nil {
			return fmt.Errorf("navigate to %s: %w", target, err)
		}
		return nil
	}

	// Drop a stale idle signal from a previous page.
	select {
	case <-d.idle:
	default:
	}

	if err := d.run(ctx, chromedp.Navigate(target)); err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}

	select {
	case <-d.idle:
		return nil
	case <-ctx.Done():
		return core.ErrNavigationTimeout.WithCause(ctx.Err())
	}
}

// sameDocument reports whether moving from current to target only changes
// the fragment.
func sameDocument(current, target string) bool {
	if !strings.Contains(target, "#") {
		return false
	}
	cu, err := url.Parse(current)
	if err != nil || cu.Scheme == "" {
		return false
	}
	tu, err := url.Parse(target)
	if err != nil {
		return false
	}
	cu.Fragment, cu.RawFragment = "", ""
	tu.Fragment, tu.RawFragment = "", ""
	return cu.String() == tu.String()
}

// ============================================================================
// Element Commands
// ============================================================================

// WaitVisible implements core.Driver.
func (d *Driver) WaitVisible(ctx context.Context, sel flow.Selector) error {
	q, opts := queryOptions(sel)
	if err := d.run(ctx, chromedp.WaitVisible(q, opts...)); err != nil {
		return fmt.Errorf("waiting for %s: %w", sel.DescribeQuoted(), err)
	}
	return nil
}

// Click implements core.Driver.
func (d *Driver) Click(ctx context.Context, sel flow.Selector) error {
	q, opts := queryOptions(sel)
	return d.run(ctx,
		chromedp.WaitVisible(q, opts...),
		chromedp.Click(q, opts...),
	)
}

// Fill clears the field and types text into it.
func (d *Driver) Fill(ctx context.Context, sel flow.Selector, text string) error {
	q, opts := queryOptions(sel)
	return d.run(ctx,
		chromedp.WaitVisible(q, opts...),
		chromedp.Clear(q, opts...),
		chromedp.SendKeys(q, text, opts...),
	)
}

// Hover moves the mouse to the element center.
func (d *Driver) Hover(ctx context.Context, sel flow.Selector) error {
	q, opts := queryOptions(sel)
	var pt point
	return d.run(ctx,
		chromedp.WaitVisible(q, opts...),
		chromedp.ScrollIntoView(q, opts...),
		d.center(sel, &pt),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.MouseEvent(input.MouseMoved, pt.X, pt.Y, chromedp.ButtonNone).Do(ctx)
		}),
	)
}

// SelectOption chooses an option by value or visible text.
func (d *Driver) SelectOption(ctx context.Context, sel flow.Selector, value string) error {
	q, opts := queryOptions(sel)
	var ok bool
	if err := d.run(ctx,
		chromedp.WaitVisible(q, opts...),
		chromedp.Evaluate(selectOptionJS(sel, value), &ok),
	); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no option %q in %s", value, sel.DescribeQuoted())
	}
	return nil
}

// SetChecked forces a checkbox or radio into the requested state.
func (d *Driver) SetChecked(ctx context.Context, sel flow.Selector, checked bool) error {
	q, opts := queryOptions(sel)
	var ok bool
	if err := d.run(ctx,
		chromedp.WaitVisible(q, opts...),
		chromedp.Evaluate(setCheckedJS(sel, checked), &ok),
	); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("could not set checked=%v on %s", checked, sel.DescribeQuoted())
	}
	return nil
}

// DragTo drags src onto dst with real mouse events, then fires HTML5 drag
// events for pages that rely on them.
func (d *Driver) DragTo(ctx context.Context, src, dst flow.Selector) error {
	sq, sopts := queryOptions(src)
	dq, dopts := queryOptions(dst)
	var from, to point
	var dropped bool

	return d.run(ctx,
		chromedp.WaitVisible(sq, sopts...),
		chromedp.WaitVisible(dq, dopts...),
		chromedp.ScrollIntoView(sq, sopts...),
		d.center(src, &from),
		d.center(dst, &to),
		chromedp.ActionFunc(func(ctx context.Context) error {
			actions := []chromedp.MouseAction{
				chromedp.MouseEvent(input.MouseMoved, from.X, from.Y, chromedp.ButtonNone),
				chromedp.MouseEvent(input.MousePressed, from.X, from.Y, chromedp.ButtonLeft),
			}
			for i := 1; i <= dragSteps; i++ {
				f := float64(i) / dragSteps
				x := from.X + (to.X-from.X)*f
				y := from.Y + (to.Y-from.Y)*f
				actions = append(actions, chromedp.MouseEvent(input.MouseMoved, x, y, chromedp.ButtonLeft))
			}
			actions = append(actions, chromedp.MouseEvent(input.MouseReleased, to.X, to.Y, chromedp.ButtonLeft))
			for _, a := range actions {
				if err := a.Do(ctx); err != nil {
					return err
				}
			}
			return nil
		}),
		chromedp.Evaluate(html5DragJS(src, dst), &dropped),
	)
}

// Highlight outlines the element for d, then restores its style.
func (d *Driver) Highlight(ctx context.Context, sel flow.Selector, dur time.Duration) error {
	var ok bool
	if err := d.run(ctx, chromedp.Evaluate(highlightJS(sel, true), &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element %s not found", sel.DescribeQuoted())
	}

	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}

	// Restore even when ctx is done so the recording does not keep the outline.
	restoreCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = d.run(restoreCtx, chromedp.Evaluate(highlightJS(sel, false), &ok))
	return ctx.Err()
}

// ============================================================================
// Page Commands
// ============================================================================

// Scroll implements core.Driver.
func (d *Driver) Scroll(ctx context.Context, x, y int, smooth bool) error {
	var ok bool
	if err := d.run(ctx, chromedp.Evaluate(scrollJS(x, y, smooth), &ok)); err != nil {
		return err
	}
	if !smooth {
		return nil
	}
	t := time.NewTimer(smoothScrollSettle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Press implements core.Driver.
func (d *Driver) Press(ctx context.Context, key string) error {
	k, err := keyFor(key)
	if err != nil {
		return err
	}
	return d.run(ctx, chromedp.KeyEvent(k))
}

// Screenshot captures the viewport, or the full page when fullPage is set.
func (d *Driver) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	var action chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// Quality 100 produces PNG.
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := d.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, nil
}

// ============================================================================
// Screencast
// ============================================================================

// StartScreencast implements core.Driver.
func (d *Driver) StartScreencast(ctx context.Context, opts core.ScreencastOptions, sink func(core.Frame)) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return core.ErrSessionClosed
	}
	if d.sink != nil {
		d.mu.Unlock()
		return errors.New("screencast already started")
	}
	d.sink = sink
	d.mu.Unlock()

	params := page.StartScreencast().WithEveryNthFrame(1)
	if opts.Format == "png" {
		params = params.WithFormat(page.ScreencastFormatPng)
	} else {
		params = params.WithFormat(page.ScreencastFormatJpeg)
		if opts.Quality > 0 {
			params = params.WithQuality(int64(opts.Quality))
		}
	}
	if opts.MaxWidth > 0 {
		params = params.WithMaxWidth(int64(opts.MaxWidth))
	}
	if opts.MaxHeight > 0 {
		params = params.WithMaxHeight(int64(opts.MaxHeight))
	}

	if err := d.run(ctx, params); err != nil {
		d.mu.Lock()
		d.sink = nil
		d.mu.Unlock()
		return fmt.Errorf("start screencast: %w", err)
	}
	return nil
}

// StopScreencast implements core.Driver. Stopping when no screencast is
// active is a no-op.
func (d *Driver) StopScreencast(ctx context.Context) error {
	d.mu.Lock()
	active := d.sink != nil
	d.sink = nil
	d.mu.Unlock()
	if !active {
		return nil
	}
	if err := d.run(ctx, page.StopScreencast()); err != nil {
		return fmt.Errorf("stop screencast: %w", err)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

type point struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

func (d *Driver) center(sel flow.Selector, pt *point) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := chromedp.Evaluate(centerJS(sel), pt).Do(ctx); err != nil {
			return err
		}
		if !pt.Found {
			return fmt.Errorf("element %s not found", sel.DescribeQuoted())
		}
		return nil
	})
}
