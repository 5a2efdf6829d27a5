package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/capture"
	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/driver/mock"
	"github.com/devicelab-dev/screencast-runner/pkg/encoder"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
	"github.com/devicelab-dev/screencast-runner/pkg/interpreter"
	"github.com/devicelab-dev/screencast-runner/pkg/session"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeCapturer struct {
	source   capture.FrameSource
	startErr error
	stopErr  error

	path    string
	stopped bool
	aborted bool
}

func (c *fakeCapturer) Start(ctx context.Context, out string) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.path = out
	if err := os.WriteFile(out, []byte("webm"), 0o644); err != nil {
		return err
	}
	return c.source.StartScreencast(ctx, core.ScreencastOptions{Format: "jpeg"}, func(core.Frame) {})
}

func (c *fakeCapturer) Stop(ctx context.Context) (*capture.Stats, error) {
	c.stopped = true
	if err := c.source.StopScreencast(ctx); err != nil {
		return nil, err
	}
	if c.stopErr != nil {
		return nil, c.stopErr
	}
	info, err := os.Stat(c.path)
	if err != nil {
		return nil, err
	}
	return &capture.Stats{Path: c.path, Size: info.Size()}, nil
}

func (c *fakeCapturer) Abort() {
	c.aborted = true
	_ = c.source.StopScreencast(context.Background())
}

type fakeTranscoder struct {
	err  error
	opts []encoder.Options
}

func (f *fakeTranscoder) Transcode(ctx context.Context, video, out string, opts encoder.Options) (*encoder.Result, error) {
	f.opts = append(f.opts, opts)
	if f.err != nil {
		// A failing encoder may leave a partial file behind.
		_ = os.WriteFile(out, []byte("partial"), 0o644)
		return nil, f.err
	}
	if err := os.WriteFile(out, []byte("GIF89a"), 0o644); err != nil {
		return nil, err
	}
	tier, _ := encoder.TierFor(opts.Quality)
	return &encoder.Result{Path: out, Size: 6, Tier: tier}, nil
}

type memIndex struct {
	mu      sync.Mutex
	results []*core.RecordingResult
}

func (m *memIndex) Append(r *core.RecordingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

func (m *memIndex) all() []*core.RecordingResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*core.RecordingResult(nil), m.results...)
}

type harness struct {
	dir      string
	launcher *mock.Launcher
	enc      *fakeTranscoder
	index    *memIndex
	rec      *Recorder

	mu       sync.Mutex
	captures []*fakeCapturer
	delays   []time.Duration
	phases   []core.Phase
	steps    []core.StepResult
}

func newHarness(t *testing.T, driverCfg mock.Config) *harness {
	t.Helper()
	h := &harness{
		dir:      t.TempDir(),
		launcher: &mock.Launcher{Config: driverCfg},
		enc:      &fakeTranscoder{},
		index:    &memIndex{},
	}
	sessions := session.NewManager(h.launcher, core.LaunchOptions{Headless: true, Width: 1280, Height: 720})
	h.rec = New(sessions, h.enc, Config{
		OutputDir:        h.dir,
		Width:            1280,
		Height:           720,
		DefaultStepDelay: time.Second,
		NavigationSettle: 2 * time.Second,
		TrailingSettle:   2 * time.Second,
		Steps: interpreter.Config{
			LocatorTimeout:    100 * time.Millisecond,
			NavigationTimeout: 200 * time.Millisecond,
		},
		Index: h.index,
		OnPhase: func(_ string, p core.Phase) {
			h.mu.Lock()
			h.phases = append(h.phases, p)
			h.mu.Unlock()
		},
		OnStep: func(_ string, r core.StepResult) {
			h.mu.Lock()
			h.steps = append(h.steps, r)
			h.mu.Unlock()
		},
	})
	h.rec.NewCapturer = func(source capture.FrameSource, _ capture.Config) Capturer {
		c := &fakeCapturer{source: source}
		h.mu.Lock()
		h.captures = append(h.captures, c)
		h.mu.Unlock()
		return c
	}
	h.rec.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.delays = append(h.delays, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	return h
}

func (h *harness) driver(t *testing.T) *mock.Driver {
	t.Helper()
	launched := h.launcher.Launched()
	if len(launched) == 0 {
		t.Fatal("no driver launched")
	}
	return launched[len(launched)-1]
}

func (h *harness) capture(t *testing.T) *fakeCapturer {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.captures) == 0 {
		t.Fatal("no capture started")
	}
	return h.captures[len(h.captures)-1]
}

func intPtr(n int) *int { return &n }

func sampleFlow() *flow.Flow {
	return &flow.Flow{
		ID:      "t1",
		Name:    "Checkout demo",
		BaseURL: "http://host/start",
		Steps: []flow.Step{
			{RawAction: "wait", Value: flow.IntValue(20)},
			{RawAction: "click", Selector: "#a"},
			{RawAction: "type", Selector: "#b", Value: flow.NewValue("hello")},
		},
		Options: &flow.Options{Gif: &flow.GifOptions{FPS: 12, Scale: "1000:-1", Quality: "high"}},
	}
}

// ============================================================================
// Run
// ============================================================================

func TestRunCompletes(t *testing.T) {
	h := newHarness(t, mock.Config{})

	result, err := h.rec.Run(context.Background(), sampleFlow())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != core.RecordingCompleted {
		t.Errorf("Status = %s, want completed", result.Status)
	}
	if result.ID == "" || result.FlowID != "t1" || result.Name != "Checkout demo" {
		t.Errorf("identity = %q/%q/%q", result.ID, result.FlowID, result.Name)
	}
	if !strings.HasSuffix(result.VideoPath, ".webm") || !strings.HasPrefix(filepath.Base(result.VideoPath), "checkout_demo_") {
		t.Errorf("VideoPath = %q", result.VideoPath)
	}
	if !strings.HasSuffix(result.GifPath, ".gif") {
		t.Errorf("GifPath = %q", result.GifPath)
	}
	if result.StepsExecuted != 3 || result.StepsSkipped != 0 {
		t.Errorf("steps executed/skipped = %d/%d, want 3/0", result.StepsExecuted, result.StepsSkipped)
	}
	if result.EndTime == nil || result.VideoSize == 0 || result.GifSize == 0 {
		t.Errorf("end time and sizes not recorded: %+v", result)
	}

	// Flow gif options are merged over the defaults and select the high tier.
	if len(h.enc.opts) != 1 {
		t.Fatalf("Transcode called %d times, want 1", len(h.enc.opts))
	}
	opts := h.enc.opts[0]
	if opts.FPS != 12 || opts.Scale != "1000:-1" || opts.Quality != encoder.QualityHigh {
		t.Errorf("transcode options = %+v", opts)
	}
	tier, _ := encoder.TierFor(opts.Quality)
	if tier.Colors != 256 || tier.Dither != "floyd_steinberg" {
		t.Errorf("tier = %+v, want 256 colors with floyd_steinberg", tier)
	}

	// Run-owned session is released.
	if closed, _ := h.driver(t).Closed(); !closed {
		t.Error("run-owned session not released")
	}
	if st := h.rec.Status(); st.SessionOpen || st.Recording {
		t.Errorf("Status() after run = %+v", st)
	}

	if got := h.index.all(); len(got) != 1 || got[0].Status != core.RecordingCompleted {
		t.Errorf("index = %+v", got)
	}
}

func TestRunOrdering(t *testing.T) {
	h := newHarness(t, mock.Config{})

	if _, err := h.rec.Run(context.Background(), sampleFlow()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"startScreencast", "navigate", "click", "fill", "stopScreencast"}
	got := h.driver(t).Ops()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ops = %v, want %v", got, want)
	}

	calls := h.driver(t).Calls()
	if calls[1].Value != "http://host/start" {
		t.Errorf("navigated to %q", calls[1].Value)
	}
	if calls[3].Value != "hello" {
		t.Errorf("typed %q", calls[3].Value)
	}
	for i := 1; i < len(calls); i++ {
		if calls[i].At.Before(calls[i-1].At) {
			t.Errorf("call %d (%s) started before call %d (%s)", i, calls[i].Op, i-1, calls[i-1].Op)
		}
	}

	wantPhases := []core.Phase{
		core.PhaseInitializing, core.PhaseNavigating, core.PhaseExecutingSteps,
		core.PhaseFinalizing, core.PhaseCompleted,
	}
	if len(h.phases) != len(wantPhases) {
		t.Fatalf("phases = %v, want %v", h.phases, wantPhases)
	}
	for i := range wantPhases {
		if h.phases[i] != wantPhases[i] {
			t.Errorf("phase %d = %s, want %s", i, h.phases[i], wantPhases[i])
		}
	}

	if len(h.steps) != 3 {
		t.Fatalf("OnStep called %d times, want 3", len(h.steps))
	}
	for i, s := range h.steps {
		if s.Index != i || s.Status != core.StatusPassed {
			t.Errorf("step %d = %+v", i, s)
		}
	}
}

func TestRunDelays(t *testing.T) {
	tests := []struct {
		name string
		flow func() *flow.Flow
		want []time.Duration
	}{
		{
			name: "default step delay",
			flow: sampleFlow,
			want: []time.Duration{2 * time.Second, time.Second, time.Second, time.Second, 2 * time.Second},
		},
		{
			name: "step delay overrides flow delay",
			flow: func() *flow.Flow {
				f := sampleFlow()
				f.Options.StepDelay = intPtr(300)
				f.Steps[1].Delay = intPtr(50)
				return f
			},
			want: []time.Duration{2 * time.Second, 300 * time.Millisecond, 50 * time.Millisecond, 300 * time.Millisecond, 2 * time.Second},
		},
		{
			name: "zero step delay is honored",
			flow: func() *flow.Flow {
				f := sampleFlow()
				f.Options.StepDelay = intPtr(0)
				return f
			},
			want: []time.Duration{2 * time.Second, 0, 0, 0, 2 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, mock.Config{})
			if _, err := h.rec.Run(context.Background(), tt.flow()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(h.delays) != len(tt.want) {
				t.Fatalf("delays = %v, want %v", h.delays, tt.want)
			}
			for i := range tt.want {
				if h.delays[i] != tt.want[i] {
					t.Errorf("delay %d = %s, want %s", i, h.delays[i], tt.want[i])
				}
			}
		})
	}
}

func TestRunStepFailureCleansUp(t *testing.T) {
	h := newHarness(t, mock.Config{Missing: []flow.Selector{"#missing"}})
	f := sampleFlow()
	f.Steps[1].Selector = "#missing"

	result, err := h.rec.Run(context.Background(), f)
	if err == nil {
		t.Fatal("expected error")
	}

	var stepErr *core.StepFailure
	if !errors.As(err, &stepErr) {
		t.Fatalf("error = %T %v, want *core.StepFailure", err, err)
	}
	if stepErr.Index != 1 || stepErr.Action != flow.ActionClick {
		t.Errorf("StepFailure = %+v", stepErr)
	}

	if result == nil || result.Status != core.RecordingFailed {
		t.Fatalf("result = %+v, want failed", result)
	}
	if result.Error != err.Error() || result.ErrorCategory != "step" {
		t.Errorf("error fields = %q / %q", result.Error, result.ErrorCategory)
	}
	if result.VideoPath != "" || result.GifPath != "" {
		t.Errorf("failed result exposes artifacts: %q %q", result.VideoPath, result.GifPath)
	}
	if result.StepsExecuted != 1 {
		t.Errorf("StepsExecuted = %d, want 1", result.StepsExecuted)
	}

	c := h.capture(t)
	if !c.aborted {
		t.Error("capture not aborted")
	}
	if _, err := os.Stat(c.path); !os.IsNotExist(err) {
		t.Errorf("raw video left behind: %v", err)
	}
	if len(h.enc.opts) != 0 {
		t.Error("encoder ran after a failed step")
	}

	// The failing step is never followed by another interaction.
	for _, op := range h.driver(t).Ops() {
		if op == "fill" {
			t.Error("step after the failure was executed")
		}
	}
	if closed, _ := h.driver(t).Closed(); !closed {
		t.Error("session not released after failure")
	}
	if got := h.index.all(); len(got) != 1 || got[0].Status != core.RecordingFailed {
		t.Errorf("index = %+v", got)
	}
	if h.phases[len(h.phases)-1] != core.PhaseFailed {
		t.Errorf("last phase = %s", h.phases[len(h.phases)-1])
	}
}

func TestRunUnknownActionSkipped(t *testing.T) {
	h := newHarness(t, mock.Config{})
	f := sampleFlow()
	f.Steps = []flow.Step{
		{RawAction: "teleport", Selector: "#x"},
		{RawAction: "click", Selector: "#a"},
	}

	result, err := h.rec.Run(context.Background(), f)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != core.RecordingCompleted {
		t.Errorf("Status = %s", result.Status)
	}
	if result.StepsSkipped != 1 || result.StepsExecuted != 1 {
		t.Errorf("executed/skipped = %d/%d, want 1/1", result.StepsExecuted, result.StepsSkipped)
	}
}

func TestRunNavigationTimeout(t *testing.T) {
	h := newHarness(t, mock.Config{OpDelay: 500 * time.Millisecond})

	result, err := h.rec.Run(context.Background(), sampleFlow())
	if !errors.Is(err, core.ErrNavigationTimeout) {
		t.Fatalf("error = %v, want ErrNavigationTimeout", err)
	}
	if result.Status != core.RecordingFailed || result.StepsExecuted != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRunEncodingFailure(t *testing.T) {
	h := newHarness(t, mock.Config{})
	h.enc.err = &core.EncodingFailure{Stage: core.StagePalette, Diagnostic: "boom", Err: errors.New("exit status 1")}

	result, err := h.rec.Run(context.Background(), sampleFlow())
	var encErr *core.EncodingFailure
	if !errors.As(err, &encErr) || encErr.Stage != core.StagePalette {
		t.Fatalf("error = %v, want palette EncodingFailure", err)
	}
	if result.ErrorCategory != "encoding" {
		t.Errorf("ErrorCategory = %q", result.ErrorCategory)
	}

	entries, _ := os.ReadDir(h.dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".webm") || strings.HasSuffix(e.Name(), ".gif") {
			t.Errorf("artifact left behind: %s", e.Name())
		}
	}
}

func TestRunCaptureStartFailure(t *testing.T) {
	h := newHarness(t, mock.Config{})
	h.rec.NewCapturer = func(source capture.FrameSource, _ capture.Config) Capturer {
		return &fakeCapturer{source: source, startErr: &core.EncodingFailure{Stage: core.StageCapture, Err: errors.New("no ffmpeg")}}
	}

	_, err := h.rec.Run(context.Background(), sampleFlow())
	if core.CategoryOf(err) != core.ErrCategoryEncoding {
		t.Fatalf("error = %v, want capture failure", err)
	}
	for _, op := range h.driver(t).Ops() {
		if op == "navigate" {
			t.Error("navigated without capture")
		}
	}
}

func TestRunSessionUnavailable(t *testing.T) {
	h := newHarness(t, mock.Config{})
	h.launcher.Err = errors.New("chrome not found")

	result, err := h.rec.Run(context.Background(), sampleFlow())
	if !errors.Is(err, core.ErrSessionUnavailable) {
		t.Fatalf("error = %v, want ErrSessionUnavailable", err)
	}
	if result.Status != core.RecordingFailed || result.ErrorCategory != "session" {
		t.Errorf("result = %+v", result)
	}
}

func TestRunMissingBaseURL(t *testing.T) {
	h := newHarness(t, mock.Config{})
	f := sampleFlow()
	f.BaseURL = ""

	_, err := h.rec.Run(context.Background(), f)
	if !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
	if len(h.launcher.Launched()) != 0 {
		t.Error("browser launched for an invalid flow")
	}
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, mock.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	h.rec.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	result, err := h.rec.Run(ctx, sampleFlow())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if result.Status != core.RecordingFailed {
		t.Errorf("Status = %s", result.Status)
	}
	if !h.capture(t).aborted {
		t.Error("capture not aborted on cancellation")
	}
}

func TestRunCloseDuringTrailingSettle(t *testing.T) {
	for _, warm := range []bool{false, true} {
		h := newHarness(t, mock.Config{})
		if warm {
			if err := h.rec.Initialize(context.Background()); err != nil {
				t.Fatal(err)
			}
		}
		f := sampleFlow()
		f.Steps = []flow.Step{{RawAction: "click", Selector: "#a"}}

		// Sleeps: navigation settle, step delay, trailing settle.
		sleeps := 0
		h.rec.sleep = func(ctx context.Context, d time.Duration) error {
			sleeps++
			if sleeps == 3 {
				h.rec.Close()
			}
			return ctx.Err()
		}

		result, err := h.rec.Run(context.Background(), f)
		if !errors.Is(err, core.ErrSessionClosed) {
			t.Fatalf("warm=%v: error = %v, want ErrSessionClosed", warm, err)
		}
		if result.Status != core.RecordingFailed || result.Error == "" {
			t.Errorf("warm=%v: result = %+v", warm, result)
		}
		if closed, _ := h.driver(t).Closed(); !closed {
			t.Errorf("warm=%v: driver not closed", warm)
		}
		if len(h.enc.opts) != 0 {
			t.Errorf("warm=%v: transcoded after the session was closed", warm)
		}
		if !h.capture(t).aborted {
			t.Errorf("warm=%v: capture not aborted", warm)
		}
		entries, _ := os.ReadDir(h.dir)
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".webm") || strings.HasSuffix(e.Name(), ".gif") {
				t.Errorf("warm=%v: artifact left behind: %s", warm, e.Name())
			}
		}
		if got := h.index.all(); len(got) != 1 || got[0].Status != core.RecordingFailed {
			t.Errorf("warm=%v: index = %+v", warm, got)
		}
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, mock.Config{})
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.rec.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() {
			close(entered)
			<-release
		})
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.rec.Run(context.Background(), sampleFlow())
		done <- err
	}()
	<-entered

	st := h.rec.Status()
	if !st.Recording || st.RecordingID == "" || !st.SessionOpen {
		t.Errorf("Status() during run = %+v", st)
	}

	if _, err := h.rec.Run(context.Background(), sampleFlow()); !errors.Is(err, core.ErrRecordingInProgress) {
		t.Errorf("second Run() error = %v, want ErrRecordingInProgress", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if got := len(h.index.all()); got != 1 {
		t.Errorf("index has %d entries, want 1", got)
	}
}

func TestRunExpandsVariables(t *testing.T) {
	h := newHarness(t, mock.Config{})
	f := sampleFlow()
	f.Env = map[string]string{"USER": "ann", "FIELD": "email"}
	f.BaseURL = "http://host/${USER}"
	f.Steps = []flow.Step{
		{RawAction: "type", Selector: "#$FIELD", Value: flow.NewValue("${USER + '@example.com'}")},
	}

	if _, err := h.rec.Run(context.Background(), f); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	calls := h.driver(t).Calls()
	if calls[1].Value != "http://host/ann" {
		t.Errorf("navigated to %q", calls[1].Value)
	}
	if calls[2].Selector != "#email" || calls[2].Value != "ann@example.com" {
		t.Errorf("fill = %+v", calls[2])
	}
	if f.Steps[0].Value.String() != "${USER + '@example.com'}" || f.BaseURL != "http://host/${USER}" {
		t.Error("input flow was modified")
	}
}

func TestRunScreenshotStep(t *testing.T) {
	h := newHarness(t, mock.Config{})
	f := sampleFlow()
	f.Steps = []flow.Step{{RawAction: "screenshot", Options: map[string]any{"name": "Landing Page"}}}

	result, err := h.rec.Run(context.Background(), f)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Screenshots) != 1 {
		t.Fatalf("Screenshots = %v", result.Screenshots)
	}
	if filepath.Base(result.Screenshots[0]) != "landing_page.png" {
		t.Errorf("screenshot path = %q", result.Screenshots[0])
	}
	if _, err := os.Stat(result.Screenshots[0]); err != nil {
		t.Errorf("screenshot not written: %v", err)
	}
}

// ============================================================================
// Session lifecycle
// ============================================================================

func TestInitializeReusesSession(t *testing.T) {
	h := newHarness(t, mock.Config{})
	ctx := context.Background()

	if err := h.rec.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := h.rec.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if !h.rec.Status().SessionOpen {
		t.Error("session not open after Initialize")
	}

	for i := 0; i < 2; i++ {
		if _, err := h.rec.Run(ctx, sampleFlow()); err != nil {
			t.Fatalf("Run() %d error = %v", i, err)
		}
	}

	if n := len(h.launcher.Launched()); n != 1 {
		t.Errorf("launched %d browsers, want 1", n)
	}
	d := h.driver(t)
	if closed, _ := d.Closed(); closed {
		t.Error("warm session closed by a run")
	}

	if err := h.rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := h.rec.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if closed, hits := d.Closed(); !closed || hits != 1 {
		t.Errorf("Closed() = %v, %d; want true, 1", closed, hits)
	}
	if h.rec.Status().SessionOpen {
		t.Error("session open after Close")
	}
}

func TestCloseWithoutSession(t *testing.T) {
	h := newHarness(t, mock.Config{})
	if err := h.rec.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRunNilFlow(t *testing.T) {
	h := newHarness(t, mock.Config{})
	if _, err := h.rec.Run(context.Background(), nil); !errors.Is(err, core.ErrMissingRequired) {
		t.Errorf("error = %v, want ErrMissingRequired", err)
	}
}
