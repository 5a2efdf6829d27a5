// Package executor drives a recording from start to finish: session,
// capture, navigation, steps, and GIF encoding.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/screencast-runner/pkg/capture"
	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/encoder"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
	"github.com/devicelab-dev/screencast-runner/pkg/interpreter"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
	"github.com/devicelab-dev/screencast-runner/pkg/session"
)

// Config configures a Recorder.
type Config struct {
	OutputDir string // Videos, gifs and screenshot dirs are written here

	// Capture geometry and rate
	Width          int
	Height         int
	CaptureFPS     int
	CaptureQuality int
	FFmpegPath     string

	DefaultStepDelay time.Duration // Used when neither step nor flow sets a delay
	NavigationSettle time.Duration // Pause after the initial page is idle
	TrailingSettle   time.Duration // Pause after the last step before capture stops

	Gif   encoder.Options    // Defaults the flow's gif options are merged over
	Steps interpreter.Config // Locator and navigation timeouts

	// Env holds default variables; the flow's own env wins on conflict.
	Env map[string]string

	// Index receives every finished recording, completed or failed.
	Index ResultSink

	// Live progress callbacks
	OnPhase func(recordingID string, phase core.Phase)
	OnStep  func(recordingID string, result core.StepResult)
}

// DefaultConfig returns 1920x1080 capture at 25 fps, a 1s step delay and 2s
// settle delays.
func DefaultConfig() Config {
	return Config{
		OutputDir:        "recordings",
		Width:            1920,
		Height:           1080,
		CaptureFPS:       25,
		CaptureQuality:   80,
		FFmpegPath:       "ffmpeg",
		DefaultStepDelay: time.Second,
		NavigationSettle: 2 * time.Second,
		TrailingSettle:   2 * time.Second,
		Gif:              encoder.DefaultOptions(),
		Steps:            interpreter.DefaultConfig(),
	}
}

// Capturer records the screencast of one run into a video file.
// *capture.Recorder satisfies it.
type Capturer interface {
	Start(ctx context.Context, outputPath string) error
	Stop(ctx context.Context) (*capture.Stats, error)
	Abort()
}

// CapturerFactory builds the Capturer for a run.
type CapturerFactory func(source capture.FrameSource, cfg capture.Config) Capturer

// Transcoder turns the raw video into a GIF. *encoder.Pipeline satisfies it.
type Transcoder interface {
	Transcode(ctx context.Context, videoPath, outputPath string, opts encoder.Options) (*encoder.Result, error)
}

// ResultSink persists finished recordings.
type ResultSink interface {
	Append(result *core.RecordingResult) error
}

// Recorder runs one recording at a time over a session.Manager.
type Recorder struct {
	cfg      Config
	sessions *session.Manager
	encoder  Transcoder

	// NewCapturer builds the per-run capturer. Tests replace it.
	NewCapturer CapturerFactory

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu      sync.Mutex
	current *core.RecordingSession
	warm    bool // session opened by Initialize and kept across runs
}

// New creates a Recorder. Zero-valued config fields take DefaultConfig values.
func New(sessions *session.Manager, enc Transcoder, cfg Config) *Recorder {
	def := DefaultConfig()
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.CaptureFPS <= 0 {
		cfg.CaptureFPS = def.CaptureFPS
	}
	if cfg.CaptureQuality <= 0 {
		cfg.CaptureQuality = def.CaptureQuality
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.Gif.FPS <= 0 {
		cfg.Gif.FPS = def.Gif.FPS
	}
	if cfg.Gif.Scale == "" {
		cfg.Gif.Scale = def.Gif.Scale
	}
	if cfg.Gif.Quality == "" {
		cfg.Gif.Quality = def.Gif.Quality
	}
	// The interpreter fills its own zero fields; navigation is bounded here.
	if cfg.Steps.NavigationTimeout <= 0 {
		cfg.Steps.NavigationTimeout = def.Steps.NavigationTimeout
	}

	return &Recorder{
		cfg:      cfg,
		sessions: sessions,
		encoder:  enc,
		NewCapturer: func(source capture.FrameSource, c capture.Config) Capturer {
			return capture.New(source, c)
		},
		sleep: interpreter.Sleep,
		now:   time.Now,
	}
}

// Initialize opens a browser session ahead of time. Runs reuse it until
// Close. Calling Initialize with a session already open is a no-op.
func (r *Recorder) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.warm {
		return nil
	}
	if _, err := r.sessions.Acquire(ctx); err != nil {
		return err
	}
	r.warm = true
	return nil
}

// Close releases the browser session. It is safe to call repeatedly and
// while a run is in progress, in which case that run fails.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.warm = false
	r.mu.Unlock()
	return r.sessions.Release()
}

// Status reports whether a session is open and a recording is running.
func (r *Recorder) Status() core.SessionStatus {
	st := r.sessions.Status()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		st.Recording = true
		st.RecordingID = r.current.ID
	}
	return st
}

// Run records f. It returns the recording result in both outcomes; on
// failure the error is also returned and no video or gif is left behind.
func (r *Recorder) Run(ctx context.Context, f *flow.Flow) (*core.RecordingResult, error) {
	if f == nil {
		return nil, core.ErrMissingRequired.WithMessage("flow is required")
	}

	r.mu.Lock()
	if r.current != nil {
		r.mu.Unlock()
		return nil, core.ErrRecordingInProgress
	}
	now := r.now()
	rec := core.NewRecordingSession(uuid.NewString(), f, core.NewArtifactPaths(r.cfg.OutputDir, f.DisplayName(), now), now)
	r.current = rec
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
	}()

	log := logger.WithFields(logger.Fields{"recording": rec.ID, "flow": f.ID})
	log.Infof("Recording %q (%d steps) from %s", rec.FlowName, len(f.Steps), f.BaseURL)

	err := r.record(ctx, f, rec)
	if err != nil {
		failedIn := rec.Phase
		rec.Fail(err, r.now())
		r.removeArtifacts(rec.Paths)
		r.phase(rec, core.PhaseFailed)
		log.WithField("phase", failedIn).Errorf("Recording failed: %v", err)
	} else {
		rec.Complete(r.now())
		r.phase(rec, core.PhaseCompleted)
		log.Infof("Recording completed in %s: %s (%d bytes)", rec.Duration(r.now()).Round(time.Millisecond), rec.Paths.Gif, rec.GifSize)
	}

	result := rec.Result()
	if r.cfg.Index != nil {
		if ierr := r.cfg.Index.Append(result); ierr != nil {
			log.Warnf("Failed to update recordings index: %v", ierr)
		}
	}
	return result, err
}

// record performs the run. Any error it returns fails the recording.
func (r *Recorder) record(ctx context.Context, f *flow.Flow, rec *core.RecordingSession) error {
	r.phase(rec, core.PhaseInitializing)
	if f.BaseURL == "" {
		return core.ErrInvalidConfig.WithMessage("flow has no baseUrl")
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	driver, owned, err := r.session(ctx)
	if err != nil {
		return err
	}
	if owned {
		defer r.sessions.Release()
	}
	r.sessions.MarkRecording(rec.ID)
	defer r.sessions.ClearRecording()

	// Capture starts before navigation so the first page load is recorded.
	capturer := r.NewCapturer(driver, capture.Config{
		FFmpegPath: r.cfg.FFmpegPath,
		FPS:        r.cfg.CaptureFPS,
		Quality:    r.cfg.CaptureQuality,
		Width:      r.cfg.Width,
		Height:     r.cfg.Height,
	})
	if err := capturer.Start(ctx, rec.Paths.Video); err != nil {
		return err
	}
	stopped := false
	defer func() {
		if !stopped {
			capturer.Abort()
		}
	}()

	se := NewScriptEngine(r.cfg.Env)
	se.SetVariables(f.Env)
	expanded := se.ExpandFlow(f)

	stepCfg := r.cfg.Steps
	stepCfg.BaseURL = expanded.BaseURL
	stepCfg.ScreenshotDir = rec.Paths.ScreenshotDir
	interp := interpreter.New(driver, stepCfg)

	r.phase(rec, core.PhaseNavigating)
	if err := r.navigate(ctx, driver, expanded.BaseURL); err != nil {
		return err
	}
	if err := r.sleep(ctx, r.cfg.NavigationSettle); err != nil {
		return err
	}

	r.phase(rec, core.PhaseExecutingSteps)
	for i := range expanded.Steps {
		step := &expanded.Steps[i]
		start := r.now()
		result := interp.Execute(ctx, i, step)

		sr := core.StepResult{
			Index:       i,
			Action:      step.Action(),
			Description: step.Describe(),
			Status:      core.StatusPassed,
			StartTime:   start,
			Duration:    result.Duration,
			Message:     result.Message,
		}
		if !step.Action().Known() {
			sr.Status = core.StatusSkipped
		}
		if a, ok := result.Data.(core.Attachment); ok {
			sr.Attachments = append(sr.Attachments, a)
		}
		if !result.Success {
			sr.Status = core.StatusFailed
			sr.Error = result.Error.Error()
		}
		rec.AddStep(sr)
		if r.cfg.OnStep != nil {
			r.cfg.OnStep(rec.ID, sr)
		}

		if !result.Success {
			return result.Error
		}
		if err := r.sleep(ctx, r.stepDelay(expanded, step)); err != nil {
			return err
		}
	}

	r.phase(rec, core.PhaseFinalizing)
	if err := r.sleep(ctx, r.cfg.TrailingSettle); err != nil {
		return err
	}
	if err := r.checkSession(rec); err != nil {
		return err
	}

	stopped = true
	stats, err := capturer.Stop(ctx)
	if err != nil {
		return err
	}
	rec.VideoSize = stats.Size

	// The browser is not needed for encoding.
	if owned {
		r.sessions.ClearRecording()
		r.sessions.Release()
	}

	if err := r.checkSession(rec); err != nil {
		return err
	}

	opts := r.cfg.Gif.Merge(f.GifOptions())
	encoded, err := r.encoder.Transcode(ctx, rec.Paths.Video, rec.Paths.Gif, opts)
	if err != nil {
		return err
	}
	rec.GifSize = encoded.Size
	return nil
}

// checkSession fails the run when Close released the session under it.
func (r *Recorder) checkSession(rec *core.RecordingSession) error {
	if r.sessions.Interrupted(rec.ID) {
		return core.ErrSessionClosed.WithMessage("browser session was closed during the recording")
	}
	return nil
}

// session returns the warm session, or acquires one owned by this run.
func (r *Recorder) session(ctx context.Context) (d core.Driver, owned bool, err error) {
	r.mu.Lock()
	warm := r.warm
	r.mu.Unlock()

	if warm {
		if d := r.sessions.Driver(); d != nil {
			return d, false, nil
		}
	}
	d, err = r.sessions.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

func (r *Recorder) navigate(ctx context.Context, driver core.Driver, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, r.cfg.Steps.NavigationTimeout)
	defer cancel()

	err := driver.Navigate(navCtx, url)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, core.ErrNavigationTimeout), errors.Is(navCtx.Err(), context.DeadlineExceeded):
		return core.ErrNavigationTimeout.WithMessage(fmt.Sprintf("%s did not reach network idle within %s", url, r.cfg.Steps.NavigationTimeout)).WithCause(err)
	default:
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
}

// stepDelay resolves step.delay, then flow stepDelay, then the default.
func (r *Recorder) stepDelay(f *flow.Flow, step *flow.Step) time.Duration {
	if step.Delay != nil {
		return time.Duration(*step.Delay) * time.Millisecond
	}
	if d := f.StepDelay(); d != nil {
		return time.Duration(*d) * time.Millisecond
	}
	return r.cfg.DefaultStepDelay
}

func (r *Recorder) phase(rec *core.RecordingSession, p core.Phase) {
	rec.Phase = p
	logger.Debug("Recording %s: %s", rec.ID, p)
	if r.cfg.OnPhase != nil {
		r.cfg.OnPhase(rec.ID, p)
	}
}

func (r *Recorder) removeArtifacts(paths core.ArtifactPaths) {
	for _, p := range []string{paths.Video, paths.Gif} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove %s: %v", p, err)
		}
	}
}
