// Package capture turns a driver's screencast frames into a video file by
// piping them at a fixed frame rate into ffmpeg.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
)

// FrameSource produces screencast frames. core.Driver satisfies it.
type FrameSource interface {
	StartScreencast(ctx context.Context, opts core.ScreencastOptions, sink func(core.Frame)) error
	StopScreencast(ctx context.Context) error
}

// Config controls capture.
type Config struct {
	FFmpegPath string
	FPS        int // Output frame rate; the latest frame is repeated to fill gaps
	Quality    int // JPEG quality requested from the browser
	Width      int
	Height     int
}

// Stats summarizes a finished capture.
type Stats struct {
	Path     string
	Frames   int // Frames written to ffmpeg
	Received int // Frames received from the browser
	Size     int64
	Duration time.Duration
}

// CommandFunc builds the encoder process. Tests replace it.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Recorder captures one video at a time.
type Recorder struct {
	cfg     Config
	source  FrameSource
	Command CommandFunc

	mu       sync.Mutex
	latest   []byte
	received int
	written  int

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	output  bytes.Buffer
	path    string
	started time.Time
	stop    chan struct{}
	pumped  chan struct{}
	active  bool
}

// New creates a Recorder reading frames from source.
func New(source FrameSource, cfg Config) *Recorder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 25
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 80
	}
	return &Recorder{cfg: cfg, source: source, Command: exec.CommandContext}
}

// Args returns the ffmpeg arguments used to write outputPath.
func (r *Recorder) Args(outputPath string) []string {
	return []string{
		"-y", "-loglevel", "error",
		"-f", "image2pipe", "-c:v", "mjpeg", "-framerate", strconv.Itoa(r.cfg.FPS), "-i", "-",
		"-c:v", "libvpx", "-b:v", "2M", "-pix_fmt", "yuv420p", "-deadline", "realtime",
		outputPath,
	}
}

// Start launches ffmpeg and begins streaming frames into it.
func (r *Recorder) Start(ctx context.Context, outputPath string) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return errors.New("capture already running")
	}
	r.mu.Unlock()

	cmd := r.Command(ctx, r.cfg.FFmpegPath, r.Args(outputPath)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &core.EncodingFailure{Stage: core.StageCapture, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	r.mu.Lock()
	r.output.Reset()
	r.latest = nil
	r.received = 0
	r.written = 0
	r.mu.Unlock()
	cmd.Stdout = &r.output
	cmd.Stderr = &r.output

	if err := cmd.Start(); err != nil {
		return &core.EncodingFailure{Stage: core.StageCapture, Err: fmt.Errorf("start ffmpeg: %w", err)}
	}

	opts := core.ScreencastOptions{Format: "jpeg", Quality: r.cfg.Quality, MaxWidth: r.cfg.Width, MaxHeight: r.cfg.Height}
	if err := r.source.StartScreencast(ctx, opts, r.onFrame); err != nil {
		stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return &core.EncodingFailure{Stage: core.StageCapture, Err: fmt.Errorf("start screencast: %w", err)}
	}

	r.mu.Lock()
	r.cmd = cmd
	r.stdin = stdin
	r.path = outputPath
	r.started = time.Now()
	r.stop = make(chan struct{})
	r.pumped = make(chan struct{})
	r.active = true
	r.mu.Unlock()

	go r.pump(r.stop, r.pumped)
	logger.Debug("Capture started: %s at %d fps", outputPath, r.cfg.FPS)
	return nil
}

func (r *Recorder) onFrame(f core.Frame) {
	r.mu.Lock()
	r.latest = f.Data
	r.received++
	r.mu.Unlock()
}

// pump writes the most recent frame on every tick so the video plays back
// at wall-clock speed even when the page is static.
func (r *Recorder) pump(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(time.Second / time.Duration(r.cfg.FPS))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			r.writeLatest()
			return
		case <-ticker.C:
			if err := r.writeLatest(); err != nil {
				logger.Warn("Capture write failed: %v", err)
				return
			}
		}
	}
}

func (r *Recorder) writeLatest() error {
	r.mu.Lock()
	frame := r.latest
	stdin := r.stdin
	r.mu.Unlock()
	if frame == nil || stdin == nil {
		return nil
	}
	if _, err := stdin.Write(frame); err != nil {
		return err
	}
	r.mu.Lock()
	r.written++
	r.mu.Unlock()
	return nil
}

// Stop ends the screencast, flushes ffmpeg and returns the video stats.
func (r *Recorder) Stop(ctx context.Context) (*Stats, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return nil, errors.New("capture not running")
	}
	r.active = false
	cmd, stdin, stop, pumped := r.cmd, r.stdin, r.stop, r.pumped
	r.mu.Unlock()

	if err := r.source.StopScreencast(ctx); err != nil {
		logger.Warn("Failed to stop screencast: %v", err)
	}
	close(stop)
	<-pumped

	stdin.Close()
	waitErr := cmd.Wait()

	r.mu.Lock()
	stats := &Stats{Path: r.path, Frames: r.written, Received: r.received, Duration: time.Since(r.started)}
	diag := r.output.String()
	r.stdin = nil
	r.mu.Unlock()

	if waitErr != nil {
		return nil, &core.EncodingFailure{Stage: core.StageCapture, Diagnostic: diag, Err: waitErr}
	}
	if stats.Frames == 0 {
		return nil, &core.EncodingFailure{Stage: core.StageCapture, Diagnostic: diag, Err: errors.New("no frames captured")}
	}
	info, err := os.Stat(stats.Path)
	if err != nil || info.Size() == 0 {
		return nil, &core.EncodingFailure{Stage: core.StageCapture, Diagnostic: diag, Err: fmt.Errorf("video %s missing or empty", stats.Path)}
	}
	stats.Size = info.Size()

	logger.Debug("Capture stopped: %d frames written, %d received, %d bytes", stats.Frames, stats.Received, stats.Size)
	return stats, nil
}

// Abort stops the capture without waiting for a usable video. Safe to call
// when nothing is running.
func (r *Recorder) Abort() {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	r.active = false
	cmd, stdin, stop, pumped := r.cmd, r.stdin, r.stop, r.pumped
	r.stdin = nil
	r.mu.Unlock()

	_ = r.source.StopScreencast(context.Background())
	close(stop)
	<-pumped
	stdin.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	_ = cmd.Wait()
}

// Active reports whether a capture is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
