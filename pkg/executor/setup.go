package executor

import (
	"github.com/devicelab-dev/screencast-runner/pkg/config"
	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/encoder"
	"github.com/devicelab-dev/screencast-runner/pkg/interpreter"
	"github.com/devicelab-dev/screencast-runner/pkg/session"
)

// ConfigFrom maps the application configuration onto a recorder Config.
func ConfigFrom(c config.Config) Config {
	steps := interpreter.DefaultConfig()
	steps.LocatorTimeout = c.LocatorTimeout()
	steps.NavigationTimeout = c.NavigationTimeout()

	return Config{
		OutputDir:        c.Recording.OutputDir,
		Width:            c.Browser.Width,
		Height:           c.Browser.Height,
		CaptureFPS:       c.Recording.CaptureFPS,
		FFmpegPath:       c.Tools.FFmpegPath,
		DefaultStepDelay: c.StepDelay(),
		NavigationSettle: c.NavigationSettle(),
		TrailingSettle:   c.TrailingSettle(),
		Gif:              c.GifOptions(),
		Steps:            steps,
		Env:              c.Env,
	}
}

// LaunchOptionsFrom maps the browser section onto launch options.
func LaunchOptionsFrom(c config.Config) core.LaunchOptions {
	return core.LaunchOptions{
		Headless:    c.Browser.Headless,
		Width:       c.Browser.Width,
		Height:      c.Browser.Height,
		UserAgent:   c.Browser.UserAgent,
		NoSandbox:   c.Browser.NoSandbox,
		ExecPath:    c.Browser.ChromePath,
		PageLogging: c.Browser.PageLogging,
	}
}

// NewFromConfig builds a Recorder with its own browser session and an ffmpeg
// encoding pipeline. index may be nil.
func NewFromConfig(c config.Config, launcher core.Launcher, index ResultSink) *Recorder {
	cfg := ConfigFrom(c)
	cfg.Index = index
	sessions := session.NewManager(launcher, LaunchOptionsFrom(c))
	return New(sessions, encoder.New(c.Tools.FFmpegPath, c.Tools.FFprobePath), cfg)
}
