package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/screencast-runner/pkg/config"
	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/encoder"
	"github.com/devicelab-dev/screencast-runner/pkg/executor"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
	"github.com/devicelab-dev/screencast-runner/pkg/report"
	"github.com/devicelab-dev/screencast-runner/pkg/session"
	"github.com/devicelab-dev/screencast-runner/pkg/validator"
)

var recordCommand = &cli.Command{
	Name:      "record",
	Usage:     "Record flows as WebM videos and GIFs",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Record one or more flow files. Each flow gets its own browser; the
video, the GIF and any screenshots are written to the output directory and
every result is appended to recordings.json there.

Examples:
  screencast-runner record demo.yaml
  screencast-runner record flows/ -e USER=demo -e PASS=secret
  screencast-runner record flows/ --parallel 3 --quality high
  screencast-runner --output ./out --headless=false record demo.json`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Variables for flow expansion (KEY=VALUE)",
		},
		&cli.IntFlag{
			Name:  "parallel",
			Usage: "Record up to N flows at once, each in its own browser",
			Value: 1,
		},
		&cli.BoolFlag{
			Name:  "stop-on-fail",
			Usage: "Do not start further flows after a failure",
		},
		&cli.StringFlag{
			Name:  "quality",
			Usage: "GIF quality tier (low, medium, high)",
		},
		&cli.IntFlag{
			Name:  "fps",
			Usage: "GIF frame rate",
		},
		&cli.StringFlag{
			Name:  "scale",
			Usage: "GIF scale filter, e.g. 800:-1",
		},
		&cli.IntFlag{
			Name:  "step-delay",
			Usage: "Default delay between steps in ms",
		},
		&cli.BoolFlag{
			Name:  "no-html",
			Usage: "Do not write the recordings.html gallery",
		},
	},
	Action: runRecord,
}

// RecordConfig holds everything a record run needs.
type RecordConfig struct {
	FlowPaths  []string
	Env        map[string]string // From -e, wins over flow env
	Parallel   int
	StopOnFail bool
	Driver     string
	HTML       bool
	Settings   config.Config
}

// recorderFactory builds the recorder for one worker.
var recorderFactory = func(settings config.Config, launcher core.Launcher, rc executor.Config) *executor.Recorder {
	sessions := session.NewManager(launcher, executor.LaunchOptionsFrom(settings))
	return executor.New(sessions, encoder.New(settings.Tools.FFmpegPath, settings.Tools.FFprobePath), rc)
}

func runRecord(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	settings, err := loadConfig(c)
	if err != nil {
		return err
	}

	printBanner()

	cfg := &RecordConfig{
		FlowPaths:  c.Args().Slice(),
		Env:        parseEnvVars(c.StringSlice("env")),
		Parallel:   c.Int("parallel"),
		StopOnFail: c.Bool("stop-on-fail"),
		Driver:     c.String("driver"),
		HTML:       !c.Bool("no-html"),
		Settings:   settings,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeRecord(ctx, cfg)
}

func executeRecord(ctx context.Context, cfg *RecordConfig) error {
	flows, err := collectFlows(cfg.FlowPaths)
	if err != nil {
		return err
	}
	if len(flows) == 0 {
		return fmt.Errorf("no flows found in %v", cfg.FlowPaths)
	}
	applyEnv(flows, cfg.Env)

	launcher, err := newLauncher(cfg.Driver)
	if err != nil {
		return err
	}

	outputDir := cfg.Settings.Recording.OutputDir
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	index, err := report.OpenIndex(outputDir)
	if err != nil {
		return fmt.Errorf("failed to open recordings index: %w", err)
	}
	index.SetHTML(cfg.HTML)

	workers := cfg.Parallel
	if workers < 1 {
		workers = 1
	}
	if workers > len(flows) {
		workers = len(flows)
	}

	recorders := make([]*executor.Recorder, workers)
	for i := range recorders {
		rc := executor.ConfigFrom(cfg.Settings)
		rc.Index = index
		// Step lines from parallel workers would interleave.
		if workers == 1 {
			rc.OnStep = func(_ string, r core.StepResult) { onStepComplete(r) }
		}
		recorders[i] = recorderFactory(cfg.Settings, launcher, rc)
	}
	defer func() {
		for _, r := range recorders {
			if err := r.Close(); err != nil {
				logger.Warn("Failed to close browser: %v", err)
			}
		}
	}()

	logger.Info("Recording %d flow(s) with %d worker(s) into %s", len(flows), workers, outputDir)

	pool := executor.NewPool(recorders, cfg.StopOnFail)
	pool.OnFlowStart = onFlowStart
	pool.OnFlowEnd = func(_ int, f *flow.Flow, result *core.RecordingResult, err error) {
		onFlowEnd(f, result, err)
	}

	result, runErr := pool.Run(ctx, flows)
	if result != nil {
		printSummary(result)
		fmt.Printf("\n  Recordings index: %s\n", filepath.Join(outputDir, report.IndexFile))
	}
	if runErr != nil {
		return fmt.Errorf("recording interrupted: %w", runErr)
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d recordings failed", result.Failed, result.Total)
	}
	return nil
}

// collectFlows parses and validates every path, printing all problems
// before giving up.
func collectFlows(paths []string) ([]*flow.Flow, error) {
	v := validator.New()
	var flows []*flow.Flow
	var errs []error

	for _, path := range paths {
		result := v.Validate(path)
		for _, w := range result.Warnings {
			fmt.Printf("  %s⚠%s %s\n", color(colorYellow), color(colorReset), w)
		}
		errs = append(errs, result.Errors...)
		flows = append(flows, result.Flows...)
	}

	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Printf("  %s✗%s %v\n", color(colorRed), color(colorReset), err)
		}
		return nil, fmt.Errorf("validation failed with %d error(s)", len(errs))
	}
	return flows, nil
}

// applyEnv layers vars over each flow's own env.
func applyEnv(flows []*flow.Flow, vars map[string]string) {
	if len(vars) == 0 {
		return
	}
	for _, f := range flows {
		merged := make(map[string]string, len(f.Env)+len(vars))
		for k, v := range f.Env {
			merged[k] = v
		}
		for k, v := range vars {
			merged[k] = v
		}
		f.Env = merged
	}
}
