// Package cli provides the command-line interface for screencast-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/screencast-runner/pkg/config"
	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/driver/chrome"
	"github.com/devicelab-dev/screencast-runner/pkg/driver/mock"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to config.yaml (default: ./config.yaml if present)",
		EnvVars: []string{"SCREENCAST_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "env-file",
		Usage: "Load variables from this .env file",
		Value: ".env",
	},
	&cli.StringFlag{
		Name:    "driver",
		Aliases: []string{"d"},
		Usage:   "Browser driver to use (chrome, mock)",
		Value:   "chrome",
		EnvVars: []string{"SCREENCAST_DRIVER"},
	},
	&cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output directory for recordings (overrides OUTPUT_DIR)",
	},
	&cli.BoolFlag{
		Name:  "headless",
		Usage: "Run the browser headless (overrides HEADLESS_MODE)",
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"SCREENCAST_VERBOSE"},
	},
	&cli.StringFlag{
		Name:  "log-file",
		Usage: "Also write logs to this file",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Usage: "Write logs as JSON",
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "screencast-runner",
		Usage:   "Record browser flows as WebM videos and GIFs",
		Version: Version,
		Description: `Screencast Runner drives a browser through a flow of interactions,
captures the page as a video and encodes it into an optimized GIF.

Examples:
  screencast-runner record demo.yaml
  screencast-runner record flows/ -e USER=demo --parallel 2
  screencast-runner validate flows/
  screencast-runner optimize recordings/demo.gif --colors 64
  screencast-runner serve`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		After: func(c *cli.Context) error {
			logger.Close()
			return nil
		},
		Commands: []*cli.Command{
			recordCommand,
			validateCommand,
			optimizeCommand,
			infoCommand,
			serveCommand,
			flowsCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the configuration from defaults, the .env file, the YAML
// config, the environment and finally command-line flags, then sets up
// logging from the result.
func loadConfig(c *cli.Context) (config.Config, error) {
	if err := config.LoadDotEnv(c.String("env-file")); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	var err error
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path, cfg)
	} else {
		cfg, err = config.LoadFromDir(".", cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg, err = config.FromEnv(cfg, os.LookupEnv); err != nil {
		return cfg, fmt.Errorf("invalid environment: %w", err)
	}

	applyFlags(c, &cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := setupLogging(cfg.Log); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyFlags copies explicitly set flags over cfg. Flags that the running
// command does not define are never set.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("output") {
		cfg.Recording.OutputDir = c.String("output")
	}
	if c.IsSet("headless") {
		cfg.Browser.Headless = c.Bool("headless")
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	if c.IsSet("log-file") {
		cfg.Log.File = c.String("log-file")
	}
	if c.IsSet("log-json") {
		cfg.Log.JSON = c.Bool("log-json")
	}

	// record
	if c.IsSet("quality") {
		cfg.Gif.Quality = c.String("quality")
	}
	if c.IsSet("fps") {
		cfg.Gif.FPS = c.Int("fps")
	}
	if c.IsSet("scale") {
		cfg.Gif.Scale = c.String("scale")
	}
	if c.IsSet("step-delay") {
		cfg.Recording.StepDelayMs = c.Int("step-delay")
	}

	// serve
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.IsSet("max-concurrent") {
		cfg.Server.MaxConcurrent = c.Int("max-concurrent")
	}
}

func setupLogging(lc config.LogConfig) error {
	if err := logger.SetLevel(lc.Level); err != nil {
		return err
	}
	logger.SetJSON(lc.JSON)
	if lc.File != "" {
		if err := logger.Init(lc.File); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
	}
	return nil
}

// newLauncher returns the browser launcher for the --driver flag.
func newLauncher(name string) (core.Launcher, error) {
	switch name {
	case "", "chrome", "chromium":
		return chrome.Launcher{}, nil
	case "mock":
		return &mock.Launcher{}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q (use chrome or mock)", name)
	}
}
