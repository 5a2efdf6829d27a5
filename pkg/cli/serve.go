package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/screencast-runner/pkg/api"
	"github.com/devicelab-dev/screencast-runner/pkg/executor"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
	"github.com/devicelab-dev/screencast-runner/pkg/report"
	"github.com/devicelab-dev/screencast-runner/pkg/store"
)

const shutdownTimeout = 30 * time.Second

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the HTTP API",
	Description: `Serve the flow repository and recording endpoints over HTTP.

Examples:
  screencast-runner serve
  screencast-runner serve --port 9000 --max-concurrent 4
  FLOW_STORE=redis REDIS_URL=redis://localhost:6379/0 screencast-runner serve`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "port",
			Usage: "Listen port (overrides PORT)",
		},
		&cli.IntFlag{
			Name:  "max-concurrent",
			Usage: "Maximum simultaneous recordings (overrides MAX_CONCURRENT_RECORDINGS)",
		},
	},
	Action: runServe,
}

func runServe(c *cli.Context) error {
	settings, err := loadConfig(c)
	if err != nil {
		return err
	}
	launcher, err := newLauncher(c.String("driver"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	flows, err := store.New(ctx, settings.Store)
	if err != nil {
		return fmt.Errorf("failed to open flow store: %w", err)
	}
	defer flows.Close()

	if err := os.MkdirAll(settings.Recording.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	index, err := report.OpenIndex(settings.Recording.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to open recordings index: %w", err)
	}
	index.SetHTML(true)

	server := api.NewServer(settings, api.Deps{
		Flows:     flows,
		Index:     index,
		Optimizer: newPipeline(settings),
		NewRecorder: func() *executor.Recorder {
			return executor.NewFromConfig(settings, launcher, index)
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
