package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/screencast-runner/pkg/config"
	"github.com/devicelab-dev/screencast-runner/pkg/encoder"
)

var optimizeCommand = &cli.Command{
	Name:      "optimize",
	Usage:     "Re-quantize a GIF with fewer colors",
	ArgsUsage: "<gif>",
	Description: `Write a smaller copy of a GIF next to it, named <name>_opt<colors>.gif
unless --dest is given. The input is left untouched.

Examples:
  screencast-runner optimize recordings/demo.gif
  screencast-runner optimize demo.gif --colors 64 --dither bayer`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "colors",
			Usage: "Palette size (2-256)",
			Value: encoder.DefaultOptimizeColors,
		},
		&cli.StringFlag{
			Name:  "dither",
			Usage: "Dither mode (floyd_steinberg, sierra2_4a, bayer, none)",
			Value: encoder.DefaultDither,
		},
		&cli.StringFlag{
			Name:  "dest",
			Usage: "Output path",
		},
	},
	Action: runOptimize,
}

var infoCommand = &cli.Command{
	Name:      "info",
	Usage:     "Show duration, size and dimensions of a video or GIF",
	ArgsUsage: "<file>",
	Action:    runInfo,
}

// newPipeline builds the ffmpeg pipeline for the standalone media commands.
var newPipeline = func(settings config.Config) *encoder.Pipeline {
	return encoder.New(settings.Tools.FFmpegPath, settings.Tools.FFprobePath)
}

func runOptimize(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one gif is required")
	}
	input := c.Args().First()
	before, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", input, err)
	}

	settings, err := loadConfig(c)
	if err != nil {
		return err
	}

	colors := c.Int("colors")
	dest := c.String("dest")
	if dest == "" {
		dest = encoder.OptimizedPath(input, colors)
	}

	result, err := newPipeline(settings).Optimize(c.Context, input, dest, colors, c.String("dither"))
	if err != nil {
		return err
	}

	saved := float64(0)
	if before.Size() > 0 {
		saved = 100 * (1 - float64(result.Size)/float64(before.Size()))
	}
	fmt.Printf("  %s✓%s %s\n", color(colorGreen), color(colorReset), result.Path)
	fmt.Printf("    %s → %s %s(%.0f%% smaller, %d colors, %s)%s\n",
		formatBytes(before.Size()), formatBytes(result.Size),
		color(colorGray), saved, result.Tier.Colors, result.Tier.Dither, color(colorReset))
	return nil
}

func runInfo(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one file is required")
	}
	settings, err := loadConfig(c)
	if err != nil {
		return err
	}

	info, err := newPipeline(settings).Probe(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	fmt.Printf("  %s%s%s\n", color(colorBold), c.Args().First(), color(colorReset))
	fmt.Printf("    Dimensions: %dx%d\n", info.Width, info.Height)
	fmt.Printf("    Duration:   %s\n", formatDuration(info.Duration.Milliseconds()))
	fmt.Printf("    Size:       %s\n", formatBytes(info.Size))
	return nil
}
