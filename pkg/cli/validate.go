package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/screencast-runner/pkg/validator"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Check flow files without recording them",
	ArgsUsage: "<flow-file-or-folder>...",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "require-id",
			Usage: "Reject flows without an explicit id",
		},
	},
	Action: runValidate,
}

func runValidate(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	v := &validator.Validator{RequireID: c.Bool("require-id")}
	flows, failed := 0, 0
	for _, path := range c.Args().Slice() {
		result := v.Validate(path)
		flows += len(result.Flows)

		for _, f := range result.Flows {
			fmt.Printf("  %s✓%s %s %s(%d steps, %s)%s\n",
				color(colorGreen), color(colorReset), f.DisplayName(),
				color(colorGray), len(f.Steps), f.SourcePath, color(colorReset))
		}
		for _, w := range result.Warnings {
			fmt.Printf("  %s⚠%s %s\n", color(colorYellow), color(colorReset), w)
		}
		for _, err := range result.Errors {
			fmt.Printf("  %s✗%s %v\n", color(colorRed), color(colorReset), err)
		}
		failed += len(result.Errors)
	}

	fmt.Println()
	if failed > 0 {
		return fmt.Errorf("%d error(s) in %d flow(s)", failed, flows)
	}
	fmt.Printf("  %s%d flow(s) valid%s\n", color(colorGreen), flows, color(colorReset))
	return nil
}
