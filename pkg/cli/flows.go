package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
	"github.com/devicelab-dev/screencast-runner/pkg/store"
	"github.com/devicelab-dev/screencast-runner/pkg/validator"
)

var flowsCommand = &cli.Command{
	Name:  "flows",
	Usage: "Manage the flow repository used by the API",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List stored flows",
			Action: runFlowsList,
		},
		{
			Name:      "import",
			Usage:     "Validate flow files and save them to the store",
			ArgsUsage: "<flow-file-or-folder>...",
			Action:    runFlowsImport,
		},
		{
			Name:      "show",
			Usage:     "Print a stored flow as JSON",
			ArgsUsage: "<id>",
			Action:    runFlowsShow,
		},
		{
			Name:      "delete",
			Usage:     "Remove a stored flow",
			ArgsUsage: "<id>",
			Action:    runFlowsDelete,
		},
	},
}

// openStore loads the configuration and opens the configured flow store.
func openStore(c *cli.Context) (store.FlowStore, error) {
	settings, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	s, err := store.New(c.Context, settings.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open flow store: %w", err)
	}
	return s, nil
}

func runFlowsList(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	flows, err := s.List(c.Context)
	if err != nil {
		return err
	}
	if len(flows) == 0 {
		fmt.Println("  No flows stored")
		return nil
	}

	fmt.Printf("  %-24s %-32s %6s  %s\n", "ID", "Name", "Steps", "Base URL")
	for _, f := range flows {
		fmt.Printf("  %-24s %-32s %6d  %s\n", f.ID, f.Name, len(f.Steps), f.BaseURL)
	}
	return nil
}

func runFlowsImport(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one flow file or folder is required")
	}

	// Stored flows are addressed by id, so every file must yield one.
	v := &validator.Validator{RequireID: true}
	var flows []*flow.Flow
	var failed int
	for _, path := range c.Args().Slice() {
		result := v.Validate(path)
		for _, w := range result.Warnings {
			fmt.Printf("  %s⚠%s %s\n", color(colorYellow), color(colorReset), w)
		}
		for _, err := range result.Errors {
			fmt.Printf("  %s✗%s %v\n", color(colorRed), color(colorReset), err)
		}
		failed += len(result.Errors)
		flows = append(flows, result.Flows...)
	}
	if failed > 0 {
		return fmt.Errorf("validation failed with %d error(s), nothing imported", failed)
	}

	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, f := range flows {
		if err := s.Save(c.Context, f); err != nil {
			return fmt.Errorf("save %s: %w", f.ID, err)
		}
		fmt.Printf("  %s✓%s %s %s(%s)%s\n", color(colorGreen), color(colorReset), f.ID, color(colorGray), f.SourcePath, color(colorReset))
	}
	fmt.Printf("\n  Imported %d flow(s)\n", len(flows))
	return nil
}

func runFlowsShow(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one flow id is required")
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := s.Get(c.Context, c.Args().First())
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("flow %q not found", c.Args().First())
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

func runFlowsDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one flow id is required")
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	id := c.Args().First()
	if err := s.Delete(c.Context, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("flow %q not found", id)
		}
		return err
	}
	fmt.Printf("  Deleted %s\n", id)
	return nil
}
