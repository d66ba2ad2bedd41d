package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/printer"
)

type RuntimeVerifyCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	checkOnly bool
	format    string
}

// NewRuntimeVerifyCommand returns the runtime verify command.
func NewRuntimeVerifyCommand(rootCmd *RootCommand, runtimeCmd *kingpin.CmdClause) *RuntimeVerifyCommand {
	c := &RuntimeVerifyCommand{rootCmd: rootCmd}

	c.Cmd = runtimeCmd.Command("verify", "Verify the Java runtime, installing it when missing or outdated.")
	c.Cmd.Flag("check-only", "Only check, never download.").BoolVar(&c.checkOnly)
	c.Cmd.Flag("format", "Output format (table, json).").Default(printer.FormatTable).EnumVar(&c.format, printer.FormatTable, printer.FormatJSON)

	return c
}

func (c RuntimeVerifyCommand) Name() string { return c.Cmd.FullCommand() }

func (c RuntimeVerifyCommand) Run(ctx context.Context) error {
	cfg, err := c.rootCmd.loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.Runtime.Version == "" {
		return fmt.Errorf("runtime version is required: %w", model.ErrNotValid)
	}

	p, err := printer.New(c.format, c.rootCmd.Stdout)
	if err != nil {
		return err
	}

	verifier, err := c.rootCmd.newVerifier(cfg, metrics.Noop)
	if err != nil {
		return fmt.Errorf("could not create runtime verifier: %w", err)
	}

	if c.checkOnly {
		if !verifier.Verify(ctx, cfg.Runtime.Version) {
			return fmt.Errorf("runtime %s is not installed at %s", cfg.Runtime.Version, verifier.Home())
		}
		return p.PrintRuntime(model.RuntimeRecord{
			Version:    cfg.Runtime.Version,
			Home:       verifier.Home(),
			Executable: verifier.ExecutablePath(),
		})
	}

	rt, err := verifier.Ensure(ctx, cfg.Runtime.Version)
	if err != nil {
		return fmt.Errorf("could not verify runtime: %w", err)
	}

	return p.PrintRuntime(*rt)
}
