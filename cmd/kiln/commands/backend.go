package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kilnhq/kiln/internal/backend"
	"github.com/kilnhq/kiln/internal/conventions"
	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/printer"
)

type BackendStartCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewBackendStartCommand returns the backend start command.
func NewBackendStartCommand(rootCmd *RootCommand, backendCmd *kingpin.CmdClause) *BackendStartCommand {
	c := &BackendStartCommand{rootCmd: rootCmd}

	c.Cmd = backendCmd.Command("start", "Start the backend and keep it running until interrupted.")
	c.Cmd.Flag("format", "Output format (table, json).").Default(printer.FormatTable).EnumVar(&c.format, printer.FormatTable, printer.FormatJSON)

	return c
}

func (c BackendStartCommand) Name() string { return c.Cmd.FullCommand() }

func (c BackendStartCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := c.rootCmd.loadConfig(ctx)
	if err != nil {
		return err
	}

	p, err := printer.New(c.format, c.rootCmd.Stdout)
	if err != nil {
		return err
	}

	lock, err := backend.AcquireOwner(ctx, conventions.OwnerPath(c.rootCmd.DataDir), "")
	if err != nil {
		return err
	}
	defer releaseOwner(lock, logger)

	launcher, err := c.rootCmd.newLauncher(cfg, metrics.Noop)
	if err != nil {
		return fmt.Errorf("could not create launcher: %w", err)
	}
	defer launcher.Close()
	defer stopBackend(launcher, logger)

	res, err := c.rootCmd.startBackend(ctx, cfg, launcher, metrics.Noop)
	if err != nil {
		return err
	}
	if err := p.PrintHandshake(res.Handshake); err != nil {
		return fmt.Errorf("could not print handshake: %w", err)
	}

	<-ctx.Done()
	return nil
}
