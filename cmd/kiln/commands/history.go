package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kilnhq/kiln/internal/printer"
)

type HistoryCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	limit  int
	format string
}

// NewHistoryCommand returns the history command.
func NewHistoryCommand(rootCmd *RootCommand, app *kingpin.Application) *HistoryCommand {
	c := &HistoryCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("history", "List finished installs, newest first.")
	c.Cmd.Flag("limit", "Maximum number of installs, 0 lists all.").Default("20").IntVar(&c.limit)
	c.Cmd.Flag("format", "Output format (table, json).").Default(printer.FormatTable).EnumVar(&c.format, printer.FormatTable, printer.FormatJSON)

	return c
}

func (c HistoryCommand) Name() string { return c.Cmd.FullCommand() }

func (c HistoryCommand) Run(ctx context.Context) error {
	repos, err := c.rootCmd.openRepositories(ctx)
	if err != nil {
		return err
	}
	defer repos.close()

	outcomes, err := repos.history.ListInstallOutcomes(ctx, c.limit)
	if err != nil {
		return fmt.Errorf("could not list install history: %w", err)
	}

	p, err := printer.New(c.format, c.rootCmd.Stdout)
	if err != nil {
		return err
	}
	if err := p.PrintHistory(outcomes); err != nil {
		return fmt.Errorf("could not print history: %w", err)
	}

	return nil
}
