package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kilnhq/kiln/internal/app/instancelist"
	"github.com/kilnhq/kiln/internal/printer"
)

type InstancesListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	packageID   int64
	updatedOnly bool
	format      string
}

// NewInstancesListCommand returns the instances list command.
func NewInstancesListCommand(rootCmd *RootCommand, instancesCmd *kingpin.CmdClause) *InstancesListCommand {
	c := &InstancesListCommand{rootCmd: rootCmd}

	c.Cmd = instancesCmd.Command("list", "List installed instances.")
	c.Cmd.Flag("package", "Filter by package ID.").Int64Var(&c.packageID)
	c.Cmd.Flag("updated", "Only show updated instances.").BoolVar(&c.updatedOnly)
	c.Cmd.Flag("format", "Output format (table, json).").Default(printer.FormatTable).EnumVar(&c.format, printer.FormatTable, printer.FormatJSON)

	return c
}

func (c InstancesListCommand) Name() string { return c.Cmd.FullCommand() }

func (c InstancesListCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repos, err := c.rootCmd.openRepositories(ctx)
	if err != nil {
		return err
	}
	defer repos.close()

	svc, err := instancelist.NewService(instancelist.ServiceConfig{
		Repository: repos.instances,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	req := instancelist.Request{UpdatedOnly: c.updatedOnly}
	if c.packageID > 0 {
		req.PackageID = &c.packageID
	}
	instances, err := svc.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("could not list instances: %w", err)
	}

	p, err := printer.New(c.format, c.rootCmd.Stdout)
	if err != nil {
		return err
	}
	if err := p.PrintInstances(instances); err != nil {
		return fmt.Errorf("could not print instances: %w", err)
	}

	return nil
}
