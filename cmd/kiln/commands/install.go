package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/kilnhq/kiln/internal/backend"
	"github.com/kilnhq/kiln/internal/conventions"
	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/printer"
	"github.com/kilnhq/kiln/internal/server"
)

const remotePollInterval = 500 * time.Millisecond

type InstallCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	targets        []string
	displayName    string
	versionName    string
	updateTarget   string
	serverAddr     string
	noWait         bool
	connectTimeout time.Duration
	format         string
}

// NewInstallCommand returns the install command.
func NewInstallCommand(rootCmd *RootCommand, app *kingpin.Application) *InstallCommand {
	c := &InstallCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("install", "Install package versions through the backend, or update an installed instance. Installs run one at a time, in order.")
	c.Cmd.Arg("target", "Package version to install as <package-id>:<version-id>, repeatable.").Required().StringsVar(&c.targets)
	c.Cmd.Flag("name", "Instance display name, single target only.").StringVar(&c.displayName)
	c.Cmd.Flag("version-name", "Version display name, single target only.").StringVar(&c.versionName)
	c.Cmd.Flag("update", "Instance ID replaced by this install, single target only.").StringVar(&c.updateTarget)
	c.Cmd.Flag("server", "Install intake of a running 'kiln serve', by default the one owning the data dir.").StringVar(&c.serverAddr)
	c.Cmd.Flag("no-wait", "Return once queued on a running 'kiln serve'.").BoolVar(&c.noWait)
	c.Cmd.Flag("connect-timeout", "Maximum wait for the backend socket.").Default("1m").DurationVar(&c.connectTimeout)
	c.Cmd.Flag("format", "Output format (table, json).").Default(printer.FormatTable).EnumVar(&c.format, printer.FormatTable, printer.FormatJSON)

	return c
}

func (c InstallCommand) Name() string { return c.Cmd.FullCommand() }

func (c InstallCommand) Run(ctx context.Context) error {
	reqs, err := c.requests()
	if err != nil {
		return err
	}

	p, err := printer.New(c.format, c.rootCmd.Stdout)
	if err != nil {
		return err
	}

	addr, err := c.intakeAddress(ctx)
	if err != nil {
		return err
	}
	if addr != "" {
		return c.runRemote(ctx, addr, reqs, p)
	}
	return c.runLocal(ctx, reqs, p)
}

// requests builds the install requests from the targets.
func (c InstallCommand) requests() ([]model.InstallRequest, error) {
	if len(c.targets) > 1 && (c.displayName != "" || c.versionName != "" || c.updateTarget != "") {
		return nil, fmt.Errorf("--name, --version-name and --update need a single target: %w", model.ErrNotValid)
	}

	reqs := make([]model.InstallRequest, 0, len(c.targets))
	for _, t := range c.targets {
		pkg, ver, err := parseTarget(t)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, model.InstallRequest{
			PackageID:        pkg,
			VersionID:        ver,
			DisplayName:      c.displayName,
			VersionName:      c.versionName,
			UpdatingTargetID: c.updateTarget,
		})
	}
	return reqs, nil
}

// parseTarget parses a `<package-id>:<version-id>` target.
func parseTarget(s string) (packageID, versionID int64, err error) {
	pkg, ver, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("target %q is not <package-id>:<version-id>: %w", s, model.ErrNotValid)
	}
	packageID, err = strconv.ParseInt(strings.TrimSpace(pkg), 10, 64)
	if err != nil || packageID <= 0 {
		return 0, 0, fmt.Errorf("target %q has an invalid package id: %w", s, model.ErrNotValid)
	}
	versionID, err = strconv.ParseInt(strings.TrimSpace(ver), 10, 64)
	if err != nil || versionID <= 0 {
		return 0, 0, fmt.Errorf("target %q has an invalid version id: %w", s, model.ErrNotValid)
	}
	return packageID, versionID, nil
}

// intakeAddress returns the intake of the serving data dir owner, empty when
// nothing owns the data dir.
func (c InstallCommand) intakeAddress(ctx context.Context) (string, error) {
	if c.serverAddr != "" {
		return c.serverAddr, nil
	}

	owner, ok, err := backend.ReadOwner(ctx, conventions.OwnerPath(c.rootCmd.DataDir))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	if owner.Address == "" {
		return "", fmt.Errorf("data dir is in use by process %d, which has no install intake: %w", owner.PID, model.ErrAlreadyExists)
	}
	c.rootCmd.Logger.Infof("Sending installs to kiln serve (pid %d) at %s", owner.PID, owner.Address)
	return owner.Address, nil
}

// runRemote queues the requests on a running kiln serve and follows them.
func (c InstallCommand) runRemote(ctx context.Context, addr string, reqs []model.InstallRequest, p printer.Printer) error {
	client, err := server.NewClient(server.ClientConfig{Address: addr})
	if err != nil {
		return fmt.Errorf("could not create intake client: %w", err)
	}

	queued := make([]model.InstallRequest, 0, len(reqs))
	for _, req := range reqs {
		q, err := client.RequestInstall(ctx, req)
		if err != nil {
			return fmt.Errorf("could not queue install of package %d version %d: %w", req.PackageID, req.VersionID, err)
		}
		queued = append(queued, q)
		msg := fmt.Sprintf("Install %s of package %d version %d queued", q.RequestUUID, q.PackageID, q.VersionID)
		if err := p.PrintMessage(msg); err != nil {
			return err
		}
	}
	if c.noWait {
		return nil
	}

	outcomes, err := c.followRemote(ctx, client, queued, p)
	if err != nil {
		return err
	}
	return installErrors(queued, outcomes)
}

// followRemote prints the statuses of our requests until all of them have an outcome.
func (c InstallCommand) followRemote(ctx context.Context, client *server.Client, reqs []model.InstallRequest, p printer.Printer) ([]model.InstallOutcome, error) {
	ours := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		ours[r.RequestUUID] = true
	}

	ticker := time.NewTicker(remotePollInterval)
	defer ticker.Stop()

	var last model.InstallStatus
	for {
		status, queue, err := client.Installs(ctx)
		if err != nil {
			return nil, err
		}
		if status != nil && ours[status.Request.RequestUUID] && *status != last {
			last = *status
			if err := p.PrintInstallStatus(status); err != nil {
				c.rootCmd.Logger.Warningf("Could not print install status: %v", err)
			}
		}

		waiting := status != nil && ours[status.Request.RequestUUID]
		for _, r := range queue {
			waiting = waiting || ours[r.RequestUUID]
		}
		if !waiting {
			// The outcome is recorded shortly after the status is cleared.
			outcomes, err := client.History(ctx, 0)
			if err != nil {
				return nil, err
			}
			if hasAllOutcomes(reqs, outcomes) {
				return outcomes, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// runLocal launches a backend owned by this command and installs through it.
func (c InstallCommand) runLocal(ctx context.Context, reqs []model.InstallRequest, p printer.Printer) error {
	logger := c.rootCmd.Logger

	cfg, err := c.rootCmd.loadConfig(ctx)
	if err != nil {
		return err
	}

	lock, err := backend.AcquireOwner(ctx, conventions.OwnerPath(c.rootCmd.DataDir), "")
	if err != nil {
		return err
	}
	defer releaseOwner(lock, logger)

	repos, err := c.rootCmd.openRepositories(ctx)
	if err != nil {
		return err
	}
	defer repos.close()

	launcher, err := c.rootCmd.newLauncher(cfg, metrics.Noop)
	if err != nil {
		return fmt.Errorf("could not create launcher: %w", err)
	}
	defer launcher.Close()
	defer stopBackend(launcher, logger)

	if _, err := c.rootCmd.startBackend(ctx, cfg, launcher, metrics.Noop); err != nil {
		return err
	}

	cp, err := c.rootCmd.newControlPlane(cfg, launcher, repos, metrics.Noop)
	if err != nil {
		return err
	}
	cp.orchestrator.SubscribeStatus(func(st *model.InstallStatus) {
		if st == nil {
			return
		}
		if err := p.PrintInstallStatus(st); err != nil {
			logger.Warningf("Could not print install status: %v", err)
		}
	})

	var (
		g      run.Group
		queued []model.InstallRequest
	)

	// Backend transport.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error { return cp.transport.Run(ctx) },
			func(_ error) { cancel() },
		)
	}

	// Install orchestrator.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error { return cp.orchestrator.Run(ctx) },
			func(_ error) { cancel() },
		)
	}

	// Install requests, they end the group once finished.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				if err := c.waitConnected(ctx, cp.transport.IsAlive); err != nil {
					return err
				}

				for _, req := range reqs {
					q, err := cp.orchestrator.RequestInstall(ctx, req)
					if err != nil {
						return err
					}
					queued = append(queued, q)
					logger.Infof("Install %s requested", q.RequestUUID)
				}

				return cp.orchestrator.Wait(ctx)
			},
			func(_ error) { cancel() },
		)
	}

	if err := g.Run(); err != nil {
		return err
	}

	outcomes, err := repos.history.ListInstallOutcomes(ctx, 0)
	if err != nil {
		return fmt.Errorf("could not read install outcomes: %w", err)
	}
	return installErrors(queued, outcomes)
}

func (c InstallCommand) waitConnected(ctx context.Context, alive func() bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !alive() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("backend socket not connected: %w", model.ErrNotConnected)
		case <-ticker.C:
		}
	}
	return nil
}

// latestOutcomes indexes outcomes by request UUID, outcomes are newest first.
func latestOutcomes(outcomes []model.InstallOutcome) map[string]model.InstallOutcome {
	byUUID := make(map[string]model.InstallOutcome, len(outcomes))
	for _, o := range outcomes {
		if _, ok := byUUID[o.Request.RequestUUID]; !ok {
			byUUID[o.Request.RequestUUID] = o
		}
	}
	return byUUID
}

func hasAllOutcomes(reqs []model.InstallRequest, outcomes []model.InstallOutcome) bool {
	byUUID := latestOutcomes(outcomes)
	for _, r := range reqs {
		if _, ok := byUUID[r.RequestUUID]; !ok {
			return false
		}
	}
	return true
}

// installErrors returns one error per request that didn't succeed.
func installErrors(reqs []model.InstallRequest, outcomes []model.InstallOutcome) error {
	byUUID := latestOutcomes(outcomes)

	var errs []error
	for _, r := range reqs {
		o, ok := byUUID[r.RequestUUID]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("install %s: no outcome recorded", r.RequestUUID))
		case o.Phase == model.InstallPhaseRejected:
			errs = append(errs, fmt.Errorf("install %s: backend refused it (%s): %w", r.RequestUUID, o.Error, model.ErrInstallRejected))
		case o.Phase == model.InstallPhaseFailed:
			errs = append(errs, fmt.Errorf("install %s failed: %s", r.RequestUUID, o.Error))
		case o.Error != "":
			errs = append(errs, fmt.Errorf("install %s succeeded with errors: %s", r.RequestUUID, o.Error))
		}
	}
	return errors.Join(errs...)
}
