package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gin-gonic/gin"
	"github.com/oklog/run"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilnhq/kiln/internal/backend"
	"github.com/kilnhq/kiln/internal/conventions"
	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/metrics/prometheus"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/server"
)

type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listenAddr       string
	metricsAddr      string
	watchdogInterval time.Duration
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Run the backend, its socket transport and the install orchestrator with its intake.")
	c.Cmd.Flag("listen-addr", "Address of the install intake API used by 'kiln install', empty disables it.").Default(server.DefaultAddress).StringVar(&c.listenAddr)
	c.Cmd.Flag("metrics-addr", "Address serving Prometheus metrics on /metrics, empty disables it.").StringVar(&c.metricsAddr)
	c.Cmd.Flag("watchdog-interval", "Interval checking the backend process is alive.").Default("15s").DurationVar(&c.watchdogInterval)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := c.rootCmd.loadConfig(ctx)
	if err != nil {
		return err
	}

	// The owner file carries the intake address.
	var ln net.Listener
	if c.listenAddr != "" {
		ln, err = net.Listen("tcp", c.listenAddr)
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", c.listenAddr, err)
		}
		defer ln.Close()
	}
	ownerAddr := ""
	if ln != nil {
		ownerAddr = ln.Addr().String()
	}
	lock, err := backend.AcquireOwner(ctx, conventions.OwnerPath(c.rootCmd.DataDir), ownerAddr)
	if err != nil {
		return err
	}
	defer releaseOwner(lock, logger)

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := prometheus.NewRecorder(reg)
	if err != nil {
		return fmt.Errorf("could not create metrics recorder: %w", err)
	}

	repos, err := c.rootCmd.openRepositories(ctx)
	if err != nil {
		return err
	}
	defer repos.close()

	launcher, err := c.rootCmd.newLauncher(cfg, rec)
	if err != nil {
		return fmt.Errorf("could not create launcher: %w", err)
	}
	defer launcher.Close()
	defer stopBackend(launcher, logger)

	if _, err := c.rootCmd.startBackend(ctx, cfg, launcher, rec); err != nil {
		return err
	}

	cp, err := c.rootCmd.newControlPlane(cfg, launcher, repos, rec)
	if err != nil {
		return err
	}
	cp.orchestrator.SubscribeStatus(func(st *model.InstallStatus) {
		if st == nil {
			logger.Debugf("Install status cleared")
			return
		}
		logger.Infof("Install %s: %s %s %s%%", st.Request.RequestUUID, st.Phase, st.StageLabel, st.Percent)
	})

	var g run.Group

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

	// Backend watchdog.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error { return c.watchBackend(ctx, cfg, launcher, rec) },
			func(_ error) { cancel() },
		)
	}

	// Install intake.
	if ln != nil {
		if !c.rootCmd.Debug {
			gin.SetMode(gin.ReleaseMode)
		}
		router, err := server.NewRouter(server.RouterConfig{
			Installer: cp.orchestrator,
			Instances: repos.instances,
			History:   repos.history,
			Logger:    logger,
		})
		if err != nil {
			return fmt.Errorf("could not create intake router: %w", err)
		}
		intake := router.NewHTTPServer(ln.Addr().String())

		g.Add(
			func() error {
				logger.Infof("Serving install intake on http://%s%s", ln.Addr(), server.DefaultBasePath)
				if err := intake.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("install intake failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = intake.Shutdown(shutdownCtx)
			},
		)
	}

	// Metrics.
	if c.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: c.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Add(
			func() error {
				logger.Infof("Serving metrics on %s/metrics", c.metricsAddr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			},
		)
	}

	return g.Run()
}

// watchBackend relaunches the backend when its process is gone.
func (c ServeCommand) watchBackend(ctx context.Context, cfg model.Config, launcher *backend.Launcher, rec metrics.Recorder) error {
	logger := c.rootCmd.Logger
	ticker := time.NewTicker(c.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if launcher.Alive(ctx) {
			continue
		}
		logger.Warningf("Backend process is gone, relaunching")
		if _, err := c.rootCmd.startBackend(ctx, cfg, launcher, rec); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Errorf("Could not relaunch backend: %v", err)
		}
	}
}
