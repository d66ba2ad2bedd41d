package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kilnhq/kiln/internal/app/startup"
	"github.com/kilnhq/kiln/internal/backend"
	"github.com/kilnhq/kiln/internal/conventions"
	"github.com/kilnhq/kiln/internal/install"
	"github.com/kilnhq/kiln/internal/javaruntime"
	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/storage"
	storageio "github.com/kilnhq/kiln/internal/storage/io"
	"github.com/kilnhq/kiln/internal/storage/memory"
	"github.com/kilnhq/kiln/internal/storage/sqlite"
	"github.com/kilnhq/kiln/internal/transport"
	"github.com/kilnhq/kiln/internal/utils/env"
)

// loadConfig loads the config file, if any, and applies the flag overrides.
func (r *RootCommand) loadConfig(ctx context.Context) (model.Config, error) {
	var cfg model.Config
	if r.ConfigPath != "" {
		abs, err := filepath.Abs(r.ConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("could not resolve config path: %w", err)
		}
		repo := storageio.NewConfigYAMLRepository(os.DirFS(filepath.Dir(abs)))
		cfg, err = repo.GetConfig(ctx, filepath.Base(abs))
		if err != nil {
			return cfg, fmt.Errorf("could not load config %s: %w", r.ConfigPath, err)
		}
	}

	if r.RuntimeVersion != "" {
		cfg.Runtime.Version = r.RuntimeVersion
	}
	if r.BackendJAR != "" {
		cfg.Backend.JAR = r.BackendJAR
	}
	if cfg.Runtime.Dir == "" {
		cfg.Runtime.Dir = conventions.RuntimeHome(r.DataDir)
	}

	vars, err := backendEnv(cfg.Backend.Env, r.EnvSpecs)
	if err != nil {
		return cfg, fmt.Errorf("invalid --env value: %w", err)
	}
	cfg.Backend.Env = vars

	return cfg, nil
}

// backendEnv merges the --env specs over the configured backend environment.
func backendEnv(base map[string]string, specs []string) (map[string]string, error) {
	flags, err := env.ParseSpecs(specs)
	if err != nil {
		return nil, err
	}
	return env.MergeMaps(base, flags), nil
}

func (r *RootCommand) newVerifier(cfg model.Config, rec metrics.Recorder) (*javaruntime.Verifier, error) {
	return javaruntime.NewVerifier(javaruntime.VerifierConfig{
		Home:            cfg.Runtime.Dir,
		DistributionURL: cfg.Runtime.DistributionURL,
		StatusWriter:    r.Stderr,
		Metrics:         rec,
		Logger:          r.Logger,
	})
}

func (r *RootCommand) newLauncher(cfg model.Config, rec metrics.Recorder) (*backend.Launcher, error) {
	return backend.NewLauncher(backend.LauncherConfig{
		ReadyTimeout: cfg.Backend.ReadyTimeout,
		LogPath:      conventions.BackendLogPath(r.DataDir),
		Metrics:      rec,
		Logger:       r.Logger,
	})
}

// startBackend verifies the runtime and launches the backend with the configured command.
func (r *RootCommand) startBackend(ctx context.Context, cfg model.Config, launcher *backend.Launcher, rec metrics.Recorder) (*startup.Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	verifier, err := r.newVerifier(cfg, rec)
	if err != nil {
		return nil, fmt.Errorf("could not create runtime verifier: %w", err)
	}

	svc, err := startup.NewService(startup.ServiceConfig{
		Runtime:  verifier,
		Launcher: launcher,
		Logger:   r.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	return svc.Run(ctx, startup.Request{
		RuntimeVersion: cfg.Runtime.Version,
		Command: backend.Command{
			JAR:     cfg.Backend.JAR,
			JVMArgs: cfg.Backend.JVMArgs,
			Args:    cfg.Backend.Args,
			Env:     cfg.Backend.Env,
			Dir:     r.DataDir,
		},
	})
}

// repositories are the instance and history stores, sharing one database.
type repositories struct {
	instances storage.InstanceRepository
	history   storage.InstallHistoryRepository
	close     func() error
}

func (r *RootCommand) openRepositories(ctx context.Context) (*repositories, error) {
	if r.Ephemeral {
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: r.Logger})
		if err != nil {
			return nil, err
		}
		return &repositories{instances: repo, history: repo, close: func() error { return nil }}, nil
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: conventions.DBPath(r.DataDir),
		Logger: r.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	history, err := sqlite.NewHistoryRepository(sqlite.HistoryRepositoryConfig{
		DB:     repo.DB(),
		Logger: r.Logger,
	})
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("could not create history repository: %w", err)
	}

	return &repositories{instances: repo, history: history, close: repo.Close}, nil
}

// stopBackend stops the launched backend, the command context may be canceled already.
func stopBackend(launcher *backend.Launcher, logger log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := launcher.Stop(ctx); err != nil {
		logger.Warningf("Could not stop backend: %v", err)
	}
}

func releaseOwner(lock *backend.OwnerLock, logger log.Logger) {
	if err := lock.Release(); err != nil {
		logger.Warningf("Could not release data dir: %v", err)
	}
}

// controlPlane is the backend transport and the install orchestrator on top of it.
type controlPlane struct {
	transport    *transport.Transport
	orchestrator *install.Orchestrator
}

func (r *RootCommand) newControlPlane(cfg model.Config, launcher *backend.Launcher, repos *repositories, rec metrics.Recorder) (*controlPlane, error) {
	socketPath := cfg.Backend.SocketPath
	if socketPath == "" {
		socketPath = conventions.DefaultSocketPath
	}

	tr, err := transport.NewTransport(transport.TransportConfig{
		Resolver: transport.HandshakeResolver(launcher, socketPath),
		Metrics:  rec,
		Logger:   r.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create transport: %w", err)
	}

	orch, err := install.NewOrchestrator(install.OrchestratorConfig{
		Transport:      tr,
		Instances:      repos.instances,
		History:        repos.history,
		TickInterval:   cfg.Install.TickInterval,
		RequestTimeout: cfg.Install.RequestTimeout,
		Metrics:        rec,
		Logger:         r.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create install orchestrator: %w", err)
	}

	return &controlPlane{transport: tr, orchestrator: orch}, nil
}
