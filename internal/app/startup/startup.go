package startup

import (
	"context"
	"fmt"

	"github.com/kilnhq/kiln/internal/backend"
	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/retry"
)

// RuntimeEnsurer makes sure the required runtime is installed.
type RuntimeEnsurer interface {
	Ensure(ctx context.Context, requiredVersion string) (*model.RuntimeRecord, error)
}

// BackendLauncher launches the backend process.
type BackendLauncher interface {
	Launch(ctx context.Context, spec backend.Spec) (*model.BackendHandshake, error)
}

// ServiceConfig is the configuration for the startup service.
type ServiceConfig struct {
	Runtime  RuntimeEnsurer
	Launcher BackendLauncher
	// LaunchRetry is the policy wrapping the whole launch.
	LaunchRetry retry.Config
	Logger      log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Runtime == nil {
		return fmt.Errorf("runtime ensurer is required")
	}

	if c.Launcher == nil {
		return fmt.Errorf("launcher is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "startup.Service"})

	if c.LaunchRetry.Name == "" {
		c.LaunchRetry.Name = "backend launch"
	}
	if c.LaunchRetry.Logger == nil {
		c.LaunchRetry.Logger = c.Logger
	}

	return nil
}

// Service runs the backend startup sequence.
type Service struct {
	runtime     RuntimeEnsurer
	launcher    BackendLauncher
	launchRetry retry.Config
	logger      log.Logger
}

// NewService creates a new startup service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		runtime:     cfg.Runtime,
		launcher:    cfg.Launcher,
		launchRetry: cfg.LaunchRetry,
		logger:      cfg.Logger,
	}, nil
}

// Request represents the startup request parameters.
type Request struct {
	// RuntimeVersion is the required runtime major version.
	RuntimeVersion string
	// Command is the backend invocation, the runtime fields are filled by the service.
	Command backend.Command
}

// Result is the startup result.
type Result struct {
	Runtime   model.RuntimeRecord
	Handshake model.BackendHandshake
}

// Run verifies the runtime and launches the backend.
// A failed runtime verification blocks the launch.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	if req.RuntimeVersion == "" {
		return nil, fmt.Errorf("runtime version is required: %w", model.ErrNotValid)
	}

	rt, err := s.runtime.Ensure(ctx, req.RuntimeVersion)
	if err != nil {
		return nil, fmt.Errorf("could not verify runtime %s: %w", req.RuntimeVersion, err)
	}
	s.logger.Infof("Runtime %s ready at %s", rt.Version, rt.Home)

	cmd := req.Command
	cmd.Java = rt.Executable
	cmd.RuntimeHome = rt.Home
	spec, err := cmd.Spec()
	if err != nil {
		return nil, fmt.Errorf("invalid backend command: %w", err)
	}

	hs, err := retry.Do(ctx, s.launchRetry, func(ctx context.Context) (*model.BackendHandshake, error) {
		return s.launcher.Launch(ctx, spec)
	})
	if err != nil {
		return nil, fmt.Errorf("could not launch backend: %w", err)
	}
	s.logger.Infof("Backend %d listening on %s", hs.PID, hs.Address())

	return &Result{Runtime: *rt, Handshake: *hs}, nil
}
