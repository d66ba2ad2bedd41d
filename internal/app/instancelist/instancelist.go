package instancelist

import (
	"context"
	"fmt"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/storage"
)

// ServiceConfig is the configuration for the instance list service.
type ServiceConfig struct {
	Repository storage.InstanceRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service lists installed instances with optional filtering.
type Service struct {
	repo   storage.InstanceRepository
	logger log.Logger
}

// NewService creates a new instance list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	// PackageID is an optional filter to only show instances of this package.
	PackageID *int64
	// UpdatedOnly only shows instances that were updated after their install.
	UpdatedOnly bool
}

// Run lists the installed instances, newest first.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Instance, error) {
	s.logger.Debugf("listing instances with package filter: %v", req.PackageID)

	instances, err := s.repo.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list instances: %w", err)
	}

	filtered := make([]model.Instance, 0, len(instances))
	for _, inst := range instances {
		if req.PackageID != nil && inst.PackageID != *req.PackageID {
			continue
		}
		if req.UpdatedOnly && inst.UpdatedAt == nil {
			continue
		}
		filtered = append(filtered, inst)
	}

	s.logger.Debugf("found %d instances", len(filtered))
	return filtered, nil
}
