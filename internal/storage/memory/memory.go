// Package memory is an in-memory storage implementation, used for ephemeral runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.InstanceRepository and
// storage.InstallHistoryRepository.
type Repository struct {
	instances map[string]model.Instance
	outcomes  []model.InstallOutcome
	mu        sync.RWMutex
	logger    log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		instances: make(map[string]model.Instance),
		logger:    cfg.Logger,
	}, nil
}

// CreateInstance stores a new instance.
func (r *Repository) CreateInstance(ctx context.Context, inst model.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[inst.ID]; ok {
		return fmt.Errorf("instance %s: %w", inst.ID, model.ErrAlreadyExists)
	}

	r.instances[inst.ID] = copyInstance(inst)
	r.logger.Debugf("Created instance in repository: %s", inst.ID)

	return nil
}

// ReplaceInstance removes targetID and stores inst.
func (r *Repository) ReplaceInstance(ctx context.Context, targetID string, inst model.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[targetID]; !ok {
		return fmt.Errorf("instance %s: %w", targetID, model.ErrNotFound)
	}
	if _, ok := r.instances[inst.ID]; ok && inst.ID != targetID {
		return fmt.Errorf("instance %s: %w", inst.ID, model.ErrAlreadyExists)
	}

	delete(r.instances, targetID)
	r.instances[inst.ID] = copyInstance(inst)
	r.logger.Debugf("Replaced instance %s with %s in repository", targetID, inst.ID)

	return nil
}

// GetInstance retrieves an instance by ID.
func (r *Repository) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, model.ErrNotFound)
	}

	c := copyInstance(inst)
	return &c, nil
}

// ListInstances returns all instances, newest first.
func (r *Repository) ListInstances(ctx context.Context) ([]model.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]model.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, copyInstance(inst))
	}

	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].InstalledAt.Equal(instances[j].InstalledAt) {
			return instances[i].InstalledAt.After(instances[j].InstalledAt)
		}
		return instances[i].ID < instances[j].ID
	})

	return instances, nil
}

// RecordInstallOutcome stores a finished install, assigning an ID when missing.
func (r *Repository) RecordInstallOutcome(ctx context.Context, o model.InstallOutcome) error {
	if o.Phase == "" {
		return fmt.Errorf("install outcome phase is required: %w", model.ErrNotValid)
	}
	if o.ID == "" {
		o.ID = ulid.Make().String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)

	return nil
}

// ListInstallOutcomes returns the outcomes, newest first.
func (r *Repository) ListInstallOutcomes(ctx context.Context, limit int) ([]model.InstallOutcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	outcomes := make([]model.InstallOutcome, 0, len(r.outcomes))
	for i := len(r.outcomes) - 1; i >= 0; i-- {
		outcomes = append(outcomes, r.outcomes[i])
		if limit > 0 && len(outcomes) == limit {
			break
		}
	}

	return outcomes, nil
}

func copyInstance(inst model.Instance) model.Instance {
	if inst.UpdatedAt != nil {
		t := *inst.UpdatedAt
		inst.UpdatedAt = &t
	}
	return inst
}
