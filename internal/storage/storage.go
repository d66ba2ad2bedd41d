package storage

import (
	"context"

	"github.com/kilnhq/kiln/internal/model"
)

// InstanceRepository is the interface for installed instances persistence.
type InstanceRepository interface {
	CreateInstance(ctx context.Context, inst model.Instance) error
	// ReplaceInstance replaces the targetID instance with inst atomically.
	ReplaceInstance(ctx context.Context, targetID string, inst model.Instance) error
	GetInstance(ctx context.Context, id string) (*model.Instance, error)
	ListInstances(ctx context.Context) ([]model.Instance, error)
}

// InstallHistoryRepository is the interface for finished installs persistence.
type InstallHistoryRepository interface {
	RecordInstallOutcome(ctx context.Context, o model.InstallOutcome) error
	// ListInstallOutcomes returns the outcomes, newest first. limit <= 0 returns all.
	ListInstallOutcomes(ctx context.Context, limit int) ([]model.InstallOutcome, error)
}
