// Package storagemock has testify mocks of the storage repositories.
package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/storage"
)

var (
	_ storage.InstanceRepository       = &MockInstanceRepository{}
	_ storage.InstallHistoryRepository = &MockInstallHistoryRepository{}
)

// MockInstanceRepository is a mock of storage.InstanceRepository.
type MockInstanceRepository struct {
	mock.Mock
}

// CreateInstance provides a mock function.
func (m *MockInstanceRepository) CreateInstance(ctx context.Context, inst model.Instance) error {
	args := m.Called(ctx, inst)
	return args.Error(0)
}

// ReplaceInstance provides a mock function.
func (m *MockInstanceRepository) ReplaceInstance(ctx context.Context, targetID string, inst model.Instance) error {
	args := m.Called(ctx, targetID, inst)
	return args.Error(0)
}

// GetInstance provides a mock function.
func (m *MockInstanceRepository) GetInstance(ctx context.Context, id string) (*model.Instance, error) {
	args := m.Called(ctx, id)
	inst, _ := args.Get(0).(*model.Instance)
	return inst, args.Error(1)
}

// ListInstances provides a mock function.
func (m *MockInstanceRepository) ListInstances(ctx context.Context) ([]model.Instance, error) {
	args := m.Called(ctx)
	insts, _ := args.Get(0).([]model.Instance)
	return insts, args.Error(1)
}

// MockInstallHistoryRepository is a mock of storage.InstallHistoryRepository.
type MockInstallHistoryRepository struct {
	mock.Mock
}

// RecordInstallOutcome provides a mock function.
func (m *MockInstallHistoryRepository) RecordInstallOutcome(ctx context.Context, o model.InstallOutcome) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

// ListInstallOutcomes provides a mock function.
func (m *MockInstallHistoryRepository) ListInstallOutcomes(ctx context.Context, limit int) ([]model.InstallOutcome, error) {
	args := m.Called(ctx, limit)
	outcomes, _ := args.Get(0).([]model.InstallOutcome)
	return outcomes, args.Error(1)
}
