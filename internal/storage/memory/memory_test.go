package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/storage/memory"
)

func TestRepositoryInstances(t *testing.T) {
	now := time.Now().UTC()

	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, repo *memory.Repository) error
		expErr  error
	}{
		"Creating an instance should work.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				err := repo.CreateInstance(ctx, model.Instance{ID: "inst-1", Name: "Survival", PackageID: 42, VersionID: 7, InstalledAt: now})
				require.NoError(t, err)

				got, err := repo.GetInstance(ctx, "inst-1")
				require.NoError(t, err)
				assert.Equal(t, "Survival", got.Name)
				return nil
			},
		},
		"Creating a duplicated instance should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				require.NoError(t, repo.CreateInstance(ctx, model.Instance{ID: "inst-1", Name: "Survival"}))
				return repo.CreateInstance(ctx, model.Instance{ID: "inst-1", Name: "Other"})
			},
			expErr: model.ErrAlreadyExists,
		},
		"Creating an invalid instance should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				return repo.CreateInstance(ctx, model.Instance{ID: "inst-1"})
			},
			expErr: model.ErrNotValid,
		},
		"Replacing an instance should remove the target.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				require.NoError(t, repo.CreateInstance(ctx, model.Instance{ID: "inst-1", Name: "Survival", VersionID: 7}))
				require.NoError(t, repo.ReplaceInstance(ctx, "inst-1", model.Instance{ID: "inst-2", Name: "Survival", VersionID: 8}))

				_, err := repo.GetInstance(ctx, "inst-1")
				assert.ErrorIs(t, err, model.ErrNotFound)
				got, err := repo.GetInstance(ctx, "inst-2")
				require.NoError(t, err)
				assert.Equal(t, int64(8), got.VersionID)
				return nil
			},
		},
		"Replacing a missing instance should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				return repo.ReplaceInstance(ctx, "missing", model.Instance{ID: "inst-2", Name: "Survival"})
			},
			expErr: model.ErrNotFound,
		},
		"Listing should return the newest instances first.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				require.NoError(t, repo.CreateInstance(ctx, model.Instance{ID: "old", Name: "Old", InstalledAt: now.Add(-time.Hour)}))
				require.NoError(t, repo.CreateInstance(ctx, model.Instance{ID: "new", Name: "New", InstalledAt: now}))

				all, err := repo.ListInstances(ctx)
				require.NoError(t, err)
				require.Len(t, all, 2)
				assert.Equal(t, "new", all[0].ID)
				assert.Equal(t, "old", all[1].ID)
				return nil
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: log.Noop})
			require.NoError(t, err)

			err = test.actions(context.Background(), t, repo)
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRepositoryInstallHistory(t *testing.T) {
	ctx := context.Background()
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	require.NoError(t, repo.RecordInstallOutcome(ctx, model.InstallOutcome{Phase: model.InstallPhaseFailed}))
	require.NoError(t, repo.RecordInstallOutcome(ctx, model.InstallOutcome{Phase: model.InstallPhaseSucceeded}))
	assert.ErrorIs(t, repo.RecordInstallOutcome(ctx, model.InstallOutcome{}), model.ErrNotValid)

	all, err := repo.ListInstallOutcomes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.InstallPhaseSucceeded, all[0].Phase)
	assert.NotEmpty(t, all[0].ID)

	limited, err := repo.ListInstallOutcomes(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
