package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/storage/sqlite"
)

func instanceFixture(id, name string, installedAt time.Time) model.Instance {
	return model.Instance{
		ID:          id,
		Name:        name,
		PackageID:   42,
		VersionID:   7,
		VersionName: "1.20.4",
		Path:        "/home/user/.kiln/instances/" + id,
		InstalledAt: installedAt.Truncate(time.Second).UTC(),
	}
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "kiln.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepositoryInstances(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	now := time.Now()

	inst1 := instanceFixture("inst-1", "Survival", now.Add(-time.Hour))
	inst2 := instanceFixture("inst-2", "Creative", now)
	require.NoError(t, repo.CreateInstance(ctx, inst1))
	require.NoError(t, repo.CreateInstance(ctx, inst2))

	got, err := repo.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, inst1, *got)

	all, err := repo.ListInstances(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "inst-2", all[0].ID)
	assert.Equal(t, "inst-1", all[1].ID)
}

func TestRepositoryInstanceErrors(t *testing.T) {
	tests := map[string]struct {
		run    func(ctx context.Context, repo *sqlite.Repository) error
		expErr error
	}{
		"Creating a duplicated instance should fail.": {
			run: func(ctx context.Context, repo *sqlite.Repository) error {
				return repo.CreateInstance(ctx, instanceFixture("inst-1", "Again", time.Now()))
			},
			expErr: model.ErrAlreadyExists,
		},
		"Creating an instance without ID should fail.": {
			run: func(ctx context.Context, repo *sqlite.Repository) error {
				return repo.CreateInstance(ctx, instanceFixture("", "Nameless", time.Now()))
			},
			expErr: model.ErrNotValid,
		},
		"Getting a missing instance should fail.": {
			run: func(ctx context.Context, repo *sqlite.Repository) error {
				_, err := repo.GetInstance(ctx, "missing")
				return err
			},
			expErr: model.ErrNotFound,
		},
		"Replacing a missing instance should fail.": {
			run: func(ctx context.Context, repo *sqlite.Repository) error {
				return repo.ReplaceInstance(ctx, "missing", instanceFixture("inst-2", "New", time.Now()))
			},
			expErr: model.ErrNotFound,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)
			require.NoError(t, repo.CreateInstance(ctx, instanceFixture("inst-1", "Survival", time.Now())))

			err := test.run(ctx, repo)
			assert.ErrorIs(t, err, test.expErr)
		})
	}
}

func TestRepositoryReplaceInstance(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	now := time.Now()

	require.NoError(t, repo.CreateInstance(ctx, instanceFixture("inst-1", "Survival", now)))

	updated := instanceFixture("inst-1", "Survival", now)
	updated.VersionID = 8
	updated.VersionName = "1.21"
	updatedAt := now.Add(time.Minute).Truncate(time.Second).UTC()
	updated.UpdatedAt = &updatedAt
	require.NoError(t, repo.ReplaceInstance(ctx, "inst-1", updated))

	got, err := repo.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, updated, *got)

	all, err := repo.ListInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestHistoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	history, err := sqlite.NewHistoryRepository(sqlite.HistoryRepositoryConfig{DB: repo.DB()})
	require.NoError(t, err)

	start := time.Now().Add(-time.Minute).Truncate(time.Millisecond).UTC()
	req := model.InstallRequest{RequestUUID: "a", PackageID: 42, VersionID: 7, DisplayName: "Survival"}

	first := model.InstallOutcome{
		ID:         "01",
		Request:    req,
		Phase:      model.InstallPhaseFailed,
		Error:      "disk full",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}
	second := model.InstallOutcome{
		Request:    req,
		Phase:      model.InstallPhaseSucceeded,
		InstanceID: "inst-1",
		StartedAt:  start.Add(2 * time.Second),
		FinishedAt: start.Add(3 * time.Second),
	}
	require.NoError(t, history.RecordInstallOutcome(ctx, first))
	require.NoError(t, history.RecordInstallOutcome(ctx, second))

	all, err := history.ListInstallOutcomes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.InstallPhaseSucceeded, all[0].Phase)
	assert.NotEmpty(t, all[0].ID)
	assert.Equal(t, first, all[1])

	limited, err := history.ListInstallOutcomes(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	err = history.RecordInstallOutcome(ctx, model.InstallOutcome{Request: req})
	assert.ErrorIs(t, err, model.ErrNotValid)
}

func TestRepositoryReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kiln.db")

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, repo.CreateInstance(ctx, instanceFixture("inst-1", "Survival", time.Now())))
	require.NoError(t, repo.Close())

	repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	defer repo.Close()

	all, err := repo.ListInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
