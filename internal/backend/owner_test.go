package backend_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/backend"
	"github.com/kilnhq/kiln/internal/model"
)

// deadPID returns the pid of a finished child process.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Run())
	return cmd.ProcessState.Pid()
}

func TestAcquireOwner(t *testing.T) {
	tests := map[string]struct {
		existing func(t *testing.T) string
		expErr   error
	}{
		"Without an owner file the lock should be acquired.": {},

		"A live owner should keep the data dir.": {
			existing: func(t *testing.T) string { return fmt.Sprintf("%d\n127.0.0.1:7380\n", os.Getpid()) },
			expErr:   model.ErrAlreadyExists,
		},

		"A dead owner should be replaced.": {
			existing: func(t *testing.T) string { return fmt.Sprintf("%d\n\n", deadPID(t)) },
		},

		"A corrupt owner file should be replaced.": {
			existing: func(t *testing.T) string { return "not-a-pid\n" },
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", "kiln.pid")
			if test.existing != nil {
				require.NoError(os.MkdirAll(filepath.Dir(path), 0o755))
				require.NoError(os.WriteFile(path, []byte(test.existing(t)), 0o644))
			}

			lock, err := backend.AcquireOwner(ctx, path, "127.0.0.1:9999")
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				return
			}
			require.NoError(err)

			owner, ok, err := backend.ReadOwner(ctx, path)
			require.NoError(err)
			assert.True(ok)
			assert.Equal(backend.Owner{PID: os.Getpid(), Address: "127.0.0.1:9999"}, owner)

			require.NoError(lock.Release())
			_, ok, err = backend.ReadOwner(ctx, path)
			require.NoError(err)
			assert.False(ok)
			assert.NoError(lock.Release())
		})
	}
}

func TestReadOwnerDeadProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.pid")
	pid := deadPID(t)
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("%d\n127.0.0.1:7380\n", pid)), 0o644))

	owner, ok, err := backend.ReadOwner(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, backend.Owner{PID: pid, Address: "127.0.0.1:7380"}, owner)
}
