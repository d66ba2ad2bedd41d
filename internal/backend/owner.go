package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/kilnhq/kiln/internal/model"
)

// Owner is the process owning the backend of a data dir, recorded in a pid file:
//
//	<pid>
//	<install intake address, empty when not serving>
type Owner struct {
	PID     int
	Address string
}

// OwnerLock is a held data dir ownership.
type OwnerLock struct {
	path string
}

// ReadOwner reads the owner recorded at path. ok is false when there is no
// owner file or its process is gone.
func ReadOwner(ctx context.Context, path string) (owner Owner, ok bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Owner{}, false, nil
		}
		return Owner{}, false, fmt.Errorf("could not read owner file: %w", err)
	}

	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil || pid <= 0 {
		return Owner{}, false, nil
	}
	owner = Owner{PID: pid, Address: strings.TrimSpace(rest)}

	if pid == os.Getpid() {
		return owner, true, nil
	}
	alive, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return owner, false, fmt.Errorf("could not check owner process %d: %w", pid, err)
	}
	return owner, alive, nil
}

// AcquireOwner records the current process as the data dir owner at path.
// It fails with model.ErrAlreadyExists while another live process owns it, a
// stale owner file is replaced.
func AcquireOwner(ctx context.Context, path, address string) (*OwnerLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create owner file directory: %w", err)
	}

	for range 2 {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), address)
			if err := errors.Join(werr, f.Close()); err != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("could not write owner file: %w", err)
			}
			return &OwnerLock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("could not create owner file: %w", err)
		}

		owner, alive, err := ReadOwner(ctx, path)
		if err != nil {
			return nil, err
		}
		if alive {
			return nil, fmt.Errorf("data dir is owned by process %d: %w", owner.PID, model.ErrAlreadyExists)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("could not remove stale owner file: %w", err)
		}
	}

	return nil, fmt.Errorf("owner file %s keeps reappearing: %w", path, model.ErrAlreadyExists)
}

// Release removes the owner file.
func (l *OwnerLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("could not remove owner file: %w", err)
	}
	return nil
}
