// Package backend spawns the Java backend process and waits for it to announce
// the port and one-time secret it accepts connections with.
package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/model"
)

// DefaultReadyTimeout is how long a launch waits for the readiness line.
const DefaultReadyTimeout = 30 * time.Second

// Backend log rotation defaults.
const (
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 7
)

// Spec describes the process to launch.
type Spec struct {
	Executable string
	Args       []string
	// Env is the full process environment, nil inherits ours.
	Env []string
	Dir string
}

// LauncherConfig is the configuration for the launcher.
type LauncherConfig struct {
	// ReadyTimeout bounds the wait for the readiness line.
	ReadyTimeout time.Duration
	// LogPath receives the backend stdout and stderr, rotated. Empty discards them.
	LogPath string
	// HostPID is passed to the backend as `--pid`, defaults to our PID.
	HostPID int
	Metrics metrics.Recorder
	Logger  log.Logger
}

func (c *LauncherConfig) defaults() error {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.HostPID <= 0 {
		c.HostPID = os.Getpid()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "backend.Launcher"})
	return nil
}

// trackedProcess is one spawned backend and, once ready, its handshake.
type trackedProcess struct {
	cmd       *exec.Cmd
	handshake *model.BackendHandshake
	exited    chan struct{}
}

// Launcher launches the backend and caches its handshake for the process lifetime.
type Launcher struct {
	readyTimeout time.Duration
	hostPID      int
	output       io.WriteCloser
	metrics      metrics.Recorder
	logger       log.Logger

	launchMu sync.Mutex
	mu       sync.Mutex
	proc     *trackedProcess
}

// NewLauncher returns a new backend launcher.
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var output io.WriteCloser = nopWriteCloser{io.Discard}
	if cfg.LogPath != "" {
		output = &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAge:     DefaultLogMaxAgeDays,
		}
	}

	return &Launcher{
		readyTimeout: cfg.ReadyTimeout,
		hostPID:      cfg.HostPID,
		output:       output,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}, nil
}

// Launch spawns the backend and waits for its handshake. While the spawned
// process is alive and ready, later calls return the cached handshake.
func (l *Launcher) Launch(ctx context.Context, spec Spec) (*model.BackendHandshake, error) {
	l.launchMu.Lock()
	defer l.launchMu.Unlock()

	l.mu.Lock()
	current := l.proc
	l.mu.Unlock()

	if current != nil {
		if hs := l.cachedHandshake(current); hs != nil {
			l.logger.Debugf("Backend already running (pid %d), reusing handshake", hs.PID)
			return hs, nil
		}

		l.logger.Warningf("Killing backend (pid %d) that never became ready", current.cmd.Process.Pid)
		l.kill(current)
	}

	hs, err := l.spawn(ctx, spec)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
	}
	l.metrics.IncBackendLaunch(ctx, result)

	return hs, err
}

func (l *Launcher) spawn(ctx context.Context, spec Spec) (*model.BackendHandshake, error) {
	if spec.Executable == "" {
		return nil, fmt.Errorf("backend executable is missing: %w", model.ErrNotValid)
	}

	args := append(append([]string{}, spec.Args...), "--pid", strconv.Itoa(l.hostPID))

	// Not bound to ctx, the backend outlives the launch call.
	cmd := exec.Command(spec.Executable, args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stderr = l.output
	detach(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("could not capture backend stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start backend: %w", err)
	}

	tp := &trackedProcess{cmd: cmd, exited: make(chan struct{})}
	l.mu.Lock()
	l.proc = tp
	l.mu.Unlock()

	pid := cmd.Process.Pid
	l.logger.Infof("Backend started (pid %d), waiting for readiness", pid)

	ready := make(chan Readiness, 1)
	go l.watch(tp, stdout, ready)

	timer := time.NewTimer(l.readyTimeout)
	defer timer.Stop()

	select {
	case r := <-ready:
		hs := &model.BackendHandshake{PID: pid, Port: r.Port, Secret: r.Secret}
		l.mu.Lock()
		if l.proc == tp {
			tp.handshake = hs
		}
		l.mu.Unlock()
		l.logger.Infof("Backend ready (pid %d) on port %d", pid, r.Port)
		out := *hs
		return &out, nil
	case <-tp.exited:
		select {
		case r := <-ready:
			l.logger.Warningf("Backend (pid %d) announced port %d but already exited", pid, r.Port)
		default:
		}
		return nil, fmt.Errorf("backend (pid %d) exited before becoming ready: %s", pid, cmd.ProcessState)
	case <-timer.C:
		return nil, fmt.Errorf("backend (pid %d) not ready after %s: %w", pid, l.readyTimeout, model.ErrHandshakeTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// watch tees the backend stdout into the log, reports the first readiness line
// and clears the tracked process once it exits.
func (l *Launcher) watch(tp *trackedProcess, stdout io.Reader, ready chan<- Readiness) {
	var once sync.Once
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		_, _ = fmt.Fprintln(l.output, line)

		r, err := ParseReadiness(line)
		if err != nil {
			var perr *ParseError
			if errors.As(err, &perr) {
				l.logger.Warningf("%v", perr)
			}
			continue
		}
		once.Do(func() { ready <- r })
	}
	if err := scanner.Err(); err != nil {
		l.logger.Warningf("Reading backend stdout failed: %v", err)
		_, _ = io.Copy(l.output, stdout)
	}

	err := tp.cmd.Wait()
	if err != nil {
		l.logger.Warningf("Backend (pid %d) exited: %v", tp.cmd.Process.Pid, err)
	} else {
		l.logger.Infof("Backend (pid %d) exited", tp.cmd.Process.Pid)
	}

	l.mu.Lock()
	if l.proc == tp {
		l.proc = nil
	}
	l.mu.Unlock()
	close(tp.exited)
}

// Handshake returns the cached handshake of the running backend.
func (l *Launcher) Handshake() (*model.BackendHandshake, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.proc == nil || l.proc.handshake == nil {
		return nil, false
	}
	hs := *l.proc.handshake
	return &hs, true
}

// Alive returns true if the tracked backend process exists.
func (l *Launcher) Alive(ctx context.Context) bool {
	l.mu.Lock()
	tp := l.proc
	l.mu.Unlock()
	if tp == nil {
		return false
	}

	ok, err := process.PidExistsWithContext(ctx, int32(tp.cmd.Process.Pid))
	if err != nil {
		l.logger.Debugf("Could not check backend liveness: %v", err)
		return false
	}
	return ok
}

// Stop kills the tracked backend and waits for it to exit.
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	tp := l.proc
	l.mu.Unlock()
	if tp == nil {
		return nil
	}

	l.logger.Infof("Stopping backend (pid %d)", tp.cmd.Process.Pid)
	l.kill(tp)

	select {
	case <-tp.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the backend log output.
func (l *Launcher) Close() error { return l.output.Close() }

func (l *Launcher) cachedHandshake(tp *trackedProcess) *model.BackendHandshake {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tp.handshake == nil {
		return nil
	}
	hs := *tp.handshake
	return &hs
}

// kill is best effort, the watcher clears the tracked process on exit.
func (l *Launcher) kill(tp *trackedProcess) {
	if err := tp.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		l.logger.Warningf("Could not kill backend (pid %d): %v", tp.cmd.Process.Pid, err)
	}

	l.mu.Lock()
	if l.proc == tp {
		l.proc = nil
	}
	l.mu.Unlock()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
