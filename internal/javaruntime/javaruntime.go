// Package javaruntime makes sure a compatible Java runtime exists on disk before
// the backend is launched, downloading and unpacking one when it doesn't.
package javaruntime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/kilnhq/kiln/internal/conventions"
	"github.com/kilnhq/kiln/internal/log"
	"github.com/kilnhq/kiln/internal/metrics"
	"github.com/kilnhq/kiln/internal/model"
	"github.com/kilnhq/kiln/internal/retry"
)

// DefaultDistributionURL is the runtime distribution API base URL.
const DefaultDistributionURL = "https://api.adoptium.net/v3"

// VerifierConfig is the configuration for the runtime verifier.
type VerifierConfig struct {
	// Home is the runtime home directory, owned by the verifier.
	Home string
	// DistributionURL is the runtime distribution API base URL.
	DistributionURL string
	// HTTPClient is used for the distribution API and downloads.
	HTTPClient *http.Client
	// Retry is the policy for lookups and downloads (10 attempts, 3s apart by default).
	Retry retry.Config
	// GOOS and GOARCH select the runtime flavour, default to the host ones.
	GOOS   string
	GOARCH string
	// StatusWriter receives download progress, optional.
	StatusWriter io.Writer
	Metrics      metrics.Recorder
	Logger       log.Logger
}

func (c *VerifierConfig) defaults() error {
	if c.Home == "" {
		return fmt.Errorf("runtime home is required")
	}
	if c.DistributionURL == "" {
		c.DistributionURL = DefaultDistributionURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.GOOS == "" {
		c.GOOS = runtime.GOOS
	}
	if c.GOARCH == "" {
		c.GOARCH = runtime.GOARCH
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "javaruntime.Verifier"})
	return nil
}

// Verifier verifies, and installs when required, the Java runtime.
type Verifier struct {
	home            string
	distributionURL string
	httpClient      *http.Client
	retry           retry.Config
	goos            string
	goarch          string
	statusWriter    io.Writer
	metrics         metrics.Recorder
	logger          log.Logger
}

// NewVerifier returns a new runtime verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Verifier{
		home:            cfg.Home,
		distributionURL: cfg.DistributionURL,
		httpClient:      cfg.HTTPClient,
		retry:           cfg.Retry,
		goos:            cfg.GOOS,
		goarch:          cfg.GOARCH,
		statusWriter:    cfg.StatusWriter,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
	}, nil
}

// ExecutablePath returns the expected java binary path.
func (v *Verifier) ExecutablePath() string { return ExecutablePath(v.home, v.goos) }

// Home returns the runtime home directory.
func (v *Verifier) Home() string { return v.home }

// Verify makes sure the required runtime version is installed. Any failure is
// logged and reported as false.
func (v *Verifier) Verify(ctx context.Context, requiredVersion string) bool {
	if _, err := v.Ensure(ctx, requiredVersion); err != nil {
		v.logger.Errorf("Java runtime %s verification failed: %v", requiredVersion, err)
		return false
	}
	return true
}

// Ensure returns the installed runtime, installing the required version first
// when it is absent or a different version.
func (v *Verifier) Ensure(ctx context.Context, requiredVersion string) (*model.RuntimeRecord, error) {
	if requiredVersion == "" {
		return nil, fmt.Errorf("required version is missing: %w", model.ErrNotValid)
	}

	installed, ok, err := v.InstalledVersion(ctx)
	switch {
	case err != nil:
		v.logger.Warningf("Could not determine installed Java runtime version, reinstalling: %v", err)
	case !ok:
		v.logger.Infof("Java runtime not installed at %s", v.home)
	case SameVersion(installed, requiredVersion):
		v.logger.Debugf("Java runtime %s already installed", installed)
		return v.record(installed), nil
	default:
		v.logger.Infof("Java runtime version mismatch (installed: %s, required: %s), reinstalling", installed, requiredVersion)
	}

	if err := v.install(ctx, requiredVersion); err != nil {
		return nil, err
	}

	return v.record(MajorVersion(requiredVersion)), nil
}

// InstalledVersion returns the installed runtime version. It reads the sentinel
// file and falls back to probing the executable, caching the probed version.
func (v *Verifier) InstalledVersion(ctx context.Context) (version string, ok bool, err error) {
	exe := v.ExecutablePath()
	if _, err := os.Stat(exe); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("could not stat java executable: %w", err)
	}

	sentinel := conventions.RuntimeVersionPath(v.home)
	version, ok, err = readSentinel(sentinel)
	if err != nil {
		return "", false, err
	}
	if ok {
		return version, true, nil
	}

	version, err = v.probeVersion(ctx, exe)
	if err != nil {
		return "", false, err
	}

	if err := writeSentinel(sentinel, version); err != nil {
		v.logger.Warningf("Could not cache probed Java version: %v", err)
	}
	return version, true, nil
}

func (v *Verifier) probeVersion(ctx context.Context, exe string) (string, error) {
	// `java -version` prints on stderr on most distributions.
	out, err := exec.CommandContext(ctx, exe, "-version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("running %s -version: %w", exe, err)
	}
	return ParseVersionOutput(string(out))
}

func (v *Verifier) install(ctx context.Context, requiredVersion string) error {
	major := MajorVersion(requiredVersion)

	if err := os.MkdirAll(v.home, 0o755); err != nil {
		return fmt.Errorf("creating runtime home: %w", err)
	}

	a, err := v.ResolveAsset(ctx, major)
	if err != nil {
		return fmt.Errorf("resolving java %s download: %w", major, err)
	}

	archivePath, err := v.download(ctx, *a, v.home)
	if err != nil {
		return fmt.Errorf("downloading java %s: %w", major, err)
	}

	v.logger.Infof("Extracting Java runtime %s", a.Name)
	tops, err := extractArchive(archivePath, v.home)
	if err != nil {
		return fmt.Errorf("extracting java %s: %w", major, err)
	}

	nested, err := nestedDir(tops, filepath.Base(archivePath))
	if err != nil {
		return err
	}
	if err := flattenInto(v.home, nested); err != nil {
		return fmt.Errorf("flattening java %s: %w", major, err)
	}

	if err := os.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		v.logger.Warningf("Could not remove runtime archive: %v", err)
	}

	if _, err := os.Stat(v.ExecutablePath()); err != nil {
		return fmt.Errorf("java executable missing after install: %w", err)
	}

	if err := writeSentinel(conventions.RuntimeVersionPath(v.home), major); err != nil {
		return err
	}

	v.logger.Infof("Java runtime %s installed at %s", major, v.home)
	return nil
}

// nestedDir returns the single version named directory of an extracted archive.
func nestedDir(tops []string, archiveName string) (string, error) {
	dirs := make([]string, 0, len(tops))
	for _, t := range tops {
		if t == archiveName || t == conventions.RuntimeVersionFile {
			continue
		}
		dirs = append(dirs, t)
	}
	if len(dirs) != 1 {
		return "", fmt.Errorf("expected one extracted directory, got %d (%v): %w", len(dirs), dirs, model.ErrNotValid)
	}
	return dirs[0], nil
}

func (v *Verifier) record(version string) *model.RuntimeRecord {
	return &model.RuntimeRecord{
		Version:    version,
		Home:       v.home,
		Executable: v.ExecutablePath(),
	}
}

func (v *Verifier) retryConfig(name string) retry.Config {
	cfg := v.retry
	cfg.Name = name
	cfg.Logger = v.logger
	return cfg
}
