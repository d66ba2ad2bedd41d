package kiln

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kilnhq/kiln/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary         string
	RuntimeVersion string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "kiln"
	}

	// go test changes the CWD to the package directory.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("KILN_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("kiln binary not found at %q: %w", c.Binary, err)
	}

	if c.RuntimeVersion == "" {
		c.RuntimeVersion = "21"
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation     = "KILN_INTEGRATION"
		envBinary         = "KILN_INTEGRATION_BINARY"
		envRuntimeVersion = "KILN_INTEGRATION_RUNTIME_VERSION"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary:         os.Getenv(envBinary),
		RuntimeVersion: os.Getenv(envRuntimeVersion),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RunKiln runs kiln with an isolated data dir.
func RunKiln(ctx context.Context, config Config, dataDir string, args ...string) (stdout, stderr []byte, err error) {
	env := []string{"KILN_DATA_DIR=" + dataDir}
	return testutils.RunKilnArgs(ctx, env, config.Binary, args, true)
}
