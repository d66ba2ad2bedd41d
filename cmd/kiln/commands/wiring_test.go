package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/model"
)

func TestRootCommandLoadConfig(t *testing.T) {
	configYAML := `
runtime:
  version: "17"
backend:
  jar: /opt/kiln/backend.jar
  jvm_args: ["-Xmx2G"]
  env:
    FOO: config
  ready_timeout: 45s
install:
  tick_interval: 2s
`

	tests := map[string]struct {
		config    string
		root      RootCommand
		expConfig func(dataDir string) model.Config
		expErr    bool
	}{
		"Flags only should build the config.": {
			root: RootCommand{RuntimeVersion: "21", BackendJAR: "/backend.jar", EnvSpecs: []string{"FOO=bar"}},
			expConfig: func(dataDir string) model.Config {
				return model.Config{
					Runtime: model.RuntimeConfig{Version: "21", Dir: filepath.Join(dataDir, "runtime")},
					Backend: model.BackendConfig{JAR: "/backend.jar", Env: map[string]string{"FOO": "bar"}},
				}
			},
		},
		"Flags should override the config file.": {
			config: configYAML,
			root:   RootCommand{RuntimeVersion: "21", EnvSpecs: []string{"FOO=flag"}},
			expConfig: func(dataDir string) model.Config {
				return model.Config{
					Runtime: model.RuntimeConfig{Version: "21", Dir: filepath.Join(dataDir, "runtime")},
					Backend: model.BackendConfig{
						JAR:          "/opt/kiln/backend.jar",
						JVMArgs:      []string{"-Xmx2G"},
						Env:          map[string]string{"FOO": "flag"},
						ReadyTimeout: 45 * time.Second,
					},
					Install: model.InstallConfig{TickInterval: 2 * time.Second},
				}
			},
		},
		"An invalid config file should fail.": {
			config: "runtime: {}\n",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			dir := t.TempDir()
			root := test.root
			root.DataDir = filepath.Join(dir, "data")
			if test.config != "" {
				root.ConfigPath = filepath.Join(dir, "kiln.yaml")
				require.NoError(os.WriteFile(root.ConfigPath, []byte(test.config), 0o644))
			}

			got, err := root.loadConfig(context.Background())
			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(test.expConfig(root.DataDir), got)
		})
	}
}
