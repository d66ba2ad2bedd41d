package backend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/backend"
	"github.com/kilnhq/kiln/internal/model"
)

func TestCommandSpec(t *testing.T) {
	tests := map[string]struct {
		cmd     backend.Command
		expArgs []string
		expEnv  []string
		expErr  bool
	}{
		"A full command should place JVM args before the jar and app args after.": {
			cmd: backend.Command{
				Java:        "/rt/bin/java",
				RuntimeHome: "/rt",
				JAR:         "/app/backend.jar",
				JVMArgs:     []string{"-Xmx512m"},
				Args:        []string{"--mode", "local"},
				Env:         map[string]string{"KILN_TEST_VAR": "1"},
			},
			expArgs: []string{"-Xmx512m", "-jar", "/app/backend.jar", "--mode", "local"},
			expEnv:  []string{"KILN_TEST_VAR=1", "KILN_RUNTIME_HOME=/rt"},
		},
		"A command without the jar should fail.": {
			cmd:    backend.Command{Java: "/rt/bin/java"},
			expErr: true,
		},
		"A command without java should fail.": {
			cmd:    backend.Command{JAR: "/app/backend.jar"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			spec, err := test.cmd.Spec()
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.cmd.Java, spec.Executable)
			assert.Equal(t, test.expArgs, spec.Args)
			for _, kv := range test.expEnv {
				assert.Contains(t, spec.Env, kv)
			}
		})
	}
}
