package env_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnhq/kiln/internal/utils/env"
)

func TestParseSpecs(t *testing.T) {
	t.Setenv("KILN_ENV_TEST_FROM_HOST", "host-value")

	tests := map[string]struct {
		specs  []string
		exp    map[string]string
		expErr bool
	}{
		"Key value specs should be parsed.": {
			specs: []string{"A=1", "B=x=y"},
			exp:   map[string]string{"A": "1", "B": "x=y"},
		},
		"Key only specs should take the host value.": {
			specs: []string{"KILN_ENV_TEST_FROM_HOST"},
			exp:   map[string]string{"KILN_ENV_TEST_FROM_HOST": "host-value"},
		},
		"Missing host variables should fail.": {
			specs:  []string{"KILN_ENV_TEST_MISSING"},
			expErr: true,
		},
		"Invalid keys should fail.": {
			specs:  []string{"1BAD=x"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := env.ParseSpecs(test.specs)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.exp, got)
		})
	}
}

func TestEnviron(t *testing.T) {
	got := env.Environ(
		[]string{"PATH=/bin", "HOME=/root", "PATH=/dup"},
		map[string]string{"HOME": "/home/kiln", "B": "2", "A": "1"},
	)
	assert.Equal(t, []string{"PATH=/bin", "HOME=/home/kiln", "PATH=/dup", "A=1", "B=2"}, got)
}

func TestMergeMaps(t *testing.T) {
	got := env.MergeMaps(map[string]string{"A": "1", "B": "1"}, map[string]string{"B": "2"})
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, got)
}
