package testutils

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// RunKiln executes a kiln command with the given arguments string (split by spaces).
func RunKiln(ctx context.Context, env []string, binary, cmdArgs string, nolog bool) (stdout, stderr []byte, err error) {
	return RunKilnArgs(ctx, env, binary, strings.Fields(cmdArgs), nolog)
}

// RunKilnArgs executes a kiln command with pre-split arguments.
func RunKilnArgs(ctx context.Context, env []string, binary string, args []string, nolog bool) (stdout, stderr []byte, err error) {
	var outData, errData bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &outData
	cmd.Stderr = &errData

	// The last duplicated key wins.
	newEnv := append([]string{}, os.Environ()...)
	newEnv = append(newEnv, env...)
	if nolog {
		newEnv = append(newEnv, "KILN_NO_LOG=true")
	}
	cmd.Env = newEnv

	err = cmd.Run()

	return outData.Bytes(), errData.Bytes(), err
}
