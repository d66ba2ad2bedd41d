//go:build !windows

package backend

import (
	"os/exec"
	"syscall"
)

// detach starts the backend in its own session so it is not tied to our terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
