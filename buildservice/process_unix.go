//go:build !windows

package buildservice

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setupProcessGroup runs the build in its own process group, so everything
// build.sh spawns can be killed together.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessGroup kills the build script and all of its children.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	// the group id equals the pid of its leader
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
