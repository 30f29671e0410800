//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// configureDaemonAttrs sets Unix-specific daemon attributes.
func configureDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session
	}
}

// resetFileMask clears the file-creation mask so the spool and lock files
// get exactly the modes the daemon sets on them.
func resetFileMask() {
	syscall.Umask(0)
}

// terminate sends SIGTERM to the daemon pid.
func terminate(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
