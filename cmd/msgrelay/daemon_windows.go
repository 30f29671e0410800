//go:build windows

package main

import (
	"os"
	"os/exec"
	"syscall"
)

// configureDaemonAttrs sets Windows-specific daemon attributes.
func configureDaemonAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | 0x08000000, // CREATE_NO_WINDOW
	}
}

// resetFileMask is a no-op: Windows has no file-creation mask.
func resetFileMask() {}

// terminate asks the daemon process to exit.
func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
