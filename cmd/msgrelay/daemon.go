package main

import (
	"fmt"
	"os"
	"os/exec"
)

// daemonize re-executes the current binary detached from the terminal,
// stripping the --daemonize flag so the child runs in the foreground path.
func daemonize(logFile string) error {
	if os.Getppid() == 1 {
		// Already running as daemon
		return nil
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := daemonCommand(executable, daemonArgs(os.Args[1:], logFile))

	cmd.Stdin = nil
	if logFile != "" {
		// #nosec G304 -- log path comes from the operator's flag
		logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		cmd.Stdout = logF
		cmd.Stderr = logF
	} else {
		cmd.Stdout = nil
		cmd.Stderr = nil
	}

	// The child inherits the file-creation mask, so reset it here; the
	// parent exits right after the spawn.
	resetFileMask()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	fmt.Printf("Daemon started with PID %d\n", cmd.Process.Pid)

	// Parent process exits
	os.Exit(0)
	return nil
}

// daemonArgs strips --daemonize and --logfile from the re-exec argument
// list, re-appending --logfile when one was given.
func daemonArgs(args []string, logFile string) []string {
	var out []string
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		if arg == "--daemonize" {
			continue
		}
		if arg == "--logfile" {
			skipNext = true
			continue
		}
		out = append(out, arg)
	}
	if logFile != "" {
		out = append(out, "--logfile", logFile)
	}
	return out
}

// daemonCommand builds the detached re-exec. The working directory is
// pinned to the filesystem root so the daemon never blocks an unmount of
// wherever it was started from.
func daemonCommand(executable string, args []string) *exec.Cmd {
	// #nosec G204 -- re-exec of our own binary
	cmd := exec.Command(executable, args...)
	configureDaemonAttrs(cmd)
	cmd.Dir = "/"
	return cmd
}
