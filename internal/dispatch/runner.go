package dispatch

import (
	"context"
	"os/exec"
)

// CommandResult captures the outcome of one locally executed record command.
type CommandResult struct {
	ExitCode int
	Err      string // start/wait error text, empty on clean exit
	Command  string
}

// Runner executes one stored command string. Command text is opaque: it is
// handed to a shell as-is, never parsed by the engine.
type Runner interface {
	Run(ctx context.Context, command string) CommandResult
}

// ShellRunner runs commands through /bin/sh -c.
type ShellRunner struct{}

func (ShellRunner) Run(ctx context.Context, command string) CommandResult {
	res := CommandResult{Command: command}
	// #nosec G204 -- record commands are trusted cluster-internal input
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	err := cmd.Run()
	switch {
	case err == nil:
		res.ExitCode = 0
	case cmd.ProcessState != nil:
		res.ExitCode = cmd.ProcessState.ExitCode()
		res.Err = err.Error()
	default:
		res.ExitCode = -1
		res.Err = err.Error()
	}
	return res
}
