package dispatch

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
)

// Relay copies an entry file to the same path on a peer host. The transport
// is an external tool invoked as a black box; exit code zero means the peer
// has the file.
type Relay interface {
	Copy(ctx context.Context, path, host string) error
}

// ExecRelay shells out to a configurable copy command, by default scp in
// batch mode. The transfer targets a hidden temp name on the peer and is
// renamed into place with a remote command, so the peer's watch loop only
// ever sees fully written entries. Invocations:
//
//	<command> <args...> <path> <host>:<tmp>
//	<remote_shell> <host> mv <tmp> <path>
type ExecRelay struct {
	Command     string
	Args        []string
	RemoteShell string // default ssh
}

// DefaultRelay returns the stock scp transport.
func DefaultRelay() ExecRelay {
	return ExecRelay{Command: "scp", Args: []string{"-Bq"}, RemoteShell: "ssh"}
}

func (r ExecRelay) Copy(ctx context.Context, path, host string) error {
	tmp := remoteTempPath(path)
	args := make([]string, 0, len(r.Args)+2)
	args = append(args, r.Args...)
	args = append(args, path, host+":"+tmp)
	// #nosec G204 -- transport command comes from daemon config
	if err := exec.CommandContext(ctx, r.Command, args...).Run(); err != nil {
		return fmt.Errorf("relay to %s: %w", host, err)
	}
	shell := r.RemoteShell
	if shell == "" {
		shell = "ssh"
	}
	// #nosec G204 -- remote shell comes from daemon config
	if err := exec.CommandContext(ctx, shell, host, "mv", tmp, path).Run(); err != nil {
		return fmt.Errorf("publish on %s: %w", host, err)
	}
	return nil
}

// remoteTempPath hides the in-flight transfer behind the spool's dot-name
// convention so the peer skips it until the rename.
func remoteTempPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path))
}
