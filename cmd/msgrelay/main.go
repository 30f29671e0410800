package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitError carries a distinct process exit code out of a RunE function.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	submitFlags := &SubmitFlags{}
	serveFlags := &ServeFlags{}
	stopFlags := &StopFlags{}
	statusFlags := &StatusFlags{}
	watchFlags := &WatchFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createSubmitCommand(globalFlags, submitFlags),
		createServeCommand(globalFlags, serveFlags),
		createStopCommand(globalFlags, stopFlags),
		createStatusCommand(globalFlags, statusFlags),
		createWatchCommand(globalFlags, watchFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "msgrelay",
		Short: "Durable spool dispatcher for cluster notification jobs",
		Long: `Msgrelay queues message records on disk and dispatches them: commands
addressed to this host are executed locally, records for other hosts are
relayed to the first reachable destination.

Examples:
  msgrelay submit --dst-host=backup01 --cmd="/usr/bin/notify --rotate"
  msgrelay serve --config=/etc/msgrelay.toml
  msgrelay status
  msgrelay watch m1755900000-ab12cd34`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// createSubmitCommand creates the submit subcommand.
func createSubmitCommand(globalFlags *GlobalFlags, submitFlags *SubmitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a new message record",
		Long: `Build a message record and write it atomically into the spool queue.

Examples:
  msgrelay submit --dst-host=backup01 --dst-host=backup02 --cmd="/usr/bin/sync-report"
  msgrelay submit --dst-host=localhost --cmd="/bin/true" --comment="nightly check"
  cat record.txt | msgrelay submit --stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			submitFlags.ConfigPath = globalFlags.ConfigPath
			path, err := runSubmit(submitFlags, cmd.InOrStdin())
			if err != nil {
				return err
			}
			cmd.Println(path)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&submitFlags.DstHosts, "dst-host", nil, "destination host, repeatable, tried in order")
	cmd.Flags().StringArrayVar(&submitFlags.Commands, "cmd", nil, "command to execute on the destination, repeatable")
	cmd.Flags().StringArrayVar(&submitFlags.Comments, "comment", nil, "free-text comment line, repeatable")
	cmd.Flags().StringArrayVar(&submitFlags.Fields, "field", nil, "extra key=value field, repeatable")
	cmd.Flags().StringVar(&submitFlags.Dir, "dir", "", "write the entry into this directory instead of the queue")
	cmd.Flags().BoolVar(&submitFlags.Stdin, "stdin", false, "read a complete record from stdin")
	return cmd
}

// createServeCommand creates the serve subcommand.
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the msgrelay daemon",
		Long: `Start the spool daemon: recover entries left in the queue by a previous
run, then dispatch new arrivals until SIGTERM or SIGINT.

Exit codes: 2 another instance is running, 3 spool storage unavailable,
4 lock file could not be written.

Examples:
  msgrelay serve                          # foreground, built-in defaults
  msgrelay serve /etc/msgrelay.toml       # with config file
  msgrelay serve --daemonize              # background daemon`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(serveFlags, args)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	return cmd
}

// createStopCommand creates the stop subcommand.
func createStopCommand(globalFlags *GlobalFlags, stopFlags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stopFlags.ConfigPath = globalFlags.ConfigPath
			msg, err := runStop(stopFlags)
			if err != nil {
				return err
			}
			cmd.Println(msg)
			return nil
		},
	}
	cmd.Flags().DurationVar(&stopFlags.Wait, "wait", 5*time.Second, "time to wait for the daemon to exit")
	return cmd
}

// createStatusCommand creates the status subcommand.
func createStatusCommand(globalFlags *GlobalFlags, statusFlags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and spool status",
		Long: `Report the daemon lock state and per-state spool depths.

Examples:
  msgrelay status
  msgrelay status --api-url=http://relay01:8321/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			statusFlags.ConfigPath = globalFlags.ConfigPath
			out, err := runStatus(statusFlags)
			if err != nil {
				return err
			}
			cmd.Print(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8321/api)")
	cmd.Flags().DurationVar(&statusFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

// createWatchCommand creates the watch subcommand.
func createWatchCommand(globalFlags *GlobalFlags, watchFlags *WatchFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <entry>",
		Short: "Wait for an entry's outcome",
		Long: `Block until the named entry lands in sent or failed, print OK or FAIL,
and exit 0 or 1 accordingly.

Example:
  msgrelay watch m1755900000-ab12cd34 --timeout=2m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			watchFlags.ConfigPath = globalFlags.ConfigPath
			result, err := runWatch(watchFlags, args[0])
			if err != nil {
				return err
			}
			cmd.Println(string(result))
			if result != "OK" {
				return &exitError{code: 1, err: errors.New("entry failed")}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&watchFlags.Timeout, "timeout", 0, "give up after this long (0 waits forever)")
	return cmd
}
