package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"msgrelay/internal/config"
	"msgrelay/internal/daemon"
	"msgrelay/internal/dispatch"
	"msgrelay/internal/history"
	"msgrelay/internal/history/factory"
	"msgrelay/internal/lock"
	"msgrelay/internal/metrics"
	"msgrelay/internal/record"
	"msgrelay/internal/spool"
	"msgrelay/internal/watch"
	"msgrelay/pkg/client"
)

// runSubmit builds a record from flags (or stdin) and queues it, printing
// the created entry path.
func runSubmit(flags *SubmitFlags, stdin io.Reader) (string, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return "", err
	}
	localHost, err := cfg.LocalHost()
	if err != nil {
		return "", err
	}

	var rec *record.Record
	if flags.Stdin {
		rec, err = record.Parse(stdin, localHost)
		if err != nil {
			return "", fmt.Errorf("read record from stdin: %w", err)
		}
	} else {
		rec = &record.Record{
			Comments: flags.Comments,
			Commands: flags.Commands,
		}
		for _, h := range flags.DstHosts {
			rec.DstHosts = append(rec.DstHosts, record.NormalizeHost(h, localHost))
		}
		for _, kv := range flags.Fields {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return "", fmt.Errorf("invalid --field %q: want key=value", kv)
			}
			rec.SetOther(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
	if rec.SrcHost == "" {
		rec.SrcHost = localHost
	}

	store := spool.New(cfg.Spool.Dir)
	if flags.Dir == "" {
		if err := store.EnsureLayout(); err != nil {
			return "", err
		}
	}
	return store.Submit(rec, flags.Dir)
}

// runServe starts the daemon, mapping startup failures to distinct exit
// codes: 2 already running, 3 storage unavailable, 4 lock write failure.
func runServe(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if flags.Daemonize {
		return daemonize(flags.LogFile)
	}

	log, logCloser := cfg.Log.New()
	defer func() { _ = logCloser.Close() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration", "error", err)
	}

	localHost, err := cfg.LocalHost()
	if err != nil {
		return err
	}
	store := spool.New(cfg.Spool.Dir)

	relay := dispatch.DefaultRelay()
	if cfg.Relay.Command != "" {
		relay = dispatch.ExecRelay{Command: cfg.Relay.Command, Args: cfg.Relay.Args, RemoteShell: cfg.Relay.RemoteShell}
	}
	engine := dispatch.NewEngine(store, localHost, dispatch.ShellRunner{}, relay, log)

	var sink history.Sink
	if cfg.History.DSN != "" {
		sink, err = factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
	}

	apiListen := ""
	if cfg.Server.Enabled {
		apiListen = cfg.Server.Listen
	}

	d := daemon.New(daemon.Options{
		Store:     store,
		Engine:    engine,
		LockPath:  cfg.LockPath(),
		Watch:     watch.Options{FallbackPoll: cfg.Watch.FallbackPoll},
		Logger:    log,
		Sink:      sink,
		APIListen: apiListen,
		APIBase:   cfg.Server.BasePath,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return classifyServeError(d.Run(ctx))
}

func classifyServeError(err error) error {
	if err == nil {
		return nil
	}
	var already *lock.AlreadyRunningError
	switch {
	case errors.As(err, &already):
		return &exitError{code: 2, err: err}
	case errors.Is(err, spool.ErrStorageUnavailable):
		return &exitError{code: 3, err: err}
	case errors.Is(err, lock.ErrWriteFailed):
		return &exitError{code: 4, err: err}
	}
	return err
}

// runStop signals the daemon recorded in the lock file and waits for the
// lock to disappear.
func runStop(flags *StopFlags) (string, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return "", err
	}
	lockPath := cfg.LockPath()
	pid, state, err := lock.Status(lockPath)
	if err != nil {
		return "", err
	}
	switch state {
	case lock.OwnerNone:
		return "", errors.New("daemon is not running")
	case lock.OwnerStale:
		return fmt.Sprintf("stale lock left by pid %d, not signalling", pid), nil
	}

	if err := terminate(pid); err != nil {
		return "", fmt.Errorf("signal pid %d: %w", pid, err)
	}
	if flags.Wait > 0 {
		if waitGone(lockPath, flags.Wait) {
			return fmt.Sprintf("daemon (pid %d) stopped", pid), nil
		}
		return fmt.Sprintf("daemon (pid %d) signalled, still shutting down", pid), nil
	}
	return fmt.Sprintf("daemon (pid %d) signalled", pid), nil
}

// runStatus reports the daemon state and spool depths, locally or through
// a remote daemon's status API.
func runStatus(flags *StatusFlags) (string, error) {
	if flags.APIUrl != "" {
		return remoteStatus(flags)
	}
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return "", err
	}
	pid, state, err := lock.Status(cfg.LockPath())
	if err != nil {
		return "", err
	}
	store := spool.New(cfg.Spool.Dir)
	depths, err := store.Depths()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if state == lock.OwnerRunning {
		fmt.Fprintf(&b, "daemon: %s (pid %d)\n", state, pid)
	} else {
		fmt.Fprintf(&b, "daemon: %s\n", state)
	}
	fmt.Fprintf(&b, "spool: %s\n", store.Root())
	for _, st := range spool.States {
		fmt.Fprintf(&b, "  %-11s %d\n", string(st)+":", depths[st])
	}
	return b.String(), nil
}

func remoteStatus(flags *StatusFlags) (string, error) {
	c := client.New(client.Config{BaseURL: flags.APIUrl, Timeout: flags.APITimeout})
	ctx, cancel := context.WithTimeout(context.Background(), flags.APITimeout)
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if st.PID != 0 {
		fmt.Fprintf(&b, "daemon: %s (pid %d)\n", st.Daemon, st.PID)
	} else {
		fmt.Fprintf(&b, "daemon: %s\n", st.Daemon)
	}
	fmt.Fprintf(&b, "spool: %s\n", st.Spool)
	states := make([]string, 0, len(st.Depths))
	for s := range st.Depths {
		states = append(states, s)
	}
	sort.Strings(states)
	for _, s := range states {
		fmt.Fprintf(&b, "  %-11s %d\n", s+":", st.Depths[s])
	}
	return b.String(), nil
}

// runWatch blocks until the entry lands in sent or failed.
func runWatch(flags *WatchFlags, entry string) (watch.Result, error) {
	if strings.ContainsAny(entry, "/\\") {
		return "", fmt.Errorf("entry must be a bare file name, got %q", entry)
	}
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return "", err
	}
	store := spool.New(cfg.Spool.Dir)

	ctx := context.Background()
	if flags.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.Timeout)
		defer cancel()
	}
	return watch.WaitOutcome(ctx, filepath.Base(entry), store.Dir(spool.StateSent), store.Dir(spool.StateFailed))
}

// waitGone polls for the lock file to disappear.
func waitGone(path string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}
