// Package daemon wires the spool store, lock, dispatch engine, watch loop
// and optional status API into the long-running serve process.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"msgrelay/internal/dispatch"
	"msgrelay/internal/history"
	"msgrelay/internal/lock"
	"msgrelay/internal/metrics"
	"msgrelay/internal/server"
	"msgrelay/internal/spool"
	"msgrelay/internal/watch"
)

// Options collects the daemon's collaborators. Store, Engine, LockPath and
// Logger are required; Sink and APIListen are optional.
type Options struct {
	Store     *spool.Store
	Engine    *dispatch.Engine
	LockPath  string
	Watch     watch.Options
	Logger    *slog.Logger
	Sink      history.Sink // dispatch outcome export, nil to disable
	APIListen string       // status API address, empty to disable
	APIBase   string
}

// Daemon owns the serve lifecycle: acquire the lock, recover entries left
// in the queue by a previous run, then process new arrivals until the
// context is cancelled.
type Daemon struct {
	opts   Options
	handle *lock.Handle
	api    *http.Server
}

func New(opts Options) *Daemon {
	return &Daemon{opts: opts}
}

// Run blocks until ctx is cancelled or a fatal error occurs. The lock is
// always released on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	o := d.opts
	if err := o.Store.EnsureLayout(); err != nil {
		return err
	}

	handle, err := lock.Acquire(o.LockPath, o.Logger)
	if err != nil {
		return err
	}
	d.handle = handle
	defer func() {
		if err := handle.Release(); err != nil {
			o.Logger.Error("release lock", "error", err)
		}
	}()

	o.Logger.Info("daemon started",
		"pid", handle.PID(),
		"spool", o.Store.Root(),
		"host", o.Engine.LocalHost())

	if o.APIListen != "" {
		router := server.NewRouter(o.Store, o.LockPath, o.APIBase)
		d.api = server.NewServer(o.APIListen, router)
		o.Logger.Info("status api listening", "addr", o.APIListen, "base", o.APIBase)
		defer d.shutdownAPI()
	}
	if o.Sink != nil {
		defer func() {
			if err := o.Sink.Close(); err != nil {
				o.Logger.Warn("close history sink", "error", err)
			}
		}()
	}

	if err := d.recover(ctx); err != nil {
		return err
	}
	d.updateDepths()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatal error
	handler := func(path string) {
		out, perr := o.Engine.Process(runCtx, path)
		if perr != nil {
			// A failed bookkeeping rename means the spool itself is
			// broken; stop instead of spinning on the same entry.
			o.Logger.Error("spool bookkeeping failed, shutting down", "path", path, "error", perr)
			fatal = perr
			cancel()
			return
		}
		d.record(runCtx, out)
		d.updateDepths()
	}

	werr := watch.Queue(runCtx, o.Store.QueueDir(), o.Watch, o.Logger, handler)
	if fatal != nil {
		return fatal
	}
	if werr != nil {
		return werr
	}
	o.Logger.Info("daemon stopped")
	return nil
}

// recover drains entries already sitting in the queue from before this run.
func (d *Daemon) recover(ctx context.Context) error {
	paths, err := d.opts.Store.ScanQueue()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}
	d.opts.Logger.Info("recovering queued entries", "count", len(paths))
	recovered := 0
	for _, p := range paths {
		if ctx.Err() != nil {
			return nil
		}
		out, perr := d.opts.Engine.Process(ctx, p)
		if perr != nil {
			return perr
		}
		if out.State != "" {
			recovered++
		}
		d.record(ctx, out)
	}
	metrics.AddScanRecovered(recovered)
	return nil
}

// record exports the outcome to the history sink, if one is configured.
func (d *Daemon) record(ctx context.Context, out dispatch.Outcome) {
	if d.opts.Sink == nil || out.State == "" {
		return
	}
	e := history.Event{
		Entry:      filepath.Base(out.Path),
		Outcome:    string(out.State),
		Host:       out.Host,
		Detail:     out.Detail,
		OccurredAt: time.Now().UTC(),
	}
	// Keep the sink write from being aborted mid-shutdown; bound it with
	// its own timeout instead.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.opts.Sink.Send(sctx, e); err != nil {
		d.opts.Logger.Warn("history sink send", "entry", e.Entry, "error", err)
	}
}

func (d *Daemon) updateDepths() {
	depths, err := d.opts.Store.Depths()
	if err != nil {
		d.opts.Logger.Warn("scan spool depths", "error", err)
		return
	}
	for st, n := range depths {
		metrics.SetQueueDepth(string(st), n)
	}
}

func (d *Daemon) shutdownAPI() {
	if d.api == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.api.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = d.api.Close()
	}
}
