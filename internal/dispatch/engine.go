// Package dispatch implements the routing/execution state machine: given a
// queued spool entry, execute it locally when addressed to this host or
// relay it to the first reachable destination, then finalize the entry's
// terminal state.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"msgrelay/internal/metrics"
	"msgrelay/internal/record"
	"msgrelay/internal/spool"
)

// Outcome reports where an entry ended up. State is empty when the entry
// was left in the queue (unparsable input).
type Outcome struct {
	State  spool.State
	Path   string
	Host   string // destination relayed to, for dispatched entries
	Detail string
}

// Engine processes one entry at a time; the daemon loop is single-threaded
// so no internal locking is needed.
type Engine struct {
	store     *spool.Store
	localHost string
	runner    Runner
	relay     Relay
	logger    *slog.Logger
}

func NewEngine(store *spool.Store, localHost string, runner Runner, relay Relay, logger *slog.Logger) *Engine {
	return &Engine{store: store, localHost: localHost, runner: runner, relay: relay, logger: logger}
}

// LocalHost returns the hostname local destinations resolve to.
func (e *Engine) LocalHost() string { return e.localHost }

// Process routes the entry at path. Per-destination failures are turned
// into state transitions; only a failed bookkeeping rename escalates as an
// error, which the caller must treat as fatal for the run.
func (e *Engine) Process(ctx context.Context, path string) (Outcome, error) {
	started := time.Now()
	out, err := e.process(ctx, path)
	metrics.ObserveProcessSeconds(time.Since(started).Seconds())
	if err == nil && out.State != "" {
		metrics.IncEntry(string(out.State))
	}
	return out, err
}

func (e *Engine) process(ctx context.Context, path string) (Outcome, error) {
	rec, err := record.ParseFile(path, e.localHost)
	if err != nil {
		// An unparsable file is not safely routable: leave it in place
		// for manual inspection, never discard it.
		e.logger.Error("unparsable spool entry left in queue", "path", path, "error", err)
		metrics.IncEntry("unparsable")
		return Outcome{Path: path}, nil
	}

	if len(rec.DstHosts) == 0 {
		e.logger.Warn("entry has no destination", "path", path)
		return e.finalize(path, spool.StateFailed, "no destination specified", "")
	}

	for _, host := range rec.DstHosts {
		if strings.EqualFold(host, e.localHost) {
			// Local execution is terminal: no fallback to further
			// destinations once it has been attempted.
			return e.runLocal(ctx, path, rec)
		}
		if err := e.relay.Copy(ctx, path, host); err != nil {
			e.logger.Warn("relay failed, trying next destination", "path", path, "host", host, "error", err)
			metrics.IncRelayFailure(host)
			continue
		}
		e.logger.Info("entry relayed", "path", path, "host", host)
		out, ferr := e.finalize(path, spool.StateDispatched, "copied to "+host, host)
		return out, ferr
	}

	e.logger.Error("all destinations exhausted", "path", path, "hosts", rec.DstHosts)
	return e.finalize(path, spool.StateFailed, "copy to all destinations failed", "")
}

// runLocal executes every record command in sequence, collecting one result
// triple per command. Success requires every exit code to be zero; the
// synthetic negative code for a start failure counts like any other nonzero
// exit and cannot cancel against a positive one.
func (e *Engine) runLocal(ctx context.Context, path string, rec *record.Record) (Outcome, error) {
	results := make([]CommandResult, 0, len(rec.Commands))
	failures := 0
	for _, command := range rec.Commands {
		res := e.runner.Run(ctx, command)
		results = append(results, res)
		if res.ExitCode == 0 {
			metrics.IncLocalCommand("ok")
		} else {
			failures++
			metrics.IncLocalCommand("failed")
		}
	}
	if failures == 0 {
		e.logger.Info("entry executed locally", "path", path, "commands", len(rec.Commands))
		return e.finalize(path, spool.StateSent, "", "")
	}
	e.logger.Error("local execution failed", "path", path, "failed_commands", failures)
	return e.finalize(path, spool.StateFailed, formatResults(results), "")
}

func formatResults(results []CommandResult) string {
	var b strings.Builder
	b.WriteString("local execution failed:")
	for _, r := range results {
		fmt.Fprintf(&b, "\nexit=%d err=%q cmd=%q", r.ExitCode, r.Err, r.Command)
	}
	return b.String()
}

// finalize moves the entry into its terminal state and appends the outcome
// note. If the move fails for a non-failed target, one secondary attempt
// routes the entry to failed; a failed move into failed escalates.
func (e *Engine) finalize(path string, state spool.State, note, host string) (Outcome, error) {
	newPath, err := e.store.MoveTo(path, state)
	if err != nil {
		if state != spool.StateFailed {
			e.logger.Error("state move failed, routing to failed", "path", path, "state", state, "error", err)
			return e.finalize(path, spool.StateFailed, fmt.Sprintf("move to %s failed: %v", state, err), "")
		}
		return Outcome{}, err
	}
	if note != "" {
		if err := spool.AppendOutcome(newPath, note); err != nil {
			e.logger.Warn("appending outcome note failed", "path", newPath, "error", err)
		}
	}
	return Outcome{State: state, Path: newPath, Host: host, Detail: note}, nil
}
