// Package watch delivers filesystem-change notifications for spool
// directories. Producers publish entries by writing to a hidden temp name
// and renaming into place, so a create event always refers to a fully
// written file. A polling safety net covers platforms or mounts where
// inotify-style events are unavailable or lossy.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultFallbackPoll is the safety-net rescan interval for the queue watch.
const DefaultFallbackPoll = 60 * time.Second

// Options tunes a queue watch.
type Options struct {
	// FallbackPoll rescans the directory at this interval in addition to
	// change events. Zero selects DefaultFallbackPoll; negative disables.
	FallbackPoll time.Duration
}

// Queue blocks watching dir and invokes handler with the path of every
// newly published (fully written, non-hidden) file, one at a time, in the
// watching goroutine. It returns nil once ctx is cancelled.
func Queue(ctx context.Context, dir string, opts Options, logger *slog.Logger, handler func(path string)) error {
	poll := opts.FallbackPoll
	if poll == 0 {
		poll = DefaultFallbackPoll
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, falling back to polling", "dir", dir, "error", err)
		return pollLoop(ctx, dir, poll, handler)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(dir); err != nil {
		logger.Warn("watch subscription failed, falling back to polling", "dir", dir, "error", err)
		return pollLoop(ctx, dir, poll, handler)
	}

	var ticker *time.Ticker
	var tick <-chan time.Time
	if poll > 0 {
		ticker = time.NewTicker(poll)
		tick = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return pollLoop(ctx, dir, poll, handler)
			}
			if !published(ev) {
				continue
			}
			handler(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return pollLoop(ctx, dir, poll, handler)
			}
			logger.Warn("watcher error", "dir", dir, "error", err)
		case <-tick:
			for _, p := range listEntries(dir) {
				handler(p)
			}
		}
	}
}

// published reports whether ev announces a complete new entry. Producers
// rename into the directory, which surfaces as a create event; hidden temp
// names are skipped. Rename events are not entries: fsnotify raises them
// for files moved out of the directory, i.e. for the engine's own state
// transitions.
func published(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) {
		return false
	}
	return !strings.HasPrefix(filepath.Base(ev.Name), ".")
}

func pollLoop(ctx context.Context, dir string, poll time.Duration, handler func(path string)) error {
	if poll <= 0 {
		poll = DefaultFallbackPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, p := range listEntries(dir) {
				handler(p)
			}
		}
	}
}

// listEntries returns the non-hidden regular files in dir, oldest first.
func listEntries(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type item struct {
		path string
		mod  time.Time
	}
	items := make([]item, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{path: filepath.Join(dir, e.Name()), mod: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].mod.Before(items[j].mod) })
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.path)
	}
	return out
}
