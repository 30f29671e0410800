package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Result is the verdict of a completion watch.
type Result string

const (
	ResultOK   Result = "OK"
	ResultFail Result = "FAIL"
)

// outcomePoll is the safety-net interval while waiting for an outcome file.
const outcomePoll = time.Second

// WaitOutcome blocks until a file named name appears in successDir or
// failureDir and returns the corresponding result. Files already present
// when the watch starts are honored. Cancelling ctx aborts with its error.
func WaitOutcome(ctx context.Context, name, successDir, failureDir string) (Result, error) {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(successDir); err != nil {
			watcher = nil
		} else if err := watcher.Add(failureDir); err != nil {
			watcher = nil
		}
	} else {
		watcher = nil
	}

	check := func() (Result, bool) {
		if fileExists(filepath.Join(successDir, name)) {
			return ResultOK, true
		}
		if fileExists(filepath.Join(failureDir, name)) {
			return ResultFail, true
		}
		return "", false
	}

	// The file may have arrived before the subscriptions were in place.
	if res, ok := check(); ok {
		return res, nil
	}

	ticker := time.NewTicker(outcomePoll)
	defer ticker.Stop()

	var events chan fsnotify.Event
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("outcome watch for %s: %w", name, ctx.Err())
		case ev := <-events:
			if filepath.Base(ev.Name) != name {
				continue
			}
			if res, ok := check(); ok {
				return res, nil
			}
		case <-ticker.C:
			if res, ok := check(); ok {
				return res, nil
			}
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
