// Package lock enforces the single active daemon instance through a pidfile.
// The file carries the owner pid plus a JSON meta line with the owner's
// process start time, so a recycled pid is not mistaken for a live owner.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Meta is the second line of the lock file.
type Meta struct {
	StartUnix int64 `json:"start_unix"`
}

// ErrWriteFailed wraps a failure to persist the lock file.
var ErrWriteFailed = errors.New("lock write failed")

// AlreadyRunningError reports a live daemon instance holding the lock.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("another instance is already running (pid %d)", e.PID)
}

// OwnerState classifies the lock file for status reporting.
type OwnerState string

const (
	OwnerNone    OwnerState = "stopped" // no lock file
	OwnerRunning OwnerState = "running" // lock held by a live process
	OwnerStale   OwnerState = "stale"   // lock left behind by a dead process
)

// Handle represents an acquired lock. Release removes the file; it is
// idempotent so the teardown path can call it unconditionally.
type Handle struct {
	path string
	pid  int
}

// Read returns the recorded pid and optional meta. A missing file yields
// pid 0 and no error.
func Read(path string) (int, *Meta, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- lock path comes from config
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, nil
		}
		return 0, nil, fmt.Errorf("read lock %s: %w", path, err)
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, nil, fmt.Errorf("invalid pid in lock %s: %w", path, err)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return pid, nil, nil
	}
	var m Meta
	if err := json.Unmarshal([]byte(rest), &m); err != nil {
		// A garbled meta line still identifies the pid.
		return pid, nil, nil
	}
	return pid, &m, nil
}

// Status classifies the current lock file.
func Status(path string) (int, OwnerState, error) {
	pid, meta, err := Read(path)
	if err != nil {
		return 0, OwnerNone, err
	}
	if pid == 0 {
		return 0, OwnerNone, nil
	}
	if ownerAlive(pid, meta) {
		return pid, OwnerRunning, nil
	}
	return pid, OwnerStale, nil
}

// Acquire takes the lock for the current process. A live owner aborts with
// AlreadyRunningError; a stale lock is logged and overwritten.
func Acquire(path string, logger *slog.Logger) (*Handle, error) {
	pid, meta, err := Read(path)
	if err != nil {
		return nil, err
	}
	if pid != 0 {
		if ownerAlive(pid, meta) {
			return nil, &AlreadyRunningError{PID: pid}
		}
		logger.Warn("overwriting stale lock", "path", path, "stale_pid", pid)
	}
	h := &Handle{path: path, pid: os.Getpid()}
	if err := h.write(); err != nil {
		return nil, err
	}
	return h, nil
}

// ownerAlive reports whether pid is a live process that still matches the
// recorded start time. A probe error other than "no such process" is
// treated as alive.
func ownerAlive(pid int, meta *Meta) bool {
	if !pidAlive(pid) {
		return false
	}
	if meta != nil && meta.StartUnix > 0 {
		if cur := procStartUnix(pid); cur > 0 && cur != meta.StartUnix {
			return false // pid reused by an unrelated process
		}
	}
	return true
}

func (h *Handle) write() error {
	meta := Meta{StartUnix: procStartUnix(h.pid)}
	mb, _ := json.Marshal(meta)
	content := strconv.Itoa(h.pid) + "\n" + string(mb) + "\n"
	if err := os.WriteFile(h.path, []byte(content), 0o644); err != nil { // #nosec G306
		return fmt.Errorf("%w: %s: %v", ErrWriteFailed, h.path, err)
	}
	return nil
}

// PID returns the pid recorded in the handle.
func (h *Handle) PID() int { return h.pid }

// Path returns the lock file location.
func (h *Handle) Path() string { return h.path }

// Release removes the lock file. An already absent file is not an error.
func (h *Handle) Release() error {
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock %s: %w", h.path, err)
	}
	return nil
}
