// Package spool owns the on-disk queue layout and every state-transition
// file operation. Rename is the atomicity primitive: an entry is always
// fully in exactly one state directory.
package spool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"msgrelay/internal/record"
)

// State is the directory an entry currently lives in.
type State string

const (
	StateQueue      State = "queue"
	StateSent       State = "sent"
	StateFailed     State = "failed"
	StateDispatched State = "dispatched"
)

// States lists all states in layout order.
var States = []State{StateQueue, StateSent, StateFailed, StateDispatched}

var (
	// ErrMoveFailed wraps a failed state-transition rename.
	ErrMoveFailed = errors.New("spool move failed")
	// ErrStorageUnavailable wraps a layout creation failure.
	ErrStorageUnavailable = errors.New("spool storage unavailable")
)

const (
	dirPerm  = 0o770
	filePerm = 0o660
	// tmpPrefix marks in-progress writes; watchers and scans skip dotfiles.
	tmpPrefix = "."
)

const timeLayout = "2006-01-02 15:04:05"

// Store manages one spool directory tree.
type Store struct {
	root string
}

func New(root string) *Store { return &Store{root: root} }

// Root returns the spool root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory for a state.
func (s *Store) Dir(state State) string { return filepath.Join(s.root, string(state)) }

// QueueDir returns the queue directory, the only directory watched for work.
func (s *Store) QueueDir() string { return s.Dir(StateQueue) }

// EnsureLayout creates the root and its four state subdirectories with
// group-writable permissions.
func (s *Store) EnsureLayout() error {
	for _, dir := range append([]string{s.root}, s.stateDirs()...) {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return nil
}

func (s *Store) stateDirs() []string {
	dirs := make([]string, 0, len(States))
	for _, st := range States {
		dirs = append(dirs, s.Dir(st))
	}
	return dirs
}

// CreateQueued writes content as a new uniquely named entry in the queue.
// The content is written under an exclusive-create temp name and renamed
// into its final name only once complete, so a concurrent watcher never
// observes a partially written entry.
func (s *Store) CreateQueued(content []byte) (string, error) {
	return CreateIn(s.QueueDir(), content)
}

// CreateIn writes content as a new entry directly inside dir. Exposed for
// the producer's target-directory override.
func CreateIn(dir string, content []byte) (string, error) {
	id := uuid.NewString()[:8]
	base := fmt.Sprintf("m%d-%s", time.Now().UnixNano(), id)
	tmp := filepath.Join(dir, tmpPrefix+base)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm) // #nosec G304
	if err != nil {
		return "", fmt.Errorf("create spool entry: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write spool entry: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close spool entry: %w", err)
	}
	final := filepath.Join(dir, base)
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish spool entry: %w", err)
	}
	return final, nil
}

// MoveTo renames the entry at path into the subdirectory for state,
// preserving the basename so watchers matching on filename keep identity.
func (s *Store) MoveTo(path string, state State) (string, error) {
	dst := filepath.Join(s.Dir(state), filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("%w: %s -> %s: %v", ErrMoveFailed, path, state, err)
	}
	return dst, nil
}

// AppendOutcome appends a timestamped diagnostic block to an entry. Used
// only after a move out of the queue; queue-state content is never mutated.
func AppendOutcome(path, text string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, filePerm) // #nosec G304
	if err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	defer func() { _ = f.Close() }()
	block := fmt.Sprintf("\n[%s]\n%s\n", time.Now().Format(timeLayout), text)
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	return nil
}

// ScanQueue lists regular, non-hidden files directly inside the queue,
// oldest modification first, approximating FIFO arrival order. Used by the
// startup reconciliation pass.
func (s *Store) ScanQueue() ([]string, error) {
	entries, err := os.ReadDir(s.QueueDir())
	if err != nil {
		return nil, fmt.Errorf("scan queue: %w", err)
	}
	type queued struct {
		path string
		mod  time.Time
	}
	found := make([]queued, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, queued{path: filepath.Join(s.QueueDir(), e.Name()), mod: info.ModTime()})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].mod.Equal(found[j].mod) {
			return found[i].path < found[j].path
		}
		return found[i].mod.Before(found[j].mod)
	})
	paths := make([]string, 0, len(found))
	for _, q := range found {
		paths = append(paths, q.path)
	}
	return paths, nil
}

// List returns the basenames currently in a state directory, sorted.
func (s *Store) List(state State) ([]string, error) {
	entries, err := os.ReadDir(s.Dir(state))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", state, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Depths reports the entry count per state.
func (s *Store) Depths() (map[State]int, error) {
	out := make(map[State]int, len(States))
	for _, st := range States {
		names, err := s.List(st)
		if err != nil {
			return nil, err
		}
		out[st] = len(names)
	}
	return out, nil
}

// Submit builds the producer-side entry for rec and queues it. A non-empty
// targetDir overrides the default queue directory. The created timestamp is
// stamped if the producer left it empty.
func (s *Store) Submit(rec *record.Record, targetDir string) (string, error) {
	if rec.Created == "" {
		rec.Created = time.Now().Format(timeLayout)
	}
	dir := targetDir
	if dir == "" {
		dir = s.QueueDir()
	}
	return CreateIn(dir, rec.Marshal())
}
