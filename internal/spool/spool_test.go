package spool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"msgrelay/internal/record"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "spool"))
	if err := s.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	return s
}

func TestEnsureLayoutCreatesStateDirs(t *testing.T) {
	s := newTestStore(t)
	for _, st := range States {
		info, err := os.Stat(s.Dir(st))
		if err != nil {
			t.Fatalf("stat %s: %v", st, err)
		}
		if !info.IsDir() {
			t.Fatalf("%s is not a directory", st)
		}
	}
}

func TestCreateQueuedIsUniqueAndComplete(t *testing.T) {
	s := newTestStore(t)
	p1, err := s.CreateQueued([]byte("one\n"))
	if err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	p2, err := s.CreateQueued([]byte("two\n"))
	if err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("duplicate entry path %s", p1)
	}
	b, err := os.ReadFile(p1)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if string(b) != "one\n" {
		t.Fatalf("content: %q", b)
	}
	if strings.HasPrefix(filepath.Base(p1), ".") {
		t.Fatalf("published entry still has temp name: %s", p1)
	}
}

func TestCreateQueuedLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.CreateQueued([]byte("x")); err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	entries, err := os.ReadDir(s.QueueDir())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Fatalf("leftover temp file %s", e.Name())
		}
	}
}

func TestMoveToPreservesBasename(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateQueued([]byte("body"))
	if err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	moved, err := s.MoveTo(p, StateSent)
	if err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if filepath.Base(moved) != filepath.Base(p) {
		t.Fatalf("basename changed: %s -> %s", p, moved)
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("source still present after move")
	}
	if _, err := os.Stat(moved); err != nil {
		t.Fatalf("destination missing: %v", err)
	}
}

func TestMoveToMissingSourceFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.MoveTo(filepath.Join(s.QueueDir(), "nope"), StateFailed)
	if err == nil {
		t.Fatal("expected move error")
	}
}

func TestAppendOutcomeAddsTimestampedBlock(t *testing.T) {
	s := newTestStore(t)
	p, err := s.CreateQueued([]byte("body\n"))
	if err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	moved, err := s.MoveTo(p, StateFailed)
	if err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if err := AppendOutcome(moved, "copy failed everywhere"); err != nil {
		t.Fatalf("AppendOutcome: %v", err)
	}
	b, err := os.ReadFile(moved)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(string(b), "body\n") {
		t.Fatalf("original content lost: %q", b)
	}
	if !strings.Contains(string(b), "copy failed everywhere") {
		t.Fatalf("outcome text missing: %q", b)
	}
}

func TestScanQueueOrdersByModTime(t *testing.T) {
	s := newTestStore(t)
	// Lexically "zzz" sorts after "aaa"; mtime must win.
	older := filepath.Join(s.QueueDir(), "zzz-older")
	newer := filepath.Join(s.QueueDir(), "aaa-newer")
	if err := os.WriteFile(older, []byte("1"), 0o660); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(newer, []byte("2"), 0o660); err != nil {
		t.Fatalf("write: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	got, err := s.ScanQueue()
	if err != nil {
		t.Fatalf("ScanQueue: %v", err)
	}
	if len(got) != 2 || got[0] != older || got[1] != newer {
		t.Fatalf("scan order: %v", got)
	}
}

func TestScanQueueSkipsHiddenAndDirs(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(filepath.Join(s.QueueDir(), ".tmp-hidden"), []byte("x"), 0o660); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(s.QueueDir(), "subdir"), 0o770); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	got, err := s.ScanQueue()
	if err != nil {
		t.Fatalf("ScanQueue: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty scan, got %v", got)
	}
}

func TestSubmitStampsCreatedAndQueues(t *testing.T) {
	s := newTestStore(t)
	rec := &record.Record{SrcHost: "node01", DstHosts: []string{"node02"}, Commands: []string{"true"}}
	p, err := s.Submit(rec, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Created == "" {
		t.Fatal("created not stamped")
	}
	parsed, err := record.ParseFile(p, "node01")
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if parsed.Created != rec.Created || parsed.SrcHost != "node01" {
		t.Fatalf("parsed: %+v", parsed)
	}
	if filepath.Dir(p) != s.QueueDir() {
		t.Fatalf("entry not in queue: %s", p)
	}
}

func TestSubmitHonorsTargetDirOverride(t *testing.T) {
	s := newTestStore(t)
	other := t.TempDir()
	p, err := s.Submit(&record.Record{DstHosts: []string{"x"}}, other)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if filepath.Dir(p) != other {
		t.Fatalf("entry not in override dir: %s", p)
	}
}

func TestDepths(t *testing.T) {
	s := newTestStore(t)
	p, _ := s.CreateQueued([]byte("a"))
	if _, err := s.MoveTo(p, StateDispatched); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if _, err := s.CreateQueued([]byte("b")); err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	d, err := s.Depths()
	if err != nil {
		t.Fatalf("Depths: %v", err)
	}
	if d[StateQueue] != 1 || d[StateDispatched] != 1 || d[StateSent] != 0 {
		t.Fatalf("depths: %v", d)
	}
}
