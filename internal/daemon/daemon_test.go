package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"msgrelay/internal/dispatch"
	"msgrelay/internal/history"
	"msgrelay/internal/lock"
	"msgrelay/internal/spool"
	"msgrelay/internal/watch"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
	closed bool
}

func (s *memSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) snapshot() []history.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Event(nil), s.events...)
}

func newTestDaemon(t *testing.T, sink history.Sink) (*Daemon, *spool.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store := spool.New(filepath.Join(dir, "spool"))
	log := slog.New(slog.DiscardHandler)
	engine := dispatch.NewEngine(store, "testhost", dispatch.ShellRunner{}, dispatch.DefaultRelay(), log)
	lockPath := filepath.Join(dir, "msgrelay.lock")
	d := New(Options{
		Store:    store,
		Engine:   engine,
		LockPath: lockPath,
		Watch:    watch.Options{FallbackPoll: 50 * time.Millisecond},
		Logger:   log,
		Sink:     sink,
	})
	return d, store, lockPath
}

func localEntry(cmd string) []byte {
	return []byte("dst_host = testhost\ncmd = " + cmd + "\n")
}

func TestRunRecoversQueuedEntries(t *testing.T) {
	requireUnix(t)
	sink := &memSink{}
	d, store, _ := newTestDaemon(t, sink)
	if err := store.EnsureLayout(); err != nil {
		t.Fatalf("layout: %v", err)
	}
	if _, err := store.CreateQueued(localEntry("/bin/true")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitUntil(t, 5*time.Second, func() bool {
		sent, _ := store.List(spool.StateSent)
		return len(sent) == 1
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := sink.snapshot()
	if len(events) != 1 || events[0].Outcome != "sent" {
		t.Fatalf("events: %+v", events)
	}
	if !sink.closed {
		t.Fatal("sink not closed on shutdown")
	}
}

func TestRunProcessesNewArrivals(t *testing.T) {
	requireUnix(t)
	sink := &memSink{}
	d, store, lockPath := newTestDaemon(t, sink)
	if err := store.EnsureLayout(); err != nil {
		t.Fatalf("layout: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitUntil(t, 5*time.Second, func() bool {
		_, state, err := lock.Status(lockPath)
		return err == nil && state == lock.OwnerRunning
	})

	if _, err := store.CreateQueued(localEntry("/bin/false")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitUntil(t, 5*time.Second, func() bool {
		failed, _ := store.List(spool.StateFailed)
		return len(failed) == 1
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Lock must be gone after a clean shutdown.
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("lock still present: %v", err)
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	requireUnix(t)
	d, store, lockPath := newTestDaemon(t, nil)
	if err := store.EnsureLayout(); err != nil {
		t.Fatalf("layout: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitUntil(t, 5*time.Second, func() bool {
		_, state, err := lock.Status(lockPath)
		return err == nil && state == lock.OwnerRunning
	})

	second := New(d.opts)
	err := second.Run(context.Background())
	var already *lock.AlreadyRunningError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyRunningError, got %v", err)
	}
	if already.PID != os.Getpid() {
		t.Fatalf("owner pid: %d", already.PID)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
