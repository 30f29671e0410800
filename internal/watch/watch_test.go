package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(d, step time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(step)
	}
	return cond()
}

// publish mimics the store: write under a hidden temp name, rename into place.
func publish(t *testing.T, dir, name, content string) string {
	t.Helper()
	tmp := filepath.Join(dir, "."+name)
	if err := os.WriteFile(tmp, []byte(content), 0o660); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	final := filepath.Join(dir, name)
	if err := os.Rename(tmp, final); err != nil {
		t.Fatalf("rename: %v", err)
	}
	return final
}

func TestQueueDeliversPublishedFiles(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Queue(ctx, dir, Options{FallbackPoll: -1}, discardLogger(), func(p string) { got <- p })
	}()
	// Give the watcher time to subscribe.
	time.Sleep(100 * time.Millisecond)

	want := publish(t, dir, "entry-1", "body")

	select {
	case p := <-got:
		if p != want {
			t.Fatalf("delivered %s want %s", p, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Queue: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Queue did not return after cancel")
	}
}

func TestQueueIgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	got := make(chan string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Queue(ctx, dir, Options{FallbackPoll: -1}, discardLogger(), func(p string) { got <- p })
	}()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, ".tmp-partial"), []byte("x"), 0o660); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case p := <-got:
		t.Fatalf("hidden file delivered: %s", p)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestQueueIgnoresMovesOutOfDirectory(t *testing.T) {
	base := t.TempDir()
	queue := filepath.Join(base, "queue")
	sent := filepath.Join(base, "sent")
	for _, d := range []string{queue, sent} {
		if err := os.Mkdir(d, 0o770); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	got := make(chan string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Queue(ctx, queue, Options{FallbackPoll: -1}, discardLogger(), func(p string) { got <- p })
	}()
	time.Sleep(100 * time.Millisecond)

	p := publish(t, queue, "entry-2", "body")
	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("publish not delivered")
	}

	// The engine's terminal-state move must not look like a new entry.
	if err := os.Rename(p, filepath.Join(sent, "entry-2")); err != nil {
		t.Fatalf("rename out: %v", err)
	}
	select {
	case p := <-got:
		t.Fatalf("move out of queue redelivered: %s", p)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestQueueFallbackPollDelivers(t *testing.T) {
	dir := t.TempDir()
	// Pre-existing file: only the fallback poll will see it.
	pre := filepath.Join(dir, "pre-existing")
	if err := os.WriteFile(pre, []byte("x"), 0o660); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make(chan string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Queue(ctx, dir, Options{FallbackPoll: 50 * time.Millisecond}, discardLogger(), func(p string) { got <- p })
	}()

	select {
	case p := <-got:
		if p != pre {
			t.Fatalf("delivered %s want %s", p, pre)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("fallback poll did not deliver")
	}
}

func TestWaitOutcomeSeesMoveIntoSuccessDir(t *testing.T) {
	base := t.TempDir()
	sent := filepath.Join(base, "sent")
	failed := filepath.Join(base, "failed")
	queue := filepath.Join(base, "queue")
	for _, d := range []string{sent, failed, queue} {
		if err := os.Mkdir(d, 0o770); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	src := filepath.Join(queue, "entry-7")
	if err := os.WriteFile(src, []byte("x"), 0o660); err != nil {
		t.Fatalf("write: %v", err)
	}

	type verdict struct {
		res Result
		err error
	}
	got := make(chan verdict, 1)
	go func() {
		res, err := WaitOutcome(context.Background(), "entry-7", sent, failed)
		got <- verdict{res, err}
	}()
	time.Sleep(100 * time.Millisecond)

	if err := os.Rename(src, filepath.Join(sent, "entry-7")); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case v := <-got:
		if v.err != nil || v.res != ResultOK {
			t.Fatalf("verdict: %+v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitOutcome did not return")
	}
}

func TestWaitOutcomeHonorsPreexistingFailure(t *testing.T) {
	base := t.TempDir()
	sent := filepath.Join(base, "sent")
	failed := filepath.Join(base, "failed")
	for _, d := range []string{sent, failed} {
		if err := os.Mkdir(d, 0o770); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(failed, "entry-9"), []byte("x"), 0o660); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := WaitOutcome(context.Background(), "entry-9", sent, failed)
	if err != nil || res != ResultFail {
		t.Fatalf("res %v err %v", res, err)
	}
}

func TestWaitOutcomeCancel(t *testing.T) {
	base := t.TempDir()
	sent := filepath.Join(base, "sent")
	failed := filepath.Join(base, "failed")
	for _, d := range []string{sent, failed} {
		if err := os.Mkdir(d, 0o770); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := WaitOutcome(ctx, "never", sent, failed); err == nil {
		t.Fatal("expected context error")
	}
}

func TestListEntriesOrdersByModTime(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "zz")
	newer := filepath.Join(dir, "aa")
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
	if !waitUntil(time.Second, 10*time.Millisecond, func() bool {
		got := listEntries(dir)
		return len(got) == 2 && got[0] == older
	}) {
		t.Fatalf("order: %v", listEntries(dir))
	}
}
