package confloader

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type changes struct {
	mu    sync.Mutex
	paths []string
}

func (c *changes) record(path string) {
	c.mu.Lock()
	c.paths = append(c.paths, path)
	c.mu.Unlock()
}

func (c *changes) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func startWatcher(t *testing.T, files ...string) (*Watcher, *changes) {
	t.Helper()
	w, err := NewWatcher(WithDebounce(20 * time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })
	for _, f := range files {
		if err := w.Watch(f); err != nil {
			t.Fatalf("Watch() error = %v", err)
		}
	}
	got := &changes{}
	w.OnChange(got.record)
	w.StartAsync()
	return w, got
}

func TestWatcher_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annomesh.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, got := startWatcher(t, path)

	// Several writes in quick succession are reported once.
	for _, level := range []string{"debug", "warn", "error"} {
		if err := os.WriteFile(path, []byte("log:\n  level: "+level+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && len(got.list()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	paths := got.list()
	if len(paths) != 1 {
		t.Fatalf("changes = %v, want one", paths)
	}
	want, _ := filepath.Abs(path)
	if paths[0] != want {
		t.Errorf("changed path = %q, want %q", paths[0], want)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annomesh.yaml")
	if err := os.WriteFile(path, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, got := startWatcher(t, path)

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if paths := got.list(); len(paths) != 0 {
		t.Errorf("changes = %v, want none", paths)
	}
}

func TestWatcher_WatchMissingDirectory(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Watch("/nonexistent/dir/annomesh.yaml"); err == nil {
		t.Error("Watch() on a missing directory succeeded")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	w, err := NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	w.StartAsync()
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
