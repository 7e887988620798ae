package prompts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func waitForSource(t *testing.T, p *Prompt, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.Source() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("source: got %s, want %s", p.Source(), want)
}

func TestWatcher_Start_WhenOverrideExists_ShouldLoadIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.tmpl")
	_ = os.WriteFile(path, []byte("static"), 0o644)
	p := New(0, nil)
	w := NewWatcher(path, p, nil)

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if p.Source() != path {
		t.Errorf("source: %s", p.Source())
	}
	if err := w.Start(); err == nil {
		t.Error("second Start should fail")
	}
}

func TestWatcher_ShouldFollowCreateAndRemove(t *testing.T) {
	// Given: no override yet
	path := filepath.Join(t.TempDir(), "prompt.tmpl")
	p := New(0, nil)
	w := NewWatcher(path, p, nil)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// When: the file appears
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Then
	waitForSource(t, p, path)

	// When: the file is removed
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	// Then
	waitForSource(t, p, "builtin")
}

func TestWatcher_Start_WhenWatcherFails_ShouldReturnError(t *testing.T) {
	old := newWatcher
	newWatcher = func() (*fsnotify.Watcher, error) { return nil, errors.New("too many open files") }
	t.Cleanup(func() { newWatcher = old })

	w := NewWatcher(filepath.Join(t.TempDir(), "p"), New(0, nil), nil)

	if err := w.Start(); err == nil {
		t.Fatal("expected error")
	}
}

func TestWatcher_Stop_WhenNotStarted_ShouldBeSafe(t *testing.T) {
	if err := NewWatcher("p", New(0, nil), nil).Stop(); err != nil {
		t.Fatal(err)
	}
}
