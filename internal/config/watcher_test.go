package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func Test_watcher_fires_on_write(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(seedPath, []byte("mock: []\n"), 0o644); err != nil {
		t.Fatalf("writing seed file: %v", err)
	}

	changed := make(chan struct{}, 8)
	w, err := NewWatcher(seedPath, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(seedPath, []byte("mock: []\nchaos: []\n"), 0o644); err != nil {
		t.Fatalf("rewriting seed file: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected onChange to fire after rewriting the seed file")
	}
}

func Test_watcher_ignores_unrelated_files(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(seedPath, []byte("mock: []\n"), 0o644); err != nil {
		t.Fatalf("writing seed file: %v", err)
	}

	changed := make(chan struct{}, 8)
	w, err := NewWatcher(seedPath, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	time.Sleep(50 * time.Millisecond)
	other := filepath.Join(dir, "unrelated.txt")
	if err := os.WriteFile(other, []byte("noise"), 0o644); err != nil {
		t.Fatalf("writing unrelated file: %v", err)
	}

	select {
	case <-changed:
		t.Fatal("did not expect onChange to fire for an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func Test_watcher_close_is_idempotent(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "rules.yaml")
	os.WriteFile(seedPath, []byte("mock: []\n"), 0o644)

	w, err := NewWatcher(seedPath, func() {})
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
