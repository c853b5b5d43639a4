// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package preamble

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCompose(t *testing.T) {
	if got := Compose("  \n"); got != Base {
		t.Errorf("Compose(blank) = %q, want Base", got)
	}

	got := Compose("Answer in French.")
	want := Base + "\n Specifically:\n Answer in French."
	if got != want {
		t.Errorf("Compose() = %q, want %q", got, want)
	}
}

func TestLoader_MissingFile(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "instructions.md"))

	if err := l.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if l.Current() != Base {
		t.Errorf("Current() = %q, want Base", l.Current())
	}
}

func TestLoader_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instructions.md")
	if err := os.WriteFile(path, []byte("Be brief."), 0o600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(l.Current(), "Specifically:\n Be brief.") {
		t.Errorf("Current() = %q", l.Current())
	}
	if l.LoadedAt().IsZero() {
		t.Error("LoadedAt should be set")
	}
}

func TestLoader_TooLargeKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instructions.md")
	os.WriteFile(path, []byte("small"), 0o600)

	l := NewLoader(path)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	before := l.Current()

	os.WriteFile(path, make([]byte, MaxInstructionsSize+1), 0o600)
	if err := l.Load(); !errors.Is(err, ErrInstructionsTooLarge) {
		t.Fatalf("Load() error = %v, want ErrInstructionsTooLarge", err)
	}
	if l.Current() != before {
		t.Error("failed load should keep the previous preamble")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instructions.md")
	os.WriteFile(path, []byte("v1"), 0o600)

	l := NewLoader(path)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(l, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	reloaded := make(chan string, 4)
	w.OnReload(func(p string) { reloaded <- p })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Unrelated files in the same directory are ignored.
	os.WriteFile(filepath.Join(dir, "other.md"), []byte("x"), 0o600)
	if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case p := <-reloaded:
		if !strings.HasSuffix(p, " v2") {
			t.Errorf("reloaded preamble = %q", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	if !strings.HasSuffix(l.Current(), " v2") {
		t.Errorf("Current() = %q", l.Current())
	}
}

func TestNewWatcher_RequiresPath(t *testing.T) {
	if _, err := NewWatcher(NewLoader(""), 0); err == nil {
		t.Error("expected error for empty path")
	}
}
