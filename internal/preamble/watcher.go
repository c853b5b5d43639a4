// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package preamble

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the file must be quiet before it is reloaded.
const DefaultDebounce = 250 * time.Millisecond

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// Watcher reloads a Loader when its instructions file changes. It watches the
// parent directory so editors that save via rename are picked up.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	debounce time.Duration
	target   string

	mu      sync.Mutex
	pending time.Time // zero when nothing is pending

	onReload func(string)
}

// NewWatcher creates a watcher for loader's file.
func NewWatcher(loader *Loader, debounce time.Duration) (*Watcher, error) {
	if loader.Path() == "" {
		return nil, fmt.Errorf("preamble watcher: no instructions path")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	target, err := filepath.Abs(loader.Path())
	if err != nil {
		target = filepath.Clean(loader.Path())
	}

	return &Watcher{
		loader:   loader,
		watcher:  fw,
		debounce: debounce,
		target:   target,
	}, nil
}

// OnReload registers fn to run with the new preamble after each reload.
// Must be called before Watch.
func (w *Watcher) OnReload(fn func(preamble string)) {
	w.onReload = fn
}

// Watch processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Watch(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.target), err)
	}
	slog.Info("PREAMBLE_WATCH_START", "path", w.target)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("PREAMBLE_WATCH_ERROR", "error", err)

		case now := <-ticker.C:
			w.processPending(now)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name, err := filepath.Abs(event.Name)
	if err != nil {
		name = filepath.Clean(event.Name)
	}
	if name != w.target {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

// processPending reloads once the file has been quiet for the debounce period.
func (w *Watcher) processPending(now time.Time) {
	w.mu.Lock()
	if w.pending.IsZero() || now.Sub(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	if err := w.loader.Load(); err != nil {
		slog.Error("PREAMBLE_RELOAD_FAILED", "path", w.target, "error", err)
		return
	}
	if w.onReload != nil {
		w.onReload(w.loader.Current())
	}
}
