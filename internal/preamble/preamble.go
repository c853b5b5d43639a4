// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package preamble

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Base is the opening sentence of every system preamble.
const Base = "You are a helpful and intelligent AI assistant, knowledgeable about a wide range of topics and highly capable of a great many tasks."

// MaxInstructionsSize bounds the instructions file.
const MaxInstructionsSize = 1 << 20

// ErrInstructionsTooLarge is returned when the file exceeds MaxInstructionsSize.
var ErrInstructionsTooLarge = errors.New("instructions file too large")

// Compose builds the preamble from the instructions text. Blank instructions
// yield Base alone.
func Compose(instructions string) string {
	if strings.TrimSpace(instructions) == "" {
		return Base
	}
	return Base + "\n Specifically:\n " + instructions
}

// =============================================================================
// LOADER
// =============================================================================

// Loader holds the current preamble read from an instructions file.
type Loader struct {
	path string

	mu       sync.RWMutex
	current  string
	loadedAt time.Time
}

// NewLoader returns a loader for path. Call Load before use; until then
// Current returns Base.
func NewLoader(path string) *Loader {
	return &Loader{path: path, current: Base}
}

// Path returns the instructions file path.
func (l *Loader) Path() string {
	return l.path
}

// Load re-reads the instructions file. A missing file is not an error; the
// preamble falls back to Base. On any other error the previous preamble is kept.
func (l *Loader) Load() error {
	instructions, err := readInstructions(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Warn("PREAMBLE_MISSING", "path", l.path)
		instructions = ""
	case err != nil:
		return err
	}

	text := Compose(instructions)

	l.mu.Lock()
	changed := text != l.current
	l.current = text
	l.loadedAt = time.Now()
	l.mu.Unlock()

	if changed {
		slog.Info("PREAMBLE_LOADED", "path", l.path, "bytes", len(text))
	}
	return nil
}

// Current returns the latest preamble.
func (l *Loader) Current() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// LoadedAt returns when the preamble was last read.
func (l *Loader) LoadedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadedAt
}

func readInstructions(path string) (string, error) {
	if path == "" {
		return "", fs.ErrNotExist
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxInstructionsSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read instructions: %w", err)
	}
	if len(data) > MaxInstructionsSize {
		return "", fmt.Errorf("%w: %s", ErrInstructionsTooLarge, path)
	}
	return string(data), nil
}
