// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/chatportal/internal/model"
	"github.com/jeranaias/chatportal/internal/util"
)

// ErrEmptyTranscript is returned when there is nothing to export.
var ErrEmptyTranscript = errors.New("transcript has no messages")

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is a snapshot of one session's history.
type Transcript struct {
	SessionID string          `json:"session_id"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
	Messages  []model.Message `json:"messages"`
}

// visible returns the messages to render, dropping the system preamble
// unless asked for.
func (t *Transcript) visible(includeSystem bool) []model.Message {
	out := make([]model.Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m.Role == model.RoleSystem && !includeSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (t *Transcript) title() string {
	if t.Title != "" {
		return t.Title
	}
	return "Chat History"
}

func validate(t *Transcript) error {
	if t == nil || len(t.Messages) == 0 {
		return ErrEmptyTranscript
	}
	return nil
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a transcript in one format.
type Exporter interface {
	// Export converts a transcript to the target format.
	Export(t *Transcript) ([]byte, error)

	// FileExtension returns the file extension (".html", ".md", ".json").
	FileExtension() string

	// MimeType returns the MIME type for HTTP responses.
	MimeType() string
}

// Options configures export behavior.
type Options struct {
	// IncludeSystem renders the system preamble.
	IncludeSystem bool

	// IncludeTimestamps adds per-message timestamps.
	IncludeTimestamps bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{IncludeTimestamps: true}
}

// ForFormat returns the exporter for "html", "md"/"markdown" or "json".
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "html":
		return NewHTMLExporter(opts), nil
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportToFile writes the transcript to dir as chat_history-<timestamp><ext>
// and returns the path.
func ExportToFile(t *Transcript, exporter Exporter, dir string) (string, error) {
	content, err := exporter.Export(t)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	if dir == "" {
		dir = "."
	}

	filename := fmt.Sprintf("chat_history-%s%s", time.Now().Format("2006-01-02T15-04-05"), exporter.FileExtension())
	if t.SessionID != "" && t.SessionID != "default" {
		filename = fmt.Sprintf("chat_history-%s-%s%s", sanitizeFilename(t.SessionID), time.Now().Format("2006-01-02T15-04-05"), exporter.FileExtension())
	}

	outputPath := filepath.Join(dir, filename)
	if err := util.AtomicWriteFile(outputPath, content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	runes := []rune(s)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	for i, r := range runes {
		switch {
		case r < 32 || r == 127:
			runes[i] = '-'
		case strings.ContainsRune(`/\:*?"<>|`, r):
			runes[i] = '-'
		case r == ' ' || r == '\t':
			runes[i] = '_'
		}
	}
	if len(runes) == 0 {
		return "session"
	}
	return string(runes)
}

// roleLabel returns the display label for a role.
func roleLabel(r model.Role) string {
	switch r {
	case model.RoleUser:
		return "User"
	case model.RoleAssistant:
		return "Assistant"
	case model.RoleSystem:
		return "System"
	default:
		return "Unknown"
	}
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
