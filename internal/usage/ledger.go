// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SchemaVersion tracks the ledger schema for migrations.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    model TEXT NOT NULL,
    provider TEXT NOT NULL,
    prompt_tokens INTEGER NOT NULL,
    completion_tokens INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    created_at INTEGER NOT NULL  -- Unix timestamp
);

CREATE INDEX IF NOT EXISTS idx_turns_model ON turns(model);
CREATE INDEX IF NOT EXISTS idx_turns_created_at ON turns(created_at);

INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
`

// ErrClosed is returned after Close.
var ErrClosed = errors.New("usage ledger is closed")

// Entry is one completed turn's token counts as reported by the provider.
type Entry struct {
	SessionID        string
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
	At               time.Time
}

// ModelTotal aggregates entries for one model.
type ModelTotal struct {
	Model            string    `json:"model"`
	Provider         string    `json:"provider"`
	Turns            int       `json:"turns"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	LastUsed         time.Time `json:"last_used"`
}

// TotalTokens returns prompt plus completion tokens.
func (t ModelTotal) TotalTokens() int {
	return t.PromptTokens + t.CompletionTokens
}

// DailyTotal aggregates entries for one UTC day.
type DailyTotal struct {
	Date             string `json:"date"` // YYYY-MM-DD
	Turns            int    `json:"turns"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger persists per-turn usage in SQLite.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &Ledger{db: db, path: path}, nil
}

// Path returns the database path.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// Record stores one entry. A zero At means now.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if l.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, model, provider, prompt_tokens, completion_tokens, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.SessionID, e.Model, e.Provider, e.PromptTokens, e.CompletionTokens, e.Duration.Milliseconds(), e.At.Unix())
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// Totals returns per-model totals for entries at or after since (zero means
// all time), ordered by total tokens descending.
func (l *Ledger) Totals(ctx context.Context, since time.Time) ([]ModelTotal, error) {
	if l.db == nil {
		return nil, ErrClosed
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT model, provider, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens), MAX(created_at)
		FROM turns
		WHERE created_at >= ?
		GROUP BY model, provider
		ORDER BY SUM(prompt_tokens) + SUM(completion_tokens) DESC, model
	`, unixOrZero(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage totals: %w", err)
	}
	defer rows.Close()

	var out []ModelTotal
	for rows.Next() {
		var t ModelTotal
		var last int64
		if err := rows.Scan(&t.Model, &t.Provider, &t.Turns, &t.PromptTokens, &t.CompletionTokens, &last); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		t.LastUsed = time.Unix(last, 0).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Daily returns per-day totals for the last days days (UTC), oldest first.
func (l *Ledger) Daily(ctx context.Context, days int) ([]DailyTotal, error) {
	if l.db == nil {
		return nil, ErrClosed
	}
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days+1).Truncate(24 * time.Hour)

	rows, err := l.db.QueryContext(ctx, `
		SELECT date(created_at, 'unixepoch') AS day, COUNT(*), SUM(prompt_tokens), SUM(completion_tokens)
		FROM turns
		WHERE created_at >= ?
		GROUP BY day
		ORDER BY day
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var out []DailyTotal
	for rows.Next() {
		var d DailyTotal
		if err := rows.Scan(&d.Date, &d.Turns, &d.PromptTokens, &d.CompletionTokens); err != nil {
			return nil, fmt.Errorf("failed to scan daily row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prune deletes entries older than before and returns how many were removed.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	if l.db == nil {
		return 0, ErrClosed
	}
	res, err := l.db.ExecContext(ctx, "DELETE FROM turns WHERE created_at < ?", before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage: %w", err)
	}
	return res.RowsAffected()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
