// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_Totals(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	entries := []Entry{
		{SessionID: "default", Model: "gpt-4o", Provider: "openai", PromptTokens: 100, CompletionTokens: 50, At: now.Add(-time.Hour)},
		{SessionID: "default", Model: "gpt-4o", Provider: "openai", PromptTokens: 200, CompletionTokens: 20, At: now},
		{SessionID: "s2", Model: "gemini-1.5-pro", Provider: "gemini", PromptTokens: 10, CompletionTokens: 5, At: now},
	}
	for _, e := range entries {
		require.NoError(t, l.Record(ctx, e))
	}

	totals, err := l.Totals(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, totals, 2)

	assert.Equal(t, "gpt-4o", totals[0].Model)
	assert.Equal(t, 2, totals[0].Turns)
	assert.Equal(t, 300, totals[0].PromptTokens)
	assert.Equal(t, 70, totals[0].CompletionTokens)
	assert.Equal(t, 370, totals[0].TotalTokens())
	assert.Equal(t, now.Unix(), totals[0].LastUsed.Unix())

	assert.Equal(t, "gemini", totals[1].Provider)
}

func TestLedger_TotalsSince(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Record(ctx, Entry{Model: "old", Provider: "openai", PromptTokens: 1, At: now.Add(-48 * time.Hour)}))
	require.NoError(t, l.Record(ctx, Entry{Model: "new", Provider: "openai", PromptTokens: 1}))

	totals, err := l.Totals(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "new", totals[0].Model)
}

func TestLedger_DailyAndPrune(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, l.Record(ctx, Entry{Model: "m", Provider: "p", PromptTokens: 3, At: now}))
	require.NoError(t, l.Record(ctx, Entry{Model: "m", Provider: "p", PromptTokens: 4, At: now}))
	require.NoError(t, l.Record(ctx, Entry{Model: "m", Provider: "p", PromptTokens: 5, At: now.AddDate(0, 0, -30)}))

	daily, err := l.Daily(ctx, 7)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, now.Format("2006-01-02"), daily[0].Date)
	assert.Equal(t, 2, daily[0].Turns)
	assert.Equal(t, 7, daily[0].PromptTokens)

	n, err := l.Prune(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()

	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, Entry{Model: "m", Provider: "p", PromptTokens: 1}))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	totals, err := l.Totals(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, totals, 1)
}

func TestLedger_Closed(t *testing.T) {
	l := openTestLedger(t)
	require.NoError(t, l.Close())

	err := l.Record(context.Background(), Entry{})
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = l.Totals(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrClosed)
}
