// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package preamble loads the system preamble that seeds every conversation.
//
// The preamble is a fixed opening sentence followed by the contents of an
// instructions file. Watcher reloads the file on change; only sessions
// created after a reload see the new text.
package preamble
