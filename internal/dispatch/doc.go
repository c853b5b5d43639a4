// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch runs a chat turn end to end.
//
// A turn resolves the provider adapter for its model id, formats and appends
// the user message, builds one request from the session snapshot, performs a
// single provider call under a timeout, and appends the parsed reply. There
// are no retries. When the provider call fails the user message stays in
// the history, so a failed turn grows the session by one message and a
// successful turn by two.
//
// The exact message "Bye!" is a shutdown sentinel: it is answered locally,
// the session transcript is exported, and the shutdown hook fires.
package dispatch
