// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation holds in-memory chat history per session.
//
// A Store is an append-only message log whose first entry is the system
// preamble; nothing removes or reorders messages. A Manager maps session ids
// to stores and evicts idle sessions. History lives for the process only.
package conversation
