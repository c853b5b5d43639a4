// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders a session transcript as a standalone document.
//
// # Key Types
//
//   - Transcript: a snapshot of one session's messages
//   - Exporter: the per-format rendering interface
//   - Options: export configuration (system preamble, timestamps)
//
// # Supported Formats
//
//   - HTML: styled page with embedded CSS, images inlined as data URLs
//   - Markdown: YAML frontmatter plus one section per message
//   - JSON: machine-readable transcript
//
// # Usage
//
//	exp, _ := export.ForFormat("html", nil)
//	path, err := export.ExportToFile(transcript, exp, "exports")
package export
