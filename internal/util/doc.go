// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the config, export, model and
// provider packages.
//
//   - AtomicWriteFile: write-to-temp, fsync, rename
//   - TruncateRunes: UTF-8 safe truncation with an ellipsis
//
// # Usage
//
//	msg = util.TruncateRunes(msg, 500)
//	err := util.AtomicWriteFile(path, data, 0o600)
package util
