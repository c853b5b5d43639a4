// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package usage records provider-reported token counts per turn in SQLite
// and reports per-model and per-day totals. It does no tokenization itself.
package usage
