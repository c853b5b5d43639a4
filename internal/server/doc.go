// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat dispatcher over HTTP.
//
// # Endpoints
//
//   - POST /message - run one chat turn ({message, image?, file?, modelID?, temperature?, tokens?, sessionId?})
//   - GET  /export  - session history as HTML, Markdown or JSON
//   - GET  /usage   - token usage totals per model and per day
//   - GET  /models  - model catalog with resolved provider kinds
//   - GET  /health  - status, version, uptime and configured providers
//   - GET  /        - the chat page from the static directory, if configured
//
// Failures are returned as {"error": ..., "details": ...}. Provider error
// bodies are logged, never returned.
//
// # Middleware
//
// Recovery, request ids, security headers, slog request logging, per-IP
// rate limiting (golang.org/x/time/rate) and HTTP basic auth checked with
// bcrypt. /health skips auth and rate limiting.
//
// # Usage
//
//	srv := server.New(opts, dispatcher, registry, sessions).
//		WithProviders(adapters).
//		WithUsage(ledger)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
