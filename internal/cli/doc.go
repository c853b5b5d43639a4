// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chatportal command line with kong.
//
// # Commands
//
//   - serve (default): run the HTTP server until SIGINT/SIGTERM or "Bye!"
//   - models: list the catalog with resolved providers
//   - resolve <model>: show how one id is routed
//   - usage: token totals from the usage ledger
//   - config show|get|init|path
//
// Every command accepts --json and prints a JSONResponse envelope.
//
// # Usage
//
//	os.Exit(cli.Run(os.Args[1:], cli.NewOptions()))
package cli
