// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chatportal is a multi-provider chat server.
//
// Usage:
//
//	chatportal                      Run the server (same as "serve")
//	chatportal serve --port 8080    Run on another port
//	chatportal models               List the model catalog
//	chatportal resolve gpt-4o       Show which provider serves a model
//	chatportal usage                Show recorded token usage
//	chatportal config init          Write ~/.chatportal/config.toml
package main

import (
	"os"

	"github.com/jeranaias/chatportal/internal/cli"
)

// Version information (set via ldflags during build).
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	opts := cli.NewOptions()
	opts.Version = Version
	if GitCommit != "unknown" {
		opts.Version += " (" + GitCommit + ", " + BuildDate + ")"
	}
	os.Exit(cli.Run(os.Args[1:], opts))
}
