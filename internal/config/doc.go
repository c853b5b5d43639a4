// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for chatportal.
//
// Supports both TOML and JSON configuration formats, with defaults,
// .env and environment variable overrides, and validation.
//
// # Configuration Precedence
//
//   - Environment variables (OPENAI_API_KEY, PORT_SERVER, USER_PASSWORD, ...)
//   - .env in the working directory (never overrides the environment)
//   - --config path, or ~/.chatportal/config.toml, or ~/.chatportal/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	key := cfg.Provider(router.KindOpenAI).APIKey
package config
