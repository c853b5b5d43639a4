// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router maps model identifiers to provider kinds.
//
// Resolution walks an ordered list of (predicate, kind) rules compiled once
// at startup. The first matching rule wins. Identifiers that match no rule
// resolve to the default OpenAI-compatible kind instead of failing.
//
// # Key Types
//
//   - Kind: provider kind enumeration (OpenAI, OpenRouter, Claude, Gemini, ...)
//   - Rule: a named predicate paired with the kind it selects
//   - Registry: the compiled rule table plus the model catalog
//   - Descriptor: the resolved id, kind, display name and output token cap
//   - Catalog: display metadata loaded from YAML
//
// # Usage
//
//	reg := router.NewRegistry(router.DefaultCatalog())
//	desc := reg.Resolve("gemini-1.5-pro")
//	fmt.Println(desc.Kind) // Gemini
//
// Adding a provider means adding one Rule (and an adapter for its kind);
// nothing that consumes a Descriptor branches on the id itself.
package router
