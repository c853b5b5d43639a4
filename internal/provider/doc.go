// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider adapts conversation history to third-party LLM APIs.
//
// Every backend implements the same Adapter capability set, so callers never
// branch on which provider they are talking to. Request bodies are built as
// pure functions of the history; Send is the only network call.
//
// # Key Types
//
//   - Adapter: format user input, build a request, send it, parse the reply
//   - OpenAICompatible: OpenAI, OpenRouter, Groq, Mistral, Codestral, DeepSeek, Grok
//   - Kimi: Moonshot AI (chat completions wire, text-only input)
//   - Gemini: Google Generative Language API
//   - Claude: Anthropic messages API
//   - Set: one adapter per router.Kind
//   - Error: non-2xx reply with the provider status preserved
//
// # Usage
//
//	set := provider.NewSet(provider.Options{Endpoints: endpoints})
//	a, _ := set.Get(router.KindGemini)
//	req, err := a.BuildRequest(history, provider.Params{Model: "gemini-1.5-pro", Temperature: 1.1, MaxTokens: 2000})
//	raw, err := a.Send(ctx, req)
//	res, err := a.ParseResponse(raw)
//
// # Security
//
// API keys are never logged; a SHA-256 fingerprint is logged instead.
// Provider error text is kept on Error for logs and must not be shown to
// end users. Reply bodies are capped at MaxResponseSize.
package provider
