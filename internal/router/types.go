// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"strings"
)

// ============================================================================
// KIND TYPE
// ============================================================================

// Kind identifies which provider adapter serves a model.
// The zero value is the default OpenAI-compatible kind.
type Kind int

const (
	// KindOpenAI is the OpenAI chat completions API and the fallback kind.
	KindOpenAI Kind = iota
	// KindOpenRouter is the OpenRouter aggregation API.
	KindOpenRouter
	// KindClaude is the Anthropic messages API.
	KindClaude
	// KindGroq is Groq's OpenAI-compatible API.
	KindGroq
	// KindMistral is the Mistral chat API.
	KindMistral
	// KindCodestral is Mistral's Codestral endpoint (separate key and URL).
	KindCodestral
	// KindDeepSeek is DeepSeek's OpenAI-compatible API.
	KindDeepSeek
	// KindGemini is Google's Generative Language API.
	KindGemini
	// KindGrok is xAI's OpenAI-compatible API.
	KindGrok
	// KindKimi is Moonshot AI's OpenAI-compatible API.
	KindKimi

	kindCount
)

var kindNames = [...]string{
	KindOpenAI:     "openai",
	KindOpenRouter: "openrouter",
	KindClaude:     "claude",
	KindGroq:       "groq",
	KindMistral:    "mistral",
	KindCodestral:  "codestral",
	KindDeepSeek:   "deepseek",
	KindGemini:     "gemini",
	KindGrok:       "grok",
	KindKimi:       "kimi",
}

var kindDisplay = [...]string{
	KindOpenAI:     "OpenAI",
	KindOpenRouter: "OpenRouter",
	KindClaude:     "Claude",
	KindGroq:       "Groq",
	KindMistral:    "Mistral",
	KindCodestral:  "Codestral",
	KindDeepSeek:   "DeepSeek",
	KindGemini:     "Gemini",
	KindGrok:       "Grok",
	KindKimi:       "Kimi",
}

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	if k >= 0 && k < kindCount {
		return kindDisplay[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Key returns the lowercase identifier used in config files.
func (k Kind) Key() string {
	if k >= 0 && k < kindCount {
		return kindNames[k]
	}
	return ""
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return k >= 0 && k < kindCount
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind converts a config key ("openai", "claude", ...) into a Kind.
// "moonshot" is accepted as an alias for Kimi.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "moonshot" {
		return KindKimi, nil
	}
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProviderKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProviderKind, int(k))
	}
	return []byte(k.Key()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ============================================================================
// DESCRIPTOR
// ============================================================================

// Descriptor is the result of resolving a model identifier.
type Descriptor struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"provider"`
	DisplayName string `json:"display_name"`

	// MaxOutputTokens is the catalog cap for the model's output length.
	MaxOutputTokens int `json:"max_output_tokens"`

	// Fallback is true when no rule matched and the default kind was used.
	Fallback bool `json:"fallback,omitempty"`
}
