// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrUnknownProviderKind is reported by Lookup when no rule matches an id.
// Resolve recovers from it by falling back to the default kind.
var ErrUnknownProviderKind = errors.New("unknown provider kind")

// ============================================================================
// RULES
// ============================================================================

// Predicate tests a normalized (lowercase, trimmed) model id.
type Predicate func(id string) bool

// Rule pairs a predicate with the provider kind it selects.
type Rule struct {
	Name  string
	Match Predicate
	Kind  Kind
}

// HasPrefix matches ids starting with any of the prefixes.
func HasPrefix(prefixes ...string) Predicate {
	return func(id string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(id, p) {
				return true
			}
		}
		return false
	}
}

// Contains matches ids containing any of the substrings.
func Contains(subs ...string) Predicate {
	return func(id string) bool {
		for _, s := range subs {
			if strings.Contains(id, s) {
				return true
			}
		}
		return false
	}
}

// Equals matches ids equal to any of the values.
func Equals(values ...string) Predicate {
	return func(id string) bool {
		for _, v := range values {
			if id == v {
				return true
			}
		}
		return false
	}
}

// Any matches when at least one predicate matches.
func Any(preds ...Predicate) Predicate {
	return func(id string) bool {
		for _, p := range preds {
			if p(id) {
				return true
			}
		}
		return false
	}
}

// DefaultRules returns the built-in rule table. Order matters: an id with a
// vendor prefix ("openai/gpt-4o") is an OpenRouter id even though it also
// contains "gpt", and "codestral-latest" must be seen before the generic
// Mistral rule.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "vendor-prefixed", Match: Contains("/"), Kind: KindOpenRouter},
		{Name: "openai", Match: HasPrefix("gpt", "o1", "o3", "o4"), Kind: KindOpenAI},
		{Name: "claude", Match: HasPrefix("claude"), Kind: KindClaude},
		{Name: "groq", Match: Any(HasPrefix("llama", "gemma"), Equals("mixtral-8x7b-32768")), Kind: KindGroq},
		{Name: "codestral", Match: Equals("codestral-latest"), Kind: KindCodestral},
		{Name: "mistral", Match: Any(Contains("mistral", "mixtral"), HasPrefix("codestral")), Kind: KindMistral},
		{Name: "deepseek", Match: Contains("deepseek"), Kind: KindDeepSeek},
		{Name: "gemini", Match: HasPrefix("gemini"), Kind: KindGemini},
		{Name: "grok", Match: HasPrefix("grok"), Kind: KindGrok},
		{Name: "kimi", Match: HasPrefix("kimi", "moonshot"), Kind: KindKimi},
	}
}

// ============================================================================
// REGISTRY
// ============================================================================

// Registry resolves model ids against a compiled rule table.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	rules    []Rule
	fallback Kind
	catalog  *Catalog
}

// NewRegistry compiles the given rules (DefaultRules when none are passed).
// A nil catalog is treated as empty.
func NewRegistry(catalog *Catalog, rules ...Rule) *Registry {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Match == nil || !r.Kind.IsValid() {
			slog.Warn("ROUTER_RULE_SKIPPED", "rule", r.Name, "kind", r.Kind)
			continue
		}
		compiled = append(compiled, r)
	}
	if catalog == nil {
		catalog = &Catalog{}
	}
	return &Registry{
		rules:    compiled,
		fallback: KindOpenAI,
		catalog:  catalog,
	}
}

// WithFallback returns a copy of the registry that uses kind for unmatched ids.
func (r *Registry) WithFallback(kind Kind) *Registry {
	cp := *r
	cp.fallback = kind
	return &cp
}

// Fallback returns the kind used for unmatched ids.
func (r *Registry) Fallback() Kind {
	return r.fallback
}

// Catalog returns the registry's model catalog.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// Lookup applies the rule table and reports ErrUnknownProviderKind when no
// rule matches. Most callers want Resolve.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	norm := normalizeID(id)
	desc := r.describe(id, norm)
	for _, rule := range r.rules {
		if rule.Match(norm) {
			desc.Kind = rule.Kind
			return desc, nil
		}
	}
	desc.Kind = r.fallback
	desc.Fallback = true
	return desc, fmt.Errorf("%w: no rule matches model %q", ErrUnknownProviderKind, id)
}

// Resolve maps id to a descriptor. It never fails: ids matching no rule get
// the fallback kind. Resolve is a pure function of the rule table and id.
func (r *Registry) Resolve(id string) Descriptor {
	desc, err := r.Lookup(id)
	if err != nil {
		slog.Debug("ROUTER_FALLBACK", "model", id, "kind", desc.Kind, "error", err)
	}
	return desc
}

// EnforceTokenLimit clamps a requested output length into [1, model cap].
// A non-positive request yields the model cap.
func (r *Registry) EnforceTokenLimit(id string, requested int) int {
	limit := r.describe(id, normalizeID(id)).MaxOutputTokens
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

func (r *Registry) describe(id, norm string) Descriptor {
	desc := Descriptor{
		ID:              id,
		DisplayName:     id,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
	if entry, ok := r.catalog.Lookup(norm); ok {
		if entry.Name != "" {
			desc.DisplayName = entry.Name
		}
		if entry.MaxTokens > 0 {
			desc.MaxOutputTokens = entry.MaxTokens
		}
	}
	return desc
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
