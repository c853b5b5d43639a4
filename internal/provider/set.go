// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"net/http"

	"github.com/jeranaias/chatportal/internal/router"
)

// Options configures NewSet.
type Options struct {
	// Endpoints holds keys and base URLs per kind. Missing kinds still get an
	// adapter; its Send fails with ErrNotConfigured.
	Endpoints map[router.Kind]Endpoint

	// SiteURL and SiteName are sent to OpenRouter as attribution headers.
	SiteURL  string
	SiteName string

	// ClaudeThinking enables extended thinking on supported Claude models.
	ClaudeThinking bool

	// HTTPClient overrides the shared pooled client (tests).
	HTTPClient *http.Client
}

// Set holds one adapter per provider kind. Register is meant for setup only;
// lookups are safe for concurrent use once setup is done.
type Set struct {
	adapters   map[router.Kind]Adapter
	configured map[router.Kind]bool
}

// NewSet builds an adapter for every known kind.
func NewSet(opts Options) *Set {
	s := &Set{
		adapters:   make(map[router.Kind]Adapter, len(router.Kinds())),
		configured: make(map[router.Kind]bool, len(router.Kinds())),
	}

	for _, kind := range router.Kinds() {
		ep := opts.Endpoints[kind]
		s.configured[kind] = ep.IsConfigured()

		var a Adapter
		switch kind {
		case router.KindGemini:
			g := NewGemini(ep)
			if opts.HTTPClient != nil {
				g.WithHTTPClient(opts.HTTPClient)
			}
			a = g
		case router.KindClaude:
			c := NewClaude(ep).WithThinking(opts.ClaudeThinking)
			if opts.HTTPClient != nil {
				c.WithHTTPClient(opts.HTTPClient)
			}
			a = c
		case router.KindKimi:
			k := NewKimi(ep)
			if opts.HTTPClient != nil {
				k.WithHTTPClient(opts.HTTPClient)
			}
			a = k
		default:
			o := NewOpenAICompatible(kind, ep)
			if kind == router.KindOpenRouter {
				o.WithSiteInfo(opts.SiteURL, opts.SiteName)
			}
			if opts.HTTPClient != nil {
				o.WithHTTPClient(opts.HTTPClient)
			}
			a = o
		}
		s.adapters[kind] = a
	}
	return s
}

// Register replaces the adapter for a.Kind().
func (s *Set) Register(a Adapter) {
	s.adapters[a.Kind()] = a
	s.configured[a.Kind()] = true
}

// Get returns the adapter for kind.
func (s *Set) Get(kind router.Kind) (Adapter, bool) {
	a, ok := s.adapters[kind]
	return a, ok
}

// Configured returns the kinds that have an API key, in declaration order.
func (s *Set) Configured() []router.Kind {
	var out []router.Kind
	for _, k := range router.Kinds() {
		if s.configured[k] {
			out = append(out, k)
		}
	}
	return out
}

// IsConfigured reports whether kind has an API key.
func (s *Set) IsConfigured(kind router.Kind) bool {
	return s.configured[kind]
}
