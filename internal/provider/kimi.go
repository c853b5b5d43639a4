// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"net/http"

	"github.com/jeranaias/chatportal/internal/model"
	"github.com/jeranaias/chatportal/internal/router"
)

// DefaultKimiURL is Moonshot AI's OpenAI-compatible endpoint.
const DefaultKimiURL = "https://api.moonshot.ai/v1"

// kimiMaxTemperature is the upper bound Moonshot accepts.
const kimiMaxTemperature = 1.0

// Kimi is the Moonshot AI adapter. It uses the chat completions wire format
// with text-only input and a narrower temperature range.
type Kimi struct {
	*OpenAICompatible
}

// NewKimi returns a Kimi adapter.
func NewKimi(ep Endpoint) *Kimi {
	base := &OpenAICompatible{
		httpBase: newHTTPBase(ep, DefaultKimiURL),
		kind:     router.KindKimi,
		textOnly: true,
		header:   http.Header{},
	}
	return &Kimi{OpenAICompatible: base}
}

// WithHTTPClient replaces the shared HTTP client.
func (k *Kimi) WithHTTPClient(c *http.Client) *Kimi {
	k.client = c
	return k
}

// BuildRequest implements Adapter.
func (k *Kimi) BuildRequest(history []model.Message, p Params) (*Request, error) {
	if p.Temperature > kimiMaxTemperature {
		p.Temperature = kimiMaxTemperature
	}
	return k.OpenAICompatible.BuildRequest(history, p)
}
