// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"net/http"
	"strings"

	"github.com/jeranaias/chatportal/internal/model"
	"github.com/jeranaias/chatportal/internal/router"
)

// Adapter translates between conversation messages and one provider's wire
// format. Only Send touches the network.
type Adapter interface {
	// Kind returns the provider kind this adapter serves.
	Kind() router.Kind

	// FormatUserInput builds the user message stored in the conversation.
	// att may be nil.
	FormatUserInput(text string, att *model.Attachment) model.Message

	// BuildRequest shapes history into a request. It must not mutate history.
	BuildRequest(history []model.Message, p Params) (*Request, error)

	// Send performs the HTTP call.
	Send(ctx context.Context, req *Request) (*RawResponse, error)

	// ParseResponse extracts the reply text and usage.
	ParseResponse(raw *RawResponse) (*Result, error)
}

// Params are the per-turn generation settings.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int

	// Optional sampling knobs; zero means "provider default".
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// Request is a fully-formed provider request.
type Request struct {
	Kind   router.Kind
	Model  string
	URL    string
	Header http.Header
	Body   []byte
}

// RawResponse is a 2xx provider reply before parsing.
type RawResponse struct {
	Kind   router.Kind
	Model  string
	Status int
	Body   []byte
}

// Usage is the token count reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u *Usage) Total() int {
	if u == nil {
		return 0
	}
	return u.PromptTokens + u.CompletionTokens
}

// Result is the normalized reply.
type Result struct {
	Text  string
	Usage *Usage
}

// Endpoint is the connection info for one provider.
type Endpoint struct {
	APIKey  string
	BaseURL string
}

// IsConfigured reports whether an API key is present.
func (e Endpoint) IsConfigured() bool {
	return strings.TrimSpace(e.APIKey) != ""
}

// joinURL appends path to a base URL without doubling slashes.
func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// textWithInlineFiles flattens a message for text-only providers: file parts
// become "\n<name>\n<contents>" and images are dropped.
func textWithInlineFiles(m model.Message) string {
	var sb strings.Builder
	for _, p := range m.Parts {
		switch p.Type {
		case model.PartText:
			sb.WriteString(p.Text)
		case model.PartFile:
			sb.WriteString("\n")
			sb.WriteString(p.Name)
			sb.WriteString("\n")
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
