// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jeranaias/chatportal/internal/model"
	"github.com/jeranaias/chatportal/internal/router"
)

// Anthropic messages API constants.
const (
	DefaultClaudeURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	claudeMaxTemperature = 1.0

	// claudeMinThinkingBudget is the smallest budget the API accepts.
	claudeMinThinkingBudget = 1024
)

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Thinking    *claudeThinking `json:"thinking,omitempty"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

type claudeBlock struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// Claude is the Anthropic messages adapter. User input is wrapped in XML-style
// tags so the model can tell the message apart from attached material.
type Claude struct {
	httpBase
	thinking bool
}

// NewClaude returns a Claude adapter.
func NewClaude(ep Endpoint) *Claude {
	return &Claude{httpBase: newHTTPBase(ep, DefaultClaudeURL)}
}

// WithHTTPClient replaces the shared HTTP client.
func (c *Claude) WithHTTPClient(hc *http.Client) *Claude {
	c.client = hc
	return c
}

// WithThinking enables extended thinking for models that support it.
func (c *Claude) WithThinking(enabled bool) *Claude {
	c.thinking = enabled
	return c
}

// Kind implements Adapter.
func (c *Claude) Kind() router.Kind {
	return router.KindClaude
}

// FormatUserInput implements Adapter.
func (c *Claude) FormatUserInput(text string, att *model.Attachment) model.Message {
	parts := make([]model.Part, 0, 9)
	if text != "" {
		parts = append(parts, model.TextPart("<user_message>"), model.TextPart(text), model.TextPart("</user_message>"))
	}
	if att != nil {
		switch att.Kind {
		case model.AttachmentImage:
			name := att.Name
			if name == "" {
				name = "uploaded_image"
			}
			parts = append(parts,
				model.TextPart("<image_name>"), model.TextPart(name), model.TextPart("</image_name>"),
				model.TextPart("<image_content>"), att.Part(), model.TextPart("</image_content>"))
		default:
			parts = append(parts, claudeFileBlocks(att.Name, att.Data)...)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, model.TextPart(""))
	}
	return model.NewMessage(model.RoleUser, parts...)
}

func claudeFileBlocks(name, contents string) []model.Part {
	return []model.Part{
		model.TextPart("<file_name>"), model.TextPart(name), model.TextPart("</file_name>"),
		model.TextPart("<file_contents>"), model.TextPart(contents), model.TextPart("</file_contents>"),
	}
}

// BuildRequest implements Adapter.
func (c *Claude) BuildRequest(history []model.Message, p Params) (*Request, error) {
	body := claudeRequest{
		Model:     p.Model,
		MaxTokens: p.MaxTokens,
		Messages:  make([]claudeMessage, 0, len(history)),
	}

	if c.thinking && supportsThinking(p.Model) && p.MaxTokens > claudeMinThinkingBudget+100 {
		// Thinking requires the default temperature.
		body.Thinking = &claudeThinking{Type: "enabled", BudgetTokens: p.MaxTokens - 100}
	} else {
		temp := p.Temperature
		if temp > claudeMaxTemperature {
			temp = claudeMaxTemperature
		}
		body.Temperature = &temp
	}

	var system []string
	for _, m := range history {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, m.Text())
		case model.RoleAssistant:
			body.Messages = append(body.Messages, claudeMessage{
				Role:    "assistant",
				Content: []claudeBlock{{Type: "text", Text: m.Text()}},
			})
		default:
			body.Messages = append(body.Messages, claudeMessage{
				Role:    "user",
				Content: toClaudeBlocks(m.Parts),
			})
		}
	}
	body.System = strings.Join(system, "\n\n")

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal claude request: %w", err)
	}

	header := http.Header{}
	header.Set("x-api-key", c.endpoint.APIKey)
	header.Set("anthropic-version", anthropicVersion)

	return &Request{
		Kind:   router.KindClaude,
		Model:  p.Model,
		URL:    joinURL(c.endpoint.BaseURL, "messages"),
		Header: header,
		Body:   data,
	}, nil
}

func toClaudeBlocks(parts []model.Part) []claudeBlock {
	out := make([]claudeBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case model.PartImage:
			out = append(out, claudeBlock{
				Type:   "image",
				Source: &claudeSource{Type: "base64", MediaType: p.MediaType, Data: p.Data},
			})
		case model.PartFile:
			for _, fp := range claudeFileBlocks(p.Name, p.Text) {
				out = append(out, claudeBlock{Type: "text", Text: fp.Text})
			}
		default:
			// Empty text blocks are rejected by the API.
			if p.Text != "" {
				out = append(out, claudeBlock{Type: "text", Text: p.Text})
			}
		}
	}
	if len(out) == 0 {
		out = append(out, claudeBlock{Type: "text", Text: " "})
	}
	return out
}

func supportsThinking(id string) bool {
	id = strings.ToLower(id)
	return strings.HasPrefix(id, "claude-3-7") ||
		strings.HasPrefix(id, "claude-sonnet-4") ||
		strings.HasPrefix(id, "claude-opus-4")
}

// Send implements Adapter.
func (c *Claude) Send(ctx context.Context, req *Request) (*RawResponse, error) {
	return c.send(ctx, req)
}

// ParseResponse implements Adapter. Text blocks are concatenated; thinking
// blocks, when present, are rendered ahead of the response.
func (c *Claude) ParseResponse(raw *RawResponse) (*Result, error) {
	if raw == nil {
		return nil, fmt.Errorf("claude: %w: empty response", ErrMalformedResponse)
	}
	doc := gjson.ParseBytes(raw.Body)

	content := doc.Get("content")
	if !content.IsArray() {
		return nil, fmt.Errorf("claude: %w: no content blocks", ErrMalformedResponse)
	}

	var text, thinking strings.Builder
	found := false
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			text.WriteString(block.Get("text").String())
			found = true
		case "thinking":
			thinking.WriteString(block.Get("thinking").String())
			thinking.WriteString("\n")
		}
		return true
	})
	if !found {
		return nil, fmt.Errorf("claude: %w: no text block", ErrMalformedResponse)
	}

	out := text.String()
	if thinking.Len() > 0 {
		out = "# Thinking:\n" + thinking.String() + "\n---\n# Response:\n" + out
	}

	return &Result{
		Text:  strings.TrimSpace(out),
		Usage: parseUsage(doc, "usage.input_tokens", "usage.output_tokens"),
	}, nil
}
