// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"

	"github.com/jeranaias/chatportal/internal/model"
	"github.com/jeranaias/chatportal/internal/router"
)

// Default base URLs for the OpenAI-compatible providers.
const (
	DefaultOpenAIURL     = "https://api.openai.com/v1"
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"
	DefaultGroqURL       = "https://api.groq.com/openai/v1"
	DefaultMistralURL    = "https://api.mistral.ai/v1"
	DefaultCodestralURL  = "https://codestral.mistral.ai/v1"
	DefaultDeepSeekURL   = "https://api.deepseek.com/v1"
	DefaultGrokURL       = "https://api.x.ai/v1"
)

// deepSeekReasoner is the DeepSeek model that returns reasoning_content.
const deepSeekReasoner = "deepseek-reasoner"

// OpenAICompatible speaks the /chat/completions wire format. One instance
// serves one provider kind.
type OpenAICompatible struct {
	httpBase
	kind     router.Kind
	textOnly bool
	header   http.Header
}

// NewOpenAICompatible returns an adapter for kind at ep. Unset base URLs
// default to the provider's public endpoint.
func NewOpenAICompatible(kind router.Kind, ep Endpoint) *OpenAICompatible {
	a := &OpenAICompatible{kind: kind, header: http.Header{}}
	switch kind {
	case router.KindOpenRouter:
		a.httpBase = newHTTPBase(ep, DefaultOpenRouterURL)
	case router.KindGroq:
		a.httpBase = newHTTPBase(ep, DefaultGroqURL)
		a.textOnly = true
	case router.KindMistral:
		a.httpBase = newHTTPBase(ep, DefaultMistralURL)
		a.textOnly = true
	case router.KindCodestral:
		a.httpBase = newHTTPBase(ep, DefaultCodestralURL)
		a.textOnly = true
	case router.KindDeepSeek:
		a.httpBase = newHTTPBase(ep, DefaultDeepSeekURL)
		a.textOnly = true
	case router.KindGrok:
		a.httpBase = newHTTPBase(ep, DefaultGrokURL)
	default:
		a.httpBase = newHTTPBase(ep, DefaultOpenAIURL)
	}
	return a
}

// WithSiteInfo sets the attribution headers OpenRouter uses for rankings.
func (a *OpenAICompatible) WithSiteInfo(siteURL, siteName string) *OpenAICompatible {
	if siteURL != "" {
		a.header.Set("HTTP-Referer", siteURL)
	}
	if siteName != "" {
		a.header.Set("X-Title", siteName)
	}
	return a
}

// WithHTTPClient replaces the shared HTTP client.
func (a *OpenAICompatible) WithHTTPClient(c *http.Client) *OpenAICompatible {
	a.client = c
	return a
}

// WithTextOnly forces attachments to be inlined as text.
func (a *OpenAICompatible) WithTextOnly(textOnly bool) *OpenAICompatible {
	a.textOnly = textOnly
	return a
}

// Kind implements Adapter.
func (a *OpenAICompatible) Kind() router.Kind {
	return a.kind
}

// TextOnly reports whether the provider accepts only plain-text content.
func (a *OpenAICompatible) TextOnly() bool {
	return a.textOnly
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatUserInput implements Adapter.
func (a *OpenAICompatible) FormatUserInput(text string, att *model.Attachment) model.Message {
	return formatOpenAIUserInput(a.kind, a.textOnly, text, att)
}

func formatOpenAIUserInput(kind router.Kind, textOnly bool, text string, att *model.Attachment) model.Message {
	if att == nil {
		return model.NewUserMessage(text)
	}
	if textOnly {
		if att.Kind == model.AttachmentImage {
			slog.Warn("ATTACHMENT_DROPPED", "provider", kind, "reason", "provider does not accept images", "name", att.Name)
			return model.NewUserMessage(text)
		}
		return model.NewUserMessage(text + "\n" + att.Name + "\n" + att.Data)
	}

	parts := make([]model.Part, 0, 3)
	if text != "" {
		parts = append(parts, model.TextPart(text))
	}
	if att.Kind == model.AttachmentImage && att.Name != "" {
		parts = append(parts, model.TextPart(att.Name))
	}
	parts = append(parts, att.Part())
	return model.NewMessage(model.RoleUser, parts...)
}

// BuildRequest implements Adapter.
func (a *OpenAICompatible) BuildRequest(history []model.Message, p Params) (*Request, error) {
	params := openai.ChatCompletionNewParams{
		Model:    p.Model,
		Messages: toOpenAIMessages(history, a.textOnly),
	}

	if isOpenAIReasoningModel(a.kind, p.Model) {
		// o-series models reject max_tokens and custom temperatures.
		params.MaxCompletionTokens = openai.Int(int64(p.MaxTokens))
	} else {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
		params.Temperature = openai.Float(p.Temperature)
	}
	if p.TopP > 0 {
		params.TopP = openai.Float(p.TopP)
	}
	if p.FrequencyPenalty != 0 {
		params.FrequencyPenalty = openai.Float(p.FrequencyPenalty)
	}
	if p.PresencePenalty != 0 {
		params.PresencePenalty = openai.Float(p.PresencePenalty)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", a.kind, err)
	}

	header := a.header.Clone()
	header.Set("Authorization", "Bearer "+a.endpoint.APIKey)

	return &Request{
		Kind:   a.kind,
		Model:  p.Model,
		URL:    joinURL(a.endpoint.BaseURL, "chat/completions"),
		Header: header,
		Body:   body,
	}, nil
}

func toOpenAIMessages(history []model.Message, textOnly bool) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text()))
		default:
			if textOnly || m.IsPlainText() {
				out = append(out, openai.UserMessage(textWithInlineFiles(m)))
				continue
			}
			out = append(out, openai.UserMessage(toOpenAIContentParts(m.Parts)))
		}
	}
	return out
}

func toOpenAIContentParts(parts []model.Part) []openai.ChatCompletionContentPartUnionParam {
	out := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts)+1)
	for _, p := range parts {
		switch p.Type {
		case model.PartImage:
			out = append(out, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: p.DataURL(),
			}))
		case model.PartFile:
			out = append(out, openai.TextContentPart(p.Name), openai.TextContentPart(p.Text))
		default:
			out = append(out, openai.TextContentPart(p.Text))
		}
	}
	return out
}

func isOpenAIReasoningModel(kind router.Kind, id string) bool {
	if kind != router.KindOpenAI {
		return false
	}
	id = strings.ToLower(id)
	return strings.HasPrefix(id, "o1") || strings.HasPrefix(id, "o3") || strings.HasPrefix(id, "o4")
}

// =============================================================================
// TRANSPORT
// =============================================================================

// Send implements Adapter.
func (a *OpenAICompatible) Send(ctx context.Context, req *Request) (*RawResponse, error) {
	return a.send(ctx, req)
}

// ParseResponse implements Adapter.
func (a *OpenAICompatible) ParseResponse(raw *RawResponse) (*Result, error) {
	return parseChatCompletion(a.kind, raw)
}

// parseChatCompletion reads choices[0].message from a chat completion body.
func parseChatCompletion(kind router.Kind, raw *RawResponse) (*Result, error) {
	if raw == nil {
		return nil, fmt.Errorf("%s: %w: empty response", kind, ErrMalformedResponse)
	}
	doc := gjson.ParseBytes(raw.Body)
	msg := doc.Get("choices.0.message")
	content := msg.Get("content")

	var text string
	switch {
	case kind == router.KindDeepSeek && strings.EqualFold(raw.Model, deepSeekReasoner):
		reasoning := msg.Get("reasoning_content").String()
		if !content.Exists() && reasoning == "" {
			return nil, fmt.Errorf("%s: %w: no message content", kind, ErrMalformedResponse)
		}
		text = "# Thinking:\n" + reasoning + "\n\n\n---\n# Response:\n" + content.String()
	case content.Type == gjson.String:
		text = content.String()
	default:
		return nil, fmt.Errorf("%s: %w: no message content", kind, ErrMalformedResponse)
	}

	return &Result{
		Text:  strings.TrimSpace(text),
		Usage: parseUsage(doc, "usage.prompt_tokens", "usage.completion_tokens"),
	}, nil
}

// parseUsage returns nil when the provider reported no counts.
func parseUsage(doc gjson.Result, promptPath, completionPath string) *Usage {
	prompt := doc.Get(promptPath)
	completion := doc.Get(completionPath)
	if !prompt.Exists() && !completion.Exists() {
		return nil
	}
	return &Usage{
		PromptTokens:     int(prompt.Int()),
		CompletionTokens: int(completion.Int()),
	}
}
