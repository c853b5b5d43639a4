// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jeranaias/chatportal/internal/model"
	"github.com/jeranaias/chatportal/internal/router"
)

// DefaultGeminiURL is the Generative Language API base.
const DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

// geminiSafetyCategories are relaxed to BLOCK_NONE on every request.
var geminiSafetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SafetySettings    []geminiSafetySetting  `json:"safetySettings"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	CandidateCount  int     `json:"candidateCount"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP,omitempty"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// Gemini is the Google Generative Language adapter.
type Gemini struct {
	httpBase
}

// NewGemini returns a Gemini adapter.
func NewGemini(ep Endpoint) *Gemini {
	return &Gemini{httpBase: newHTTPBase(ep, DefaultGeminiURL)}
}

// WithHTTPClient replaces the shared HTTP client.
func (g *Gemini) WithHTTPClient(c *http.Client) *Gemini {
	g.client = c
	return g
}

// Kind implements Adapter.
func (g *Gemini) Kind() router.Kind {
	return router.KindGemini
}

// FormatUserInput implements Adapter. Images stay inline; files are kept as
// file parts and rendered as "File: <name>" blocks.
func (g *Gemini) FormatUserInput(text string, att *model.Attachment) model.Message {
	if att == nil {
		return model.NewUserMessage(text)
	}
	parts := []model.Part{model.TextPart(text), att.Part()}
	return model.NewMessage(model.RoleUser, parts...)
}

// BuildRequest implements Adapter.
func (g *Gemini) BuildRequest(history []model.Message, p Params) (*Request, error) {
	body := geminiRequest{
		Contents: make([]geminiContent, 0, len(history)),
		GenerationConfig: geminiGenerationConfig{
			CandidateCount:  1,
			MaxOutputTokens: p.MaxTokens,
			Temperature:     p.Temperature,
			TopP:            p.TopP,
		},
		SafetySettings: make([]geminiSafetySetting, 0, len(geminiSafetyCategories)),
	}
	for _, c := range geminiSafetyCategories {
		body.SafetySettings = append(body.SafetySettings, geminiSafetySetting{Category: c, Threshold: "BLOCK_NONE"})
	}

	var system []string
	for _, m := range history {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, m.Text())
		case model.RoleAssistant:
			body.Contents = append(body.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: m.Text()}},
			})
		default:
			body.Contents = append(body.Contents, geminiContent{
				Role:  "user",
				Parts: toGeminiParts(m.Parts),
			})
		}
	}
	if len(system) > 0 {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n\n")}}}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	header := http.Header{}
	header.Set("x-goog-api-key", g.endpoint.APIKey)

	return &Request{
		Kind:   router.KindGemini,
		Model:  p.Model,
		URL:    joinURL(g.endpoint.BaseURL, "models/"+url.PathEscape(p.Model)+":generateContent"),
		Header: header,
		Body:   data,
	}, nil
}

func toGeminiParts(parts []model.Part) []geminiPart {
	out := make([]geminiPart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case model.PartImage:
			out = append(out, geminiPart{InlineData: &geminiInlineData{MimeType: p.MediaType, Data: p.Data}})
		case model.PartFile:
			out = append(out, geminiPart{Text: "\n\nFile: " + p.Name + "\n" + p.Text})
		default:
			if p.Text != "" {
				out = append(out, geminiPart{Text: p.Text})
			}
		}
	}
	if len(out) == 0 {
		// The API rejects a content with no parts.
		out = append(out, geminiPart{Text: " "})
	}
	return out
}

// Send implements Adapter.
func (g *Gemini) Send(ctx context.Context, req *Request) (*RawResponse, error) {
	return g.send(ctx, req)
}

// ParseResponse implements Adapter. A blocked prompt has no candidates and is
// reported as malformed with the block reason.
func (g *Gemini) ParseResponse(raw *RawResponse) (*Result, error) {
	if raw == nil {
		return nil, fmt.Errorf("gemini: %w: empty response", ErrMalformedResponse)
	}
	doc := gjson.ParseBytes(raw.Body)

	texts := doc.Get("candidates.0.content.parts.#.text")
	if !texts.Exists() || len(texts.Array()) == 0 {
		if reason := doc.Get("promptFeedback.blockReason").String(); reason != "" {
			return nil, fmt.Errorf("gemini: %w: prompt blocked (%s)", ErrMalformedResponse, reason)
		}
		if reason := doc.Get("candidates.0.finishReason").String(); reason != "" {
			return nil, fmt.Errorf("gemini: %w: no content (finish reason %s)", ErrMalformedResponse, reason)
		}
		return nil, fmt.Errorf("gemini: %w: no candidates", ErrMalformedResponse)
	}

	var sb strings.Builder
	for _, t := range texts.Array() {
		sb.WriteString(t.String())
	}

	return &Result{
		Text:  strings.TrimSpace(sb.String()),
		Usage: parseUsage(doc, "usageMetadata.promptTokenCount", "usageMetadata.candidatesTokenCount"),
	}, nil
}
