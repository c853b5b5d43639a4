// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/jeranaias/chatportal/internal/model"
	"github.com/jeranaias/chatportal/internal/router"
)

const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func testHistory() []model.Message {
	return []model.Message{
		model.NewSystemMessage("be helpful"),
		model.NewUserMessage("hi"),
		model.NewAssistantMessage("hello"),
		model.NewUserMessage("how are you?"),
	}
}

func defaultParams(id string) Params {
	return Params{Model: id, Temperature: 1.1, MaxTokens: 2000}
}

// =============================================================================
// OPENAI-COMPATIBLE
// =============================================================================

func TestOpenAI_BuildRequest(t *testing.T) {
	a := NewOpenAICompatible(router.KindOpenAI, Endpoint{APIKey: "sk-test"})
	history := testHistory()
	before := len(history)

	req, err := a.BuildRequest(history, defaultParams("gpt-4o"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", req.URL)
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
	assert.Len(t, history, before, "history must not be mutated")

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "gpt-4o", body.Get("model").String())
	assert.Equal(t, int64(2000), body.Get("max_tokens").Int())
	assert.InDelta(t, 1.1, body.Get("temperature").Float(), 1e-9)
	assert.False(t, body.Get("top_p").Exists(), "unset top_p should be omitted")

	roles := body.Get("messages.#.role").Array()
	require.Len(t, roles, 4)
	assert.Equal(t, "system", roles[0].String())
	assert.Equal(t, "user", roles[1].String())
	assert.Equal(t, "assistant", roles[2].String())
	assert.Equal(t, "how are you?", body.Get("messages.3.content").String())
}

func TestOpenAI_ReasoningModelUsesCompletionTokens(t *testing.T) {
	a := NewOpenAICompatible(router.KindOpenAI, Endpoint{APIKey: "k"})

	req, err := a.BuildRequest(testHistory(), defaultParams("o3-mini"))
	require.NoError(t, err)

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, int64(2000), body.Get("max_completion_tokens").Int())
	assert.False(t, body.Get("max_tokens").Exists())
	assert.False(t, body.Get("temperature").Exists())
}

func TestOpenAI_MultimodalUserInput(t *testing.T) {
	a := NewOpenAICompatible(router.KindOpenAI, Endpoint{APIKey: "k"})
	att, err := model.NewImageAttachment("pixel.png", "data:image/png;base64,"+onePixelPNG)
	require.NoError(t, err)

	msg := a.FormatUserInput("what is this?", att)
	require.True(t, msg.HasImage())

	req, err := a.BuildRequest([]model.Message{model.NewSystemMessage("s"), msg}, defaultParams("gpt-4o"))
	require.NoError(t, err)

	content := gjson.GetBytes(req.Body, "messages.1.content")
	require.True(t, content.IsArray())
	types := content.Get("#.type").Array()
	require.Len(t, types, 3)
	assert.Equal(t, "text", types[0].String())
	assert.Equal(t, "pixel.png", content.Get("1.text").String())
	assert.Equal(t, "image_url", types[2].String())
	assert.Equal(t, "data:image/png;base64,"+onePixelPNG, content.Get("2.image_url.url").String())
}

func TestTextOnly_InlinesFilesAndDropsImages(t *testing.T) {
	a := NewOpenAICompatible(router.KindGroq, Endpoint{APIKey: "k"})
	require.True(t, a.TextOnly())

	file, err := model.NewFileAttachment("notes.txt", "line one")
	require.NoError(t, err)
	msg := a.FormatUserInput("summarize", file)
	assert.True(t, msg.IsPlainText())
	assert.Equal(t, "summarize\nnotes.txt\nline one", msg.Text())

	img, err := model.NewImageAttachment("p.png", onePixelPNG)
	require.NoError(t, err)
	msg = a.FormatUserInput("look", img)
	assert.False(t, msg.HasImage())
	assert.Equal(t, "look", msg.Text())
}

func TestTextOnly_FlattensMultimodalHistory(t *testing.T) {
	a := NewOpenAICompatible(router.KindMistral, Endpoint{APIKey: "k"})
	mixed := model.NewMessage(model.RoleUser,
		model.TextPart("see"),
		model.ImagePart("image/png", onePixelPNG),
		model.FilePart("a.txt", "data"),
	)

	req, err := a.BuildRequest([]model.Message{model.NewSystemMessage("s"), mixed}, defaultParams("mistral-large-latest"))
	require.NoError(t, err)

	content := gjson.GetBytes(req.Body, "messages.1.content")
	assert.Equal(t, gjson.String, content.Type)
	assert.Equal(t, "see\na.txt\ndata", content.String())
	assert.Equal(t, "https://api.mistral.ai/v1/chat/completions", req.URL)
}

func TestOpenRouter_SiteHeaders(t *testing.T) {
	a := NewOpenAICompatible(router.KindOpenRouter, Endpoint{APIKey: "k"}).
		WithSiteInfo("https://chat.example", "chatportal")

	req, err := a.BuildRequest(testHistory(), defaultParams("openai/gpt-4o"))
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example", req.Header.Get("HTTP-Referer"))
	assert.Equal(t, "chatportal", req.Header.Get("X-Title"))
	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", req.URL)
}

func TestParseResponse_TrimsOuterWhitespaceOnly(t *testing.T) {
	a := NewOpenAICompatible(router.KindOpenAI, Endpoint{APIKey: "k"})
	raw := &RawResponse{Body: []byte(`{
		"choices": [{"message": {"role": "assistant", "content": "  \n Hello,   world!\n\nBye \n "}}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 5}
	}`)}

	res, err := a.ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Hello,   world!\n\nBye", res.Text)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 12, res.Usage.PromptTokens)
	assert.Equal(t, 5, res.Usage.CompletionTokens)
	assert.Equal(t, 17, res.Usage.Total())
}

func TestParseResponse_Malformed(t *testing.T) {
	a := NewOpenAICompatible(router.KindOpenAI, Endpoint{APIKey: "k"})

	for name, body := range map[string]string{
		"no choices":   `{"choices": []}`,
		"null content": `{"choices": [{"message": {"content": null}}]}`,
		"not json":     `<html>oops</html>`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.ParseResponse(&RawResponse{Body: []byte(body)})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestParseResponse_EmptyStringIsNotMalformed(t *testing.T) {
	a := NewOpenAICompatible(router.KindOpenAI, Endpoint{APIKey: "k"})
	res, err := a.ParseResponse(&RawResponse{Body: []byte(`{"choices": [{"message": {"content": "   "}}]}`)})
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
	assert.Nil(t, res.Usage)
}

func TestDeepSeekReasoner_FormatsThinking(t *testing.T) {
	a := NewOpenAICompatible(router.KindDeepSeek, Endpoint{APIKey: "k"})
	raw := &RawResponse{Model: "deepseek-reasoner", Body: []byte(`{
		"choices": [{"message": {"reasoning_content": "step 1", "content": "42"}}]
	}`)}

	res, err := a.ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "# Thinking:\nstep 1\n\n\n---\n# Response:\n42", res.Text)

	raw.Model = "deepseek-chat"
	res, err = a.ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "42", res.Text)
}

func TestKimi_ClampsTemperature(t *testing.T) {
	k := NewKimi(Endpoint{APIKey: "k"})
	assert.Equal(t, router.KindKimi, k.Kind())

	req, err := k.BuildRequest(testHistory(), defaultParams("kimi-k2-0711-preview"))
	require.NoError(t, err)
	assert.Equal(t, "https://api.moonshot.ai/v1/chat/completions", req.URL)
	assert.InDelta(t, 1.0, gjson.GetBytes(req.Body, "temperature").Float(), 1e-9)

	file, _ := model.NewFileAttachment("f.go", "package main")
	assert.Equal(t, "read\nf.go\npackage main", k.FormatUserInput("read", file).Text())
}

// =============================================================================
// SEND
// =============================================================================

func TestSend_Success(t *testing.T) {
	var gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"pong"}}]}`))
	}))
	defer server.Close()

	a := NewOpenAICompatible(router.KindGrok, Endpoint{APIKey: "xai-key", BaseURL: server.URL}).
		WithHTTPClient(server.Client())

	req, err := a.BuildRequest(testHistory(), defaultParams("grok-3"))
	require.NoError(t, err)

	raw, err := a.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Bearer xai-key", gotAuth)
	assert.Equal(t, "grok-3", gjson.Get(gotBody, "model").String())

	res, err := a.ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Text)
}

func TestSend_RateLimitedPreservesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached for gpt-4o","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	a := NewOpenAICompatible(router.KindOpenAI, Endpoint{APIKey: "k", BaseURL: server.URL}).
		WithHTTPClient(server.Client())
	req, err := a.BuildRequest(testHistory(), defaultParams("gpt-4o"))
	require.NoError(t, err)

	_, err = a.Send(context.Background(), req)
	require.Error(t, err)

	var pErr *Error
	require.True(t, errors.As(err, &pErr))
	assert.Equal(t, http.StatusTooManyRequests, pErr.HTTPStatus)
	assert.Equal(t, router.KindOpenAI, pErr.Kind)
	assert.Equal(t, "rate_limit_exceeded", pErr.Code)
	assert.Contains(t, pErr.Message, "Rate limit reached")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, 429, StatusOf(err))
}

func TestSend_ErrorStatuses(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		sentinel  error
		retryable bool
	}{
		{http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, ErrAuthFailed, false},
		{http.StatusPaymentRequired, `{"error":{"message":"no credits"}}`, ErrInsufficientCredits, false},
		{http.StatusNotFound, `not json`, ErrModelNotFound, false},
		{http.StatusBadGateway, ``, nil, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			g := NewGemini(Endpoint{APIKey: "k", BaseURL: server.URL}).WithHTTPClient(server.Client())
			req, err := g.BuildRequest(testHistory(), defaultParams("gemini-1.5-pro"))
			require.NoError(t, err)

			_, err = g.Send(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.status, StatusOf(err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestSend_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	c := NewClaude(Endpoint{APIKey: "k", BaseURL: server.URL}).WithHTTPClient(server.Client())
	req, err := c.BuildRequest(testHistory(), defaultParams("claude-3-5-haiku-latest"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.Send(ctx, req)
	require.ErrorIs(t, err, ErrProviderTimeout)
	assert.True(t, IsRetryable(err))
}

func TestSend_NotConfigured(t *testing.T) {
	a := NewOpenAICompatible(router.KindOpenAI, Endpoint{})
	req, err := a.BuildRequest(testHistory(), defaultParams("gpt-4o"))
	require.NoError(t, err)

	_, err = a.Send(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestError_DoesNotLeakKey(t *testing.T) {
	assert.Equal(t, "none", KeyFingerprint(""))
	fp := KeyFingerprint("sk-secret-value")
	assert.Len(t, fp, 8)
	assert.NotContains(t, fp, "secret")
}

// =============================================================================
// GEMINI
// =============================================================================

func TestGemini_BuildRequest(t *testing.T) {
	g := NewGemini(Endpoint{APIKey: "g-key"})
	img, err := model.NewImageAttachment("p.png", onePixelPNG)
	require.NoError(t, err)

	history := append(testHistory(), g.FormatUserInput("and this?", img))
	req, err := g.BuildRequest(history, defaultParams("gemini-1.5-pro"))
	require.NoError(t, err)

	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:generateContent", req.URL)
	assert.Equal(t, "g-key", req.Header.Get("x-goog-api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "be helpful", body.Get("systemInstruction.parts.0.text").String())
	assert.Equal(t, []string{"user", "model", "user", "user"}, stringsOf(body.Get("contents.#.role")))
	assert.Equal(t, int64(1), body.Get("generationConfig.candidateCount").Int())
	assert.Equal(t, int64(2000), body.Get("generationConfig.maxOutputTokens").Int())
	assert.InDelta(t, 1.1, body.Get("generationConfig.temperature").Float(), 1e-9)
	assert.Len(t, body.Get("safetySettings").Array(), 4)
	assert.Equal(t, []string{"BLOCK_NONE", "BLOCK_NONE", "BLOCK_NONE", "BLOCK_NONE"}, stringsOf(body.Get("safetySettings.#.threshold")))
	assert.Equal(t, "image/png", body.Get("contents.3.parts.1.inlineData.mimeType").String())
}

func TestGemini_ParseResponse(t *testing.T) {
	g := NewGemini(Endpoint{APIKey: "k"})

	res, err := g.ParseResponse(&RawResponse{Body: []byte(`{
		"candidates": [{"content": {"role": "model", "parts": [{"text": " Hello "}, {"text": "there \n"}]}}],
		"usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 4}
	}`)})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", res.Text)
	assert.Equal(t, &Usage{PromptTokens: 3, CompletionTokens: 4}, res.Usage)

	_, err = g.ParseResponse(&RawResponse{Body: []byte(`{"promptFeedback": {"blockReason": "SAFETY"}}`)})
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "SAFETY")
}

// =============================================================================
// CLAUDE
// =============================================================================

func TestClaude_FormatAndBuild(t *testing.T) {
	c := NewClaude(Endpoint{APIKey: "c-key"})
	img, err := model.NewImageAttachment("", onePixelPNG)
	require.NoError(t, err)

	msg := c.FormatUserInput("describe", img)
	assert.Equal(t, "<user_message>describe</user_message><image_name>uploaded_image</image_name><image_content></image_content>", msg.Text())

	history := append(testHistory(), msg)
	req, err := c.BuildRequest(history, defaultParams("claude-3-5-haiku-latest"))
	require.NoError(t, err)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", req.URL)
	assert.Equal(t, "c-key", req.Header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", req.Header.Get("anthropic-version"))

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "be helpful", body.Get("system").String())
	assert.Equal(t, []string{"user", "assistant", "user", "user"}, stringsOf(body.Get("messages.#.role")))
	assert.InDelta(t, 1.0, body.Get("temperature").Float(), 1e-9, "temperature is clamped to 1")
	assert.False(t, body.Get("thinking").Exists())

	blocks := body.Get("messages.3.content")
	var sawImage bool
	blocks.ForEach(func(_, b gjson.Result) bool {
		if b.Get("type").String() == "image" {
			sawImage = true
			assert.Equal(t, "base64", b.Get("source.type").String())
			assert.Equal(t, "image/png", b.Get("source.media_type").String())
		}
		return true
	})
	assert.True(t, sawImage)
}

func TestClaude_FileTags(t *testing.T) {
	c := NewClaude(Endpoint{APIKey: "k"})
	file, err := model.NewFileAttachment("main.go", "package main")
	require.NoError(t, err)

	got := c.FormatUserInput("review", file).Text()
	assert.Equal(t, "<user_message>review</user_message><file_name>main.go</file_name><file_contents>package main</file_contents>", got)
}

func TestClaude_Thinking(t *testing.T) {
	c := NewClaude(Endpoint{APIKey: "k"}).WithThinking(true)

	req, err := c.BuildRequest(testHistory(), defaultParams("claude-3-7-sonnet-latest"))
	require.NoError(t, err)
	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, int64(1900), body.Get("thinking.budget_tokens").Int())
	assert.False(t, body.Get("temperature").Exists())

	req, err = c.BuildRequest(testHistory(), defaultParams("claude-3-5-haiku-latest"))
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(req.Body, "thinking").Exists())
}

func TestClaude_ParseResponse(t *testing.T) {
	c := NewClaude(Endpoint{APIKey: "k"})

	res, err := c.ParseResponse(&RawResponse{Body: []byte(`{
		"content": [{"type": "text", "text": "Hi "}, {"type": "text", "text": "there\n"}],
		"usage": {"input_tokens": 9, "output_tokens": 2}
	}`)})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Text)
	assert.Equal(t, 9, res.Usage.PromptTokens)

	res, err = c.ParseResponse(&RawResponse{Body: []byte(`{
		"content": [{"type": "thinking", "thinking": "hmm"}, {"type": "text", "text": "ok"}]
	}`)})
	require.NoError(t, err)
	assert.Equal(t, "# Thinking:\nhmm\n\n---\n# Response:\nok", res.Text)

	_, err = c.ParseResponse(&RawResponse{Body: []byte(`{"content": []}`)})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

// =============================================================================
// SET
// =============================================================================

func TestSet_HasAdapterForEveryKind(t *testing.T) {
	s := NewSet(Options{Endpoints: map[router.Kind]Endpoint{
		router.KindGemini: {APIKey: "g"},
		router.KindClaude: {APIKey: "c"},
	}})

	for _, k := range router.Kinds() {
		a, ok := s.Get(k)
		require.True(t, ok, "missing adapter for %v", k)
		assert.Equal(t, k, a.Kind())
	}
	assert.Equal(t, []router.Kind{router.KindClaude, router.KindGemini}, s.Configured())
	assert.True(t, s.IsConfigured(router.KindGemini))
	assert.False(t, s.IsConfigured(router.KindOpenAI))
}

func stringsOf(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}
