// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/chatportal/internal/model"
)

func testTranscript() *Transcript {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	user := model.NewMessage(model.RoleUser,
		model.TextPart("What does <b>this</b> do?"),
		model.ImagePart("image/png", "iVBORw0KGgo="),
		model.FilePart("main.go", "package main\n"),
	)
	user.Timestamp = at
	reply := model.NewAssistantMessage("It prints:\n\n```go\nfmt.Println(\"hi\")\n```\n\nUse `go run`.")
	reply.Timestamp = at.Add(time.Second)

	return &Transcript{
		SessionID: "default",
		CreatedAt: at,
		Messages: []model.Message{
			model.NewSystemMessage("You are a helpful assistant."),
			user,
			reply,
		},
	}
}

func TestHTMLExporter_Export(t *testing.T) {
	out, err := NewHTMLExporter(nil).Export(testTranscript())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	doc := string(out)

	wants := []string{
		"<!DOCTYPE html>",
		"<title>Chat History</title>",
		"What does &lt;b&gt;this&lt;/b&gt; do?",
		`src="data:image/png;base64,iVBORw0KGgo="`,
		`<div class="code-lang">main.go</div>`,
		`<code class="language-go">`,
		`<code class="inline-code">go run</code>`,
		"[Assistant]",
		"09:26:53",
	}
	for _, want := range wants {
		if !strings.Contains(doc, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(doc, "<b>this</b>") {
		t.Error("user text must be escaped")
	}
	if strings.Contains(doc, "You are a helpful assistant.") {
		t.Error("system preamble should be omitted by default")
	}
}

func TestHTMLExporter_IncludeSystem(t *testing.T) {
	out, err := NewHTMLExporter(&Options{IncludeSystem: true}).Export(testTranscript())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "You are a helpful assistant.") {
		t.Error("system preamble should be rendered when requested")
	}
	if strings.Contains(string(out), `<span class="timestamp">`) {
		t.Error("timestamps should be omitted when not requested")
	}
}

func TestExport_EmptyTranscript(t *testing.T) {
	for _, format := range []string{"html", "md", "json"} {
		exp, err := ForFormat(format, nil)
		if err != nil {
			t.Fatalf("ForFormat(%q) error = %v", format, err)
		}
		if _, err := exp.Export(&Transcript{}); !errors.Is(err, ErrEmptyTranscript) {
			t.Errorf("%s: Export(empty) error = %v, want ErrEmptyTranscript", format, err)
		}
		if _, err := exp.Export(nil); !errors.Is(err, ErrEmptyTranscript) {
			t.Errorf("%s: Export(nil) error = %v, want ErrEmptyTranscript", format, err)
		}
	}
}

func TestForFormat(t *testing.T) {
	tests := []struct {
		format string
		ext    string
	}{
		{"", ".html"},
		{"HTML", ".html"},
		{"markdown", ".md"},
		{"md", ".md"},
		{"json", ".json"},
	}
	for _, tt := range tests {
		exp, err := ForFormat(tt.format, nil)
		if err != nil {
			t.Fatalf("ForFormat(%q) error = %v", tt.format, err)
		}
		if exp.FileExtension() != tt.ext {
			t.Errorf("ForFormat(%q) ext = %q, want %q", tt.format, exp.FileExtension(), tt.ext)
		}
	}
	if _, err := ForFormat("pdf", nil); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestMarkdownExporter_Export(t *testing.T) {
	out, err := NewMarkdownExporter(nil).Export(testTranscript())
	if err != nil {
		t.Fatal(err)
	}
	doc := string(out)

	if !strings.HasPrefix(doc, "---\ntitle: Chat History\n") {
		t.Errorf("missing frontmatter: %q", doc[:40])
	}
	for _, want := range []string{
		"### [User] <sub>09:26:53</sub>",
		"![uploaded image](data:image/png;base64,iVBORw0KGgo=)",
		"**File**: `main.go`",
		"```go\nfmt.Println(\"hi\")\n```",
		"messages: 2\n",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("Markdown missing %q", want)
		}
	}
}

func TestJSONExporter_Export(t *testing.T) {
	out, err := NewJSONExporter(nil).Export(testTranscript())
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		SessionID string          `json:"session_id"`
		Messages  []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.SessionID != "default" {
		t.Errorf("session_id = %q", decoded.SessionID)
	}
	if len(decoded.Messages) != 2 || decoded.Messages[0].Role != model.RoleUser {
		t.Errorf("messages = %+v", decoded.Messages)
	}
}

func TestExportToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	path, err := ExportToFile(testTranscript(), NewHTMLExporter(nil), dir)
	if err != nil {
		t.Fatalf("ExportToFile() error = %v", err)
	}

	base := filepath.Base(path)
	if !strings.HasPrefix(base, "chat_history-") || !strings.HasSuffix(base, ".html") {
		t.Errorf("unexpected file name %q", base)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<html") {
		t.Error("exported file is not HTML")
	}
}

func TestExportToFile_SessionInName(t *testing.T) {
	tr := testTranscript()
	tr.SessionID = "team a/b"

	path, err := ExportToFile(tr, NewJSONExporter(nil), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(path), "chat_history-team_a-b-") {
		t.Errorf("unexpected file name %q", filepath.Base(path))
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "session"},
		{"ok-name_1", "ok-name_1"},
		{`a:b*c?`, "a-b-c-"},
		{"tab\there", "tab_here"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHTMLExporter_DropsNonImageDataURL(t *testing.T) {
	tr := testTranscript()
	tr.Messages = append(tr.Messages, model.NewMessage(model.RoleUser,
		model.TextPart("see attached"),
		model.ImagePart("text/html", "PHNjcmlwdD4="),
	))

	out, err := NewHTMLExporter(nil).Export(tr)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "data:text/html") {
		t.Error("non-image data URL must not be rendered")
	}
}

func TestRenderText(t *testing.T) {
	got := string(renderText("first line\nsecond <line>\n\n```sh\necho `hi`\n```\nafter `x`"))

	wants := []string{
		"<p>first line<br>\nsecond &lt;line&gt;</p>",
		`<div class="code-lang">sh</div><pre><code class="language-sh">echo ` + "`hi`" + `</code></pre></div>`,
		`<p>after <code class="inline-code">x</code></p>`,
	}
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Errorf("renderText() missing %q\ngot:\n%s", want, got)
		}
	}
}
