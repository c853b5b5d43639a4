// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/chatportal/internal/model"
)

var (
	fenceRe      = regexp.MustCompile("```([a-zA-Z0-9_+-]*)\n([\\s\\S]*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")
	blankLineRe  = regexp.MustCompile(`\n[ \t]*\n`)
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter renders a transcript as one self-contained page: styles and
// the theme switch are inline and images stay as data URLs.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter returns an HTML exporter. nil opts means DefaultOptions.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// htmlPage is the data handed to pageTemplate.
type htmlPage struct {
	Title      string
	Generated  string
	SessionID  string
	Started    string
	StartedISO string
	Count      int
	Messages   []htmlMessage
	CSS        template.CSS
	Script     template.JS
}

type htmlMessage struct {
	Role  string
	Label string
	Time  string
	Parts []htmlPart
}

// htmlPart is one rendered part; Kind is "text", "image" or "file".
type htmlPart struct {
	Kind  string
	Body  template.HTML
	Image template.URL
	Alt   string
	Name  string
	File  string
}

// Export renders t.
func (e *HTMLExporter) Export(t *Transcript) ([]byte, error) {
	if err := validate(t); err != nil {
		return nil, err
	}

	msgs := t.visible(e.options.IncludeSystem)
	page := htmlPage{
		Title:     t.title(),
		Generated: time.Now().Format("January 2, 2006 at 3:04 PM"),
		SessionID: t.SessionID,
		Count:     len(msgs),
		Messages:  make([]htmlMessage, 0, len(msgs)),
		CSS:       template.CSS(pageCSS),
		Script:    template.JS(pageScript),
	}
	if !t.CreatedAt.IsZero() {
		page.Started = formatTimestamp(t.CreatedAt)
		page.StartedISO = t.CreatedAt.Format(time.RFC3339)
	}
	for _, m := range msgs {
		page.Messages = append(page.Messages, e.message(m))
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	return buf.Bytes(), nil
}

// FileExtension returns ".html".
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the HTML content type.
func (e *HTMLExporter) MimeType() string {
	return "text/html; charset=utf-8"
}

func (e *HTMLExporter) message(m model.Message) htmlMessage {
	out := htmlMessage{
		Role:  m.Role.String(),
		Label: roleLabel(m.Role),
		Parts: make([]htmlPart, 0, len(m.Parts)),
	}
	if e.options.IncludeTimestamps && !m.Timestamp.IsZero() {
		out.Time = formatShortTimestamp(m.Timestamp)
	}

	for _, p := range m.Parts {
		switch p.Type {
		case model.PartImage:
			// Only image data URLs are trusted in src; anything else is dropped.
			url := p.DataURL()
			if !strings.HasPrefix(url, "data:image/") {
				continue
			}
			alt := p.Name
			if alt == "" {
				alt = "uploaded image"
			}
			out.Parts = append(out.Parts, htmlPart{Kind: "image", Image: template.URL(url), Alt: alt})
		case model.PartFile:
			out.Parts = append(out.Parts, htmlPart{Kind: "file", Name: p.Name, File: p.Text})
		default:
			out.Parts = append(out.Parts, htmlPart{Kind: "text", Body: renderText(p.Text)})
		}
	}
	return out
}

// =============================================================================
// TEXT RENDERING
// =============================================================================

// renderText turns message text into escaped HTML. Fenced blocks become
// <pre> blocks labelled with their language; the rest is split into
// paragraphs on blank lines with inline `code` spans.
func renderText(s string) template.HTML {
	var b strings.Builder
	rest := s
	for {
		loc := fenceRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			writeParagraphs(&b, rest)
			break
		}
		writeParagraphs(&b, rest[:loc[0]])

		lang := rest[loc[2]:loc[3]]
		code := strings.TrimRight(rest[loc[4]:loc[5]], "\n")
		b.WriteString(`<div class="code-block">`)
		if lang != "" {
			fmt.Fprintf(&b, `<div class="code-lang">%s</div>`, lang)
		}
		fmt.Fprintf(&b, `<pre><code class="language-%s">%s</code></pre></div>`, lang, html.EscapeString(code))
		b.WriteByte('\n')

		rest = rest[loc[1]:]
	}
	return template.HTML(b.String())
}

func writeParagraphs(b *strings.Builder, s string) {
	for _, para := range blankLineRe.Split(s, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			line = html.EscapeString(strings.TrimSpace(line))
			lines[i] = inlineCodeRe.ReplaceAllString(line, `<code class="inline-code">$1</code>`)
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>\n"))
		b.WriteString("</p>\n")
	}
}

// =============================================================================
// PAGE TEMPLATE
// =============================================================================

var pageTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en" data-theme="dark">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="generator" content="chatportal">
{{- if .StartedISO}}
<meta name="date" content="{{.StartedISO}}">
{{- end}}
<title>{{.Title}}</title>
<style>{{.CSS}}</style>
</head>
<body>
<div class="page">
<header class="top">
<h1>{{.Title}}</h1>
<p class="meta">
{{- if .SessionID}}<span>Session: <b>{{.SessionID}}</b></span>{{end}}
{{- if .Started}}<span>Started: <b>{{.Started}}</b></span>{{end}}
<span>Messages: <b>{{.Count}}</b></span>
<button type="button" id="theme">Light / Dark</button>
</p>
</header>
<main>
{{- range .Messages}}
<section class="msg msg-{{.Role}}">
<div class="msg-head"><span class="role-label">[{{.Label}}]</span>{{if .Time}} <span class="timestamp">{{.Time}}</span>{{end}}</div>
<div class="msg-body">
{{- range .Parts}}
{{- if eq .Kind "image"}}
<img class="attachment-image" src="{{.Image}}" alt="{{.Alt}}">
{{- else if eq .Kind "file"}}
<div class="code-block"><div class="code-lang">{{.Name}}</div><pre><code>{{.File}}</code></pre></div>
{{- else}}
{{.Body}}
{{- end}}
{{- end}}
</div>
</section>
{{- end}}
</main>
<footer>Exported from <b>chatportal</b> on {{.Generated}}</footer>
</div>
<script>{{.Script}}</script>
</body>
</html>
`))

const pageCSS = `
:root { --bg: #16181d; --panel: #1f2229; --fg: #e4e6eb; --muted: #9aa0ab; --line: #2e323b;
  --user: #4f8cff; --assistant: #3fb68b; --system: #b084f5; --code: #101217;
  --sans: system-ui, -apple-system, "Segoe UI", sans-serif; --mono: ui-monospace, Menlo, Consolas, monospace; }
[data-theme="light"] { --bg: #f6f7f9; --panel: #ffffff; --fg: #1c1f24; --muted: #5d6470; --line: #dde1e6; --code: #f0f2f5; }
* { box-sizing: border-box; }
body { margin: 0; background: var(--bg); color: var(--fg); font: 15px/1.6 var(--sans); }
.page { max-width: 860px; margin: 0 auto; padding: 24px 16px; }
.top { border-bottom: 1px solid var(--line); margin-bottom: 20px; }
.top h1 { margin: 0 0 6px; font-size: 22px; }
.meta { display: flex; flex-wrap: wrap; gap: 16px; align-items: center; color: var(--muted); font-size: 13px; }
#theme { margin-left: auto; background: none; color: var(--muted); border: 1px solid var(--line); border-radius: 4px; padding: 2px 8px; cursor: pointer; }
.msg { background: var(--panel); border: 1px solid var(--line); border-left-width: 3px; border-radius: 6px; padding: 12px 16px; margin-bottom: 14px; }
.msg-user { border-left-color: var(--user); }
.msg-assistant { border-left-color: var(--assistant); }
.msg-system { border-left-color: var(--system); }
.msg-head { font: 12px var(--mono); color: var(--muted); margin-bottom: 6px; }
.role-label { font-weight: bold; }
.msg-body p { margin: 0 0 10px; }
.code-block { background: var(--code); border: 1px solid var(--line); border-radius: 4px; margin: 8px 0; overflow-x: auto; }
.code-lang { font: 11px var(--mono); color: var(--muted); padding: 4px 10px; border-bottom: 1px solid var(--line); }
.code-block pre { margin: 0; padding: 10px; font: 13px/1.45 var(--mono); }
.inline-code { font-family: var(--mono); background: var(--code); padding: 0 4px; border-radius: 3px; }
.attachment-image { max-width: 100%; border-radius: 4px; margin: 6px 0; }
footer { color: var(--muted); font-size: 12px; text-align: center; margin-top: 28px; }
@media print { #theme { display: none; } .msg { break-inside: avoid; } }
`

const pageScript = `
(function () {
  var root = document.documentElement;
  var saved = localStorage.getItem("chatportal-theme");
  if (saved) { root.dataset.theme = saved; }
  document.getElementById("theme").addEventListener("click", function () {
    root.dataset.theme = root.dataset.theme === "light" ? "dark" : "light";
    localStorage.setItem("chatportal-theme", root.dataset.theme);
  });
})();
`
