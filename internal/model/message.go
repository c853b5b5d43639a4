// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/chatportal/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	return r == RoleSystem || r == RoleUser || r == RoleAssistant
}

// =============================================================================
// CONTENT PARTS
// =============================================================================

// PartType identifies the kind of content carried by a Part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartFile  PartType = "file"
)

// Part is one element of a message's ordered content.
type Part struct {
	Type PartType `json:"type"`

	// Text holds the text of a text part and the contents of a file part.
	Text string `json:"text,omitempty"`

	// MediaType and Data describe an inline image (Data is base64).
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// Name is the file or image name, if known.
	Name string `json:"name,omitempty"`
}

// TextPart returns a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ImagePart returns an inline image part with base64 data.
func ImagePart(mediaType, data string) Part {
	return Part{Type: PartImage, MediaType: mediaType, Data: data}
}

// FilePart returns an inline file part with text contents.
func FilePart(name, contents string) Part {
	return Part{Type: PartFile, Name: name, Text: contents}
}

// DataURL returns the image as a data URL, or "" for non-image parts.
func (p Part) DataURL() string {
	if p.Type != PartImage {
		return ""
	}
	return "data:" + p.MediaType + ";base64," + p.Data
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a new message with a generated ID and the given parts.
func NewMessage(role Role, parts ...Part) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Parts:     parts,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a plain-text system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, TextPart(content))
}

// NewUserMessage creates a plain-text user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, TextPart(content))
}

// NewAssistantMessage creates a plain-text assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, TextPart(content))
}

// IsPlainText reports whether the message is a single text part.
func (m Message) IsPlainText() bool {
	return len(m.Parts) == 1 && m.Parts[0].Type == PartText
}

// Text returns the concatenated text of all text parts.
func (m Message) Text() string {
	if m.IsPlainText() {
		return m.Parts[0].Text
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// HasImage reports whether any part is an inline image.
func (m Message) HasImage() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	out.Parts = append([]Part(nil), m.Parts...)
	return out
}

// Preview returns the message text cut to maxLen runes.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(m.Text(), maxLen)
}
