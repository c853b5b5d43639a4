// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"testing"
)

// onePixelPNG is a 1x1 transparent PNG.
const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func TestNewMessage(t *testing.T) {
	msg := NewUserMessage("hello")

	if msg.ID == "" {
		t.Error("ID should be generated")
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %v, want %v", msg.Role, RoleUser)
	}
	if !msg.IsPlainText() {
		t.Error("single text part should be plain text")
	}
	if msg.Text() != "hello" {
		t.Errorf("Text() = %q, want %q", msg.Text(), "hello")
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestMessage_TextSkipsNonTextParts(t *testing.T) {
	msg := NewMessage(RoleUser,
		TextPart("look at "),
		ImagePart("image/png", onePixelPNG),
		TextPart("this"),
	)

	if msg.IsPlainText() {
		t.Error("multi-part message should not be plain text")
	}
	if got := msg.Text(); got != "look at this" {
		t.Errorf("Text() = %q, want %q", got, "look at this")
	}
	if !msg.HasImage() {
		t.Error("HasImage() = false, want true")
	}
}

func TestMessage_Clone(t *testing.T) {
	orig := NewMessage(RoleUser, TextPart("a"), TextPart("b"))
	clone := orig.Clone()
	clone.Parts[0].Text = "changed"

	if orig.Parts[0].Text != "a" {
		t.Errorf("original mutated through clone: %q", orig.Parts[0].Text)
	}
}

func TestMessage_Preview(t *testing.T) {
	msg := NewAssistantMessage("héllo wörld")

	if got := msg.Preview(100); got != "héllo wörld" {
		t.Errorf("Preview(100) = %q", got)
	}
	if got := msg.Preview(8); got != "héllo..." {
		t.Errorf("Preview(8) = %q, want %q", got, "héllo...")
	}
}

func TestRole_IsValid(t *testing.T) {
	for _, r := range []Role{RoleSystem, RoleUser, RoleAssistant} {
		if !r.IsValid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Role("tool").IsValid() {
		t.Error("tool should not be valid")
	}
}

func TestPart_DataURL(t *testing.T) {
	p := ImagePart("image/png", "AAAA")
	if got := p.DataURL(); got != "data:image/png;base64,AAAA" {
		t.Errorf("DataURL() = %q", got)
	}
	if TextPart("x").DataURL() != "" {
		t.Error("text part should have no data URL")
	}
}

func TestNewImageAttachment(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantMedia string
		wantErr   error
	}{
		{"data url", "data:image/png;base64," + onePixelPNG, "image/png", nil},
		{"bare base64 is sniffed", onePixelPNG, "image/png", nil},
		{"empty", "  ", "", ErrEmptyAttachment},
		{"not base64", "data:image/png;base64,!!!", "", ErrInvalidImage},
		{"not a data url", "data:image/png," + onePixelPNG, "", ErrInvalidImage},
		{"not an image", "data:text/plain;base64,aGVsbG8=", "", ErrInvalidImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att, err := NewImageAttachment("pixel.png", tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if att.MediaType != tt.wantMedia {
				t.Errorf("MediaType = %q, want %q", att.MediaType, tt.wantMedia)
			}
			if att.Data != onePixelPNG {
				t.Error("Data should hold the bare base64 payload")
			}
			if p := att.Part(); p.Type != PartImage || p.Name != "pixel.png" {
				t.Errorf("Part() = %+v", p)
			}
		})
	}
}

func TestNewFileAttachment(t *testing.T) {
	if _, err := NewFileAttachment("notes.txt", ""); !errors.Is(err, ErrEmptyAttachment) {
		t.Errorf("err = %v, want ErrEmptyAttachment", err)
	}

	att, err := NewFileAttachment("notes.txt", "line one")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := att.Part()
	if p.Type != PartFile || p.Name != "notes.txt" || p.Text != "line one" {
		t.Errorf("Part() = %+v", p)
	}
}
