// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/jeranaias/chatportal/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestTurn_Validate(t *testing.T) {
	file := &model.Attachment{Kind: model.AttachmentFile, Name: "a.txt", Data: "x"}

	tests := []struct {
		name    string
		turn    Turn
		wantErr string
	}{
		{"plain", Turn{Message: "hello"}, ""},
		{"empty", Turn{}, "message"},
		{"whitespace only", Turn{Message: " \n\t"}, "message"},
		{"attachment without text", Turn{Attachment: file}, ""},
		{"too long", Turn{Message: strings.Repeat("a", MaxMessageLength+1)}, "message"},
		{"max length", Turn{Message: strings.Repeat("é", MaxMessageLength)}, ""},
		{"invalid utf8", Turn{Message: "a\xffb"}, "message"},
		{"temperature low", Turn{Message: "a", Temperature: ptr(-0.1)}, "temperature"},
		{"temperature high", Turn{Message: "a", Temperature: ptr(2.01)}, "temperature"},
		{"temperature bounds", Turn{Message: "a", Temperature: ptr(2.0)}, ""},
		{"tokens zero", Turn{Message: "a", MaxTokens: ptr(0)}, "tokens"},
		{"tokens high", Turn{Message: "a", MaxTokens: ptr(MaxTokensLimit + 1)}, "tokens"},
		{"tokens max", Turn{Message: "a", MaxTokens: ptr(MaxTokensLimit)}, ""},
		{"model id chars", Turn{Message: "a", ModelID: `gpt"4`}, "modelID"},
		{"model id length", Turn{Message: "a", ModelID: strings.Repeat("m", MaxModelIDLength+1)}, "modelID"},
		{"model id with slash", Turn{Message: "a", ModelID: "openai/gpt-4o"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.turn.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if vErr.Field != tt.wantErr {
				t.Errorf("Field = %q, want %q", vErr.Field, tt.wantErr)
			}
		})
	}
}

func TestTurn_ValidateNormalizesNFC(t *testing.T) {
	// "e" followed by a combining acute accent composes to a single rune.
	turn := Turn{Message: "cafe\u0301"}
	if err := turn.Validate(); err != nil {
		t.Fatal(err)
	}
	if turn.Message != "caf\u00e9" {
		t.Errorf("Message = %q, want NFC form", turn.Message)
	}
}

func TestImageAttachment(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	encoded := base64.StdEncoding.EncodeToString(png)

	att, err := ImageAttachment("shot.png", "data:image/png;base64,"+encoded)
	if err != nil {
		t.Fatalf("ImageAttachment() error = %v", err)
	}
	if att.MediaType != "image/png" || att.Data != encoded {
		t.Errorf("attachment = %+v", att)
	}

	if _, err := ImageAttachment("", encoded); err != nil {
		t.Errorf("bare base64 should be accepted: %v", err)
	}

	for _, bad := range []string{"", "not base64 !!", "data:image/png,abc"} {
		_, err := ImageAttachment("x", bad)
		if !IsValidationError(err) {
			t.Errorf("ImageAttachment(%q) error = %v, want ValidationError", bad, err)
		}
	}
}

func TestFileAttachment(t *testing.T) {
	att, err := FileAttachment(" notes.txt ", "line one\n")
	if err != nil {
		t.Fatal(err)
	}
	if att.Kind != model.AttachmentFile || att.Name != "notes.txt" {
		t.Errorf("attachment = %+v", att)
	}

	if _, err := FileAttachment("empty.txt", ""); !IsValidationError(err) {
		t.Errorf("empty file error = %v, want ValidationError", err)
	}
	if _, err := FileAttachment("bin", "\xff\xfe"); !IsValidationError(err) {
		t.Errorf("binary file error = %v, want ValidationError", err)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "tokens", Message: "must be positive"}
	if err.Error() != "tokens: must be positive" {
		t.Errorf("Error() = %q", err.Error())
	}
}
