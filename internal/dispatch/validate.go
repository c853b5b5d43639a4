// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/chatportal/internal/model"
)

// ============================================================================
// LIMITS
// ============================================================================

const (
	// MaxMessageLength is the maximum message length in characters after
	// normalization.
	MaxMessageLength = 100000

	// MinTemperature and MaxTemperature bound the sampling temperature.
	MinTemperature = 0.0
	MaxTemperature = 2.0

	// MaxTokensLimit bounds a per-request max tokens override.
	MaxTokensLimit = 200000

	// MaxModelIDLength bounds the model identifier.
	MaxModelIDLength = 100
)

// modelIDForbidden are characters never valid in a model id.
const modelIDForbidden = `<>"'&`

// ============================================================================
// VALIDATION ERROR
// ============================================================================

// ValidationError is a client input problem. It never reaches a provider.
type ValidationError struct {
	Field   string
	Message string

	err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *ValidationError) Unwrap() error {
	return e.err
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// ============================================================================
// TURN VALIDATION
// ============================================================================

// Validate normalizes the message to NFC in place and checks every field.
func (t *Turn) Validate() error {
	if !utf8.ValidString(t.Message) {
		return invalid("message", "must be valid UTF-8")
	}
	t.Message = norm.NFC.String(t.Message)

	if strings.TrimSpace(t.Message) == "" && t.Attachment == nil {
		return invalid("message", "is required")
	}
	if n := utf8.RuneCountInString(t.Message); n > MaxMessageLength {
		return invalid("message", "exceeds maximum length of %d characters", MaxMessageLength)
	}

	if len(t.ModelID) > MaxModelIDLength {
		return invalid("modelID", "exceeds maximum length of %d characters", MaxModelIDLength)
	}
	if strings.ContainsAny(t.ModelID, modelIDForbidden) {
		return invalid("modelID", "contains invalid characters")
	}

	if t.Temperature != nil {
		if v := *t.Temperature; v < MinTemperature || v > MaxTemperature {
			return invalid("temperature", "must be between %.1f and %.1f", MinTemperature, MaxTemperature)
		}
	}
	if t.MaxTokens != nil {
		if v := *t.MaxTokens; v < 1 || v > MaxTokensLimit {
			return invalid("tokens", "must be between 1 and %d", MaxTokensLimit)
		}
	}
	return nil
}

// ImageAttachment decodes an inbound image field into an attachment,
// reporting bad input as a *ValidationError.
func ImageAttachment(name, data string) (*model.Attachment, error) {
	att, err := model.NewImageAttachment(name, data)
	if err != nil {
		return nil, &ValidationError{Field: "image", Message: imageProblem(err), err: err}
	}
	return att, nil
}

// FileAttachment wraps an inbound text file as an attachment.
func FileAttachment(name, contents string) (*model.Attachment, error) {
	if !utf8.ValidString(contents) {
		return nil, invalid("file", "contents must be valid UTF-8 text")
	}
	if utf8.RuneCountInString(contents) > MaxMessageLength {
		return nil, invalid("file", "exceeds maximum length of %d characters", MaxMessageLength)
	}
	att, err := model.NewFileAttachment(strings.TrimSpace(name), norm.NFC.String(contents))
	if err != nil {
		return nil, &ValidationError{Field: "file", Message: "contents are empty", err: err}
	}
	return att, nil
}

func imageProblem(err error) string {
	switch {
	case errors.Is(err, model.ErrImageTooLarge):
		return fmt.Sprintf("exceeds maximum size of %d MB", model.MaxImageBytes/(1024*1024))
	case errors.Is(err, model.ErrEmptyAttachment):
		return "is empty"
	default:
		return "must be a base64 data URL or base64-encoded image"
	}
}
