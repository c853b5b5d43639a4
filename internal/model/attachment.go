// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// MaxImageBytes bounds the decoded size of an inline image.
const MaxImageBytes = 20 * 1024 * 1024

var (
	ErrEmptyAttachment = errors.New("attachment is empty")
	ErrInvalidImage    = errors.New("invalid image data")
	ErrImageTooLarge   = errors.New("image exceeds maximum size")
)

// AttachmentKind distinguishes image and file attachments.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is an optional image or text file sent with a user message.
type Attachment struct {
	Kind AttachmentKind
	Name string

	// MediaType is set for images.
	MediaType string

	// Data is base64 for images and plain text for files.
	Data string
}

// Part converts the attachment into a content part.
func (a *Attachment) Part() Part {
	if a.Kind == AttachmentImage {
		p := ImagePart(a.MediaType, a.Data)
		p.Name = a.Name
		return p
	}
	return FilePart(a.Name, a.Data)
}

// NewFileAttachment returns a text file attachment.
func NewFileAttachment(name, contents string) (*Attachment, error) {
	if contents == "" {
		return nil, ErrEmptyAttachment
	}
	return &Attachment{Kind: AttachmentFile, Name: name, Data: contents}, nil
}

// NewImageAttachment parses either a "data:<mime>;base64,<data>" URL or bare
// base64 and verifies that the payload decodes. When no media type is given
// it is sniffed from the decoded bytes.
func NewImageAttachment(name, encoded string) (*Attachment, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrEmptyAttachment
	}

	mediaType := ""
	if strings.HasPrefix(encoded, "data:") {
		header, payload, ok := strings.Cut(encoded, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("%w: expected base64 data URL", ErrInvalidImage)
		}
		mediaType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		encoded = payload
	}

	if base64.StdEncoding.DecodedLen(len(encoded)) > MaxImageBytes+3 {
		return nil, ErrImageTooLarge
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(raw) > MaxImageBytes {
		return nil, ErrImageTooLarge
	}

	if mediaType == "" {
		mediaType = http.DetectContentType(raw)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("%w: media type %q", ErrInvalidImage, mediaType)
	}

	return &Attachment{
		Kind:      AttachmentImage,
		Name:      name,
		MediaType: mediaType,
		Data:      encoded,
	}, nil
}
