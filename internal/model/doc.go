// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat messages.
//
// # Key Types
//
//   - Message: a single message with role, ordered content parts and timestamp
//   - Part: a typed content part (text, inline image, inline file)
//   - Attachment: an optional image or file sent alongside a user message
//   - Role: message role enumeration (system, user, assistant)
//
// Messages are immutable once appended to a conversation store. Use Clone
// when a caller needs to hand a message to code that may modify it.
//
// # Usage
//
//	msg := model.NewUserMessage("Hello!")
//	msg.Parts = append(msg.Parts, model.ImagePart("image/png", data))
package model
