// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jeranaias/chatportal/internal/router"
)

// Error variables for common provider failures.
var (
	// ErrNotConfigured indicates the provider has no API key.
	ErrNotConfigured = errors.New("provider API key not configured")

	// ErrMalformedResponse indicates a 2xx reply without the expected reply field.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrProviderTimeout indicates the request deadline expired before a reply.
	ErrProviderTimeout = errors.New("provider request timed out")

	// ErrResponseTooLarge indicates the body exceeded MaxResponseSize.
	ErrResponseTooLarge = errors.New("provider response too large")

	// Status classes, matched with errors.Is against *Error.
	ErrAuthFailed          = errors.New("authentication failed")
	ErrRateLimited         = errors.New("rate limited")
	ErrModelNotFound       = errors.New("model not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Error is a non-2xx reply or transport failure from a provider.
// Message holds the provider's own text and must not be shown to end users.
type Error struct {
	Kind       router.Kind
	HTTPStatus int // 0 for transport failures
	Code       string
	Message    string

	err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.HTTPStatus == 0:
		return fmt.Sprintf("%s request failed: %s", e.Kind, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s error [%s] (HTTP %d): %s", e.Kind, e.Code, e.HTTPStatus, e.Message)
	default:
		return fmt.Sprintf("%s error (HTTP %d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
}

// Unwrap returns the underlying transport error, if any.
func (e *Error) Unwrap() error {
	return e.err
}

// Is maps HTTP statuses onto the status sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuthFailed:
		return e.HTTPStatus == http.StatusUnauthorized || e.HTTPStatus == http.StatusForbidden
	case ErrRateLimited:
		return e.HTTPStatus == http.StatusTooManyRequests
	case ErrModelNotFound:
		return e.HTTPStatus == http.StatusNotFound
	case ErrInsufficientCredits:
		return e.HTTPStatus == http.StatusPaymentRequired
	}
	return false
}

// IsRetryable reports whether a caller may reasonably retry the request.
// The dispatcher itself never retries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProviderTimeout) || errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.HTTPStatus >= 500 && pErr.HTTPStatus < 600
	}
	return false
}

// StatusOf returns the provider HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var pErr *Error
	if errors.As(err, &pErr) {
		return pErr.HTTPStatus
	}
	return 0
}
