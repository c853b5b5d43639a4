// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jeranaias/chatportal/internal/util"
)

const (
	// MaxResponseSize bounds how much of a provider reply is read.
	MaxResponseSize = 10 * 1024 * 1024

	// maxErrorMessage bounds provider error text kept for logs.
	maxErrorMessage = 512

	userAgent = "chatportal/1.0"
)

// sharedHTTPClient pools connections across every adapter. Deadlines come
// from the request context, not the client.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// httpBase holds the pieces every adapter shares.
type httpBase struct {
	endpoint Endpoint
	client   *http.Client
}

func newHTTPBase(ep Endpoint, defaultURL string) httpBase {
	if ep.BaseURL == "" {
		ep.BaseURL = defaultURL
	}
	return httpBase{endpoint: ep, client: sharedHTTPClient}
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key for logs.
func KeyFingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}

// send POSTs req and returns the 2xx body, or an *Error.
func (b *httpBase) send(ctx context.Context, req *Request) (*RawResponse, error) {
	if !b.endpoint.IsConfigured() {
		return nil, fmt.Errorf("%s: %w", req.Kind, ErrNotConfigured)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	slog.Debug("PROVIDER_REQUEST",
		"provider", req.Kind,
		"model", req.Model,
		"path", httpReq.URL.Path,
		"bytes", len(req.Body),
		"key", KeyFingerprint(b.endpoint.APIKey))

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%s after %v: %w", req.Kind, time.Since(start).Round(time.Millisecond), ErrProviderTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &Error{Kind: req.Kind, Message: err.Error(), err: err}
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%s: %w", req.Kind, ErrProviderTimeout)
		}
		return nil, &Error{Kind: req.Kind, HTTPStatus: resp.StatusCode, Message: err.Error(), err: err}
	}

	slog.Debug("PROVIDER_RESPONSE",
		"provider", req.Kind,
		"status", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, handleErrorResponse(req, resp.StatusCode, body)
	}

	return &RawResponse{Kind: req.Kind, Model: req.Model, Status: resp.StatusCode, Body: body}, nil
}

// readResponse reads the body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

// handleErrorResponse converts a non-2xx reply into an *Error. Every provider
// here reports {"error": {"message": ...}}; anything else is kept raw.
func handleErrorResponse(req *Request, status int, body []byte) error {
	pErr := &Error{Kind: req.Kind, HTTPStatus: status}

	parsed := gjson.ParseBytes(body)
	if msg := parsed.Get("error.message"); msg.Exists() {
		pErr.Message = msg.String()
		pErr.Code = firstNonEmpty(parsed.Get("error.code").String(), parsed.Get("error.type").String(), parsed.Get("error.status").String())
	} else if msg := parsed.Get("message"); msg.Exists() {
		pErr.Message = msg.String()
	} else {
		pErr.Message = string(body)
	}
	if pErr.Message == "" {
		pErr.Message = http.StatusText(status)
	}
	pErr.Message = util.TruncateRunes(pErr.Message, maxErrorMessage)
	return pErr
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
