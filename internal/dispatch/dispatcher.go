// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/chatportal/internal/conversation"
	"github.com/jeranaias/chatportal/internal/export"
	"github.com/jeranaias/chatportal/internal/model"
	"github.com/jeranaias/chatportal/internal/provider"
	"github.com/jeranaias/chatportal/internal/router"
	"github.com/jeranaias/chatportal/internal/usage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// ShutdownSentinel is the exact message that stops the server.
	ShutdownSentinel = "Bye!"

	// GoodbyeText is the reply to ShutdownSentinel.
	GoodbyeText = "Shutting down the server. Goodbye!"

	DefaultModel          = "gpt-4o"
	DefaultTemperature    = 1.1
	DefaultMaxTokens      = 2000
	DefaultRequestTimeout = 120 * time.Second
)

// ErrNoAdapter is returned when no adapter is registered for a resolved kind.
var ErrNoAdapter = errors.New("no adapter for provider")

// ============================================================================
// TYPES
// ============================================================================

// Turn is one inbound chat message.
type Turn struct {
	SessionID  string
	ModelID    string
	Message    string
	Attachment *model.Attachment

	// Per-request overrides; nil means the configured default.
	Temperature *float64
	MaxTokens   *int
}

// Reply is the normalized outcome of a successful turn.
type Reply struct {
	Text      string
	SessionID string
	Model     string
	Provider  router.Kind
	Usage     *provider.Usage
	State     State
	Duration  time.Duration

	// Shutdown is set when the turn was the shutdown sentinel.
	Shutdown bool

	// ExportPath is where the transcript was written on shutdown, if anywhere.
	ExportPath string
}

// AdapterSource looks up the adapter for a provider kind.
type AdapterSource interface {
	Get(kind router.Kind) (provider.Adapter, bool)
}

// UsageRecorder persists provider-reported token counts.
type UsageRecorder interface {
	Record(ctx context.Context, e usage.Entry) error
}

// Config holds dispatcher defaults.
type Config struct {
	DefaultModel   string
	Temperature    *float64 // nil means DefaultTemperature; 0 is a valid setting
	MaxTokens      int
	RequestTimeout time.Duration

	// ExportDir receives the HTML transcript on shutdown. Empty disables it.
	ExportDir string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	temp := DefaultTemperature
	return Config{
		DefaultModel:   DefaultModel,
		Temperature:    &temp,
		MaxTokens:      DefaultMaxTokens,
		RequestTimeout: DefaultRequestTimeout,
	}
}

func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.DefaultModel == "" {
		c.DefaultModel = d.DefaultModel
	}
	if c.Temperature == nil || *c.Temperature < MinTemperature || *c.Temperature > MaxTemperature {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
}

// ============================================================================
// DISPATCHER
// ============================================================================

// Dispatcher runs chat turns: resolve, format, append, send, parse, append.
// It never branches on provider kind. Turns on the same session are
// serialized; turns on different sessions run concurrently.
type Dispatcher struct {
	cfg      Config
	registry *router.Registry
	adapters AdapterSource
	sessions *conversation.Manager
	recorder UsageRecorder

	shutdownOnce sync.Once
	onShutdown   func()

	inFlight atomic.Int64
}

// New creates a dispatcher. A zero Config field takes its default.
func New(cfg Config, registry *router.Registry, adapters AdapterSource, sessions *conversation.Manager) *Dispatcher {
	cfg.fillDefaults()
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		adapters: adapters,
		sessions: sessions,
	}
}

// WithUsageRecorder sets where completed turns report token usage.
func (d *Dispatcher) WithUsageRecorder(r UsageRecorder) *Dispatcher {
	d.recorder = r
	return d
}

// OnShutdown sets the hook fired once by the shutdown sentinel. The hook
// must not block; the caller's reply is written after it returns.
func (d *Dispatcher) OnShutdown(fn func()) *Dispatcher {
	d.onShutdown = fn
	return d
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// InFlight returns the number of turns currently running.
func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// HandleTurn runs one turn. On a provider failure the user message stays in
// the history and the returned error wraps the provider error.
func (d *Dispatcher) HandleTurn(ctx context.Context, t Turn) (*Reply, error) {
	if t.Message == ShutdownSentinel {
		return d.handleShutdown(t), nil
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	if err := conversation.ValidateID(t.SessionID); err != nil {
		return nil, invalidSession(err)
	}

	modelID := t.ModelID
	if modelID == "" {
		modelID = d.cfg.DefaultModel
	}
	desc := d.registry.Resolve(modelID)

	adapter, ok := d.adapters.Get(desc.Kind)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrNoAdapter, desc.Kind)
	}
	if err := checkAttachment(adapter, t); err != nil {
		return nil, err
	}

	params := d.params(modelID, t)

	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	store, unlock, err := d.sessions.Acquire(t.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tr := newTurnTracker(store.ID(), modelID, desc.Kind)

	msg := adapter.FormatUserInput(t.Message, t.Attachment)
	if _, err := store.AppendUser(msg); err != nil {
		return nil, tr.fail(err)
	}
	slog.Debug("TURN_START",
		"session", store.ID(),
		"model", modelID,
		"provider", desc.Kind,
		"preview", msg.Preview(80))

	req, err := adapter.BuildRequest(store.Snapshot(), params)
	if err != nil {
		return nil, tr.fail(fmt.Errorf("build %s request: %w", desc.Kind, err))
	}

	tr.to(StateAwaitingProvider)
	raw, err := d.send(ctx, adapter, req)
	if err != nil {
		return nil, tr.fail(err)
	}

	result, err := adapter.ParseResponse(raw)
	if err != nil {
		return nil, tr.fail(err)
	}

	store.AppendAssistant(result.Text)
	tr.to(StateCompleted)

	d.recordUsage(ctx, store.ID(), modelID, desc.Kind, result.Usage, tr.elapsed())

	slog.Info("TURN_COMPLETE",
		"session", store.ID(),
		"model", modelID,
		"provider", desc.Kind,
		"tokens", result.Usage.Total(),
		"latency_ms", tr.elapsed().Milliseconds(),
	)

	return &Reply{
		Text:      result.Text,
		SessionID: store.ID(),
		Model:     modelID,
		Provider:  desc.Kind,
		Usage:     result.Usage,
		State:     tr.state,
		Duration:  tr.elapsed(),
	}, nil
}

// textOnly is implemented by adapters that cannot carry images.
type textOnly interface {
	TextOnly() bool
}

// checkAttachment rejects an image-only turn on a text-only adapter, which
// would otherwise store and send an empty user message.
func checkAttachment(a provider.Adapter, t Turn) error {
	if t.Attachment == nil || t.Attachment.Kind != model.AttachmentImage || strings.TrimSpace(t.Message) != "" {
		return nil
	}
	if to, ok := a.(textOnly); ok && to.TextOnly() {
		return invalid("message", "is required: %s does not accept images", a.Kind())
	}
	return nil
}

func invalidSession(err error) error {
	return &ValidationError{Field: "sessionId", Message: "must be 1-64 letters, digits, '-' or '_'", err: err}
}

// send performs the single provider call under the request timeout.
func (d *Dispatcher) send(ctx context.Context, adapter provider.Adapter, req *provider.Request) (*provider.RawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	raw, err := adapter.Send(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, provider.ErrProviderTimeout) {
			return nil, fmt.Errorf("%w after %s: %w", provider.ErrProviderTimeout, d.cfg.RequestTimeout, err)
		}
		return nil, err
	}
	return raw, nil
}

func (d *Dispatcher) params(modelID string, t Turn) provider.Params {
	p := provider.Params{
		Model:       modelID,
		Temperature: *d.cfg.Temperature,
		MaxTokens:   d.cfg.MaxTokens,
	}
	if t.Temperature != nil {
		p.Temperature = *t.Temperature
	}
	if t.MaxTokens != nil {
		p.MaxTokens = *t.MaxTokens
	}
	p.MaxTokens = d.registry.EnforceTokenLimit(modelID, p.MaxTokens)
	return p
}

func (d *Dispatcher) recordUsage(ctx context.Context, sessionID, modelID string, kind router.Kind, u *provider.Usage, elapsed time.Duration) {
	if d.recorder == nil || u == nil {
		return
	}
	err := d.recorder.Record(context.WithoutCancel(ctx), usage.Entry{
		SessionID:        sessionID,
		Model:            modelID,
		Provider:         kind.Key(),
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		Duration:         elapsed,
	})
	if err != nil {
		slog.Warn("USAGE_RECORD_FAILED", "session", sessionID, "model", modelID, "error", err)
	}
}

// ============================================================================
// SHUTDOWN SENTINEL
// ============================================================================

func (d *Dispatcher) handleShutdown(t Turn) *Reply {
	reply := &Reply{
		Text:      GoodbyeText,
		SessionID: t.SessionID,
		Model:     t.ModelID,
		State:     StateCompleted,
		Shutdown:  true,
	}
	if reply.SessionID == "" {
		reply.SessionID = conversation.DefaultSessionID
	}

	d.shutdownOnce.Do(func() {
		slog.Info("SHUTDOWN_REQUESTED", "session", reply.SessionID)

		if d.cfg.ExportDir != "" {
			path, err := d.exportSession(reply.SessionID)
			switch {
			case err == nil:
				reply.ExportPath = path
				slog.Info("CHAT_EXPORTED", "path", path)
			case errors.Is(err, export.ErrEmptyTranscript):
			default:
				slog.Error("CHAT_EXPORT_FAILED", "error", err)
			}
		}

		if d.onShutdown != nil {
			d.onShutdown()
		}
	})
	return reply
}

func (d *Dispatcher) exportSession(sessionID string) (string, error) {
	tr, err := d.Transcript(sessionID)
	if err != nil {
		return "", err
	}
	return export.ExportToFile(tr, export.NewHTMLExporter(nil), d.cfg.ExportDir)
}

// Transcript returns a snapshot of the session's history for export.
func (d *Dispatcher) Transcript(sessionID string) (*export.Transcript, error) {
	store, ok := d.sessions.Lookup(sessionID)
	if !ok {
		return nil, export.ErrEmptyTranscript
	}
	return &export.Transcript{
		SessionID: store.ID(),
		CreatedAt: store.CreatedAt(),
		Messages:  store.Snapshot(),
	}, nil
}

// ============================================================================
// TURN TRACKING
// ============================================================================

type turnTracker struct {
	session string
	model   string
	kind    router.Kind
	state   State
	start   time.Time
}

func newTurnTracker(session, modelID string, kind router.Kind) *turnTracker {
	return &turnTracker{session: session, model: modelID, kind: kind, state: StateIdle, start: time.Now()}
}

func (t *turnTracker) to(next State) {
	if !t.state.CanTransition(next) {
		slog.Error("TURN_STATE_INVALID", "session", t.session, "from", t.state, "to", next)
		return
	}
	slog.Debug("TURN_STATE", "session", t.session, "from", t.state, "to", next)
	t.state = next
}

func (t *turnTracker) fail(err error) error {
	t.to(StateFailed)
	slog.Warn("TURN_FAILED",
		"session", t.session,
		"model", t.model,
		"provider", t.kind,
		"status", provider.StatusOf(err),
		"retryable", provider.IsRetryable(err),
		"error", err,
	)
	return err
}

func (t *turnTracker) elapsed() time.Duration {
	return time.Since(t.start)
}
