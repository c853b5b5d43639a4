// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jeranaias/chatportal/internal/conversation"
	"github.com/jeranaias/chatportal/internal/dispatch"
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
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 3000

	// DefaultMaxBodyBytes bounds POST bodies. Images arrive base64-encoded.
	DefaultMaxBodyBytes = 30 << 20

	// DefaultUsageDays is the daily window reported by GET /usage.
	DefaultUsageDays = 7
)

// Version is the server version reported by /health.
var Version = "0.3.0"

// User-facing failure texts. Provider error bodies never reach the client.
const (
	msgFailed         = "Failed to process message"
	detailProviderErr = "The model provider returned an error."
	detailNoContent   = "The model provider returned no content."
	detailTimeout     = "The model provider did not respond in time."
	detailNoKey       = "The model provider is not configured on this server."
)

// ============================================================================
// COLLABORATORS
// ============================================================================

// ProviderStatus reports which provider kinds have credentials.
type ProviderStatus interface {
	Configured() []router.Kind
	IsConfigured(kind router.Kind) bool
}

// UsageReporter reads aggregated token usage.
type UsageReporter interface {
	Totals(ctx context.Context, since time.Time) ([]usage.ModelTotal, error)
	Daily(ctx context.Context, days int) ([]usage.DailyTotal, error)
}

// Options configures the HTTP server.
type Options struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64

	// RequestsPerMinute per client IP; zero disables rate limiting.
	RequestsPerMinute int
	Burst             int

	// StaticDir is served at "/" when it exists.
	StaticDir string

	// Auth enables HTTP basic auth on every route but /health.
	Auth *AuthConfig

	Logger *slog.Logger
}

func (o *Options) fillDefaults() {
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 180 * time.Second
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Server exposes the dispatcher over HTTP.
type Server struct {
	opts       Options
	dispatcher *dispatch.Dispatcher
	registry   *router.Registry
	sessions   *conversation.Manager
	providers  ProviderStatus
	usage      UsageReporter

	mux     *http.ServeMux
	handler http.Handler
	server  *http.Server
	started time.Time
}

// New creates a Server. Call WithProviders and WithUsage before Start.
func New(opts Options, d *dispatch.Dispatcher, registry *router.Registry, sessions *conversation.Manager) *Server {
	opts.fillDefaults()

	s := &Server{
		opts:       opts,
		dispatcher: d,
		registry:   registry,
		sessions:   sessions,
		mux:        http.NewServeMux(),
		started:    time.Now(),
	}
	s.setupRoutes()

	var limiter *RateLimiter
	if opts.RequestsPerMinute > 0 {
		limiter = NewRateLimiter(opts.RequestsPerMinute, opts.Burst)
	}
	auth := opts.Auth
	if auth != nil && len(auth.Exempt) == 0 {
		auth.Exempt = []string{"/health"}
	}

	s.handler = Chain(
		RecoveryMiddleware(),
		RequestIDMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(opts.Logger),
		RateLimitMiddleware(limiter, "/health"),
		BasicAuthMiddleware(auth),
	)(s.mux)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(opts.Logger.Handler(), slog.LevelWarn),
	}
	return s
}

// WithProviders sets the provider credential status shown by /health and /models.
func (s *Server) WithProviders(p ProviderStatus) *Server {
	s.providers = p
	return s
}

// WithUsage enables GET /usage.
func (s *Server) WithUsage(u UsageReporter) *Server {
	s.usage = u
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /message", s.handleMessage)
	s.mux.HandleFunc("GET /export", s.handleExport)
	s.mux.HandleFunc("GET /usage", s.handleUsage)
	s.mux.HandleFunc("GET /models", s.handleModels)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	if dir := s.opts.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			s.mux.Handle("GET /", http.FileServer(http.Dir(dir)))
		} else {
			slog.Warn("STATIC_DIR_MISSING", "dir", dir)
		}
	}
}

// ============================================================================
// MESSAGE HANDLER
// ============================================================================

// fileUpload is a text file attached to a message.
type fileUpload struct {
	Name     string `json:"name"`
	Contents string `json:"contents"`
}

// messageRequest is the POST /message body.
type messageRequest struct {
	Message     string      `json:"message"`
	Image       string      `json:"image,omitempty"`
	ModelID     string      `json:"modelID,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	Tokens      *int        `json:"tokens,omitempty"`
	SessionID   string      `json:"sessionId,omitempty"`
	File        *fileUpload `json:"file,omitempty"`
}

// messageResponse is the POST /message success body.
type messageResponse struct {
	Text      string          `json:"text"`
	SessionID string          `json:"sessionId,omitempty"`
	Model     string          `json:"model,omitempty"`
	Provider  string          `json:"provider,omitempty"`
	Usage     *provider.Usage `json:"usage,omitempty"`
}

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// handleMessage handles POST /message.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:   "Request too large",
				Details: fmt.Sprintf("Request body must be at most %d MB.", s.opts.MaxBodyBytes>>20),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request", Details: "Request body must be a JSON object."})
		return
	}

	turn, err := req.toTurn()
	if err != nil {
		s.writeTurnError(w, r, req.SessionID, err)
		return
	}

	reply, err := s.dispatcher.HandleTurn(r.Context(), turn)
	if err != nil {
		s.writeTurnError(w, r, turn.SessionID, err)
		return
	}

	if reply.Shutdown {
		// The shutdown hook has fired; graceful shutdown waits for this write.
		w.Header().Set("Connection", "close")
		writeJSON(w, http.StatusOK, messageResponse{Text: reply.Text, SessionID: reply.SessionID})
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Text:      reply.Text,
		SessionID: reply.SessionID,
		Model:     reply.Model,
		Provider:  reply.Provider.Key(),
		Usage:     reply.Usage,
	})
}

func (req *messageRequest) toTurn() (dispatch.Turn, error) {
	turn := dispatch.Turn{
		SessionID:   req.SessionID,
		ModelID:     req.ModelID,
		Message:     req.Message,
		Temperature: req.Temperature,
		MaxTokens:   req.Tokens,
	}
	if req.Image != "" && req.File != nil {
		return turn, &dispatch.ValidationError{Field: "attachment", Message: "send either an image or a file, not both"}
	}

	var (
		att *model.Attachment
		err error
	)
	switch {
	case req.Image != "":
		att, err = dispatch.ImageAttachment("image", req.Image)
	case req.File != nil:
		att, err = dispatch.FileAttachment(req.File.Name, req.File.Contents)
	}
	if err != nil {
		return turn, err
	}
	turn.Attachment = att
	return turn, nil
}

// turnErrorStatus maps a turn failure onto an HTTP status and client body.
func turnErrorStatus(err error) (int, errorResponse) {
	var vErr *dispatch.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, errorResponse{Error: "Invalid request", Details: vErr.Error()}
	case errors.Is(err, conversation.ErrTooManySessions):
		return http.StatusServiceUnavailable, errorResponse{Error: "Server busy", Details: "Too many active sessions. Try again later."}
	case errors.Is(err, provider.ErrProviderTimeout):
		return http.StatusGatewayTimeout, errorResponse{Error: msgFailed, Details: detailTimeout}
	case errors.Is(err, provider.ErrMalformedResponse):
		return http.StatusBadGateway, errorResponse{Error: msgFailed, Details: detailNoContent}
	case errors.Is(err, provider.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorResponse{Error: msgFailed, Details: detailNoKey}
	}

	var pErr *provider.Error
	if errors.As(err, &pErr) {
		return http.StatusBadGateway, errorResponse{Error: msgFailed, Details: detailProviderErr}
	}
	return http.StatusInternalServerError, errorResponse{Error: msgFailed}
}

func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	status, body := turnErrorStatus(err)
	attrs := []any{
		"status", status,
		"session", sessionID,
		"provider_status", provider.StatusOf(err),
		"request_id", RequestIDFromContext(r.Context()),
		"error", err,
	}
	if status >= 500 {
		slog.Error("MESSAGE_FAILED", attrs...)
	} else {
		slog.Info("MESSAGE_REJECTED", attrs...)
	}
	writeJSON(w, status, body)
}

// ============================================================================
// EXPORT HANDLER
// ============================================================================

// exportCSP permits the inline style and script of a standalone transcript.
const exportCSP = "default-src 'none'; style-src 'unsafe-inline'; script-src 'unsafe-inline'; img-src data:"

// handleExport handles GET /export?session=&format=.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session")
	if sessionID == "" {
		sessionID = conversation.DefaultSessionID
	}
	if err := conversation.ValidateID(sessionID); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request", Details: "session: " + err.Error()})
		return
	}

	opts := export.DefaultOptions()
	opts.IncludeSystem = q.Get("system") == "1"
	exporter, err := export.ForFormat(q.Get("format"), opts)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request", Details: err.Error()})
		return
	}

	transcript, err := s.dispatcher.Transcript(sessionID)
	if err == nil {
		var data []byte
		data, err = exporter.Export(transcript)
		if err == nil {
			w.Header().Set("Content-Type", exporter.MimeType())
			w.Header().Set("Content-Security-Policy", exportCSP)
			disposition := "inline"
			if q.Get("download") == "1" {
				disposition = "attachment"
			}
			w.Header().Set("Content-Disposition",
				fmt.Sprintf(`%s; filename="chat_history-%s%s"`, disposition, sessionID, exporter.FileExtension()))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	if errors.Is(err, export.ErrEmptyTranscript) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Nothing to export", Details: "The session has no messages."})
		return
	}
	slog.Error("EXPORT_FAILED", "session", sessionID, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Export failed"})
}

// ============================================================================
// USAGE HANDLER
// ============================================================================

// usageResponse is the GET /usage body.
type usageResponse struct {
	Enabled bool               `json:"enabled"`
	Since   string             `json:"since,omitempty"`
	Models  []usage.ModelTotal `json:"models"`
	Daily   []usage.DailyTotal `json:"daily"`
}

// handleUsage handles GET /usage?since=YYYY-MM-DD&days=N.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSON(w, http.StatusOK, usageResponse{Enabled: false, Models: []usage.ModelTotal{}, Daily: []usage.DailyTotal{}})
		return
	}

	q := r.URL.Query()
	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request", Details: "since: expected YYYY-MM-DD"})
			return
		}
		since = t
	}
	days := DefaultUsageDays
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 366 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request", Details: "days: expected 1-366"})
			return
		}
		days = n
	}

	totals, err := s.usage.Totals(r.Context(), since)
	if err != nil {
		slog.Error("USAGE_QUERY_FAILED", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Usage query failed"})
		return
	}
	daily, err := s.usage.Daily(r.Context(), days)
	if err != nil {
		slog.Error("USAGE_QUERY_FAILED", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Usage query failed"})
		return
	}
	if totals == nil {
		totals = []usage.ModelTotal{}
	}
	if daily == nil {
		daily = []usage.DailyTotal{}
	}

	resp := usageResponse{Enabled: true, Models: totals, Daily: daily}
	if !since.IsZero() {
		resp.Since = since.Format(time.DateOnly)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// ModelInfo is one catalog entry as listed by GET /models.
type ModelInfo struct {
	router.Descriptor
	Configured bool `json:"configured"`
}

// ModelsResponse is the GET /models body.
type ModelsResponse struct {
	DefaultModel string      `json:"default_model"`
	Fallback     router.Kind `json:"fallback"`
	Models       []ModelInfo `json:"models"`
}

// handleModels handles GET /models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	descs := s.registry.Describe()
	models := make([]ModelInfo, 0, len(descs))
	for _, d := range descs {
		models = append(models, ModelInfo{
			Descriptor: d,
			Configured: s.providers == nil || s.providers.IsConfigured(d.Kind),
		})
	}
	writeJSON(w, http.StatusOK, ModelsResponse{
		DefaultModel: s.dispatcher.Config().DefaultModel,
		Fallback:     s.registry.Fallback(),
		Models:       models,
	})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Providers     []string `json:"providers"`
	Sessions      int      `json:"sessions"`
	InFlight      int      `json:"in_flight"`
}

// handleHealth handles GET /health. Status is "degraded" when no provider
// has a key.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Providers:     []string{},
		Sessions:      s.sessions.Len(),
		InFlight:      s.dispatcher.InFlight(),
	}
	if s.providers != nil {
		for _, k := range s.providers.Configured() {
			health.Providers = append(health.Providers, k.Key())
		}
		if len(health.Providers) == 0 {
			health.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	slog.Info("SERVER_START",
		"addr", ln.Addr().String(),
		"version", Version,
		"auth", s.opts.Auth.Enabled(),
		"rate_limit_rpm", s.opts.RequestsPerMinute,
	)
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests,
// including a goodbye reply still being written.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("SERVER_SHUTDOWN", "in_flight", s.dispatcher.InFlight())
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("RESPONSE_WRITE_FAILED", "error", err)
	}
}
