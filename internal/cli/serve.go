// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/chatportal/internal/config"
	"github.com/jeranaias/chatportal/internal/conversation"
	"github.com/jeranaias/chatportal/internal/dispatch"
	"github.com/jeranaias/chatportal/internal/preamble"
	"github.com/jeranaias/chatportal/internal/provider"
	"github.com/jeranaias/chatportal/internal/router"
	"github.com/jeranaias/chatportal/internal/server"
	"github.com/jeranaias/chatportal/internal/usage"
)

// shutdownTimeout bounds the wait for in-flight requests on exit.
const shutdownTimeout = 15 * time.Second

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	Host    string `help:"Listen host (overrides server.host)."`
	Port    int    `short:"p" help:"Listen port (overrides server.port)."`
	NoWatch bool   `name:"no-watch" help:"Do not reload the instructions file on change."`
}

// Run starts the server and blocks until SIGINT/SIGTERM or the "Bye!" message.
func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if c.NoWatch {
		cfg.Chat.WatchInstructions = false
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds the long-lived components of a running server.
type app struct {
	cfg        *config.Config
	registry   *router.Registry
	loader     *preamble.Loader
	adapters   *provider.Set
	sessions   *conversation.Manager
	dispatcher *dispatch.Dispatcher
	ledger     *usage.Ledger
	server     *server.Server
}

// loadRegistry builds the model registry from the configured catalog.
func loadRegistry(cfg *config.Config) (*router.Registry, error) {
	catalog := router.DefaultCatalog()
	if path := cfg.Chat.CatalogPath; path != "" {
		c, err := router.LoadCatalogFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load model catalog: %w", err)
		}
		catalog = c
	}
	registry := router.NewRegistry(catalog)
	if key := cfg.Chat.FallbackProvider; key != "" {
		kind, err := router.ParseKind(key)
		if err != nil {
			return nil, err
		}
		registry = registry.WithFallback(kind)
	}
	return registry, nil
}

// newAdapters builds one adapter per provider kind from config.
func newAdapters(cfg *config.Config) *provider.Set {
	endpoints := make(map[router.Kind]provider.Endpoint, len(router.Kinds()))
	for _, kind := range router.Kinds() {
		pc := cfg.Provider(kind)
		endpoints[kind] = provider.Endpoint{APIKey: pc.APIKey, BaseURL: pc.BaseURL}
	}
	return provider.NewSet(provider.Options{
		Endpoints:      endpoints,
		SiteURL:        cfg.Server.SiteURL,
		SiteName:       cfg.Server.SiteName,
		ClaudeThinking: cfg.Chat.ClaudeThinking,
	})
}

func newApp(cfg *config.Config) (*app, error) {
	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	loader := preamble.NewLoader(cfg.Chat.InstructionsPath)
	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("failed to load instructions: %w", err)
	}

	adapters := newAdapters(cfg)
	if len(adapters.Configured()) == 0 {
		slog.Warn("NO_PROVIDER_KEYS", "hint", "set OPENAI_API_KEY or another provider key")
	}

	sessCfg := conversation.DefaultConfig()
	sessCfg.IdleTTL = time.Duration(cfg.Sessions.IdleTTLMinutes) * time.Minute
	sessCfg.MaxSessions = cfg.Sessions.MaxSessions
	sessions := conversation.NewManager(sessCfg, loader.Current)

	temperature := cfg.Chat.Temperature
	dispatcher := dispatch.New(dispatch.Config{
		DefaultModel:   cfg.Chat.DefaultModel,
		Temperature:    &temperature,
		MaxTokens:      cfg.Chat.MaxTokens,
		RequestTimeout: cfg.Chat.RequestTimeout(),
		ExportDir:      cfg.Chat.ExportDir,
	}, registry, adapters, sessions)

	var ledger *usage.Ledger
	if cfg.Usage.Enabled {
		ledger, err = usage.Open(cfg.Usage.DBPath)
		if err != nil {
			slog.Warn("USAGE_LEDGER_UNAVAILABLE", "path", cfg.Usage.DBPath, "error", err)
			ledger = nil
		} else {
			dispatcher.WithUsageRecorder(ledger)
			pruneLedger(ledger, cfg.Usage.RetentionDays)
		}
	}

	var auth *server.AuthConfig
	if cfg.Auth.Enabled() {
		auth = &server.AuthConfig{
			Username:     cfg.Auth.Username,
			PasswordHash: cfg.Auth.PasswordHash,
			Realm:        cfg.Server.SiteName,
		}
	}

	srv := server.New(server.Options{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		MaxBodyBytes:      int64(cfg.Server.MaxBodyMB) << 20,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		Burst:             cfg.Server.Burst,
		StaticDir:         cfg.Server.StaticDir,
		Auth:              auth,
		Logger:            slog.Default(),
	}, dispatcher, registry, sessions).WithProviders(adapters)
	if ledger != nil {
		srv.WithUsage(ledger)
	}

	return &app{
		cfg:        cfg,
		registry:   registry,
		loader:     loader,
		adapters:   adapters,
		sessions:   sessions,
		dispatcher: dispatcher,
		ledger:     ledger,
		server:     srv,
	}, nil
}

// run serves until ctx is cancelled or a client sends the shutdown message.
// The server, the idle-session sweeper and the instructions watcher share
// one errgroup; the first failure stops the rest.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.dispatcher.OnShutdown(cancel)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.server.Start)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.sessions.Run(gctx)
	})

	if a.cfg.Chat.WatchInstructions {
		w, err := preamble.NewWatcher(a.loader, 0)
		if err != nil {
			slog.Warn("PREAMBLE_WATCH_DISABLED", "error", err)
		} else {
			g.Go(func() error {
				// A watch failure leaves the last loaded preamble in place.
				if err := w.Watch(gctx); err != nil {
					slog.Warn("PREAMBLE_WATCH_DISABLED", "error", err)
				}
				return nil
			})
		}
	}

	err := g.Wait()
	slog.Info("SERVER_STOPPED", "sessions", a.sessions.Len())
	return err
}

// pruneLedger drops turns older than days; failures are only logged.
func pruneLedger(ledger *usage.Ledger, days int) {
	if days <= 0 {
		return
	}
	before := time.Now().AddDate(0, 0, -days)
	n, err := ledger.Prune(context.Background(), before)
	if err != nil {
		slog.Warn("USAGE_PRUNE_FAILED", "error", err)
		return
	}
	if n > 0 {
		slog.Info("USAGE_PRUNED", "removed", n, "before", before.Format(time.DateOnly))
	}
}

// Close releases the usage ledger.
func (a *app) Close() error {
	if a.ledger == nil {
		return nil
	}
	return a.ledger.Close()
}
