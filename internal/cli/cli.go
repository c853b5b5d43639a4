// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/jeranaias/chatportal/internal/config"
	"github.com/jeranaias/chatportal/internal/server"
)

// =============================================================================
// COMMAND TREE
// =============================================================================

// Root is the kong command tree.
type Root struct {
	ConfigPath string `name:"config" short:"c" type:"path" help:"Config file (TOML, or JSON by extension). Default: ~/.chatportal/config.toml."`
	LogLevel   string `name:"log-level" help:"Override the log level (debug, info, warn, error)."`
	LogFormat  string `name:"log-format" help:"Override the log format (text, json)."`
	JSON       bool   `help:"Print machine-readable JSON."`

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve   ServeCmd   `cmd:"" default:"withargs" help:"Run the chat server (default)."`
	Models  ModelsCmd  `cmd:"" help:"List the model catalog with resolved providers."`
	Resolve ResolveCmd `cmd:"" help:"Show which provider serves a model id."`
	Usage   UsageCmd   `cmd:"" help:"Show token usage recorded in the ledger."`
	Config  ConfigCmd  `cmd:"" help:"Show or initialize configuration."`
}

// Options configures Run.
type Options struct {
	Name        string
	Description string
	Version     string

	// Exit is called by kong after --help and --version.
	Exit   func(int)
	Stdout io.Writer
	Stderr io.Writer
}

// NewOptions returns Options for the real process.
func NewOptions() *Options {
	return &Options{
		Name:        "chatportal",
		Description: "A multi-provider chat server: one HTTP endpoint in front of OpenAI, Claude, Gemini and friends.",
		Version:     server.Version,
		Exit:        os.Exit,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Globals is passed to every command's Run.
type Globals struct {
	root   *Root
	stdout io.Writer
	stderr io.Writer
	cmd    string
}

// Run parses args, runs the selected command and returns the exit code.
func Run(args []string, opts *Options) int {
	if opts == nil {
		opts = NewOptions()
	}
	if opts.Version != "" {
		server.Version = opts.Version
	}

	var root Root
	parser, err := kong.New(&root,
		kong.Name(opts.Name),
		kong.Description(opts.Description),
		kong.Exit(opts.Exit),
		kong.Writers(opts.Stdout, opts.Stderr),
		kong.UsageOnError(),
		kong.Vars{"version": opts.Version},
	)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 2
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 2
	}

	g := &Globals{root: &root, stdout: opts.Stdout, stderr: opts.Stderr, cmd: kctx.Command()}
	if err := kctx.Run(g); err != nil {
		if root.JSON {
			_ = NewJSONErrorResponse(g.cmd, err).Write(opts.Stdout)
		} else {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// loadConfig loads --config or the default locations, then installs the
// process logger from the result.
func (g *Globals) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.root.ConfigPath != "" {
		cfg, err = config.LoadFromPath(g.root.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if cfg == nil {
		return nil, err
	}

	if g.root.LogLevel != "" {
		cfg.Log.Level = g.root.LogLevel
	}
	if g.root.LogFormat != "" {
		cfg.Log.Format = g.root.LogFormat
	}
	slog.SetDefault(NewLogger(g.stderr, cfg.Log))
	config.SetGlobal(cfg)

	if err != nil {
		// Defaults were used; say why and continue.
		slog.Warn("CONFIG_LOAD_FAILED", "error", err)
	}
	return cfg, nil
}

// output prints data as JSON when --json is set, otherwise calls text.
func (g *Globals) output(data any, text func(w io.Writer) error) error {
	if g.root.JSON {
		return NewJSONResponse(g.cmd, data).Write(g.stdout)
	}
	return text(g.stdout)
}

var errNoLedger = errors.New("usage ledger is disabled (usage.enabled = false)")
