// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jeranaias/chatportal/internal/config"
	"github.com/jeranaias/chatportal/internal/router"
	"github.com/jeranaias/chatportal/internal/usage"
)

// =============================================================================
// MODELS
// =============================================================================

// ModelsCmd lists the catalog.
type ModelsCmd struct {
	Provider string `help:"Only list models served by this provider (e.g. gemini, claude)."`
}

type modelRow struct {
	router.Descriptor
	Configured bool `json:"configured"`
}

// Run prints one row per catalog model.
func (c *ModelsCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	var filter *router.Kind
	if c.Provider != "" {
		k, err := router.ParseKind(c.Provider)
		if err != nil {
			return err
		}
		filter = &k
	}

	var rows []modelRow
	for _, d := range registry.Describe() {
		if filter != nil && d.Kind != *filter {
			continue
		}
		rows = append(rows, modelRow{Descriptor: d, Configured: cfg.Provider(d.Kind).APIKey != ""})
	}

	return g.output(rows, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tPROVIDER\tMAX TOKENS\tKEY")
		for _, r := range rows {
			key := "-"
			if r.Configured {
				key = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.Kind, r.MaxOutputTokens, key)
		}
		return tw.Flush()
	})
}

// =============================================================================
// RESOLVE
// =============================================================================

// ResolveCmd shows how one model id is routed.
type ResolveCmd struct {
	ID string `arg:"" name:"model" help:"Model identifier, e.g. gemini-1.5-pro."`
}

// Run resolves the id against the registry.
func (c *ResolveCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	desc := registry.Resolve(c.ID)
	return g.output(desc, func(w io.Writer) error {
		fmt.Fprintf(w, "%s -> %s (%s)\n", desc.ID, desc.Kind, desc.Kind.Key())
		if desc.DisplayName != "" {
			fmt.Fprintf(w, "  name:       %s\n", desc.DisplayName)
		}
		fmt.Fprintf(w, "  max tokens: %d\n", desc.MaxOutputTokens)
		if desc.Fallback {
			fmt.Fprintln(w, "  note:       no rule matched; using the default provider")
		}
		return nil
	})
}

// =============================================================================
// USAGE
// =============================================================================

// UsageCmd reports totals from the usage ledger.
type UsageCmd struct {
	Since string `help:"Only count turns on or after this date (YYYY-MM-DD)."`
	Days  int    `default:"7" help:"Days of daily totals to show."`
}

type usageReport struct {
	Models []usage.ModelTotal `json:"models"`
	Daily  []usage.DailyTotal `json:"daily"`
}

// Run opens the ledger read-side and prints per-model and per-day totals.
func (c *UsageCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Usage.Enabled {
		return errNoLedger
	}

	var since time.Time
	if c.Since != "" {
		since, err = time.Parse(time.DateOnly, c.Since)
		if err != nil {
			return fmt.Errorf("invalid --since %q: expected YYYY-MM-DD", c.Since)
		}
	}

	if _, err := os.Stat(cfg.Usage.DBPath); errors.Is(err, os.ErrNotExist) {
		return g.output(usageReport{Models: []usage.ModelTotal{}, Daily: []usage.DailyTotal{}}, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, "No usage recorded yet.")
			return err
		})
	}

	ledger, err := usage.Open(cfg.Usage.DBPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := context.Background()
	report := usageReport{}
	if report.Models, err = ledger.Totals(ctx, since); err != nil {
		return err
	}
	if report.Daily, err = ledger.Daily(ctx, c.Days); err != nil {
		return err
	}

	return g.output(report, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tPROVIDER\tTURNS\tPROMPT\tCOMPLETION\tTOTAL\tLAST USED")
		for _, m := range report.Models {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				m.Model, m.Provider, m.Turns, m.PromptTokens, m.CompletionTokens, m.TotalTokens(),
				m.LastUsed.Local().Format("2006-01-02 15:04"))
		}
		if len(report.Daily) > 0 {
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "DATE\tTURNS\tPROMPT\tCOMPLETION")
			for _, d := range report.Daily {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", d.Date, d.Turns, d.PromptTokens, d.CompletionTokens)
			}
		}
		return tw.Flush()
	})
}

// =============================================================================
// CONFIG
// =============================================================================

// ConfigCmd groups the config subcommands.
type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" default:"1" help:"Print the effective configuration (secrets redacted)."`
	Get  ConfigGetCmd  `cmd:"" help:"Print one value by dotted key, e.g. chat.max_tokens."`
	Init ConfigInitCmd `cmd:"" help:"Write a default config file."`
	Path ConfigPathCmd `cmd:"" help:"Print the config file locations."`
}

// ConfigShowCmd prints the effective config.
type ConfigShowCmd struct{}

// Run prints the redacted config.
func (c *ConfigShowCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if g.root.JSON {
		return NewJSONResponse(g.cmd, json.RawMessage(cfg.String())).Write(g.stdout)
	}
	_, err = fmt.Fprintln(g.stdout, cfg.String())
	return err
}

// ConfigGetCmd prints one value.
type ConfigGetCmd struct {
	Key string `arg:"" help:"Dotted key, e.g. server.port or providers.openai.base_url."`
}

// Run looks up the key.
func (c *ConfigGetCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	v, err := cfg.Get(c.Key)
	if err != nil {
		return err
	}
	return g.output(map[string]any{"key": c.Key, "value": v}, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, v)
		return err
	})
}

// ConfigInitCmd writes the defaults to a file.
type ConfigInitCmd struct {
	Path  string `type:"path" help:"Where to write (default ~/.chatportal/config.toml)."`
	Force bool   `help:"Overwrite an existing file."`
}

// Run writes a default TOML config.
func (c *ConfigInitCmd) Run(g *Globals) error {
	path := c.Path
	if path == "" {
		var err error
		if path, err = config.ConfigPathTOML(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return err
	}
	return g.output(map[string]string{"path": path}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Wrote %s\n", path)
		return err
	})
}

// ConfigPathCmd prints where config is read from.
type ConfigPathCmd struct{}

// Run prints both candidate paths.
func (c *ConfigPathCmd) Run(g *Globals) error {
	tomlPath, err := config.ConfigPathTOML()
	if err != nil {
		return err
	}
	jsonPath, err := config.ConfigPathJSON()
	if err != nil {
		return err
	}
	paths := map[string]string{"toml": tomlPath, "json": jsonPath}
	return g.output(paths, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s\n%s\n", tomlPath, jsonPath)
		return err
	})
}
