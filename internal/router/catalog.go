// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultMaxOutputTokens is the output cap for models missing from the catalog.
const DefaultMaxOutputTokens = 8000

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// CatalogEntry is one model listed in the catalog.
type CatalogEntry struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	MaxTokens int    `yaml:"max_tokens" json:"max_tokens"`
}

// Catalog holds display metadata for known models. Catalog entries never
// decide the provider kind; that is the rule table's job.
type Catalog struct {
	Models []CatalogEntry `yaml:"models"`

	byID map[string]CatalogEntry
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode model catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// DefaultCatalog returns the catalog embedded in the binary.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(bytes.NewReader(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded model catalog is invalid: %v", err))
	}
	return c
}

func (c *Catalog) index() error {
	c.byID = make(map[string]CatalogEntry, len(c.Models))
	for i, m := range c.Models {
		id := normalizeID(m.ID)
		if id == "" {
			return fmt.Errorf("model catalog entry %d has no id", i)
		}
		if _, dup := c.byID[id]; dup {
			return fmt.Errorf("model catalog lists %q twice", m.ID)
		}
		if m.MaxTokens < 0 {
			return fmt.Errorf("model catalog entry %q has negative max_tokens", m.ID)
		}
		c.byID[id] = m
	}
	return nil
}

// Lookup returns the entry for a model id (case-insensitive).
func (c *Catalog) Lookup(id string) (CatalogEntry, bool) {
	if c == nil || c.byID == nil {
		return CatalogEntry{}, false
	}
	e, ok := c.byID[normalizeID(id)]
	return e, ok
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Models)
}

// Describe resolves every catalog entry, sorted by provider then id.
func (r *Registry) Describe() []Descriptor {
	out := make([]Descriptor, 0, r.catalog.Len())
	for _, m := range r.catalog.Models {
		out = append(out, r.Resolve(m.ID))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out
}
