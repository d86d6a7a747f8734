// Package config loads the Reconciler's static wiring — the entity/source
// catalog and the operational store selection — from YAML, grounded on the
// teacher's pkg/file content-merging approach: parse, then mergo.Merge a
// supplied document over built-in defaults rather than requiring every field
// to be present.
package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/ghodss/yaml"

	"github.com/mirrorsync/reconciler/pkg/ident"
)

// EntityConfig is one YAML-level entity declaration: its tag and the
// ordered sources it lives in.
type EntityConfig struct {
	Entity  string   `json:"entity"`
	Sources []string `json:"sources"`
}

// StoreConfig selects and configures the operational store backend.
type StoreConfig struct {
	// Backend is "memstore" or "sqlstore". Empty defaults to "memstore".
	Backend string `json:"backend"`
	// Path is the sqlstore database file; ignored for memstore.
	Path string `json:"path"`
}

// Config is the full static configuration document.
type Config struct {
	Entities []EntityConfig `json:"entities"`
	Store    StoreConfig    `json:"store"`
}

// Default returns the built-in configuration: an empty catalog and an
// in-memory store, the safe starting point Merge layers a supplied document
// over.
func Default() Config {
	return Config{Store: StoreConfig{Backend: "memstore"}}
}

// Load reads and parses the YAML document at path, then merges it over
// Default() so a config file need only declare what it overrides.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse merges a YAML document's bytes over Default().
func Parse(raw []byte) (Config, error) {
	var parsed Config
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return Config{}, fmt.Errorf("config: parsing: %w", err)
	}
	cfg := Default()
	if err := mergo.Merge(&cfg, parsed, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return Config{}, fmt.Errorf("config: merging over defaults: %w", err)
	}
	return cfg, nil
}

// Catalog builds an ident.Catalog from the entity declarations.
func (c Config) Catalog() (*ident.Catalog, error) {
	specs := make([]ident.EntitySpec, len(c.Entities))
	for i, e := range c.Entities {
		sources := make([]ident.SourceTag, len(e.Sources))
		for j, s := range e.Sources {
			sources[j] = ident.SourceTag(s)
		}
		specs[i] = ident.EntitySpec{Entity: ident.EntityTag(e.Entity), Sources: sources}
	}
	return ident.NewCatalog(specs...)
}
