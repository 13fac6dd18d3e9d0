// Package config loads the per-project config.toml consumed by the
// storage core: namespace selection, visibility filtering, and the
// legacy issue_prefix migration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/mod/semver"
)

// DefaultNamespace is used when neither config.toml nor the directory
// name yields a usable namespace.
const DefaultNamespace = "dc"

// understoodSchemaVersion is the schema_version this build was written
// against; see Config.SchemaWarning.
const understoodSchemaVersion = "v1.0.0"

// Config is the subset of config.toml the storage core consumes.
type Config struct {
	Namespace         string   `toml:"namespace"`
	VisibleNamespaces []string `toml:"visible_namespaces"`
	HiddenNamespaces  []string `toml:"hidden_namespaces"`
	GitTracking       bool     `toml:"git_tracking"`
	SchemaVersion     string   `toml:"schema_version"`

	// IssuePrefix is the legacy key; Load migrates it into Namespace and
	// never writes it back out.
	IssuePrefix string `toml:"issue_prefix"`
}

// Load reads config.toml from dir (the project's .dogcats directory). A
// missing file is not an error: it yields a Config with defaults applied
// from dirNameHint.
func Load(dir, dirNameHint string) (*Config, error) {
	path := filepath.Join(dir, "config.toml")
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	if cfg.Namespace == "" && cfg.IssuePrefix != "" {
		cfg.Namespace = cfg.IssuePrefix
	}
	if cfg.Namespace == "" {
		cfg.Namespace = sanitizeNamespace(dirNameHint)
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}

	return &cfg, nil
}

var nonNamespaceChars = regexp.MustCompile(`[^a-z0-9]+`)

func sanitizeNamespace(name string) string {
	lowered := strings.ToLower(name)
	return nonNamespaceChars.ReplaceAllString(lowered, "")
}

// NamespaceVisible reports whether ns should appear in listings, given
// this config's visible/hidden namespace filters. The primary namespace
// is always visible regardless of either list.
func (c *Config) NamespaceVisible(ns string) bool {
	if ns == c.Namespace {
		return true
	}
	if len(c.VisibleNamespaces) > 0 {
		for _, v := range c.VisibleNamespaces {
			if v == ns {
				return true
			}
		}
		return false
	}
	for _, h := range c.HiddenNamespaces {
		if h == ns {
			return false
		}
	}
	return true
}

// MutuallyExclusiveFiltersWarning returns a non-empty doctor-surfaced
// warning when both visible_namespaces and hidden_namespaces are set,
// since the combination is ambiguous (visible_namespaces already implies
// every unlisted namespace, including any in hidden_namespaces, is
// hidden).
func (c *Config) MutuallyExclusiveFiltersWarning() string {
	if len(c.VisibleNamespaces) > 0 && len(c.HiddenNamespaces) > 0 {
		return "both visible_namespaces and hidden_namespaces are set; hidden_namespaces is ignored"
	}
	return ""
}

// SchemaWarning returns a non-empty doctor-surfaced warning when
// schema_version names a newer major version than this build understands.
// A newer minor/patch is accepted silently, since the only schema
// evolution this core permits (field renames, enum widenings) is backward
// compatible by construction.
func (c *Config) SchemaWarning() string {
	if c.SchemaVersion == "" {
		return ""
	}
	v := c.SchemaVersion
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Sprintf("schema_version %q is not a valid semantic version", c.SchemaVersion)
	}
	if semver.Compare(semver.Major(v), semver.Major(understoodSchemaVersion)) > 0 {
		return fmt.Sprintf("database schema_version %s is a newer major version than this build understands (%s); some fields may not round-trip", c.SchemaVersion, understoodSchemaVersion)
	}
	return ""
}
