package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaultsFromDirName(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, "My Project!")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Namespace != "myproject" {
		t.Errorf("namespace = %q, want myproject", cfg.Namespace)
	}
}

func TestLoadFallsBackToDefaultNamespace(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Namespace != DefaultNamespace {
		t.Errorf("namespace = %q, want %q", cfg.Namespace, DefaultNamespace)
	}
}

func TestLegacyIssuePrefixMigration(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `issue_prefix = "foo"`+"\n")
	cfg, err := Load(dir, "ignored")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Namespace != "foo" {
		t.Errorf("namespace = %q, want foo (migrated from issue_prefix)", cfg.Namespace)
	}
}

func TestExplicitNamespaceWins(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "namespace = \"explicit\"\nissue_prefix = \"legacy\"\n")
	cfg, err := Load(dir, "ignored")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Namespace != "explicit" {
		t.Errorf("namespace = %q, want explicit", cfg.Namespace)
	}
}

func TestMutuallyExclusiveFiltersWarning(t *testing.T) {
	cfg := &Config{Namespace: "ns", VisibleNamespaces: []string{"a"}, HiddenNamespaces: []string{"b"}}
	if cfg.MutuallyExclusiveFiltersWarning() == "" {
		t.Error("expected a warning when both filters are set")
	}
	cfg2 := &Config{Namespace: "ns", VisibleNamespaces: []string{"a"}}
	if cfg2.MutuallyExclusiveFiltersWarning() != "" {
		t.Error("expected no warning when only one filter is set")
	}
}

func TestNamespaceVisible(t *testing.T) {
	cfg := &Config{Namespace: "primary", HiddenNamespaces: []string{"secret"}}
	if !cfg.NamespaceVisible("primary") {
		t.Error("primary namespace must always be visible")
	}
	if cfg.NamespaceVisible("secret") {
		t.Error("hidden namespace must not be visible")
	}
	if !cfg.NamespaceVisible("other") {
		t.Error("unlisted namespace must be visible when no visible_namespaces set")
	}
}

func TestSchemaWarning(t *testing.T) {
	cfg := &Config{SchemaVersion: "2.0.0"}
	if cfg.SchemaWarning() == "" {
		t.Error("expected a warning for a newer major schema version")
	}
	cfg2 := &Config{SchemaVersion: "1.4.0"}
	if cfg2.SchemaWarning() != "" {
		t.Error("expected no warning for a newer minor schema version")
	}
	cfg3 := &Config{}
	if cfg3.SchemaWarning() != "" {
		t.Error("expected no warning when schema_version is absent")
	}
}
