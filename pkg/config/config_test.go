package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/topd/pkg/engine"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DefaultEnv != "base" || cfg.DropInDir != "_tops" || cfg.TopFile != "top.sls" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.FragmentPattern != "**/*.top" {
		t.Errorf("FragmentPattern = %s", cfg.FragmentPattern)
	}
	if cfg.Telemetry.ServiceName != "topd" {
		t.Errorf("Telemetry.ServiceName = %s", cfg.Telemetry.ServiceName)
	}

	// Roots are required.
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing roots")
	}

	cfg.StateRoot, cfg.PillarRoot = "/srv/salt", "/srv/pillar"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if cfg.Root(engine.NamespacePillar) != "/srv/pillar" || cfg.Roots()[engine.NamespaceState] != "/srv/salt" {
		t.Errorf("unexpected roots: %v", cfg.Roots())
	}
	if cfg.Environment("") != "base" || cfg.Environment("dev") != "dev" {
		t.Error("Environment() did not apply the default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"marker with slash", func(c *Config) { c.DropInDir = "a/b" }, "DropInDir"},
		{"marker dot", func(c *Config) { c.DropInDir = "." }, "DropInDir"},
		{"env with pipe", func(c *Config) { c.DefaultEnv = "a|b" }, "DefaultEnv"},
		{"env with slash", func(c *Config) { c.DefaultEnv = "a/b" }, "DefaultEnv"},
		{"env with backslash", func(c *Config) { c.DefaultEnv = `a\b` }, "DefaultEnv"},
		{"bad pattern", func(c *Config) { c.FragmentPattern = "[" }, "fragment_pattern"},
		{"same roots", func(c *Config) { c.PillarRoot = c.StateRoot }, "both"},
		{"empty policy path", func(c *Config) { c.Policy.Paths = []string{""} }, "Paths"},
		{"telemetry", func(c *Config) { c.Telemetry.Logging.Level = "loud" }, "telemetry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.StateRoot, cfg.PillarRoot = "/srv/salt", "/srv/pillar"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeConfig(t, "topd.yaml", `
state_root: salt
pillar_root: /srv/pillar
dropin_dir: _dropins
policy:
  builtins: true
  paths: [policies]
schema_check: true
telemetry:
  logging:
    level: debug
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	dir := filepath.Dir(path)
	if cfg.StateRoot != filepath.Join(dir, "salt") {
		t.Errorf("StateRoot = %s, want resolved against config dir", cfg.StateRoot)
	}
	if cfg.PillarRoot != "/srv/pillar" {
		t.Errorf("PillarRoot = %s", cfg.PillarRoot)
	}
	if cfg.DropInDir != "_dropins" || !cfg.SchemaCheck || !cfg.Policy.Builtins {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Policy.Paths[0] != filepath.Join(dir, "policies") {
		t.Errorf("unexpected policy config: %+v", cfg.Policy)
	}
	if cfg.Telemetry.Logging.Level != "debug" || cfg.Telemetry.Logging.Format != "console" {
		t.Errorf("telemetry defaults not kept: %+v", cfg.Telemetry.Logging)
	}
	if cfg.TopFile != DefaultTopFile {
		t.Errorf("TopFile = %s", cfg.TopFile)
	}
}

func TestLoadFile_TOML(t *testing.T) {
	path := writeConfig(t, "topd.toml", `
state_root = "/srv/salt"
pillar_root = "/srv/pillar"
default_env = "prod"

[policy]
paths = ["/etc/topd/policies"]

[telemetry.metrics]
enabled = true
listen_address = ":9400"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.DefaultEnv != "prod" || cfg.Policy.Paths[0] != "/etc/topd/policies" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Telemetry.Metrics.ListenAddress != ":9400" || cfg.Telemetry.Metrics.Namespace != "topd" {
		t.Errorf("unexpected metrics config: %+v", cfg.Telemetry.Metrics)
	}
}

func TestLoadFile_CUE(t *testing.T) {
	path := writeConfig(t, "topd.cue", `
state_root:  "/srv/salt"
pillar_root: "/srv/pillar"
dropin_dir:  "_tops.d"
policy: builtins: true
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.DropInDir != "_tops.d" || !cfg.Policy.Builtins {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.FragmentPattern != DefaultFragmentPattern {
		t.Errorf("FragmentPattern = %s", cfg.FragmentPattern)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown yaml key", "c.yaml", "state_root: /a\npillar_root: /b\nfile_roots: /c\n"},
		{"unknown toml key", "c.toml", "state_root = \"/a\"\npillar_root = \"/b\"\nbogus = 1\n"},
		{"cue schema violation", "c.cue", "state_root: \"/a\"\npillar_root: \"/b\"\ndropin_dir: \"a/b\"\n"},
		{"cue unknown field", "c.cue", "state_root: \"/a\"\npillar_root: \"/b\"\nextra: 1\n"},
		{"cue missing root", "c.cue", "state_root: \"/a\"\n"},
		{"invalid yaml", "c.yaml", "state_root: [\n"},
		{"missing roots", "c.yaml", "dropin_dir: _tops\n"},
		{"unsupported extension", "c.ini", "x=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFile(writeConfig(t, tt.file, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParse_EmptyYAML(t *testing.T) {
	cfg, err := Parse(nil, FormatYAML, "empty")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.DropInDir != DefaultDropInDir {
		t.Errorf("DropInDir = %s", cfg.DropInDir)
	}
}
