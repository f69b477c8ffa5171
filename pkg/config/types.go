package config

import (
	"github.com/openfroyo/topd/pkg/engine"
	"github.com/openfroyo/topd/pkg/telemetry"
)

// Default values applied to unset fields.
const (
	DefaultEnvironment     = "base"
	DefaultDropInDir       = "_tops"
	DefaultTopFile         = "top.sls"
	DefaultFragmentPattern = "**/*.top"
)

// Config is the topd configuration.
type Config struct {
	// StateRoot is the file root holding states (file_roots).
	StateRoot string `yaml:"state_root" toml:"state_root" json:"state_root" validate:"required"`

	// PillarRoot is the file root holding pillar data (pillar_roots).
	PillarRoot string `yaml:"pillar_root" toml:"pillar_root" json:"pillar_root" validate:"required"`

	// DefaultEnv is used when a caller does not name an environment.
	DefaultEnv string `yaml:"default_env" toml:"default_env" json:"default_env" validate:"required,excludesall=/\\0x7C"`

	// DropInDir is the marker directory name under each root.
	DropInDir string `yaml:"dropin_dir" toml:"dropin_dir" json:"dropin_dir" validate:"required,excludesall=/\\,ne=.,ne=.."`

	// TopFile is the base top file relative to each root.
	TopFile string `yaml:"top_file" toml:"top_file" json:"top_file" validate:"required"`

	// FragmentPattern selects fragment files inside an environment directory.
	FragmentPattern string `yaml:"fragment_pattern" toml:"fragment_pattern" json:"fragment_pattern" validate:"required"`

	// Policy configures fragment admission policies.
	Policy PolicyConfig `yaml:"policy" toml:"policy" json:"policy"`

	// SchemaCheck validates every rendered top against the built-in schema.
	SchemaCheck bool `yaml:"schema_check" toml:"schema_check" json:"schema_check"`

	// HistoryDB is the SQLite render history. Empty disables history.
	HistoryDB string `yaml:"history_db" toml:"history_db" json:"history_db"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry telemetry.Config `yaml:"telemetry" toml:"telemetry" json:"telemetry"`
}

// PolicyConfig configures the OPA fragment policies.
type PolicyConfig struct {
	// Paths are Rego files or directories loaded at startup.
	Paths []string `yaml:"paths" toml:"paths" json:"paths" validate:"dive,required"`

	// Builtins enables the built-in fragment policies.
	Builtins bool `yaml:"builtins" toml:"builtins" json:"builtins"`
}

// Enabled reports whether any policy source is configured.
func (p PolicyConfig) Enabled() bool {
	return p.Builtins || len(p.Paths) > 0
}

// Root returns the configured root for a namespace.
func (c *Config) Root(ns engine.Namespace) string {
	if ns == engine.NamespacePillar {
		return c.PillarRoot
	}
	return c.StateRoot
}

// Roots returns the configured roots keyed by namespace.
func (c *Config) Roots() map[engine.Namespace]string {
	return map[engine.Namespace]string{
		engine.NamespaceState:  c.StateRoot,
		engine.NamespacePillar: c.PillarRoot,
	}
}

// Environment returns env, or the default environment when env is empty.
func (c *Config) Environment(env string) string {
	if env == "" {
		return c.DefaultEnv
	}
	return env
}
