package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies a configuration file syntax.
type Format string

// Supported configuration formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatCUE  Format = "cue"
)

// FormatFor infers the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
}

// LoadFile loads, defaults and validates a configuration file. Relative
// paths in the file are resolved against the file's directory.
func LoadFile(path string) (*Config, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}

	resolvePaths(cfg, filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration data over the defaults. It does not validate,
// so callers may apply overrides first. source names the data in errors.
func Parse(data []byte, format Format, source string) (*Config, error) {
	cfg := Default()

	var err error
	switch format {
	case FormatYAML:
		err = decodeYAML(data, cfg)
	case FormatTOML:
		err = decodeTOML(data, cfg)
	case FormatCUE:
		err = decodeCUE(data, source, cfg)
	default:
		err = fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", source, err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeTOML(data []byte, cfg *Config) error {
	meta, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// decodeCUE unifies the file with the #Config schema before decoding.
func decodeCUE(data []byte, source string, cfg *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(builtinConfigSchema).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	val := ctx.CompileBytes(data, cue.Filename(source))
	if err := val.Err(); err != nil {
		return err
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	// JSON keeps the defaults for fields the file leaves out.
	encoded, err := unified.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, cfg)
}

// resolvePaths makes relative paths absolute against base.
func resolvePaths(cfg *Config, base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	cfg.StateRoot = abs(cfg.StateRoot)
	cfg.PillarRoot = abs(cfg.PillarRoot)
	cfg.HistoryDB = abs(cfg.HistoryDB)
	for i, p := range cfg.Policy.Paths {
		cfg.Policy.Paths[i] = abs(p)
	}
}
