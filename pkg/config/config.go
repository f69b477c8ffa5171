package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/topd/pkg/telemetry"
)

var validate = validator.New()

// Default returns a configuration with every optional field set. The roots
// must still be provided.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in default values for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.DefaultEnv == "" {
		cfg.DefaultEnv = DefaultEnvironment
	}
	if cfg.DropInDir == "" {
		cfg.DropInDir = DefaultDropInDir
	}
	if cfg.TopFile == "" {
		cfg.TopFile = DefaultTopFile
	}
	if cfg.FragmentPattern == "" {
		cfg.FragmentPattern = DefaultFragmentPattern
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry = *telemetry.DefaultConfig()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if !doublestar.ValidatePattern(c.FragmentPattern) {
		return fmt.Errorf("invalid configuration: bad fragment_pattern %q", c.FragmentPattern)
	}
	if c.StateRoot == c.PillarRoot {
		return fmt.Errorf("invalid configuration: state_root and pillar_root are both %q", c.StateRoot)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}
