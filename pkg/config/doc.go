// Package config loads and validates topd configuration.
//
// # Overview
//
// A configuration names the two file roots (state and pillar), the drop-in
// marker directory, the base top file and the fragment file pattern, plus
// the optional policy, schema, history and telemetry settings.
//
// # Formats
//
// LoadFile picks the decoder from the file extension:
//
//   - .yaml / .yml: gopkg.in/yaml.v3, unknown keys rejected
//   - .toml: github.com/BurntSushi/toml, unknown keys rejected
//   - .cue: unified with the built-in #Config definition, then decoded
//
// Unset fields take the defaults from Default. Relative paths are resolved
// against the directory of the configuration file. Validation uses
// go-playground/validator struct tags.
//
// # Example
//
//	state_root: /srv/salt
//	pillar_root: /srv/pillar
//	dropin_dir: _tops
//	policy:
//	  builtins: true
//	  paths: [policies/]
//	schema_check: true
//
// # Schemas
//
// SchemaRegistry holds CUE definitions. The built-in "top" schema describes a
// rendered top (environment -> match -> targets, with an optional leading
// match annotation) and is used to check assembler output when schema_check
// is set.
package config
