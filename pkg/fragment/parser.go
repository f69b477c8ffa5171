package fragment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/topd/pkg/engine"
)

// IncludeKey is the top-level key of a top file that names other top files.
// It is not an environment and is skipped.
const IncludeKey = "include"

// matchKey is the key of the annotation item in a target list.
const matchKey = "match"

// yamlLine extracts the position yaml.v3 embeds in its syntax errors.
var yamlLine = regexp.MustCompile(`line (\d+)`)

// RawEntry is one match token with its targets before canonicalization.
type RawEntry struct {
	Token      string
	Annotation string
	Targets    []string
	Line       int
	Column     int
}

// RawFragment is the parsed content of one fragment file or one top section.
type RawFragment struct {
	Source      string
	Environment string
	Namespace   engine.Namespace
	Entries     []RawEntry
}

// RawTop is the parsed content of a base top file.
type RawTop struct {
	Source       string
	Namespace    engine.Namespace
	Environments []string
	Includes     []string

	sections map[string]*RawFragment
}

// Section returns the section for env, or an empty fragment when the top has none.
func (t *RawTop) Section(env string) *RawFragment {
	if s, ok := t.sections[env]; ok {
		return s
	}
	return &RawFragment{Source: t.Source, Environment: env, Namespace: t.Namespace}
}

// Has reports whether the top declares env.
func (t *RawTop) Has(env string) bool {
	_, ok := t.sections[env]
	return ok
}

// ParseFile reads and parses a fragment file. An absent file is an empty fragment.
func ParseFile(path, env string, ns engine.Namespace) (*RawFragment, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &RawFragment{Source: path, Environment: env, Namespace: ns}, nil
	}
	if err != nil {
		return nil, engine.NewFragmentParseError(path, "cannot read file").WithCause(err)
	}
	return Parse(path, data, env, ns)
}

// Parse parses fragment content: a mapping of match token to targets.
// Empty content is an empty fragment.
func Parse(source string, data []byte, env string, ns engine.Namespace) (*RawFragment, error) {
	f := &RawFragment{Source: source, Environment: env, Namespace: ns}

	root, err := decodeSingle(source, data)
	if err != nil || root == nil {
		return f, err
	}
	if root.Kind != yaml.MappingNode {
		return nil, engine.NewFragmentParseError(source, "expected a mapping of match to targets").
			At(root.Line, root.Column)
	}
	if f.Entries, err = parseEntries(source, root); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseTopFile reads and parses a base top file. An absent file is an empty top.
func ParseTopFile(path string, ns engine.Namespace) (*RawTop, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &RawTop{Source: path, Namespace: ns}, nil
	}
	if err != nil {
		return nil, engine.NewFragmentParseError(path, "cannot read file").WithCause(err)
	}
	return ParseTop(path, data, ns)
}

// ParseTop parses an environment-keyed top: {env: {match: targets}}.
func ParseTop(source string, data []byte, ns engine.Namespace) (*RawTop, error) {
	top := &RawTop{Source: source, Namespace: ns, sections: make(map[string]*RawFragment)}

	root, err := decodeSingle(source, data)
	if err != nil || root == nil {
		return top, err
	}
	if root.Kind != yaml.MappingNode {
		return nil, engine.NewFragmentParseError(source, "expected a mapping of environment to matches").
			At(root.Line, root.Column)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := resolve(root.Content[i]), resolve(root.Content[i+1])
		env, err := scalarKey(source, key)
		if err != nil {
			return nil, err
		}
		if env == IncludeKey {
			includes, err := stringList(source, value)
			if err != nil {
				return nil, err
			}
			top.Includes = append(top.Includes, includes...)
			continue
		}

		section := &RawFragment{Source: source, Environment: env, Namespace: ns}
		switch {
		case isNull(value):
		case value.Kind == yaml.MappingNode:
			if section.Entries, err = parseEntries(source, value); err != nil {
				return nil, err
			}
		default:
			return nil, engine.NewFragmentParseError(source,
				fmt.Sprintf("environment %q must map match specifications to targets", env)).
				At(value.Line, value.Column)
		}

		if existing, ok := top.sections[env]; ok {
			existing.Entries = append(existing.Entries, section.Entries...)
			continue
		}
		top.sections[env] = section
		top.Environments = append(top.Environments, env)
	}
	return top, nil
}

// decodeSingle decodes exactly one YAML document. It returns a nil node for
// empty content and rejects multi-document streams.
func decodeSingle(source string, data []byte) (*yaml.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, syntaxError(source, err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, syntaxError(source, err)
		}
		return nil, engine.NewFragmentParseError(source, "multiple YAML documents").
			At(extra.Line, extra.Column)
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := resolve(doc.Content[0])
	if isNull(root) {
		return nil, nil
	}
	return root, nil
}

func syntaxError(source string, err error) error {
	perr := engine.NewFragmentParseError(source, "malformed YAML").WithCause(err)
	if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
		if line, convErr := strconv.Atoi(m[1]); convErr == nil {
			perr.Line = line
		}
	}
	return perr
}

func parseEntries(source string, mapping *yaml.Node) ([]RawEntry, error) {
	entries := make([]RawEntry, 0, len(mapping.Content)/2)
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := resolve(mapping.Content[i]), resolve(mapping.Content[i+1])
		token, err := scalarKey(source, key)
		if err != nil {
			return nil, err
		}
		entry := RawEntry{Token: token, Line: key.Line, Column: key.Column, Targets: []string{}}

		switch {
		case isNull(value):
		case value.Kind == yaml.ScalarNode:
			entry.Targets = append(entry.Targets, value.Value)
		case value.Kind == yaml.SequenceNode:
			if err := parseTargets(source, value, &entry); err != nil {
				return nil, err
			}
		default:
			return nil, engine.NewFragmentParseError(source,
				fmt.Sprintf("targets of %q must be a list", token)).
				At(value.Line, value.Column)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseTargets(source string, seq *yaml.Node, entry *RawEntry) error {
	for _, item := range seq.Content {
		item = resolve(item)
		switch {
		case isNull(item):
			return engine.NewFragmentParseError(source,
				fmt.Sprintf("empty target under %q", entry.Token)).At(item.Line, item.Column)
		case item.Kind == yaml.ScalarNode:
			entry.Targets = append(entry.Targets, item.Value)
		case item.Kind == yaml.MappingNode:
			annotation, err := matchAnnotation(source, item)
			if err != nil {
				return err
			}
			if entry.Annotation != "" && entry.Annotation != annotation {
				return engine.NewFragmentParseError(source,
					fmt.Sprintf("conflicting match annotations under %q", entry.Token)).
					At(item.Line, item.Column)
			}
			entry.Annotation = annotation
		default:
			return engine.NewFragmentParseError(source,
				fmt.Sprintf("unexpected nested list under %q", entry.Token)).
				At(item.Line, item.Column)
		}
	}
	return nil
}

func matchAnnotation(source string, item *yaml.Node) (string, error) {
	if len(item.Content) != 2 || resolve(item.Content[0]).Value != matchKey {
		return "", engine.NewFragmentParseError(source,
			"only a single {match: <type>} mapping may appear in a target list").
			At(item.Line, item.Column)
	}
	value := resolve(item.Content[1])
	if value.Kind != yaml.ScalarNode || isNull(value) || value.Value == "" {
		return "", engine.NewFragmentParseError(source, "match type must be a non-empty string").
			At(value.Line, value.Column)
	}
	return value.Value, nil
}

func scalarKey(source string, key *yaml.Node) (string, error) {
	if key.Kind != yaml.ScalarNode || isNull(key) || key.Value == "" {
		return "", engine.NewFragmentParseError(source, "keys must be non-empty strings").
			At(key.Line, key.Column)
	}
	return key.Value, nil
}

func stringList(source string, node *yaml.Node) ([]string, error) {
	switch {
	case isNull(node):
		return nil, nil
	case node.Kind == yaml.ScalarNode:
		return []string{node.Value}, nil
	case node.Kind == yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			item = resolve(item)
			if item.Kind != yaml.ScalarNode {
				return nil, engine.NewFragmentParseError(source, "include entries must be strings").
					At(item.Line, item.Column)
			}
			out = append(out, item.Value)
		}
		return out, nil
	default:
		return nil, engine.NewFragmentParseError(source, "include must be a list").
			At(node.Line, node.Column)
	}
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}
