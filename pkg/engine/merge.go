package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// MergedTop is the union of a base top section and every fragment for one
// environment and namespace. Each match key appears once; targets keep the
// order in which they were first seen.
type MergedTop struct {
	Environment string
	Namespace   Namespace

	entries    []Entry
	index      map[MatchKey]int
	patterns   map[string]MatchKey
	provenance [][]Contribution
	sources    []string
}

// NewMergedTop returns an empty accumulator.
func NewMergedTop(env string, ns Namespace) *MergedTop {
	return &MergedTop{
		Environment: env,
		Namespace:   ns,
		index:       make(map[MatchKey]int),
		patterns:    make(map[string]MatchKey),
	}
}

// Merge folds base and then each fragment, in the given order, into a new MergedTop.
// base may be nil. Fragments scoped to another environment or namespace are rejected.
func Merge(env string, ns Namespace, base *Fragment, fragments []*Fragment) (*MergedTop, error) {
	top := NewMergedTop(env, ns)
	if base != nil {
		if err := top.seed(base); err != nil {
			return nil, err
		}
	}
	for _, f := range fragments {
		if err := top.Add(f); err != nil {
			return nil, err
		}
	}
	return top, nil
}

// seed loads the base entries. Unlike fragments, base keys with no targets are kept.
func (t *MergedTop) seed(base *Fragment) error {
	if err := t.checkScope(base); err != nil {
		return err
	}
	t.sources = append(t.sources, base.Source)
	for _, e := range base.Entries {
		if _, err := t.entryFor(e.Match, base.Source); err != nil {
			return err
		}
		t.extend(e, base.Source)
	}
	return nil
}

// Add unions one fragment into the accumulator. Adding the same fragment
// twice leaves the result unchanged.
func (t *MergedTop) Add(f *Fragment) error {
	if f == nil {
		return nil
	}
	if err := t.checkScope(f); err != nil {
		return err
	}
	t.sources = append(t.sources, f.Source)
	for _, e := range f.Entries {
		if len(e.Targets) == 0 {
			if _, ok := t.index[e.Match]; !ok {
				if err := t.checkConflict(e.Match, f.Source); err != nil {
					return err
				}
			}
			continue
		}
		if _, err := t.entryFor(e.Match, f.Source); err != nil {
			return err
		}
		t.extend(e, f.Source)
	}
	return nil
}

func (t *MergedTop) checkScope(f *Fragment) error {
	if f.Environment != t.Environment || f.Namespace != t.Namespace {
		return fmt.Errorf("fragment %s belongs to %s/%s, cannot merge into %s/%s",
			f.Source, f.Namespace, f.Environment, t.Namespace, t.Environment)
	}
	return nil
}

func (t *MergedTop) checkConflict(key MatchKey, source string) error {
	if existing, ok := t.patterns[key.Pattern]; ok && existing.Type != key.Type {
		return &MatchConflictError{
			Pattern:  key.Pattern,
			Existing: existing.Type,
			Incoming: key.Type,
			Source:   source,
		}
	}
	return nil
}

// entryFor returns the index of key, appending a new empty entry when missing.
func (t *MergedTop) entryFor(key MatchKey, source string) (int, error) {
	if i, ok := t.index[key]; ok {
		return i, nil
	}
	if err := t.checkConflict(key, source); err != nil {
		return -1, err
	}
	t.entries = append(t.entries, Entry{Match: key, Targets: []string{}})
	t.provenance = append(t.provenance, nil)
	i := len(t.entries) - 1
	t.index[key] = i
	t.patterns[key.Pattern] = key
	return i, nil
}

func (t *MergedTop) extend(e Entry, source string) {
	i := t.index[e.Match]
	var added []string
	for _, target := range e.Targets {
		if slices.Contains(t.entries[i].Targets, target) {
			continue
		}
		t.entries[i].Targets = append(t.entries[i].Targets, target)
		added = append(added, target)
	}
	if len(added) > 0 {
		t.provenance[i] = append(t.provenance[i], Contribution{Source: source, Targets: added})
	}
}

// Len returns the number of distinct match keys.
func (t *MergedTop) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns a copy of the merged entries in order.
func (t *MergedTop) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = Entry{Match: e.Match, Targets: slices.Clone(e.Targets)}
	}
	return out
}

// Targets returns the targets merged under key.
func (t *MergedTop) Targets(key MatchKey) ([]string, bool) {
	i, ok := t.index[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(t.entries[i].Targets), true
}

// Provenance returns, in merge order, which source contributed which targets to key.
func (t *MergedTop) Provenance(key MatchKey) []Contribution {
	i, ok := t.index[key]
	if !ok {
		return nil
	}
	return slices.Clone(t.provenance[i])
}

// Sources returns every base and fragment source folded in, in merge order.
func (t *MergedTop) Sources() []string {
	return slices.Clone(t.sources)
}

// MarshalYAML renders the entries as an ordered mapping. Annotated match
// types carry a leading {match: type} item, as the host expects.
func (t *MergedTop) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if t == nil {
		return node, nil
	}
	for _, e := range t.entries {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Match.Pattern}
		list := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		if e.Match.Type.Annotated() {
			list.Content = append(list.Content, &yaml.Node{
				Kind: yaml.MappingNode,
				Tag:  "!!map",
				Content: []*yaml.Node{
					{Kind: yaml.ScalarNode, Tag: "!!str", Value: "match"},
					{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(e.Match.Type)},
				},
			})
		}
		for _, target := range e.Targets {
			list.Content = append(list.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: target})
		}
		node.Content = append(node.Content, key, list)
	}
	return node, nil
}

// MarshalJSON renders the entries as an ordered JSON object.
func (t *MergedTop) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Match.Pattern)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(renderTargets(e))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
