package engine

import (
	"fmt"
	"slices"
)

// Namespace selects which root a top is assembled from.
type Namespace string

const (
	// NamespaceState reads fragments from the state root.
	NamespaceState Namespace = "state"

	// NamespacePillar reads fragments from the pillar root.
	NamespacePillar Namespace = "pillar"
)

// Namespaces lists every namespace in a stable order.
var Namespaces = []Namespace{NamespaceState, NamespacePillar}

// NamespaceFor returns the namespace selected by the host runtime's pillar flag.
func NamespaceFor(pillar bool) Namespace {
	if pillar {
		return NamespacePillar
	}
	return NamespaceState
}

// Valid reports whether the namespace is known.
func (n Namespace) Valid() bool {
	return n == NamespaceState || n == NamespacePillar
}

// MatchType is the tag of a match specification.
type MatchType string

const (
	// MatchWildcard matches every target. It renders as the bare "*" key.
	MatchWildcard MatchType = "wildcard"

	// MatchGlob is the default shell-style glob on target IDs.
	MatchGlob MatchType = "glob"

	MatchPCRE        MatchType = "pcre"
	MatchList        MatchType = "list"
	MatchGrain       MatchType = "grain"
	MatchGrainPCRE   MatchType = "grain_pcre"
	MatchPillar      MatchType = "pillar"
	MatchPillarPCRE  MatchType = "pillar_pcre"
	MatchPillarExact MatchType = "pillar_exact"
	MatchIPCIDR      MatchType = "ipcidr"
	MatchCompound    MatchType = "compound"
	MatchNodegroup   MatchType = "nodegroup"
	MatchData        MatchType = "data"
	MatchRange       MatchType = "range"
)

// MatchTypes lists every supported tag.
var MatchTypes = []MatchType{
	MatchWildcard, MatchGlob, MatchPCRE, MatchList, MatchGrain, MatchGrainPCRE,
	MatchPillar, MatchPillarPCRE, MatchPillarExact, MatchIPCIDR, MatchCompound,
	MatchNodegroup, MatchData, MatchRange,
}

// Known reports whether t is one of MatchTypes.
func (t MatchType) Known() bool {
	return slices.Contains(MatchTypes, t)
}

// Annotated reports whether the type must be rendered with an explicit
// match annotation. Globs and the wildcard are the host default.
func (t MatchType) Annotated() bool {
	return t != MatchGlob && t != MatchWildcard
}

// WildcardPattern is the pattern of the wildcard match.
const WildcardPattern = "*"

// MatchKey is a canonical match specification. Two keys are equal exactly when
// they denote the same target set under the same matching semantics, so the
// struct is used directly as a map key.
type MatchKey struct {
	Type    MatchType
	Pattern string
}

// Wildcard returns the key matching every target.
func Wildcard() MatchKey {
	return MatchKey{Type: MatchWildcard, Pattern: WildcardPattern}
}

// IsWildcard reports whether k matches every target.
func (k MatchKey) IsWildcard() bool {
	return k.Type == MatchWildcard
}

func (k MatchKey) String() string {
	if !k.Type.Annotated() {
		return k.Pattern
	}
	return fmt.Sprintf("%s@%s", k.Type, k.Pattern)
}

// Entry is one match key with its ordered targets.
type Entry struct {
	Match   MatchKey
	Targets []string
}

// Fragment is one parsed and canonicalized fragment file.
type Fragment struct {
	// Source is the filesystem path of the fragment, or of the base top.
	Source string

	// Environment is the environment this fragment contributes to.
	Environment string

	// Namespace is the namespace this fragment contributes to.
	Namespace Namespace

	// Entries are the fragment's match entries in file order.
	Entries []Entry
}

// Len returns the number of entries.
func (f *Fragment) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Entries)
}

// Contribution records which source first added which targets to an entry.
type Contribution struct {
	Source  string   `json:"source" yaml:"source"`
	Targets []string `json:"targets" yaml:"targets"`
}

// Top is the structure handed to the host runtime: environment to merged top.
type Top map[string]*MergedTop

// Plain converts the top into plain maps and slices, in the shape the host
// runtime consumes. Entry order is lost; use the YAML or JSON rendering to keep it.
func (t Top) Plain() map[string]any {
	out := make(map[string]any, len(t))
	for env, merged := range t {
		section := make(map[string]any, merged.Len())
		for _, e := range merged.Entries() {
			section[e.Match.Pattern] = renderTargets(e)
		}
		out[env] = section
	}
	return out
}

func renderTargets(e Entry) []any {
	items := make([]any, 0, len(e.Targets)+1)
	if e.Match.Type.Annotated() {
		items = append(items, map[string]any{"match": string(e.Match.Type)})
	}
	for _, target := range e.Targets {
		items = append(items, target)
	}
	return items
}
