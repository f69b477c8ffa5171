// Package matcher canonicalizes the match specifications found in top files
// and fragments so that equivalent specifications compare equal.
package matcher

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/openfroyo/topd/pkg/engine"
	"github.com/openfroyo/topd/pkg/fragment"
)

// compoundOperators mark a compound expression that is more than a plain glob.
var compoundOperators = []string{"@", " and ", " or ", "not ", "(", ")"}

// canonicalizer normalizes a pattern of one match type.
type canonicalizer func(pattern string) (string, error)

var canonicalizers = map[engine.MatchType]canonicalizer{
	engine.MatchGlob:        canonicalGlob,
	engine.MatchPCRE:        canonicalRegexp,
	engine.MatchList:        canonicalList,
	engine.MatchGrain:       canonicalKeyValue,
	engine.MatchGrainPCRE:   canonicalKeyRegexp,
	engine.MatchPillar:      canonicalKeyValue,
	engine.MatchPillarPCRE:  canonicalKeyRegexp,
	engine.MatchPillarExact: canonicalKeyValue,
	engine.MatchIPCIDR:      canonicalCIDR,
	engine.MatchCompound:    canonicalCompound,
	engine.MatchNodegroup:   canonicalTrimmed,
	engine.MatchData:        canonicalKeyValue,
	engine.MatchRange:       canonicalTrimmed,
}

// ParseType maps a match annotation onto a MatchType. The empty annotation is a glob.
func ParseType(annotation string) (engine.MatchType, bool) {
	tag := strings.ToLower(strings.TrimSpace(annotation))
	if tag == "" {
		return engine.MatchGlob, true
	}
	t := engine.MatchType(tag)
	if t == engine.MatchWildcard {
		return "", false
	}
	_, ok := canonicalizers[t]
	return t, ok
}

// Canonicalize turns a raw match token and its optional annotation into a MatchKey.
func Canonicalize(token, annotation string) (engine.MatchKey, error) {
	t, ok := ParseType(annotation)
	if !ok {
		return engine.MatchKey{}, &engine.UnsupportedMatchTypeError{MatchType: annotation, Token: token}
	}
	pattern, err := canonicalizers[t](token)
	if err != nil {
		return engine.MatchKey{}, fmt.Errorf("invalid %s match %q: %w", t, token, err)
	}

	// A compound holding a single plain word is a glob.
	if t == engine.MatchCompound && isPlainCompound(pattern) {
		t = engine.MatchGlob
		if pattern, err = canonicalGlob(pattern); err != nil {
			return engine.MatchKey{}, fmt.Errorf("invalid %s match %q: %w", t, token, err)
		}
	}
	if t == engine.MatchGlob && pattern == engine.WildcardPattern {
		return engine.Wildcard(), nil
	}
	return engine.MatchKey{Type: t, Pattern: pattern}, nil
}

// Adapt canonicalizes every entry of a raw fragment. Errors carry the source path.
func Adapt(raw *fragment.RawFragment) (*engine.Fragment, error) {
	f := &engine.Fragment{
		Source:      raw.Source,
		Environment: raw.Environment,
		Namespace:   raw.Namespace,
		Entries:     make([]engine.Entry, 0, len(raw.Entries)),
	}
	for _, re := range raw.Entries {
		key, err := Canonicalize(re.Token, re.Annotation)
		if err != nil {
			var unsupported *engine.UnsupportedMatchTypeError
			if errors.As(err, &unsupported) {
				unsupported.Path = raw.Source
				return nil, unsupported
			}
			return nil, engine.NewFragmentParseError(raw.Source, "invalid match specification").
				At(re.Line, re.Column).
				WithCause(err)
		}
		f.Entries = append(f.Entries, engine.Entry{Match: key, Targets: slices.Clone(re.Targets)})
	}
	return f, nil
}

func canonicalTrimmed(pattern string) (string, error) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return "", errors.New("empty pattern")
	}
	return p, nil
}

// canonicalGlob accepts any non-empty pattern. Salt matches globs with
// fnmatch, which treats an unclosed bracket as a literal and so rejects
// nothing.
func canonicalGlob(pattern string) (string, error) {
	return canonicalTrimmed(pattern)
}

// compilePCRE checks an expression with a backtracking engine; RE2 rejects
// lookarounds and backreferences that Salt accepts.
func compilePCRE(expr string) error {
	_, err := regexp2.Compile(expr, regexp2.None)
	return err
}

func canonicalRegexp(pattern string) (string, error) {
	p, err := canonicalTrimmed(pattern)
	if err != nil {
		return "", err
	}
	if err := compilePCRE(p); err != nil {
		return "", err
	}
	return p, nil
}

// canonicalList splits on commas and whitespace, drops duplicates and sorts,
// since a list match denotes a set of target IDs.
func canonicalList(pattern string) (string, error) {
	items := strings.FieldsFunc(pattern, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(items) == 0 {
		return "", errors.New("empty list")
	}
	slices.Sort(items)
	return strings.Join(slices.Compact(items), ","), nil
}

// canonicalKeyValue trims whitespace around every ":"-separated component.
func canonicalKeyValue(pattern string) (string, error) {
	p, err := canonicalTrimmed(pattern)
	if err != nil {
		return "", err
	}
	parts := strings.Split(p, ":")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if parts[0] == "" {
		return "", errors.New("missing key")
	}
	return strings.Join(parts, ":"), nil
}

func canonicalKeyRegexp(pattern string) (string, error) {
	p, err := canonicalKeyValue(pattern)
	if err != nil {
		return "", err
	}
	if _, expr, ok := strings.Cut(p, ":"); ok {
		if err := compilePCRE(expr); err != nil {
			return "", err
		}
	}
	return p, nil
}

func canonicalCIDR(pattern string) (string, error) {
	p, err := canonicalTrimmed(pattern)
	if err != nil {
		return "", err
	}
	if strings.Contains(p, "/") {
		prefix, err := netip.ParsePrefix(p)
		if err != nil {
			return "", err
		}
		return prefix.Masked().String(), nil
	}
	addr, err := netip.ParseAddr(p)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

func canonicalCompound(pattern string) (string, error) {
	p := strings.Join(strings.Fields(pattern), " ")
	if p == "" {
		return "", errors.New("empty pattern")
	}
	return p, nil
}

func isPlainCompound(pattern string) bool {
	if strings.Contains(pattern, " ") {
		return false
	}
	for _, op := range compoundOperators {
		if strings.Contains(pattern, op) {
			return false
		}
	}
	return true
}
