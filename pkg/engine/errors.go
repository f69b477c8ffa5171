package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an error raised while assembling a top.
type ErrorKind string

const (
	// ErrorKindPathResolution indicates a path that does not belong to any configured root.
	ErrorKindPathResolution ErrorKind = "path_resolution"

	// ErrorKindFragmentParse indicates a malformed fragment or base top file.
	ErrorKindFragmentParse ErrorKind = "fragment_parse"

	// ErrorKindUnsupportedMatchType indicates a match annotation the adapter does not know.
	ErrorKindUnsupportedMatchType ErrorKind = "unsupported_match_type"

	// ErrorKindMissingRoot indicates that a configured root directory is absent.
	// This is fatal for the affected namespace.
	ErrorKindMissingRoot ErrorKind = "missing_root"

	// ErrorKindMatchConflict indicates two match keys sharing a pattern but not a type.
	ErrorKindMatchConflict ErrorKind = "match_conflict"

	// ErrorKindPolicyViolation indicates a fragment rejected by a fragment policy.
	ErrorKindPolicyViolation ErrorKind = "policy_violation"

	// ErrorKindUnknown is reported for errors that carry no kind.
	ErrorKindUnknown ErrorKind = "unknown"
)

// kinded is implemented by every typed error in this package.
type kinded interface {
	Kind() ErrorKind
}

// KindOf returns the kind of the first typed error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ErrorKindUnknown
}

// IsKind reports whether err's chain holds a typed error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// PathResolutionError is returned when a path cannot be attributed to a configured root.
type PathResolutionError struct {
	Path   string
	Reason string
	Err    error
}

// NewPathResolutionError creates a new path resolution error.
func NewPathResolutionError(path, reason string) *PathResolutionError {
	return &PathResolutionError{Path: path, Reason: reason}
}

func (e *PathResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve path %q: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PathResolutionError) Unwrap() error    { return e.Err }
func (e *PathResolutionError) Kind() ErrorKind { return ErrorKindPathResolution }

// WithCause attaches the underlying error.
func (e *PathResolutionError) WithCause(err error) *PathResolutionError {
	e.Err = err
	return e
}

// FragmentParseError is returned for malformed fragment or top content.
// Line and Column are 1-based and zero when unknown.
type FragmentParseError struct {
	Path   string
	Line   int
	Column int
	Reason string
	Err    error
}

// NewFragmentParseError creates a new parse error for the given file.
func NewFragmentParseError(path, reason string) *FragmentParseError {
	return &FragmentParseError{Path: path, Reason: reason}
}

func (e *FragmentParseError) Error() string {
	var b strings.Builder
	b.WriteString("invalid fragment ")
	b.WriteString(e.Path)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&b, ":%d", e.Column)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FragmentParseError) Unwrap() error    { return e.Err }
func (e *FragmentParseError) Kind() ErrorKind { return ErrorKindFragmentParse }

// At records the position of the offending node.
func (e *FragmentParseError) At(line, column int) *FragmentParseError {
	e.Line = line
	e.Column = column
	return e
}

// WithCause attaches the underlying error.
func (e *FragmentParseError) WithCause(err error) *FragmentParseError {
	e.Err = err
	return e
}

// UnsupportedMatchTypeError is returned when a fragment names an unknown match type.
type UnsupportedMatchTypeError struct {
	MatchType string
	Token     string
	Path      string
}

func (e *UnsupportedMatchTypeError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("unsupported match type %q for %q in %s", e.MatchType, e.Token, e.Path)
	}
	return fmt.Sprintf("unsupported match type %q for %q", e.MatchType, e.Token)
}

func (e *UnsupportedMatchTypeError) Kind() ErrorKind { return ErrorKindUnsupportedMatchType }

// MissingRootError is returned when a configured root directory does not exist.
type MissingRootError struct {
	Namespace Namespace
	Root      string
	Err       error
}

func (e *MissingRootError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s root %q is not available: %v", e.Namespace, e.Root, e.Err)
	}
	return fmt.Sprintf("%s root %q is not available", e.Namespace, e.Root)
}

func (e *MissingRootError) Unwrap() error    { return e.Err }
func (e *MissingRootError) Kind() ErrorKind { return ErrorKindMissingRoot }

// MatchConflictError is returned when two fragments use the same pattern with different match types.
type MatchConflictError struct {
	Pattern  string
	Existing MatchType
	Incoming MatchType
	Source   string
}

func (e *MatchConflictError) Error() string {
	return fmt.Sprintf("match %q declared as %s in %s but already merged as %s",
		e.Pattern, e.Incoming, e.Source, e.Existing)
}

func (e *MatchConflictError) Kind() ErrorKind { return ErrorKindMatchConflict }

// PolicyViolationError is returned when fragment policies deny a fragment.
type PolicyViolationError struct {
	Source     string
	Violations []string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("fragment %s rejected by policy: %s", e.Source, strings.Join(e.Violations, "; "))
}

func (e *PolicyViolationError) Kind() ErrorKind { return ErrorKindPolicyViolation }
