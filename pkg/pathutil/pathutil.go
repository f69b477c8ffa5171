// Package pathutil classifies filesystem paths against the configured state
// and pillar roots and recognizes the drop-in directory marker.
package pathutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/openfroyo/topd/pkg/engine"
)

const (
	// DefaultMarker is the name of the drop-in directory inside each root.
	DefaultMarker = "_tops"

	// SaltScheme prefixes virtual paths relative to a root.
	SaltScheme = "salt://"

	// envSeparator joins environment and name in files placed directly in the marker directory.
	envSeparator = "|"
)

// PathInfo describes where a path sits relative to the configured roots.
type PathInfo struct {
	// Path is the cleaned absolute path that was resolved.
	Path string

	// Root is the root that owns the path.
	Root string

	// Namespace is the namespace of Root.
	Namespace engine.Namespace

	// RelPath is the slash-separated path relative to Root.
	RelPath string

	// InDropIn is set when one segment of RelPath is exactly the marker.
	InDropIn bool

	// DropInRelPath is the slash-separated path after the marker segment.
	DropInRelPath string

	// Environment is the environment implied by the drop-in layout, if any.
	Environment string

	// Name is the fragment name implied by the drop-in layout, if any.
	Name string
}

// SaltPath returns the salt:// form of the path.
func (i *PathInfo) SaltPath() string {
	return SaltScheme + i.RelPath
}

// PathUtils resolves paths against a fixed set of roots.
type PathUtils struct {
	roots    map[engine.Namespace]string
	resolved map[engine.Namespace]string
	marker   string
}

// New creates path utilities for the given roots. Roots are cleaned and made
// absolute; roots that exist are also symlink-resolved for matching.
func New(roots map[engine.Namespace]string, marker string) (*PathUtils, error) {
	if marker == "" {
		marker = DefaultMarker
	}
	if strings.ContainsAny(marker, `/\`) || marker == "." || marker == ".." {
		return nil, fmt.Errorf("invalid drop-in marker %q", marker)
	}

	p := &PathUtils{
		roots:    make(map[engine.Namespace]string, len(roots)),
		resolved: make(map[engine.Namespace]string, len(roots)),
		marker:   marker,
	}
	for ns, root := range roots {
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s root %q: %w", ns, root, err)
		}
		p.roots[ns] = abs
		p.resolved[ns] = abs
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			p.resolved[ns] = real
		}
	}
	return p, nil
}

// Marker returns the drop-in marker segment name.
func (p *PathUtils) Marker() string {
	return p.marker
}

// Root returns the configured root for ns.
func (p *PathUtils) Root(ns engine.Namespace) (string, bool) {
	root, ok := p.roots[ns]
	return root, ok
}

// DropInDir returns the marker directory of ns's root.
func (p *PathUtils) DropInDir(ns engine.Namespace) (string, bool) {
	root, ok := p.roots[ns]
	if !ok {
		return "", false
	}
	return filepath.Join(root, p.marker), true
}

// RequireRoot returns the root for ns or a MissingRootError when it is not
// configured, does not exist or is not a directory.
func (p *PathUtils) RequireRoot(ns engine.Namespace) (string, error) {
	root, ok := p.roots[ns]
	if !ok {
		return "", &engine.MissingRootError{Namespace: ns, Err: errors.New("not configured")}
	}
	st, err := os.Stat(root)
	if err != nil {
		return "", &engine.MissingRootError{Namespace: ns, Root: root, Err: err}
	}
	if !st.IsDir() {
		return "", &engine.MissingRootError{Namespace: ns, Root: root, Err: errors.New("not a directory")}
	}
	return root, nil
}

// IsMarkerSegment reports whether seg is exactly the marker.
// Names that merely contain the marker, such as "_topsXYZ" or "prefix_tops", are not.
func (p *PathUtils) IsMarkerSegment(seg string) bool {
	return seg == p.marker
}

// MarkerIndex returns the index of the first segment of the slash-separated
// rel path that equals the marker, or -1.
func (p *PathUtils) MarkerIndex(rel string) int {
	for i, seg := range strings.Split(rel, "/") {
		if p.IsMarkerSegment(seg) {
			return i
		}
	}
	return -1
}

// Resolve classifies path. It fails with a PathResolutionError when the path
// is not inside any configured root, even after resolving symlinks.
func (p *PathUtils) Resolve(target string) (*PathInfo, error) {
	if target == "" {
		return nil, engine.NewPathResolutionError(target, "empty path")
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, engine.NewPathResolutionError(target, "cannot make absolute").WithCause(err)
	}

	if info, ok := p.classify(abs, p.roots); ok {
		return info, nil
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, engine.NewPathResolutionError(target, "cannot resolve symlinks").WithCause(err)
	}
	if err == nil {
		if info, ok := p.classify(real, p.resolved); ok {
			info.Path = abs
			return info, nil
		}
	}
	if info, ok := p.classify(abs, p.resolved); ok {
		return info, nil
	}
	return nil, engine.NewPathResolutionError(target, "not inside any configured root")
}

// ResolveSaltPath maps a salt:// virtual path onto ns's root.
func (p *PathUtils) ResolveSaltPath(ns engine.Namespace, virtual string) (string, error) {
	rel, ok := strings.CutPrefix(virtual, SaltScheme)
	if !ok {
		return "", engine.NewPathResolutionError(virtual, "not a "+SaltScheme+" path")
	}
	root, ok := p.roots[ns]
	if !ok {
		return "", engine.NewPathResolutionError(virtual, fmt.Sprintf("no %s root configured", ns))
	}
	clean := path.Clean(strings.TrimLeft(rel, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", engine.NewPathResolutionError(virtual, "escapes the root")
	}
	if clean == "." {
		return root, nil
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

// classify picks the most specific root containing abs.
func (p *PathUtils) classify(abs string, roots map[engine.Namespace]string) (*PathInfo, bool) {
	var (
		best   engine.Namespace
		bestAt string
		rel    string
	)
	for _, ns := range engine.Namespaces {
		root, ok := roots[ns]
		if !ok {
			continue
		}
		r, inside := within(root, abs)
		if !inside {
			continue
		}
		if len(root) > len(bestAt) {
			best, bestAt, rel = ns, root, r
		}
	}
	if bestAt == "" {
		return nil, false
	}

	info := &PathInfo{
		Path:      abs,
		Root:      p.roots[best],
		Namespace: best,
		RelPath:   rel,
	}
	p.describeDropIn(info)
	return info, true
}

// describeDropIn fills the drop-in fields from the layout after the marker:
// "<env>/<...>/<name>.top" or "<env>|<name>.top".
func (p *PathUtils) describeDropIn(info *PathInfo) {
	idx := p.MarkerIndex(info.RelPath)
	if idx < 0 {
		return
	}
	segs := strings.Split(info.RelPath, "/")
	info.InDropIn = true
	info.DropInRelPath = strings.Join(segs[idx+1:], "/")

	after := segs[idx+1:]
	switch {
	case len(after) == 0 || after[0] == "":
	case len(after) == 1:
		if env, name, ok := strings.Cut(after[0], envSeparator); ok && env != "" {
			info.Environment = env
			info.Name = name
		}
	default:
		info.Environment = after[0]
		info.Name = strings.Join(after[1:], "/")
	}
}

// within reports whether abs is root or lies below it, segment-wise, and
// returns the slash-separated relative path.
func within(root, abs string) (string, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	if rel == "." {
		rel = ""
	}
	return filepath.ToSlash(rel), true
}
