package topd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openfroyo/topd/pkg/engine"
	"github.com/openfroyo/topd/pkg/fragment"
	"github.com/openfroyo/topd/pkg/pathutil"
	"github.com/openfroyo/topd/pkg/scanner"
)

// FragmentStatus describes one fragment file, enabled or not.
type FragmentStatus struct {
	// Name is the path relative to the marker directory for enabled
	// fragments, or relative to the root for disabled candidates.
	Name string `json:"name" yaml:"name"`

	// Path is the absolute path of the file.
	Path string `json:"path" yaml:"path"`

	// Link is the resolved target when the fragment is a symlink.
	Link string `json:"link,omitempty" yaml:"link,omitempty"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Status lists the enabled fragments of one environment and the candidates
// that could be enabled.
type Status struct {
	Environment string           `json:"environment" yaml:"environment"`
	Namespace   engine.Namespace `json:"namespace" yaml:"namespace"`
	Enabled     []FragmentStatus `json:"enabled" yaml:"enabled"`
	Disabled    []FragmentStatus `json:"disabled" yaml:"disabled"`
}

// ReportEntry is one merged match key with the sources of its targets.
type ReportEntry struct {
	Match      string                `json:"match" yaml:"match"`
	Type       engine.MatchType      `json:"type" yaml:"type"`
	Targets    []string              `json:"targets" yaml:"targets"`
	Provenance []engine.Contribution `json:"provenance" yaml:"provenance"`
}

// Report is a rendered top with provenance.
type Report struct {
	Environment string           `json:"environment" yaml:"environment"`
	Namespace   engine.Namespace `json:"namespace" yaml:"namespace"`
	Digest      string           `json:"digest" yaml:"digest"`
	Sources     []string         `json:"sources" yaml:"sources"`
	Entries     []ReportEntry    `json:"entries" yaml:"entries"`
}

// Status reports which fragments are enabled for env and which candidate
// files under the root are not linked into the marker directory.
func (a *Assembler) Status(ctx context.Context, env string, pillar bool) (*Status, error) {
	env = a.Config.Environment(env)
	ns := engine.NamespaceFor(pillar)

	_, sc, err := a.tools()
	if err != nil {
		return nil, err
	}

	files, err := sc.Collect(ctx, env, ns)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Environment: env,
		Namespace:   ns,
		Enabled:     []FragmentStatus{},
		Disabled:    []FragmentStatus{},
	}
	linked := make(map[string]bool)
	for _, f := range files {
		status.Enabled = append(status.Enabled, FragmentStatus{
			Name:    f.RelPath,
			Path:    f.Path,
			Link:    f.Link,
			Enabled: true,
		})
		if f.Link != "" {
			linked[f.Link] = true
		}
	}

	candidates, err := sc.Candidates(ctx, ns)
	if err != nil {
		return nil, err
	}
	root := a.Config.Root(ns)
	for _, path := range candidates {
		real := path
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			real = resolved
		}
		if linked[real] {
			continue
		}
		name, err := filepath.Rel(root, path)
		if err != nil {
			name = path
		}
		status.Disabled = append(status.Disabled, FragmentStatus{
			Name: filepath.ToSlash(name),
			Path: path,
		})
	}

	return status, nil
}

// Report renders the top for env and lists, for every entry, which source
// contributed which targets.
func (a *Assembler) Report(ctx context.Context, env string, pillar bool) (*Report, error) {
	result, err := a.Render(ctx, env, pillar)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Environment: result.Environment,
		Namespace:   result.Namespace,
		Digest:      result.Digest,
		Sources:     result.Merged.Sources(),
		Entries:     make([]ReportEntry, 0, result.Merged.Len()),
	}
	for _, e := range result.Merged.Entries() {
		report.Entries = append(report.Entries, ReportEntry{
			Match:      e.Match.Pattern,
			Type:       e.Match.Type,
			Targets:    e.Targets,
			Provenance: result.Merged.Provenance(e.Match),
		})
	}
	return report, nil
}

// IsEnabled reports whether path is an enabled fragment of env, either
// directly or through a link in the marker directory.
func (a *Assembler) IsEnabled(ctx context.Context, env string, pillar bool, path string) (bool, error) {
	status, err := a.Status(ctx, env, pillar)
	if err != nil {
		return false, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	for _, f := range status.Enabled {
		if f.Path == abs || f.Link == abs {
			return true, nil
		}
	}
	return false, nil
}

// Enable links a candidate fragment file into <marker>/<env>/ and returns
// the link path. The link is named after the file's path relative to the
// root with separators replaced by dots.
func (a *Assembler) Enable(env string, pillar bool, path string) (string, error) {
	env = a.Config.Environment(env)
	if !environmentName.MatchString(env) {
		return "", engine.NewPathResolutionError(env, "invalid environment name")
	}
	ns := engine.NamespaceFor(pillar)

	paths, _, err := a.tools()
	if err != nil {
		return "", err
	}
	root, err := paths.RequireRoot(ns)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	info, err := paths.Resolve(path)
	if err != nil {
		return "", err
	}
	if info.Namespace != ns {
		return "", engine.NewPathResolutionError(path, fmt.Sprintf("not under the %s root", ns))
	}
	if info.InDropIn {
		return "", engine.NewPathResolutionError(path, "already inside the drop-in directory")
	}
	if ok, _ := doublestar.Match(a.Config.FragmentPattern, info.RelPath); !ok {
		return "", fmt.Errorf("%s does not match fragment pattern %q", path, a.Config.FragmentPattern)
	}
	st, err := os.Stat(info.Path)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !st.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", path)
	}

	dropIn, _ := paths.DropInDir(ns)
	dir := filepath.Join(dropIn, env)
	link := filepath.Join(dir, linkName(info.RelPath))

	if existing, err := os.Readlink(link); err == nil {
		if existing == info.Path {
			a.Logger.Debug().Str("link", link).Msg("Fragment already enabled")
			return link, nil
		}
		return "", fmt.Errorf("%s already links to %s", link, existing)
	}
	if _, err := os.Lstat(link); err == nil {
		return "", fmt.Errorf("%s already exists", link)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.Symlink(info.Path, link); err != nil {
		return "", fmt.Errorf("failed to enable %s: %w", path, err)
	}

	a.Logger.Info().
		Str("environment", env).
		Str("namespace", string(ns)).
		Str("fragment_path", info.Path).
		Str("link", link).
		Msg("Enabled fragment")
	return link, nil
}

// Disable removes an enabled fragment link. name is either a path inside
// the marker directory, relative to it, or relative to <marker>/<env>/.
// Regular files and links owned by another environment are never removed.
func (a *Assembler) Disable(env string, pillar bool, name string) (string, error) {
	env = a.Config.Environment(env)
	if !environmentName.MatchString(env) {
		return "", engine.NewPathResolutionError(env, "invalid environment name")
	}
	ns := engine.NamespaceFor(pillar)

	paths, _, err := a.tools()
	if err != nil {
		return "", err
	}
	if _, err := paths.RequireRoot(ns); err != nil {
		return "", err
	}
	dropIn, _ := paths.DropInDir(ns)

	var candidates []string
	if filepath.IsAbs(name) {
		candidates = []string{name}
	} else {
		candidates = []string{
			filepath.Join(dropIn, env, name),
			filepath.Join(dropIn, env, linkName(name)),
			filepath.Join(dropIn, name),
		}
	}

	for _, link := range candidates {
		st, err := os.Lstat(link)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", link, err)
		}

		info, err := paths.Resolve(link)
		if err != nil {
			return "", err
		}
		if !info.InDropIn || info.Namespace != ns {
			return "", engine.NewPathResolutionError(link, "not inside the drop-in directory")
		}
		if info.Environment != env {
			return "", engine.NewPathResolutionError(link, fmt.Sprintf("not in environment %s", env))
		}
		if st.Mode()&fs.ModeSymlink == 0 {
			return "", fmt.Errorf("%s is a regular file, refusing to remove it", link)
		}
		if err := os.Remove(link); err != nil {
			return "", fmt.Errorf("failed to disable %s: %w", link, err)
		}

		a.Logger.Info().
			Str("environment", env).
			Str("namespace", string(ns)).
			Str("link", link).
			Msg("Disabled fragment")
		return link, nil
	}

	return "", fmt.Errorf("no enabled fragment %q in %s", name, env)
}

// Environments lists the environments that have a base top section or at
// least one fragment.
func (a *Assembler) Environments(ctx context.Context, pillar bool) ([]string, error) {
	ns := engine.NamespaceFor(pillar)
	_, sc, err := a.tools()
	if err != nil {
		return nil, err
	}
	envs, err := sc.Environments(ctx, ns)
	if err != nil {
		return nil, err
	}

	base, err := a.baseEnvironments(ns)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(envs))
	for _, env := range envs {
		seen[env] = true
	}
	for _, env := range base {
		if !seen[env] {
			seen[env] = true
			envs = append(envs, env)
		}
	}
	sort.Strings(envs)
	return envs, nil
}

func (a *Assembler) baseEnvironments(ns engine.Namespace) ([]string, error) {
	raw, err := fragment.ParseTopFile(filepath.Join(a.Config.Root(ns), a.Config.TopFile), ns)
	if err != nil {
		return nil, err
	}
	return raw.Environments, nil
}

func (a *Assembler) tools() (*pathutil.PathUtils, *scanner.Scanner, error) {
	paths, err := pathutil.New(a.Config.Roots(), a.Config.DropInDir)
	if err != nil {
		return nil, nil, err
	}
	sc, err := scanner.New(paths,
		scanner.WithPattern(a.Config.FragmentPattern),
		scanner.WithLogger(a.Logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return paths, sc, nil
}

// linkName flattens a root-relative path into one file name.
func linkName(rel string) string {
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}
