// Package scanner discovers drop-in fragment files for one environment and namespace.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/openfroyo/topd/pkg/engine"
	"github.com/openfroyo/topd/pkg/pathutil"
)

// DefaultPattern selects fragment files below the marker directory.
const DefaultPattern = "**/*.top"

// FragmentFile describes one discovered fragment file.
type FragmentFile struct {
	// Path is the absolute path of the file inside the marker directory.
	Path string

	// RelPath is the slash-separated path relative to the marker directory.
	// Files are yielded in lexicographic order of RelPath.
	RelPath string

	// Environment and Namespace the fragment contributes to.
	Environment string
	Namespace   engine.Namespace

	// Link is the symlink target when the file is a symlink.
	Link string
}

// Scanner walks marker directories.
type Scanner struct {
	paths   *pathutil.PathUtils
	pattern string
	logger  zerolog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPattern overrides the doublestar pattern fragment files must match.
func WithPattern(pattern string) Option {
	return func(s *Scanner) {
		if pattern != "" {
			s.pattern = pattern
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

// New creates a scanner over the roots known to paths.
func New(paths *pathutil.PathUtils, opts ...Option) (*Scanner, error) {
	s := &Scanner{
		paths:   paths,
		pattern: DefaultPattern,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !doublestar.ValidatePattern(s.pattern) {
		return nil, fmt.Errorf("invalid fragment pattern %q", s.pattern)
	}
	return s, nil
}

// Scan yields the fragment files of env in ns, sorted by RelPath. A missing
// root yields a single MissingRootError; a missing marker directory yields nothing.
func (s *Scanner) Scan(ctx context.Context, env string, ns engine.Namespace) iter.Seq2[FragmentFile, error] {
	return func(yield func(FragmentFile, error) bool) {
		files, err := s.list(ctx, ns, func(info *pathutil.PathInfo) bool {
			return info.Environment == env
		})
		if err != nil {
			yield(FragmentFile{}, err)
			return
		}
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				yield(FragmentFile{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Collect drains Scan into a slice.
func (s *Scanner) Collect(ctx context.Context, env string, ns engine.Namespace) ([]FragmentFile, error) {
	var files []FragmentFile
	for f, err := range s.Scan(ctx, env, ns) {
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// Environments returns every environment that has at least one fragment in ns.
func (s *Scanner) Environments(ctx context.Context, ns engine.Namespace) ([]string, error) {
	files, err := s.list(ctx, ns, func(info *pathutil.PathInfo) bool {
		return info.Environment != ""
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var envs []string
	for _, f := range files {
		if !seen[f.Environment] {
			seen[f.Environment] = true
			envs = append(envs, f.Environment)
		}
	}
	sort.Strings(envs)
	return envs, nil
}

// Candidates returns files under ns's root that match the fragment pattern
// but live outside the marker directory. They can be enabled by linking them
// into the marker directory.
func (s *Scanner) Candidates(ctx context.Context, ns engine.Namespace) ([]string, error) {
	root, err := s.paths.RequireRoot(ns)
	if err != nil {
		return nil, err
	}
	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && s.paths.IsMarkerSegment(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if ok, _ := doublestar.Match(s.pattern, filepath.ToSlash(rel)); ok {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s root: %w", ns, err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Scanner) list(ctx context.Context, ns engine.Namespace, keep func(*pathutil.PathInfo) bool) ([]FragmentFile, error) {
	if _, err := s.paths.RequireRoot(ns); err != nil {
		return nil, err
	}
	dir, _ := s.paths.DropInDir(ns)
	st, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug().Str("dir", dir).Msg("No drop-in directory")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat drop-in directory %s: %w", dir, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("drop-in path %s is not a directory", dir)
	}

	// The marker directory itself may be a link; walk its target but report
	// paths below the configured root.
	walkRoot := dir
	if real, err := filepath.EvalSymlinks(dir); err == nil {
		walkRoot = real
	}

	var files []FragmentFile
	err = filepath.WalkDir(walkRoot, func(walked string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(walkRoot, walked)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, rel)
		rel = filepath.ToSlash(rel)
		if ok, _ := doublestar.Match(s.pattern, rel); !ok {
			return nil
		}

		var link string
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Stat(path)
			if err != nil {
				s.logger.Warn().Err(err).Str("path", path).Msg("Skipping dangling fragment link")
				return nil
			}
			if !target.Mode().IsRegular() {
				s.logger.Debug().Str("path", path).Msg("Skipping linked directory")
				return nil
			}
			if link, err = filepath.EvalSymlinks(path); err != nil {
				return err
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		info, err := s.paths.Resolve(path)
		if err != nil {
			return err
		}
		if info.Environment == "" {
			s.logger.Debug().Str("path", path).Msg("Skipping fragment without environment")
			return nil
		}
		if !keep(info) {
			return nil
		}
		files = append(files, FragmentFile{
			Path:        path,
			RelPath:     rel,
			Environment: info.Environment,
			Namespace:   ns,
			Link:        link,
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to scan drop-in directory %s: %w", dir, err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].RelPath < files[j].RelPath
	})
	return files, nil
}
