package topd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/topd/pkg/engine"
	"github.com/openfroyo/topd/pkg/telemetry"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// Target is one top the watcher keeps rendered.
type Target struct {
	Environment string
	Pillar      bool
}

// ChangeFunc receives the outcome of every render the watcher performs.
type ChangeFunc func(target Target, result *Result, err error)

// Watcher re-renders tops whenever a base top file or a file below a
// marker directory changes. Renders run one at a time on the Run goroutine.
type Watcher struct {
	assembler *Assembler
	targets   []Target
	debounce  time.Duration
	logger    zerolog.Logger

	fsw *fsnotify.Watcher
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for targets. With no targets it watches the
// default environment in both namespaces.
func NewWatcher(a *Assembler, targets []Target, opts ...WatcherOption) *Watcher {
	if len(targets) == 0 {
		env := a.Config.Environment("")
		targets = []Target{{Environment: env}, {Environment: env, Pillar: true}}
	}
	w := &Watcher{
		assembler: a,
		targets:   targets,
		debounce:  DefaultDebounce,
		logger:    a.Logger.With().Str("component", "watcher").Logger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run renders every target once, then again after each settled change,
// until ctx is done.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()
	w.fsw = fsw

	for _, ns := range engine.Namespaces {
		if err := w.watchRoot(ns); err != nil {
			w.logger.Warn().Err(err).Str("namespace", string(ns)).Msg("Not watching root")
		}
	}

	w.renderAll(ctx, "", onChange)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var trigger string
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod || !w.relevant(event.Name) {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				w.watchCreated(event.Name)
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Top source changed")

			trigger = event.Name
			timer.Reset(w.debounce)

		case <-timer.C:
			w.renderAll(ctx, trigger, onChange)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) renderAll(ctx context.Context, trigger string, onChange ChangeFunc) {
	tel := telemetry.FromTelemetryContext(ctx)
	for _, t := range w.targets {
		if ctx.Err() != nil {
			return
		}
		result, err := w.assembler.Render(ctx, t.Environment, t.Pillar)
		if trigger != "" && tel != nil {
			tel.Metrics.RecordWatchReload()
			_ = tel.Events.PublishWatchReloaded(w.assembler.Config.Environment(t.Environment), string(engine.NamespaceFor(t.Pillar)), trigger)
		}
		if onChange != nil {
			onChange(t, result, err)
		}
	}
}

// watchRoot watches the root itself, for the base top file and for the
// marker directory appearing, and every directory below the marker.
func (w *Watcher) watchRoot(ns engine.Namespace) error {
	root := w.assembler.Config.Root(ns)
	if err := w.fsw.Add(root); err != nil {
		return err
	}
	marker := filepath.Join(root, w.assembler.Config.DropInDir)
	if _, err := os.Stat(marker); err != nil {
		return nil
	}
	return w.watchTree(marker)
}

func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// watchCreated starts watching a directory created below a marker directory.
func (w *Watcher) watchCreated(path string) {
	st, err := os.Stat(path)
	if err != nil || !st.IsDir() {
		return
	}
	if err := w.watchTree(path); err != nil {
		w.logger.Warn().Err(err).Str("dir", path).Msg("Failed to watch new directory")
	}
}

// relevant reports whether path is a base top file, a marker directory or
// lies below one.
func (w *Watcher) relevant(path string) bool {
	cfg := w.assembler.Config
	for _, ns := range engine.Namespaces {
		root := cfg.Root(ns)
		if path == filepath.Join(root, cfg.TopFile) {
			return true
		}
		marker := filepath.Join(root, cfg.DropInDir)
		if rel, err := filepath.Rel(marker, path); err == nil && rel != ".." && !filepath.IsAbs(rel) &&
			(rel == "." || !hasParentPrefix(rel)) {
			return true
		}
	}
	return false
}

func hasParentPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
