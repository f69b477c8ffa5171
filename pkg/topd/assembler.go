package topd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/topd/pkg/config"
	"github.com/openfroyo/topd/pkg/engine"
	"github.com/openfroyo/topd/pkg/fragment"
	"github.com/openfroyo/topd/pkg/matcher"
	"github.com/openfroyo/topd/pkg/pathutil"
	"github.com/openfroyo/topd/pkg/policy"
	"github.com/openfroyo/topd/pkg/scanner"
	"github.com/openfroyo/topd/pkg/stores"
	"github.com/openfroyo/topd/pkg/telemetry"
)

var environmentName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// PolicyChecker admits or rejects a fragment before it is merged.
type PolicyChecker interface {
	Check(ctx context.Context, f *engine.Fragment) error
}

// SchemaValidator validates a rendered top.
type SchemaValidator interface {
	ValidateTop(ctx context.Context, top engine.Top) error
}

// Recorder keeps a record of successful renders.
type Recorder interface {
	RecordRender(ctx context.Context, render *stores.Render) error
}

// Result is one successful render.
type Result struct {
	Environment string
	Namespace   engine.Namespace

	// Top is the rendered {environment: {match: targets}} structure.
	Top engine.Top

	// Merged is the merged top for Environment, with provenance.
	Merged *engine.MergedTop

	// Base is the base top file that was consulted.
	Base string

	// Fragments are the fragment files merged, in merge order.
	Fragments []scanner.FragmentFile

	// Digest is the hex SHA-256 of the YAML rendering of Top.
	Digest string

	RenderedAt time.Time
	Duration   time.Duration
}

// Assembler renders tops from a base top file and the drop-in fragments
// found on disk. It holds no state between calls: every call rescans.
type Assembler struct {
	Config *config.Config
	Logger zerolog.Logger

	// Policy, Schema and Recorder are optional.
	Policy   PolicyChecker
	Schema   SchemaValidator
	Recorder Recorder
}

// New creates an assembler for cfg, loading the configured policies and
// the output schema when schema checks are on.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Assembler{
		Config: cfg,
		Logger: logger.With().Str("component", "assembler").Logger(),
	}

	if cfg.Policy.Enabled() {
		pe := policy.NewEngine(logger)
		if cfg.Policy.Builtins {
			if err := pe.LoadBuiltins(ctx); err != nil {
				return nil, fmt.Errorf("failed to load built-in policies: %w", err)
			}
		}
		if len(cfg.Policy.Paths) > 0 {
			if err := pe.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
				return nil, fmt.Errorf("failed to load policies: %w", err)
			}
		}
		a.Policy = pe
	}

	if cfg.SchemaCheck {
		a.Schema = config.NewSchemaRegistry()
	}

	return a, nil
}

// GetTop renders the top for env using cfg. An empty env selects the
// configured default environment; pillar selects the pillar namespace.
func GetTop(ctx context.Context, cfg *config.Config, env string, pillar bool) (engine.Top, error) {
	a, err := New(ctx, cfg, zerolog.Ctx(ctx).With().Logger())
	if err != nil {
		return nil, err
	}
	return a.Top(ctx, env, pillar)
}

// Top renders the top for env and returns only the data.
func (a *Assembler) Top(ctx context.Context, env string, pillar bool) (engine.Top, error) {
	result, err := a.Render(ctx, env, pillar)
	if err != nil {
		return nil, err
	}
	return result.Top, nil
}

// Render scans, parses, adapts, checks and merges every fragment of env,
// then seeds the merge with the base top. Any error aborts the render.
func (a *Assembler) Render(ctx context.Context, env string, pillar bool) (*Result, error) {
	env = a.Config.Environment(env)
	ns := engine.NamespaceFor(pillar)

	ic := telemetry.StartOperation(ctx, telemetry.SpanRender,
		telemetry.AttrEnvironment.String(env),
		telemetry.AttrNamespace.String(string(ns)),
	)
	logger := a.Logger.With().Str("environment", env).Str("namespace", string(ns)).Logger()

	result, err := a.render(ic.Ctx, env, ns, logger)
	if err != nil {
		ic.Span.SetAttributes(telemetry.AttrErrorKind.String(string(engine.KindOf(err))))
	} else {
		ic.Span.SetAttributes(
			telemetry.AttrFragments.Int(len(result.Fragments)),
			telemetry.AttrMatchKeys.Int(result.Merged.Len()),
		)
	}
	ic.End(err)

	tel := telemetry.FromTelemetryContext(ctx)
	if err != nil {
		kind := engine.KindOf(err)
		logger.Error().Err(err).Str("kind", string(kind)).Msg("Render failed")
		if tel != nil {
			tel.Metrics.RecordRender(env, string(ns), telemetry.StatusFailure, 0, 0, ic.Timer.Duration())
			tel.Metrics.RecordError(string(kind))
			_ = tel.Events.PublishTopFailed(env, string(ns), string(kind), err.Error())
		}
		return nil, err
	}

	result.Duration = ic.Timer.Duration()
	logger.Debug().
		Int("fragments", len(result.Fragments)).
		Int("entries", result.Merged.Len()).
		Str("digest", result.Digest).
		Dur("duration", result.Duration).
		Msg("Rendered top")

	if tel != nil {
		tel.Metrics.RecordRender(env, string(ns), telemetry.StatusSuccess, len(result.Fragments), result.Merged.Len(), result.Duration)
		_ = tel.Events.PublishTopRendered(env, string(ns), result.Digest, len(result.Fragments), result.Duration)
	}

	if a.Recorder != nil {
		err := a.Recorder.RecordRender(ctx, &stores.Render{
			ID:            uuid.NewString(),
			Environment:   env,
			Namespace:     string(ns),
			Digest:        result.Digest,
			FragmentCount: len(result.Fragments),
			EntryCount:    result.Merged.Len(),
			Sources:       result.Merged.Sources(),
			Duration:      result.Duration,
			RenderedAt:    result.RenderedAt,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to record render")
		}
	}

	return result, nil
}

func (a *Assembler) render(ctx context.Context, env string, ns engine.Namespace, logger zerolog.Logger) (*Result, error) {
	if !environmentName.MatchString(env) {
		return nil, engine.NewPathResolutionError(env, "invalid environment name")
	}

	paths, err := pathutil.New(a.Config.Roots(), a.Config.DropInDir)
	if err != nil {
		return nil, err
	}
	root, err := paths.RequireRoot(ns)
	if err != nil {
		return nil, err
	}

	basePath := filepath.Join(root, a.Config.TopFile)
	base, err := a.loadBase(basePath, env, ns, logger)
	if err != nil {
		return nil, err
	}

	files, fragments, err := a.loadFragments(ctx, paths, env, ns, logger)
	if err != nil {
		return nil, err
	}

	mergeCtx := telemetry.StartOperation(ctx, telemetry.SpanMerge)
	merged, err := engine.Merge(env, ns, base, fragments)
	mergeCtx.End(err)
	if err != nil {
		return nil, err
	}

	top := engine.Top{env: merged}
	if a.Schema != nil {
		if err := a.Schema.ValidateTop(ctx, top); err != nil {
			return nil, fmt.Errorf("rendered top failed schema check: %w", err)
		}
	}

	digest, err := Digest(top)
	if err != nil {
		return nil, err
	}

	return &Result{
		Environment: env,
		Namespace:   ns,
		Top:         top,
		Merged:      merged,
		Base:        basePath,
		Fragments:   files,
		Digest:      digest,
		RenderedAt:  time.Now().UTC(),
	}, nil
}

// loadBase returns the env section of the base top, or nil when the file or
// the section is absent.
func (a *Assembler) loadBase(path, env string, ns engine.Namespace, logger zerolog.Logger) (*engine.Fragment, error) {
	raw, err := fragment.ParseTopFile(path, ns)
	if err != nil {
		return nil, err
	}
	if len(raw.Includes) > 0 {
		logger.Info().Strs("include", raw.Includes).Str("top", path).Msg("Ignoring include in base top")
	}
	if !raw.Has(env) {
		logger.Debug().Str("top", path).Msg("Base top has no section for environment")
		return nil, nil
	}
	return matcher.Adapt(raw.Section(env))
}

func (a *Assembler) loadFragments(ctx context.Context, paths *pathutil.PathUtils, env string, ns engine.Namespace, logger zerolog.Logger) ([]scanner.FragmentFile, []*engine.Fragment, error) {
	ic := telemetry.StartOperation(ctx, telemetry.SpanScan)

	sc, err := scanner.New(paths,
		scanner.WithPattern(a.Config.FragmentPattern),
		scanner.WithLogger(logger),
	)
	if err != nil {
		ic.End(err)
		return nil, nil, err
	}

	var (
		files     []scanner.FragmentFile
		fragments []*engine.Fragment
	)
	for file, err := range sc.Scan(ic.Ctx, env, ns) {
		if err != nil {
			ic.End(err)
			return nil, nil, err
		}
		f, err := a.loadFragment(ic.Ctx, file)
		if err != nil {
			ic.End(err)
			return nil, nil, err
		}
		logger.Debug().Str("fragment_path", file.Path).Int("entries", f.Len()).Msg("Loaded fragment")
		files = append(files, file)
		fragments = append(fragments, f)
	}

	ic.End(nil)
	return files, fragments, nil
}

func (a *Assembler) loadFragment(ctx context.Context, file scanner.FragmentFile) (*engine.Fragment, error) {
	raw, err := fragment.ParseFile(file.Path, file.Environment, file.Namespace)
	if err != nil {
		return nil, err
	}
	f, err := matcher.Adapt(raw)
	if err != nil {
		return nil, err
	}
	if a.Policy == nil {
		return f, nil
	}

	pc := telemetry.StartOperation(ctx, telemetry.SpanPolicy)
	err = a.Policy.Check(pc.Ctx, f)
	pc.End(err)
	if err != nil {
		var violation *engine.PolicyViolationError
		if errors.As(err, &violation) {
			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				_ = tel.Events.PublishPolicyViolation(f.Environment, string(f.Namespace), f.Source, violation.Violations)
			}
		}
		return nil, err
	}
	return f, nil
}

// Digest returns the hex SHA-256 of the YAML rendering of top. Equal tops
// always have equal digests.
func Digest(top engine.Top) (string, error) {
	data, err := yaml.Marshal(top)
	if err != nil {
		return "", fmt.Errorf("failed to render top: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
