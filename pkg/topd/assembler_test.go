package topd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/topd/pkg/config"
	"github.com/openfroyo/topd/pkg/engine"
	"github.com/openfroyo/topd/pkg/stores"
	"github.com/openfroyo/topd/pkg/telemetry"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// setup returns a config over fresh state and pillar roots.
func setup(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StateRoot = filepath.Join(dir, "salt")
	cfg.PillarRoot = filepath.Join(dir, "pillar")
	require.NoError(t, os.MkdirAll(cfg.StateRoot, 0o755))
	require.NoError(t, os.MkdirAll(cfg.PillarRoot, 0o755))
	return cfg
}

func newAssembler(t *testing.T, cfg *config.Config) *Assembler {
	t.Helper()
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	return a
}

const baseTop = `base:
  '*':
    - core
`

func TestGetTop_MergesFragmentsIntoBase(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), baseTop)
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "ext.top"), `
'*':
  - ext1
'web*':
  - webstate
`)

	top, err := GetTop(context.Background(), cfg, "base", false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"base": map[string]any{
			"*":    []any{"core", "ext1"},
			"web*": []any{"webstate"},
		},
	}, top.Plain())

	// Base entries come first, then fragment entries in first-seen order.
	data, err := json.Marshal(top)
	require.NoError(t, err)
	assert.Equal(t, `{"base":{"*":["core","ext1"],"web*":["webstate"]}}`, string(data))

	out, err := yaml.Marshal(top)
	require.NoError(t, err)
	assert.Equal(t, "base:\n    '*':\n        - core\n        - ext1\n    web*:\n        - webstate\n", string(out))
}

func TestRender_EmptyDropInEqualsBase(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), `base:
  '*':
    - core
  'db*':
    - match: glob
    - postgres
  empty: []
`)
	a := newAssembler(t, cfg)

	result, err := a.Render(context.Background(), "", false)
	require.NoError(t, err)
	assert.Equal(t, "base", result.Environment)
	assert.Empty(t, result.Fragments)
	assert.Equal(t, map[string]any{
		"*":     []any{"core"},
		"db*":   []any{"postgres"},
		"empty": []any{},
	}, result.Top.Plain()["base"])
	assert.Equal(t, []string{filepath.Join(cfg.StateRoot, "top.sls")}, result.Merged.Sources())
}

func TestRender_FirstSeenUnionAcrossFragments(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), baseTop)
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "a.top"), "'*': [core, a1]\n")
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "b.top"), "'*': [b1, a1]\n'os:Debian': [{match: grain}, debian]\n")
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "dev", "c.top"), "'*': [devonly]\n")

	a := newAssembler(t, cfg)
	result, err := a.Render(context.Background(), "base", false)
	require.NoError(t, err)

	require.Len(t, result.Fragments, 2)
	targets, ok := result.Merged.Targets(engine.Wildcard())
	require.True(t, ok)
	assert.Equal(t, []string{"core", "a1", "b1"}, targets)

	out, err := yaml.Marshal(result.Top)
	require.NoError(t, err)
	assert.Equal(t, `base:
    '*':
        - core
        - a1
        - b1
    os:Debian:
        - match: grain
        - debian
`, string(out))
}

func TestRender_Deterministic(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), baseTop)
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "z.top"), "'web*': [nginx]\n")
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "m", "y.top"), "'10.0.0.0/8': [{match: ipcidr}, lan]\n")
	a := newAssembler(t, cfg)

	first, err := a.Render(context.Background(), "base", false)
	require.NoError(t, err)
	second, err := a.Render(context.Background(), "base", false)
	require.NoError(t, err)

	assert.Equal(t, first.Digest, second.Digest)
	one, err := yaml.Marshal(first.Top)
	require.NoError(t, err)
	two, err := yaml.Marshal(second.Top)
	require.NoError(t, err)
	assert.Equal(t, one, two)
}

func TestRender_PillarNamespace(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "state.top"), "'*': [state]\n")
	writeFile(t, filepath.Join(cfg.PillarRoot, "_tops", "base", "pillar.top"), "'*': [secrets]\n")

	top, err := newAssembler(t, cfg).Top(context.Background(), "base", true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"*": []any{"secrets"}}, top.Plain()["base"])
}

func TestGetTop_AcceptsSaltMatcherSyntax(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "ext.top"), `
'^(?!web).*$':
  - match: pcre
  - nonweb
'web[':
  - literal
`)

	top, err := GetTop(context.Background(), cfg, "base", false)
	require.NoError(t, err)
	data, err := json.Marshal(top)
	require.NoError(t, err)
	assert.Equal(t, `{"base":{"^(?!web).*$":[{"match":"pcre"},"nonweb"],"web[":["literal"]}}`, string(data))
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, cfg *config.Config)
		env     string
		kind    engine.ErrorKind
	}{
		{
			name: "malformed fragment",
			prepare: func(t *testing.T, cfg *config.Config) {
				writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "bad.top"), "- not\n- a mapping\n")
			},
			kind: engine.ErrorKindFragmentParse,
		},
		{
			name: "malformed base top",
			prepare: func(t *testing.T, cfg *config.Config) {
				writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), "base: [\n")
			},
			kind: engine.ErrorKindFragmentParse,
		},
		{
			name: "unknown match type",
			prepare: func(t *testing.T, cfg *config.Config) {
				writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "x.top"), "'x': [{match: telepathy}, y]\n")
			},
			kind: engine.ErrorKindUnsupportedMatchType,
		},
		{
			name: "conflicting match types",
			prepare: func(t *testing.T, cfg *config.Config) {
				writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "a.top"), "'web': [one]\n")
				writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "b.top"), "'web': [{match: nodegroup}, two]\n")
			},
			kind: engine.ErrorKindMatchConflict,
		},
		{
			name: "missing root",
			prepare: func(t *testing.T, cfg *config.Config) {
				require.NoError(t, os.RemoveAll(cfg.StateRoot))
			},
			kind: engine.ErrorKindMissingRoot,
		},
		{
			name: "invalid environment",
			env:  "../etc",
			kind: engine.ErrorKindPathResolution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := setup(t)
			writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "good.top"), "'*': [fine]\n")
			if tt.prepare != nil {
				tt.prepare(t, cfg)
			}
			env := tt.env
			if env == "" {
				env = "base"
			}

			result, err := newAssembler(t, cfg).Render(context.Background(), env, false)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Equal(t, tt.kind, engine.KindOf(err))
		})
	}
}

func TestRender_PolicyRejectsFragment(t *testing.T) {
	cfg := setup(t)
	cfg.Policy.Builtins = true
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "escape.top"), "'*': [../../etc/passwd]\n")

	_, err := newAssembler(t, cfg).Render(context.Background(), "base", false)
	require.Error(t, err)
	assert.Equal(t, engine.ErrorKindPolicyViolation, engine.KindOf(err))
}

func TestRender_SchemaCheck(t *testing.T) {
	cfg := setup(t)
	cfg.SchemaCheck = true
	writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), baseTop)
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "a.top"), "'web*': [{match: pcre}, nginx]\n")

	a := newAssembler(t, cfg)
	require.NotNil(t, a.Schema)
	_, err := a.Render(context.Background(), "base", false)
	require.NoError(t, err)
}

type fakeRecorder struct {
	mu      sync.Mutex
	renders []*stores.Render
}

func (f *fakeRecorder) RecordRender(_ context.Context, r *stores.Render) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, r)
	return nil
}

func TestRender_RecordsOnlySuccess(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), baseTop)
	a := newAssembler(t, cfg)
	rec := &fakeRecorder{}
	a.Recorder = rec

	result, err := a.Render(context.Background(), "base", false)
	require.NoError(t, err)

	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "bad.top"), "{{ jinja }}\n")
	_, err = a.Render(context.Background(), "base", false)
	require.Error(t, err)

	require.Len(t, rec.renders, 1)
	assert.Equal(t, result.Digest, rec.renders[0].Digest)
	assert.Equal(t, "state", rec.renders[0].Namespace)
	assert.NotEmpty(t, rec.renders[0].ID)
}

func TestRender_Telemetry(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), baseTop)

	tcfg := telemetry.DefaultConfig()
	tcfg.Logging.Output = "stderr"
	tcfg.Logging.Level = "error"
	tcfg.Events.Enabled = true
	tcfg.Events.EnableAsync = false
	tel, err := telemetry.NewTelemetry(tcfg)
	require.NoError(t, err)

	var types []string
	tel.Events.Subscribe(func(e telemetry.Event) { types = append(types, e.Type) }, nil)
	ctx := tel.WithContext(context.Background())

	a := newAssembler(t, cfg)
	_, err = a.Render(ctx, "base", false)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(cfg.PillarRoot))
	_, err = a.Render(ctx, "base", true)
	require.Error(t, err)

	assert.Equal(t, []string{telemetry.EventTypeTopRendered, telemetry.EventTypeTopFailed}, types)
}

func TestDigest(t *testing.T) {
	a := engine.Top{"base": engine.NewMergedTop("base", engine.NamespaceState)}
	b := engine.Top{"base": engine.NewMergedTop("base", engine.NamespaceState)}
	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)
}
