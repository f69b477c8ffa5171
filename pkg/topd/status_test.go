package topd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/topd/pkg/engine"
)

func TestEnableDisableCycle(t *testing.T) {
	cfg := setup(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), baseTop)
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "core.top"), "'*': [extra]\n")
	candidate := filepath.Join(cfg.StateRoot, "nginx", "nginx.top")
	writeFile(t, candidate, "'web*': [nginx]\n")
	a := newAssembler(t, cfg)

	status, err := a.Status(ctx, "base", false)
	require.NoError(t, err)
	require.Len(t, status.Enabled, 1)
	assert.Equal(t, "base/core.top", status.Enabled[0].Name)
	require.Len(t, status.Disabled, 1)
	assert.Equal(t, "nginx/nginx.top", status.Disabled[0].Name)

	link, err := a.Enable("base", false, "nginx/nginx.top")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.StateRoot, "_tops", "base", "nginx.nginx.top"), link)

	// Enabling twice is a no-op.
	again, err := a.Enable("base", false, candidate)
	require.NoError(t, err)
	assert.Equal(t, link, again)

	enabled, err := a.IsEnabled(ctx, "base", false, candidate)
	require.NoError(t, err)
	assert.True(t, enabled)

	status, err = a.Status(ctx, "base", false)
	require.NoError(t, err)
	assert.Len(t, status.Enabled, 2)
	assert.Empty(t, status.Disabled)

	top, err := a.Top(ctx, "base", false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"*":    []any{"core", "extra"},
		"web*": []any{"nginx"},
	}, top.Plain()["base"])

	removed, err := a.Disable("base", false, "nginx/nginx.top")
	require.NoError(t, err)
	assert.Equal(t, link, removed)
	assert.FileExists(t, candidate)

	enabled, err = a.IsEnabled(ctx, "base", false, candidate)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestEnable_Rejects(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "inside.top"), "'*': [x]\n")
	writeFile(t, filepath.Join(cfg.StateRoot, "notes.txt"), "hello\n")
	outside := filepath.Join(t.TempDir(), "outside.top")
	writeFile(t, outside, "'*': [x]\n")
	a := newAssembler(t, cfg)

	_, err := a.Enable("base", false, outside)
	assert.Equal(t, engine.ErrorKindPathResolution, engine.KindOf(err))

	_, err = a.Enable("base", false, "_tops/base/inside.top")
	assert.Equal(t, engine.ErrorKindPathResolution, engine.KindOf(err))

	_, err = a.Enable("base", false, "notes.txt")
	assert.Error(t, err)

	_, err = a.Enable("../escape", false, "notes.txt")
	assert.Equal(t, engine.ErrorKindPathResolution, engine.KindOf(err))
}

func TestDisable_RefusesRegularFiles(t *testing.T) {
	cfg := setup(t)
	regular := filepath.Join(cfg.StateRoot, "_tops", "base", "owned.top")
	writeFile(t, regular, "'*': [x]\n")
	a := newAssembler(t, cfg)

	_, err := a.Disable("base", false, "owned.top")
	require.Error(t, err)
	assert.FileExists(t, regular)

	_, err = a.Disable("base", false, "missing.top")
	assert.Error(t, err)
}

func TestDisable_StaysInEnvironment(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "formulas", "x.top"), "'*': [x]\n")
	a := newAssembler(t, cfg)

	link, err := a.Enable("dev", false, "formulas/x.top")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.StateRoot, "_tops", "dev", "formulas.x.top"), link)

	for _, name := range []string{"../dev/formulas.x.top", "dev/formulas.x.top", link} {
		_, err = a.Disable("base", false, name)
		require.Error(t, err, name)
		assert.Equal(t, engine.ErrorKindPathResolution, engine.KindOf(err), name)
	}
	_, err = os.Lstat(link)
	require.NoError(t, err)

	_, err = a.Disable("../dev", false, "formulas.x.top")
	assert.Equal(t, engine.ErrorKindPathResolution, engine.KindOf(err))

	removed, err := a.Disable("dev", false, "formulas/x.top")
	require.NoError(t, err)
	assert.Equal(t, link, removed)
}

func TestReport_Provenance(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), baseTop)
	fragment := filepath.Join(cfg.StateRoot, "_tops", "base", "ext.top")
	writeFile(t, fragment, "'*': [core, ext1]\n")

	report, err := newAssembler(t, cfg).Report(context.Background(), "base", false)
	require.NoError(t, err)
	require.Len(t, report.Entries, 1)

	entry := report.Entries[0]
	assert.Equal(t, "*", entry.Match)
	assert.Equal(t, engine.MatchWildcard, entry.Type)
	assert.Equal(t, []string{"core", "ext1"}, entry.Targets)
	assert.Equal(t, []engine.Contribution{
		{Source: filepath.Join(cfg.StateRoot, "top.sls"), Targets: []string{"core"}},
		{Source: fragment, Targets: []string{"ext1"}},
	}, entry.Provenance)
	assert.Len(t, report.Digest, 64)
}

func TestEnvironments(t *testing.T) {
	cfg := setup(t)
	writeFile(t, filepath.Join(cfg.StateRoot, "top.sls"), "base:\n  '*': [core]\nprod:\n  '*': [hardening]\n")
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "dev", "x.top"), "'*': [debug]\n")
	writeFile(t, filepath.Join(cfg.StateRoot, "_tops", "base", "y.top"), "'*': [more]\n")
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.StateRoot, "_tops", "empty"), 0o755))

	envs, err := newAssembler(t, cfg).Environments(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "dev", "prod"}, envs)
}
