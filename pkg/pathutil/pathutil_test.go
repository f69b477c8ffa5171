package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/topd/pkg/engine"
)

func newUtils(t *testing.T) (*PathUtils, string, string) {
	t.Helper()
	dir := t.TempDir()
	state := filepath.Join(dir, "srv", "salt")
	pillar := filepath.Join(dir, "srv", "pillar")
	require.NoError(t, os.MkdirAll(state, 0o755))
	require.NoError(t, os.MkdirAll(pillar, 0o755))

	p, err := New(map[engine.Namespace]string{
		engine.NamespaceState:  state,
		engine.NamespacePillar: pillar,
	}, "")
	require.NoError(t, err)
	return p, state, pillar
}

func TestResolve_MarkerDetection(t *testing.T) {
	p, state, _ := newUtils(t)

	tests := []struct {
		name     string
		rel      string
		inDropIn bool
		env      string
		dropRel  string
	}{
		{"fragment in env dir", "_tops/base/ext1.top", true, "base", "base/ext1.top"},
		{"nested fragment", "_tops/dev/team/a.top", true, "dev", "dev/team/a.top"},
		{"pipe layout", "_tops/base|ext1.top", true, "base", "base|ext1.top"},
		{"bare file in marker", "_tops/ext1.top", true, "", "ext1.top"},
		{"suffix is not a marker", "_topsXYZ/base/x.top", false, "", ""},
		{"prefix is not a marker", "prefix_tops/base/x.top", false, "", ""},
		{"substring segment below marker", "_tops/not_tops_related/x.top", true, "not_tops_related", "not_tops_related/x.top"},
		{"outside marker", "formulas/nginx/init.sls", false, "", ""},
		{"substring segment outside marker", "not_tops_related/state.sls", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := p.Resolve(filepath.Join(state, filepath.FromSlash(tt.rel)))
			require.NoError(t, err)
			assert.Equal(t, engine.NamespaceState, info.Namespace)
			assert.Equal(t, tt.rel, info.RelPath)
			assert.Equal(t, tt.inDropIn, info.InDropIn)
			assert.Equal(t, tt.env, info.Environment)
			assert.Equal(t, tt.dropRel, info.DropInRelPath)
		})
	}
}

func TestIsMarkerSegment(t *testing.T) {
	p, _, _ := newUtils(t)
	assert.True(t, p.IsMarkerSegment("_tops"))
	assert.False(t, p.IsMarkerSegment("_topsXYZ"))
	assert.False(t, p.IsMarkerSegment("prefix_tops"))
	assert.False(t, p.IsMarkerSegment("not_tops_related"))
	assert.Equal(t, -1, p.MarkerIndex("a/_topsXYZ/b"))
	assert.Equal(t, 1, p.MarkerIndex("a/_tops/b"))
}

func TestResolve_PillarNamespace(t *testing.T) {
	p, _, pillar := newUtils(t)

	info, err := p.Resolve(filepath.Join(pillar, "_tops", "base", "users.top"))
	require.NoError(t, err)
	assert.Equal(t, engine.NamespacePillar, info.Namespace)
	assert.Equal(t, "base", info.Environment)
	assert.Equal(t, "users.top", info.Name)
	assert.Equal(t, "salt://_tops/base/users.top", info.SaltPath())
}

func TestResolve_OutsideRoots(t *testing.T) {
	p, state, _ := newUtils(t)

	_, err := p.Resolve("/etc/passwd")
	require.Error(t, err)
	var perr *engine.PathResolutionError
	require.ErrorAs(t, err, &perr)

	// A sibling sharing a name prefix is not inside the root.
	_, err = p.Resolve(state + "2/x.top")
	require.ErrorAs(t, err, &perr)

	_, err = p.Resolve("")
	require.ErrorAs(t, err, &perr)
}

func TestResolve_NestedRootsPickMostSpecific(t *testing.T) {
	dir := t.TempDir()
	state := filepath.Join(dir, "salt")
	pillar := filepath.Join(state, "pillar")
	require.NoError(t, os.MkdirAll(pillar, 0o755))

	p, err := New(map[engine.Namespace]string{
		engine.NamespaceState:  state,
		engine.NamespacePillar: pillar,
	}, "")
	require.NoError(t, err)

	info, err := p.Resolve(filepath.Join(pillar, "top.sls"))
	require.NoError(t, err)
	assert.Equal(t, engine.NamespacePillar, info.Namespace)
	assert.Equal(t, "top.sls", info.RelPath)
}

func TestResolve_SymlinkedRoot(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real")
	require.NoError(t, os.MkdirAll(real, 0o755))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(real, link))

	p, err := New(map[engine.Namespace]string{engine.NamespaceState: link}, "")
	require.NoError(t, err)

	info, err := p.Resolve(filepath.Join(real, "_tops", "base", "a.top"))
	require.NoError(t, err)
	assert.Equal(t, link, info.Root)
	assert.Equal(t, "_tops/base/a.top", info.RelPath)
	assert.Equal(t, "base", info.Environment)
}

func TestResolveSaltPath(t *testing.T) {
	p, state, _ := newUtils(t)

	got, err := p.ResolveSaltPath(engine.NamespaceState, "salt://_tops/base/a.top")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(state, "_tops", "base", "a.top"), got)

	_, err = p.ResolveSaltPath(engine.NamespaceState, "salt://../etc/passwd")
	assert.True(t, engine.IsKind(err, engine.ErrorKindPathResolution))

	_, err = p.ResolveSaltPath(engine.NamespaceState, "/srv/salt/x")
	assert.True(t, engine.IsKind(err, engine.ErrorKindPathResolution))
}

func TestRequireRoot(t *testing.T) {
	p, err := New(map[engine.Namespace]string{engine.NamespaceState: filepath.Join(t.TempDir(), "missing")}, "")
	require.NoError(t, err)

	_, err = p.RequireRoot(engine.NamespaceState)
	var missing *engine.MissingRootError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, engine.NamespaceState, missing.Namespace)

	_, err = p.RequireRoot(engine.NamespacePillar)
	require.ErrorAs(t, err, &missing)
}

func TestNew_InvalidMarker(t *testing.T) {
	_, err := New(nil, "a/b")
	require.Error(t, err)

	p, err := New(nil, "_topd")
	require.NoError(t, err)
	assert.Equal(t, "_topd", p.Marker())
}
