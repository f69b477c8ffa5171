package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/topd/pkg/engine"
	"github.com/openfroyo/topd/pkg/pathutil"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func setup(t *testing.T) (*Scanner, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "salt")
	require.NoError(t, os.MkdirAll(root, 0o755))

	paths, err := pathutil.New(map[engine.Namespace]string{engine.NamespaceState: root}, "")
	require.NoError(t, err)
	s, err := New(paths)
	require.NoError(t, err)
	return s, root
}

func relPaths(files []FragmentFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

func TestScan_OrderAndEnvironment(t *testing.T) {
	s, root := setup(t)
	for _, rel := range []string{
		"_tops/base/zz.top",
		"_tops/base/aa.top",
		"_tops/base/team/mid.top",
		"_tops/base|pipe.top",
		"_tops/dev/other.top",
		"_tops/base/readme.md",
		"_tops/loose.top",
		"_topsXYZ/base/ignored.top",
		"formulas/candidate.top",
	} {
		writeFile(t, filepath.Join(root, filepath.FromSlash(rel)), "")
	}

	files, err := s.Collect(context.Background(), "base", engine.NamespaceState)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"base/aa.top",
		"base/team/mid.top",
		"base/zz.top",
		"base|pipe.top",
	}, relPaths(files))
	for _, f := range files {
		assert.Equal(t, "base", f.Environment)
		assert.Equal(t, engine.NamespaceState, f.Namespace)
	}

	dev, err := s.Collect(context.Background(), "dev", engine.NamespaceState)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev/other.top"}, relPaths(dev))

	envs, err := s.Environments(context.Background(), engine.NamespaceState)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "dev"}, envs)
}

func TestScan_MissingDropIn(t *testing.T) {
	s, _ := setup(t)

	files, err := s.Collect(context.Background(), "base", engine.NamespaceState)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScan_MissingRoot(t *testing.T) {
	s, _ := setup(t)

	// The pillar root is not configured.
	_, err := s.Collect(context.Background(), "base", engine.NamespacePillar)
	var missing *engine.MissingRootError
	require.ErrorAs(t, err, &missing)

	paths, err := pathutil.New(map[engine.Namespace]string{
		engine.NamespaceState: filepath.Join(t.TempDir(), "gone"),
	}, "")
	require.NoError(t, err)
	gone, err := New(paths)
	require.NoError(t, err)
	_, err = gone.Collect(context.Background(), "base", engine.NamespaceState)
	require.ErrorAs(t, err, &missing)
}

func TestScan_FollowsFileLinks(t *testing.T) {
	s, root := setup(t)
	target := filepath.Join(root, "formulas", "nginx.top")
	writeFile(t, target, "web*: [nginx]\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "_tops", "base"), 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(root, "_tops", "base", "formulas.nginx.top")))
	require.NoError(t, os.Symlink(filepath.Join(root, "missing.top"), filepath.Join(root, "_tops", "base", "dangling.top")))

	files, err := s.Collect(context.Background(), "base", engine.NamespaceState)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "base/formulas.nginx.top", files[0].RelPath)
	assert.NotEmpty(t, files[0].Link)
}

func TestScan_StopsEarly(t *testing.T) {
	s, root := setup(t)
	writeFile(t, filepath.Join(root, "_tops", "base", "a.top"), "")
	writeFile(t, filepath.Join(root, "_tops", "base", "b.top"), "")

	var seen int
	for _, err := range s.Scan(context.Background(), "base", engine.NamespaceState) {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestScan_Cancelled(t *testing.T) {
	s, root := setup(t)
	writeFile(t, filepath.Join(root, "_tops", "base", "a.top"), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Collect(ctx, "base", engine.NamespaceState)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCandidates(t *testing.T) {
	s, root := setup(t)
	writeFile(t, filepath.Join(root, "formulas", "nginx.top"), "")
	writeFile(t, filepath.Join(root, "extra.top"), "")
	writeFile(t, filepath.Join(root, "_tops", "base", "enabled.top"), "")
	writeFile(t, filepath.Join(root, "formulas", "init.sls"), "")

	got, err := s.Candidates(context.Background(), engine.NamespaceState)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "extra.top"),
		filepath.Join(root, "formulas", "nginx.top"),
	}, got)
}

func TestNew_InvalidPattern(t *testing.T) {
	paths, err := pathutil.New(nil, "")
	require.NoError(t, err)
	_, err = New(paths, WithPattern("**/[.top"))
	require.Error(t, err)
}
