package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/topd/pkg/config"
	"github.com/openfroyo/topd/pkg/telemetry"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func roots(t *testing.T) (string, string, []string) {
	t.Helper()
	dir := t.TempDir()
	state := filepath.Join(dir, "salt")
	pillar := filepath.Join(dir, "pillar")
	require.NoError(t, os.MkdirAll(state, 0o755))
	require.NoError(t, os.MkdirAll(pillar, 0o755))
	return state, pillar, []string{"--state-root", state, "--pillar-root", pillar}
}

func TestTopCommand(t *testing.T) {
	state, _, flags := roots(t)
	writeFile(t, filepath.Join(state, "top.sls"), "base:\n  '*':\n    - core\n")
	writeFile(t, filepath.Join(state, "_tops", "base", "ext.top"), "'*': [ext1]\n'web*': [webstate]\n")

	out, err := run(t, append([]string{"top", "base"}, flags...)...)
	require.NoError(t, err)
	assert.Equal(t, "base:\n  '*':\n    - core\n    - ext1\n  web*:\n    - webstate\n", out)

	out, err = run(t, append([]string{"top", "--json"}, flags...)...)
	require.NoError(t, err)
	var decoded map[string]map[string][]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, []any{"core", "ext1"}, decoded["base"]["*"])
}

func TestTopCommand_RecordsHistory(t *testing.T) {
	state, _, flags := roots(t)
	db := filepath.Join(t.TempDir(), "history.db")
	writeFile(t, filepath.Join(state, "_tops", "base", "a.top"), "'*': [a]\n")
	flags = append(flags, "--history-db", db)

	_, err := run(t, append([]string{"top"}, flags...)...)
	require.NoError(t, err)

	out, err := run(t, "history", "--history-db", db, "--json")
	require.NoError(t, err)
	var renders []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &renders))
	require.Len(t, renders, 1)
	assert.Equal(t, "base", renders[0]["environment"])
	assert.Equal(t, "state", renders[0]["namespace"])
}

func TestEnableStatusDisable(t *testing.T) {
	state, _, flags := roots(t)
	writeFile(t, filepath.Join(state, "nginx", "nginx.top"), "'web*': [nginx]\n")

	out, err := run(t, append([]string{"enable", "nginx/nginx.top"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "nginx.nginx.top")

	out, err = run(t, append([]string{"status"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Enabled (1):")
	assert.Contains(t, out, "Disabled (0):")

	_, err = run(t, append([]string{"disable", "nginx/nginx.top"}, flags...)...)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(state, "nginx", "nginx.top"))
}

func TestValidateCommand(t *testing.T) {
	state, pillar, flags := roots(t)
	writeFile(t, filepath.Join(state, "_tops", "base", "ok.top"), "'*': [fine]\n")
	writeFile(t, filepath.Join(pillar, "_tops", "dev", "bad.top"), "'x': [{match: nope}, y]\n")

	out, err := run(t, append([]string{"validate"}, flags...)...)
	require.Error(t, err)
	assert.Contains(t, out, "ok   state base")
	assert.Contains(t, out, "FAIL pillar dev")
}

func TestMissingRootsFailConfigValidation(t *testing.T) {
	_, err := run(t, "top")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestNewSession_ShutsDownTelemetryOnFailure(t *testing.T) {
	state, pillar, _ := roots(t)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	writeFile(t, blocker, "")

	cfg := config.Default()
	cfg.StateRoot, cfg.PillarRoot = state, pillar
	cfg.HistoryDB = filepath.Join(blocker, "history.db")
	require.NoError(t, cfg.Validate())

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	require.NoError(t, err)
	require.NoError(t, tel.Events.Publish(telemetry.Event{Type: telemetry.EventTypeTopRendered}))

	_, err = newSession(context.Background(), cfg, tel, true)
	require.Error(t, err)
	assert.ErrorIs(t, tel.Events.Publish(telemetry.Event{Type: telemetry.EventTypeTopRendered}), telemetry.ErrPublisherStopped)
}
