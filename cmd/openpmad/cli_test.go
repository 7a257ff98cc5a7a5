package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openpmad/engine"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openpmad.yaml")
	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := engine.Load(path)
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig().Display, cfg.Display)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "existing files are kept")
}

func TestRunHeadless(t *testing.T) {
	dir := t.TempDir()
	cfg := engine.DefaultConfig()
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Protocol.Name = "flicker"
	cfg.Protocol.Params = map[string]any{"period": 0.2, "duration": 0.2, "idle": 0}
	path := filepath.Join(dir, "session.yaml")
	require.NoError(t, cfg.Save(path))

	out, err := execute(t, "run", "--headless", "-c", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "12 frames (0 dropped), 2 events saved to "), out)

	saved := filepath.Join(dir, "out", "metadata-1.txt")
	f, err := os.Open(saved)
	require.NoError(t, err)
	defer f.Close()
	rec, err := engine.LoadText(f)
	require.NoError(t, err)
	assert.Len(t, rec.Labelled("levelChange"), 2)
}

func TestWarpCommand(t *testing.T) {
	table := &engine.WarpTable{
		Device: "proj",
		Date:   "2024-01-01",
		Src:    []engine.Point{{0, 0}, {1, 0}, {0, 1}},
		Dst:    []engine.Point{{1, 1}, {2, 1}, {1, 2}},
	}
	path := filepath.Join(t.TempDir(), "proj-2024-01-01.yaml")
	require.NoError(t, table.Save(path))

	out, err := execute(t, "warp", path)
	require.NoError(t, err)
	assert.Contains(t, out, "3 control points")
	assert.Contains(t, out, "RMS residual: 0.000 px")
}

func TestSessionsCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := engine.DefaultConfig()
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Output.Format = engine.FormatSQLite
	cfg.Protocol.Name = "flicker"
	cfg.Protocol.Params = map[string]any{"period": 0.2, "duration": 0.2, "idle": 0}
	path := filepath.Join(dir, "session.yaml")
	require.NoError(t, cfg.Save(path))

	out, err := execute(t, "run", "--headless", "-c", path)
	require.NoError(t, err)
	start := strings.Index(out, "(session ")
	require.GreaterOrEqual(t, start, 0, out)
	id := strings.TrimSuffix(strings.TrimSpace(out[start+len("(session "):]), ")")

	out, err = execute(t, "sessions", "-c", path)
	require.NoError(t, err)
	assert.Equal(t, id+"\n", out)

	out, err = execute(t, "sessions", "-c", path, id)
	require.NoError(t, err)
	assert.Contains(t, out, "Protocol: flicker")
	assert.Contains(t, out, "----------")
	assert.Equal(t, 2, strings.Count(out, "levelChange,"))
}

func TestRunHeadlessFrameLimit(t *testing.T) {
	dir := t.TempDir()
	cfg := engine.DefaultConfig()
	cfg.Output.Dir = filepath.Join(dir, "out")
	cfg.Protocol.Name = "flicker"
	cfg.Protocol.Params = map[string]any{"period": 0.2, "duration": 0.2, "idle": 0}
	path := filepath.Join(dir, "session.yaml")
	require.NoError(t, cfg.Save(path))

	out, err := execute(t, "run", "--headless", "--frames", "5", "-c", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "5 frames (0 dropped), 1 events saved to "), out)
	assert.FileExists(t, filepath.Join(dir, "out", "metadata-1.txt"))
}
