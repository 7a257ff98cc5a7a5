package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Rect{X: -7, Y: 345, W: 40, H: 66}, cfg.Display.Patch)
	assert.Equal(t, 60.0, cfg.Display.FPS)
	assert.Equal(t, FormatText, cfg.Output.Format)
}

func TestConfigSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "openpmad.yaml")
	cfg := DefaultConfig()
	cfg.Display.FPS = 144
	cfg.Probe.FlagFile = "/tmp/flag"
	cfg.Protocol.Params = map[string]any{"trials": 3}
	require.NoError(t, cfg.Save(path))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 144.0, got.Display.FPS)
	assert.Equal(t, "/tmp/flag", got.Probe.FlagFile)
	assert.Equal(t, 3, got.Protocol.Params["trials"])
	assert.Equal(t, 100*time.Millisecond, got.Device.Timeout)
}

func TestConfigLoadKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	data := "display:\n  fps: 120\nprobe:\n  simulate: true\n  pulse: 5ms\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120.0, cfg.Display.FPS)
	assert.Equal(t, 1280, cfg.Display.Width)
	assert.True(t, cfg.Probe.Simulate)
	assert.Equal(t, 5*time.Millisecond, cfg.Probe.Pulse)
	assert.Equal(t, 2*time.Second, cfg.Probe.MaxDelay)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Display.Width = 0 }},
		{"no field of view", func(c *Config) { c.Display.Azimuth = 0 }},
		{"zero fps", func(c *Config) { c.Display.FPS = 0 }},
		{"background out of range", func(c *Config) { c.Display.Background = 1.2 }},
		{"empty patch", func(c *Config) { c.Display.Patch.W = 0 }},
		{"unknown format", func(c *Config) { c.Output.Format = "pickle" }},
		{"sqlite without database", func(c *Config) { c.Output.Format = FormatSQLite; c.Output.Database = "" }},
		{"device without baud", func(c *Config) { c.Device.Enabled = true; c.Device.Baud = 0 }},
		{"tracker delays reversed", func(c *Config) { c.Probe.Simulate = true; c.Probe.MaxDelay = 0 }},
		{"no protocol", func(c *Config) { c.Protocol.Name = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidArgument)
		})
	}
}

func TestConfigLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("display: [1, 2"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestConfigLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("display:\n  screen: 1\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "screen")

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	cfg, err := Load(empty)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug", false)
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = NewLogger("loud", true)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
