package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the session configuration, stored as YAML.
type Config struct {
	Display  DisplayConfig  `yaml:"display"`
	Output   OutputConfig   `yaml:"output"`
	Device   DeviceConfig   `yaml:"device"`
	Warp     WarpConfig     `yaml:"warp"`
	Probe    ProbeConfig    `yaml:"probe"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Logging  LoggingConfig  `yaml:"logging"`
	Seed     int64          `yaml:"seed"`
}

const (
	FormatText   = "text"
	FormatSQLite = "sqlite"
)

type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Stem     string `yaml:"stem"`
	Format   string `yaml:"format"`
	Database string `yaml:"database"`
}

type WarpConfig struct {
	Dir    string `yaml:"dir"`
	Device string `yaml:"device"`
	Date   string `yaml:"date"`
}

// ProbeConfig selects the producer behind the probe flag: a file written
// by the tracking process, or a simulated tracker.
type ProbeConfig struct {
	FlagFile string        `yaml:"flag_file"`
	Simulate bool          `yaml:"simulate"`
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
	Pulse    time.Duration `yaml:"pulse"`
}

// ProtocolConfig names the protocol to present. Params are decoded by the
// protocol itself.
type ProtocolConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

func DefaultConfig() *Config {
	return &Config{
		Display: DisplayConfig{
			Width:      1280,
			Height:     720,
			Azimuth:    180,
			Elevation:  100,
			FPS:        60,
			VSync:      true,
			Background: 0,
			Patch:      Rect{X: -7, Y: 345, W: 40, H: 66},
		},
		Output: OutputConfig{
			Dir:      "sessions",
			Stem:     "metadata",
			Format:   FormatText,
			Database: "openpmad.db",
		},
		Device: DeviceConfig{
			Baud:      9600,
			Handshake: 0x27,
			Timeout:   100 * time.Millisecond,
		},
		Warp: WarpConfig{
			Dir:    filepath.Join("data", "tables"),
			Device: "DLPLightCrafter3010",
		},
		Probe: ProbeConfig{
			MinDelay: 500 * time.Millisecond,
			MaxDelay: 2 * time.Second,
			Pulse:    20 * time.Millisecond,
		},
		Protocol: ProtocolConfig{Name: "realtime-probe"},
		Logging:  LoggingConfig{Level: "info"},
		Seed:     1,
	}
}

// Load reads path over the defaults, so missing keys keep their default
// values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	d := c.Display
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("display size %dx%d: %w", d.Width, d.Height, ErrInvalidArgument)
	}
	if d.Azimuth <= 0 || d.Elevation <= 0 {
		return fmt.Errorf("field of view %vx%v: %w", d.Azimuth, d.Elevation, ErrInvalidArgument)
	}
	if d.FPS <= 0 {
		return fmt.Errorf("frame rate %v: %w", d.FPS, ErrInvalidArgument)
	}
	if d.Background < -1 || d.Background > 1 {
		return fmt.Errorf("background level %v must be in [-1, 1]: %w", d.Background, ErrInvalidArgument)
	}
	if d.Patch.W <= 0 || d.Patch.H <= 0 {
		return fmt.Errorf("patch size %vx%v: %w", d.Patch.W, d.Patch.H, ErrInvalidArgument)
	}
	switch c.Output.Format {
	case FormatText:
	case FormatSQLite:
		if c.Output.Database == "" {
			return fmt.Errorf("sqlite output needs a database path: %w", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("output format %q: %w", c.Output.Format, ErrInvalidArgument)
	}
	if c.Device.Enabled && c.Device.Baud <= 0 {
		return fmt.Errorf("baud rate %d: %w", c.Device.Baud, ErrInvalidArgument)
	}
	p := c.Probe
	if p.Simulate && (p.MinDelay < 0 || p.MaxDelay < p.MinDelay || p.Pulse <= 0) {
		return fmt.Errorf("simulated tracker delays [%s, %s) pulse %s: %w", p.MinDelay, p.MaxDelay, p.Pulse, ErrInvalidArgument)
	}
	if c.Protocol.Name == "" {
		return fmt.Errorf("no protocol named: %w", ErrInvalidArgument)
	}
	return nil
}
