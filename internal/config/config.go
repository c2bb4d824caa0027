package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultNumWorlds    = 16
	DefaultRenderWidth  = 64
	DefaultRenderHeight = 64
	DefaultDataDir      = "data"
	DefaultLogLevel     = "info"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type ExecMode string

const (
	ExecModeHost   ExecMode = "host"
	ExecModeDevice ExecMode = "device"
)

type Config struct {
	NumWorlds    int      `yaml:"num_worlds" toml:"num_worlds"`
	ExecMode     ExecMode `yaml:"exec_mode" toml:"exec_mode"`
	DeviceID     int      `yaml:"device_id" toml:"device_id"`
	RenderWidth  int      `yaml:"render_width" toml:"render_width"`
	RenderHeight int      `yaml:"render_height" toml:"render_height"`
	DebugCompile bool     `yaml:"debug_compile" toml:"debug_compile"`
	DataDir      string   `yaml:"data_dir" toml:"data_dir"`
	Emulate      bool     `yaml:"emulate" toml:"emulate"`
	Workers      int      `yaml:"workers" toml:"workers"`
	Sources      []string `yaml:"sources,omitempty" toml:"sources,omitempty"`
	CompileFlags []string `yaml:"compile_flags,omitempty" toml:"compile_flags,omitempty"`
	LogLevel     string   `yaml:"log_level" toml:"log_level"`
}

func DefaultConfig() *Config {
	return &Config{
		NumWorlds:    DefaultNumWorlds,
		ExecMode:     ExecModeHost,
		RenderWidth:  DefaultRenderWidth,
		RenderHeight: DefaultRenderHeight,
		DataDir:      DefaultDataDir,
		LogLevel:     DefaultLogLevel,
	}
}

func (c *Config) Validate() error {
	switch {
	case c.NumWorlds < 1:
		return fmt.Errorf("%w: num_worlds must be at least 1, got %d", ErrInvalidConfig, c.NumWorlds)
	case c.ExecMode != ExecModeHost && c.ExecMode != ExecModeDevice:
		return fmt.Errorf("%w: unknown exec_mode %q", ErrInvalidConfig, c.ExecMode)
	case c.DeviceID < 0:
		return fmt.Errorf("%w: device_id must not be negative, got %d", ErrInvalidConfig, c.DeviceID)
	case c.RenderWidth < 1 || c.RenderHeight < 1:
		return fmt.Errorf("%w: render resolution must be positive, got %dx%d", ErrInvalidConfig, c.RenderWidth, c.RenderHeight)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, c.Workers)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads a YAML or TOML file (by extension) over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the encoding from a file extension, defaulting to YAML.
func FormatFor(path string) Format {
	if isTOML(path) {
		return FormatTOML
	}
	return FormatYAML
}

func Marshal(cfg *Config, f Format) ([]byte, error) {
	switch f {
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatYAML:
		return yaml.Marshal(cfg)
	}
	return nil, fmt.Errorf("config: unknown format %q", f)
}

func Save(path string, cfg *Config) error {
	data, err := Marshal(cfg, FormatFor(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Sources = append([]string(nil), c.Sources...)
	out.CompileFlags = append([]string(nil), c.CompileFlags...)
	return &out
}
