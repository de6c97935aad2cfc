// Package config holds the runtime configuration: the HTTP surface,
// capture defaults, and the deinterlacing keys that steer conversation
// correlation.
package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"convtrack/internal/conversation"
)

// Config is the full application configuration.
type Config struct {
	// Debug builds a development logger: diagnostics for engine
	// contract violations abort instead of being reported and skipped.
	Debug bool `yaml:"debug"`

	// Port is the HTTP/WebSocket listen port.
	Port int `yaml:"port"`

	Capture     CaptureConfig     `yaml:"capture"`
	Deinterlace DeinterlaceConfig `yaml:"deinterlace"`
}

// CaptureConfig sets live-capture defaults.
type CaptureConfig struct {
	SnapLen   int    `yaml:"snap_len"`
	BPFFilter string `yaml:"bpf_filter"`
}

// DeinterlaceConfig selects which coarse keys anchor conversations.
// All off disables deinterlacing.
type DeinterlaceConfig struct {
	Interface bool `yaml:"interface"`
	MAC       bool `yaml:"mac"`
	VLAN      bool `yaml:"vlan"`
}

// Key folds the deinterlace switches into the engine's key mask.
func (d DeinterlaceConfig) Key() conversation.DeinterlaceKey {
	var key conversation.DeinterlaceKey
	if d.Interface {
		key |= conversation.DeintKeyInterface
	}
	if d.MAC {
		key |= conversation.DeintKeyMAC
	}
	if d.VLAN {
		key |= conversation.DeintKeyVLAN
	}
	return key
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Port: 8080,
		Capture: CaptureConfig{
			SnapLen: 65535,
		},
	}
}

// Load reads a YAML configuration file. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// BuildLogger constructs the process logger for the configuration.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	if c.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
