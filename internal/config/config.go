// Package config handles agent configuration: a YAML file with defaults,
// overridable from the environment (DOMSELECT_* variables).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix namespaces the environment overrides.
const envPrefix = "domselect"

// Config is the top-level agent configuration.
type Config struct {
	Page    PageConfig    `yaml:"page"`
	Browser BrowserConfig `yaml:"browser"`
	Server  ServerConfig  `yaml:"server"`
	Channel ChannelConfig `yaml:"channel"`
	Overlay OverlayConfig `yaml:"overlay"`
	Store   StoreConfig   `yaml:"store"`
}

// PageConfig identifies the embedded page to attach to.
type PageConfig struct {
	URL string `yaml:"url"`
	ID  string `yaml:"id"`
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome. Empty launches a
	// local one.
	Remote string `yaml:"remote"`
	// Stealth selects headless or headful automation.
	Stealth string `yaml:"stealth"` // headless | headful
}

// ServerConfig is the control-plane HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// ChannelConfig configures the host message channel.
type ChannelConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
}

// OverlayConfig tunes the visual layer.
type OverlayConfig struct {
	// IconScriptURL is the icon library location; empty disables icons.
	IconScriptURL string `yaml:"icon_script_url" split_words:"true"`
	// IconTimeout bounds the one-time icon load.
	IconTimeout time.Duration `yaml:"icon_timeout" split_words:"true"`
	// FrameInterval paces the coalesced re-layout passes.
	FrameInterval time.Duration `yaml:"frame_interval" split_words:"true"`
}

// StoreConfig controls selection persistence.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `yaml:"path"`
}

// LoadFile reads a YAML configuration file, applies environment
// overrides, then defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return finish(&cfg)
}

// Default returns the configuration used when no file is given, with
// environment overrides applied.
func Default() (*Config, error) {
	var cfg Config
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8077"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Overlay.IconTimeout <= 0 {
		c.Overlay.IconTimeout = 10 * time.Second
	}
	if c.Overlay.FrameInterval <= 0 {
		c.Overlay.FrameInterval = 16 * time.Millisecond
	}
}
