package domselect

import (
	"github.com/quillon/domselect/internal/config"
)

// Config is the top-level agent configuration. Re-exported from internal.
type Config = config.Config

// PageConfig identifies the page to attach to.
type PageConfig = config.PageConfig

// BrowserConfig controls the Chrome connection.
type BrowserConfig = config.BrowserConfig

// ServerConfig is the control-plane HTTP listener.
type ServerConfig = config.ServerConfig

// ChannelConfig configures the host message channel.
type ChannelConfig = config.ChannelConfig

// OverlayConfig tunes the visual layer.
type OverlayConfig = config.OverlayConfig

// StoreConfig controls selection persistence.
type StoreConfig = config.StoreConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() (*Config, error) {
	return config.Default()
}
