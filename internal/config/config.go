// Package config loads and validates the bridge's YAML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Gateway  GatewayConfig `yaml:"gateway"`
	LogLevel string        `yaml:"log_level"`
}

// DeviceConfig identifies the bike and tunes connection behavior.
type DeviceConfig struct {
	Address           string `yaml:"address"` // MAC on Linux, CoreBluetooth UUID on macOS
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	IdleTimeoutSec    int    `yaml:"idle_timeout_sec"`
	PollIntervalSec   int    `yaml:"poll_interval_sec"`
}

// MQTTConfig holds broker settings for Home Assistant publishing.
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// GatewayConfig holds the local HTTP/WebSocket API settings.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hyena-bridge")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values. The device
// address is left empty; it must be filled in before the bridge can run.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ConnectTimeoutSec: 30,
			IdleTimeoutSec:    120,
			PollIntervalSec:   60,
		},
		MQTT: MQTTConfig{
			Enabled:         false,
			Broker:          "tcp://localhost:1883",
			ClientID:        "hyena-bridge",
			TopicPrefix:     "hyena",
			DiscoveryPrefix: "homeassistant",
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Listen:  ":8090",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Address == "" {
		return fmt.Errorf("device.address must not be empty (run hyena-scan to find your bike)")
	}

	if c.Device.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("device.connect_timeout_sec must be > 0")
	}
	if c.Device.IdleTimeoutSec <= 0 {
		return fmt.Errorf("device.idle_timeout_sec must be > 0")
	}
	if c.Device.PollIntervalSec <= 0 {
		return fmt.Errorf("device.poll_interval_sec must be > 0")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker must not be empty when mqtt is enabled")
		}
		if c.MQTT.ClientID == "" {
			return fmt.Errorf("mqtt.client_id must not be empty when mqtt is enabled")
		}
		if c.MQTT.TopicPrefix == "" {
			return fmt.Errorf("mqtt.topic_prefix must not be empty when mqtt is enabled")
		}
		if c.MQTT.DiscoveryPrefix == "" {
			return fmt.Errorf("mqtt.discovery_prefix must not be empty when mqtt is enabled")
		}
	}

	if c.Gateway.Enabled && c.Gateway.Listen == "" {
		return fmt.Errorf("gateway.listen must not be empty when the gateway is enabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level string to a slog.Level. Unknown
// values fall back to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const configHeader = `# hyena-bridge configuration
# Run 'hyena-scan' to find your bike, then set device.address below.

`

// WriteDefault writes a commented default config to the standard path if
// none exists yet. Returns the written path, or "" when a config file
// was already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if path == "" {
		return "", fmt.Errorf("cannot determine config path")
	}

	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(DefaultConfigDir(), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("marshaling defaults: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o644); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}
