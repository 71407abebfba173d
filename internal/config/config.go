// Package config loads and persists the daemon configuration, including
// the stable device identity generated on first run.
package config

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Device identity, generated once and treated as opaque everywhere else
	DeviceID   string `json:"device_id" yaml:"device_id"`
	DeviceName string `json:"device_name" yaml:"device_name"`

	Log     LogConfig     `json:"log" yaml:"log"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Sync    SyncConfig    `json:"sync" yaml:"sync"`

	// Clipboard polling interval in milliseconds
	PollingInterval int64 `json:"polling_interval" yaml:"polling_interval"`

	path string
}

// LogConfig holds logging-related configuration
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "json" or "console"
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	DBPath     string `json:"db_path" yaml:"db_path"`
	MaxEntries int    `json:"max_entries" yaml:"max_entries"`
}

// SyncConfig holds network synchronization configuration
type SyncConfig struct {
	DiscoveryPort     int    `json:"discovery_port" yaml:"discovery_port"`
	ListenPort        int    `json:"listen_port" yaml:"listen_port"`
	DiscoveryInterval int    `json:"discovery_interval" yaml:"discovery_interval"` // seconds, 0 disables the cycle
	DiscoveryWindow   int    `json:"discovery_window" yaml:"discovery_window"`     // milliseconds to collect replies
	QueueSize         int    `json:"queue_size" yaml:"queue_size"`
	SendTimeout       int    `json:"send_timeout" yaml:"send_timeout"` // seconds
	Mode              string `json:"mode" yaml:"mode"`                 // "partial" or "total"
	DownloadsDir      string `json:"downloads_dir" yaml:"downloads_dir"`
}

// Default values applied when a field is unset.
const (
	DefaultDiscoveryPort     = 51847
	DefaultListenPort        = 51848
	DefaultDiscoveryInterval = 30
	DefaultDiscoveryWindow   = 3000
	DefaultQueueSize         = 64
	DefaultSendTimeout       = 10
	DefaultMaxEntries        = 100
	DefaultPollingInterval   = 500
)

// Dir returns the base configuration directory, honoring the
// CLIPED_CONFIG_DIR override.
func Dir() (string, error) {
	if dir := os.Getenv("CLIPED_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "cliped"), nil
}

// Load reads the config file at path, creating it with generated defaults
// if it does not exist. An empty path uses Dir()/config.json.
func Load(path string) (*Config, error) {
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "config.json")
	}

	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run: generate identity and persist
		cfg.applyDefaults()
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to write initial config: %w", err)
		}
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the configuration back to its file as JSON.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

// Path returns the file this configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) applyDefaults() {
	if c.DeviceID == "" {
		c.DeviceID = uuid.NewString()
	}
	if c.DeviceName == "" {
		c.DeviceName = defaultDeviceName()
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Storage.DBPath == "" {
		if dir, err := Dir(); err == nil {
			c.Storage.DBPath = filepath.Join(dir, "history.db")
		}
	}
	if c.Storage.MaxEntries <= 0 {
		c.Storage.MaxEntries = DefaultMaxEntries
	}
	if c.Sync.DiscoveryPort == 0 {
		c.Sync.DiscoveryPort = DefaultDiscoveryPort
	}
	if c.Sync.ListenPort == 0 {
		c.Sync.ListenPort = DefaultListenPort
	}
	if c.Sync.DiscoveryInterval == 0 {
		c.Sync.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if c.Sync.DiscoveryWindow <= 0 {
		c.Sync.DiscoveryWindow = DefaultDiscoveryWindow
	}
	if c.Sync.QueueSize <= 0 {
		c.Sync.QueueSize = DefaultQueueSize
	}
	if c.Sync.SendTimeout <= 0 {
		c.Sync.SendTimeout = DefaultSendTimeout
	}
	if c.Sync.Mode == "" {
		c.Sync.Mode = "partial"
	}
	if c.Sync.DownloadsDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Sync.DownloadsDir = filepath.Join(home, "Downloads")
		}
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = DefaultPollingInterval
	}
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("Device-%04d", rand.Intn(10000))
}
