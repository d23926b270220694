package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrRepoPathNotSet     = errors.New("repository path is not configured")
	ErrRepoPathNotFound   = errors.New("repository path does not exist")
	ErrRepoPathNotDir     = errors.New("repository path is not a directory")
	ErrRepoPathUnreadable = errors.New("repository path is not readable")
	ErrPluginsDirNotSet   = errors.New("plugins directory is not configured")
)

// Frequency is how often the scheduled check runs
type Frequency string

const (
	Hourly     Frequency = "hourly"
	TwiceDaily Frequency = "twicedaily"
	Daily      Frequency = "daily"
	Weekly     Frequency = "weekly"
)

// Frequencies lists the accepted check frequencies
var Frequencies = []Frequency{Hourly, TwiceDaily, Daily, Weekly}

// Valid reports whether f is one of the accepted frequencies.
func (f Frequency) Valid() bool {
	for _, known := range Frequencies {
		if f == known {
			return true
		}
	}
	return false
}

// Threshold returns the minimum age of the last check before another is due.
// Unknown values are treated as Daily.
func (f Frequency) Threshold() time.Duration {
	switch f {
	case Hourly:
		return time.Hour
	case TwiceDaily:
		return 12 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Index backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Defaults for the host section
const (
	DefaultMainExt      = ".php"
	DefaultHeaderMarker = "Plugin Name:"
	DefaultLeaseWait    = 2 * time.Second
)

// Config represents the application configuration.
// The top-level fields form the settings record; Host describes the
// installation being kept up to date.
type Config struct {
	RepoPath       string    `yaml:"repo_path"`
	AutoCheck      bool      `yaml:"auto_check"`
	CheckFrequency Frequency `yaml:"check_frequency"`
	AutoUpdate     bool      `yaml:"auto_update"`
	DebugMode      bool      `yaml:"debug_mode"`

	Host HostConfig `yaml:"host"`
}

// HostConfig holds paths and conventions of the host installation
type HostConfig struct {
	PluginsDir   string        `yaml:"plugins_dir"`
	UpgradeDir   string        `yaml:"upgrade_dir,omitempty"`   // scratch and staging area
	StateDir     string        `yaml:"state_dir,omitempty"`     // ledger, index, snapshot, logs
	IndexBackend string        `yaml:"index_backend,omitempty"` // "file" or "sqlite"
	MainExt      string        `yaml:"main_ext,omitempty"`
	HeaderMarker string        `yaml:"header_marker,omitempty"`
	LeaseWait    time.Duration `yaml:"lease_wait,omitempty"`
}

// Default returns a configuration with every field at its default
func Default() *Config {
	return &Config{
		RepoPath:       "",
		AutoCheck:      false,
		CheckFrequency: Daily,
		AutoUpdate:     false,
		DebugMode:      false,
		Host: HostConfig{
			IndexBackend: BackendFile,
			MainExt:      DefaultMainExt,
			HeaderMarker: DefaultHeaderMarker,
			LeaseWait:    DefaultLeaseWait,
		},
	}
}

// Sanitize replaces unknown or empty values with their defaults.
func (c *Config) Sanitize() {
	if !c.CheckFrequency.Valid() {
		c.CheckFrequency = Daily
	}
	if c.Host.IndexBackend != BackendFile && c.Host.IndexBackend != BackendSQLite {
		c.Host.IndexBackend = BackendFile
	}
	if c.Host.MainExt == "" {
		c.Host.MainExt = DefaultMainExt
	}
	if c.Host.HeaderMarker == "" {
		c.Host.HeaderMarker = DefaultHeaderMarker
	}
	if c.Host.LeaseWait <= 0 {
		c.Host.LeaseWait = DefaultLeaseWait
	}
}

// SetCheckFrequency stores value if it is a known frequency, otherwise Daily.
// It returns the frequency actually stored.
func (c *Config) SetCheckFrequency(value string) Frequency {
	f := Frequency(value)
	if !f.Valid() {
		f = Daily
	}
	c.CheckFrequency = f
	return f
}

// ConfigPaths returns all possible config file paths in priority order
// 1. ~/.config/plugsync/config.yaml (XDG standard - priority)
// 2. ~/.plugsync/config.yaml (legacy fallback)
func ConfigPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	return []string{
		filepath.Join(xdgConfig, "plugsync", "config.yaml"),
		filepath.Join(home, ".plugsync", "config.yaml"),
	}, nil
}

// DefaultConfigPath returns the default config file path (XDG standard)
func DefaultConfigPath() (string, error) {
	paths, err := ConfigPaths()
	if err != nil {
		return "", err
	}
	return paths[0], nil
}

// FindConfigPath returns the first existing config file path
// Returns the default path if no config file exists yet
func FindConfigPath() (string, error) {
	paths, err := ConfigPaths()
	if err != nil {
		return "", err
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return paths[0], nil
}

// DefaultStateDir returns $XDG_STATE_HOME/plugsync, falling back to
// ~/.local/state/plugsync.
func DefaultStateDir() (string, error) {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "plugsync"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "plugsync"), nil
}

// Load reads configuration from the first available config file
// Priority: ~/.config/plugsync/config.yaml > ~/.plugsync/config.yaml
func Load() (*Config, error) {
	configPath, err := FindConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom reads configuration from a specific file path.
// A missing file is created with defaults.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if saveErr := cfg.SaveTo(path); saveErr != nil {
				return nil, saveErr
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Sanitize()

	return cfg, nil
}

// Save writes configuration to the default config file
func (c *Config) Save() error {
	configPath, err := DefaultConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo writes configuration to a specific file path
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// expandHome replaces a leading ~ with the user's home directory
func expandHome(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// PluginsDir returns the expanded plugins directory.
func (c *Config) PluginsDir() (string, error) {
	if c.Host.PluginsDir == "" {
		return "", ErrPluginsDirNotSet
	}
	return expandHome(c.Host.PluginsDir)
}

// UpgradeDir returns the scratch directory, defaulting to an "upgrade"
// directory next to the plugins directory.
func (c *Config) UpgradeDir() (string, error) {
	if c.Host.UpgradeDir != "" {
		return expandHome(c.Host.UpgradeDir)
	}
	plugins, err := c.PluginsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(plugins), "upgrade"), nil
}

// StateDir returns the directory holding persisted state.
func (c *Config) StateDir() (string, error) {
	if c.Host.StateDir != "" {
		return expandHome(c.Host.StateDir)
	}
	return DefaultStateDir()
}
