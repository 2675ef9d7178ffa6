// Package config loads sitesync configuration from an optional TOML file,
// SITESYNC_* environment variables and built-in defaults, in that order of
// precedence from last to first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mschirtzinger/sitesync/internal/registry"
)

// EnvPrefix prefixes every environment override, e.g. SITESYNC_STORE_DIR.
const EnvPrefix = "SITESYNC"

// Catalog locates the SQLite catalog.
type Catalog struct {
	Path string `mapstructure:"path"`
}

// Store configures the content-addressed picture store.
type Store struct {
	Dir               string `mapstructure:"dir"`
	CompressThreshold int64  `mapstructure:"compress_threshold"`
	MaxDimension      int    `mapstructure:"max_dimension"`
	JPEGQuality       int    `mapstructure:"jpeg_quality"`
}

// Articles configures article folders.
type Articles struct {
	Extensions         []string `mapstructure:"extensions"`
	ConfirmationMarker string   `mapstructure:"confirmation_marker"`
}

// Pictures configures picture folders.
type Pictures struct {
	ManifestName         string   `mapstructure:"manifest_name"`
	ConfirmationMarker   string   `mapstructure:"confirmation_marker"`
	Patterns             []string `mapstructure:"patterns"`
	ScanOnStart          bool     `mapstructure:"scan_on_start"`
	FingerprintCacheSize int      `mapstructure:"fingerprint_cache_size"`
}

// Publish configures the debounced publish loop and its snapshot publisher.
type Publish struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	InitialDirty bool          `mapstructure:"initial_dirty"`
	SnapshotPath string        `mapstructure:"snapshot_path"`
	Command      []string      `mapstructure:"command"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Upload configures the remote copy of stored pictures.
type Upload struct {
	Enabled   bool          `mapstructure:"enabled"`
	Server    string        `mapstructure:"server"`
	RemoteDir string        `mapstructure:"remote_dir"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Log configures console and file logging.
type Log struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Metrics configures the status/metrics HTTP endpoint. An empty Listen
// disables it.
type Metrics struct {
	Listen string `mapstructure:"listen"`
}

// Config is the full sitesync configuration.
type Config struct {
	Catalog  Catalog  `mapstructure:"catalog"`
	Store    Store    `mapstructure:"store"`
	Articles Articles `mapstructure:"articles"`
	Pictures Pictures `mapstructure:"pictures"`
	Publish  Publish  `mapstructure:"publish"`
	Upload   Upload   `mapstructure:"upload"`
	Log      Log      `mapstructure:"log"`
	Metrics  Metrics  `mapstructure:"metrics"`
}

// DefaultConfigPath returns the config file used when none is given.
func DefaultConfigPath() string {
	return registry.ExpandHome(defaultConfigPath)
}

// Load reads configuration from path, or from DefaultConfigPath when path is
// empty. A missing file is not an error; defaults and environment overrides
// still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultConfigPath()
	}
	path = registry.ExpandHome(path)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize expands home-relative paths and trims string lists.
func (c *Config) normalize() {
	c.Catalog.Path = registry.ExpandHome(strings.TrimSpace(c.Catalog.Path))
	c.Store.Dir = registry.ExpandHome(strings.TrimSpace(c.Store.Dir))
	c.Publish.SnapshotPath = registry.ExpandHome(strings.TrimSpace(c.Publish.SnapshotPath))
	c.Log.File = registry.ExpandHome(strings.TrimSpace(c.Log.File))

	c.Articles.Extensions = trimAll(c.Articles.Extensions)
	for i, ext := range c.Articles.Extensions {
		if !strings.HasPrefix(ext, ".") {
			c.Articles.Extensions[i] = "." + ext
		}
	}
	c.Pictures.Patterns = trimAll(c.Pictures.Patterns)
	c.Upload.Server = strings.TrimSpace(c.Upload.Server)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
