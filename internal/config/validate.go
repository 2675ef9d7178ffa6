package config

import (
	"errors"
	"fmt"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateFolders(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil || c.Log.Level == "" {
		return fmt.Errorf("log.level %q is not a valid level", c.Log.Level)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Catalog.Path == "" {
		return errors.New("catalog.path must be set")
	}
	if c.Store.Dir == "" {
		return errors.New("store.dir must be set")
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.CompressThreshold <= 0 {
		return errors.New("store.compress_threshold must be positive")
	}
	if c.Store.MaxDimension <= 0 {
		return errors.New("store.max_dimension must be positive")
	}
	if c.Store.JPEGQuality < 1 || c.Store.JPEGQuality > 100 {
		return errors.New("store.jpeg_quality must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateFolders() error {
	if len(c.Articles.Extensions) == 0 {
		return errors.New("articles.extensions must not be empty")
	}
	if c.Pictures.ManifestName == "" {
		return errors.New("pictures.manifest_name must be set")
	}
	if len(c.Pictures.Patterns) == 0 {
		return errors.New("pictures.patterns must not be empty")
	}
	for _, p := range c.Pictures.Patterns {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("pictures.patterns: invalid pattern %q: %w", p, err)
		}
	}
	if c.Pictures.FingerprintCacheSize <= 0 {
		return errors.New("pictures.fingerprint_cache_size must be positive")
	}
	return nil
}

func (c *Config) validatePublish() error {
	if !c.Publish.Enabled {
		return nil
	}
	if c.Publish.Interval <= 0 {
		return errors.New("publish.interval must be positive when publish.enabled is true")
	}
	if c.Publish.SnapshotPath == "" {
		return errors.New("publish.snapshot_path must be set when publish.enabled is true")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if !c.Upload.Enabled {
		return nil
	}
	if c.Upload.Server == "" {
		return errors.New("upload.server must be set when upload.enabled is true")
	}
	if c.Upload.Timeout <= 0 {
		return errors.New("upload.timeout must be positive")
	}
	return nil
}
