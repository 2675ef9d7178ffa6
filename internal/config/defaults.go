package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	defaultConfigPath           = "~/.sitesync/config.toml"
	defaultCatalogPath          = "~/.sitesync/catalog.db"
	defaultStoreDir             = "~/.sitesync/pictures"
	defaultSnapshotPath         = "~/.sitesync/snapshot.yaml"
	defaultCompressThreshold    = 800000
	defaultMaxDimension         = 1920
	defaultJPEGQuality          = 85
	defaultArticleMarker        = "deploy: true"
	defaultManifestName         = "DEPLOY"
	defaultManifestMarker       = "DEPLOY"
	defaultPicturePattern       = "*.{jpg,jpeg,png,JPG,JPEG,PNG}"
	defaultFingerprintCacheSize = 4096
	defaultPublishInterval      = 10 * time.Minute
	defaultPublishTimeout       = 10 * time.Minute
	defaultUploadTimeout        = 2 * time.Minute
	defaultLogLevel             = "info"
	defaultLogMaxSizeMB         = 50
	defaultLogMaxBackups        = 3
	defaultLogMaxAgeDays        = 28
)

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.path", defaultCatalogPath)

	v.SetDefault("store.dir", defaultStoreDir)
	v.SetDefault("store.compress_threshold", defaultCompressThreshold)
	v.SetDefault("store.max_dimension", defaultMaxDimension)
	v.SetDefault("store.jpeg_quality", defaultJPEGQuality)

	v.SetDefault("articles.extensions", []string{".md"})
	v.SetDefault("articles.confirmation_marker", defaultArticleMarker)

	v.SetDefault("pictures.manifest_name", defaultManifestName)
	v.SetDefault("pictures.confirmation_marker", defaultManifestMarker)
	v.SetDefault("pictures.patterns", []string{defaultPicturePattern})
	v.SetDefault("pictures.scan_on_start", true)
	v.SetDefault("pictures.fingerprint_cache_size", defaultFingerprintCacheSize)

	v.SetDefault("publish.enabled", true)
	v.SetDefault("publish.interval", defaultPublishInterval)
	v.SetDefault("publish.initial_dirty", true)
	v.SetDefault("publish.snapshot_path", defaultSnapshotPath)
	v.SetDefault("publish.command", []string{})
	v.SetDefault("publish.timeout", defaultPublishTimeout)

	v.SetDefault("upload.enabled", false)
	v.SetDefault("upload.server", "")
	v.SetDefault("upload.remote_dir", "")
	v.SetDefault("upload.timeout", defaultUploadTimeout)

	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", defaultLogMaxSizeMB)
	v.SetDefault("log.max_backups", defaultLogMaxBackups)
	v.SetDefault("log.max_age_days", defaultLogMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.listen", "")
}
