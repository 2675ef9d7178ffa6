// Package daemon runs the sync engine: one watcher per registered folder, the
// debounced publish loop and the optional telemetry endpoint, all sharing one
// catalog and one publish signal.
//
// A flock next to the catalog keeps a second daemon from running against the
// same catalog.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/config"
	"github.com/mschirtzinger/sitesync/internal/media"
	"github.com/mschirtzinger/sitesync/internal/publish"
	"github.com/mschirtzinger/sitesync/internal/registry"
	"github.com/mschirtzinger/sitesync/internal/store"
	"github.com/mschirtzinger/sitesync/internal/telemetry"
	"github.com/mschirtzinger/sitesync/internal/transport"
	"github.com/mschirtzinger/sitesync/internal/watch"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another sitesync daemon is already running")

const lockFileName = "sitesync.lock"

// worker is a folder watcher.
type worker interface {
	Run(ctx context.Context) error
	State() watch.State
	Root() string
}

type folderWorker struct {
	folder catalog.FolderRegistration
	w      worker
}

// Daemon owns the shared collaborators and the folder workers.
type Daemon struct {
	cfg      *config.Config
	log      zerolog.Logger
	db       *catalog.DB
	store    *store.Store
	registry *registry.Registry
	signal   *publish.Signal
	metrics  *telemetry.Metrics
	cache    *watch.FingerprintCache

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	workers []folderWorker
	started time.Time
}

// LockPath returns the lock file guarding the catalog at catalogPath.
func LockPath(catalogPath string) string {
	return filepath.Join(filepath.Dir(catalogPath), lockFileName)
}

// Running reports whether a daemon currently holds the lock for cfg's catalog.
func Running(cfg *config.Config) (bool, error) {
	l := flock.New(LockPath(cfg.Catalog.Path))
	ok, err := l.TryLock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to probe lock: %w", err)
	}
	if ok {
		_ = l.Unlock()
	}
	return !ok, nil
}

// OpenCatalog opens the catalog at cfg.Catalog.Path and makes sure its schema
// exists.
func OpenCatalog(cfg *config.Config) (*catalog.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Catalog.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	db, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New acquires the daemon lock and opens the catalog and the store.
func New(cfg *config.Config, logger zerolog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires a config")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Catalog.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	lockPath := LockPath(cfg.Catalog.Path)
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	db, err := OpenCatalog(cfg)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	st, err := store.Open(cfg.Store.Dir)
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	cache, err := watch.NewFingerprintCache(cfg.Pictures.FingerprintCacheSize)
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to create fingerprint cache: %w", err)
	}

	var metrics *telemetry.Metrics
	if cfg.Metrics.Listen != "" {
		metrics = telemetry.NewMetrics()
	}

	return &Daemon{
		cfg:      cfg,
		log:      logger.With().Str("component", "daemon").Logger(),
		db:       db,
		store:    st,
		registry: registry.New(db),
		signal:   publish.NewSignal(cfg.Publish.InitialDirty, metrics),
		metrics:  metrics,
		cache:    cache,
		lockPath: lockPath,
		lock:     lock,
	}, nil
}

// Catalog returns the daemon's catalog.
func (d *Daemon) Catalog() *catalog.DB {
	return d.db
}

// Run starts one worker per registered folder, the publish loop and the
// telemetry server, and blocks until ctx is cancelled and every worker has
// returned. A folder whose watcher cannot start is logged and skipped.
func (d *Daemon) Run(ctx context.Context) error {
	folders, err := d.registry.ListFolders(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list folders: %w", err)
	}

	d.mu.Lock()
	d.started = time.Now()
	d.workers = d.workers[:0]
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, f := range folders {
		w, err := d.newWorker(f)
		if err != nil {
			d.log.Error().Err(err).Str("folder", f.Path).Str("kind", string(f.Kind)).Msg("Failed to create watcher")
			continue
		}
		d.mu.Lock()
		d.workers = append(d.workers, folderWorker{folder: f, w: w})
		d.mu.Unlock()

		wg.Add(1)
		go func(f catalog.FolderRegistration, w worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				d.log.Error().Err(err).Str("folder", f.Path).Str("kind", string(f.Kind)).Msg("Watcher stopped")
			}
		}(f, w)
	}

	if d.cfg.Publish.Enabled {
		loop := publish.NewLoop(d.signal, d.Publisher(), d.cfg.Publish.Interval, d.log, d.metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loop.Run(ctx)
		}()
	}

	if d.cfg.Metrics.Listen != "" {
		srv := telemetry.NewServer(d.cfg.Metrics.Listen, d.metrics, d.statusFunc, d.log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				d.log.Error().Err(err).Str("listen", d.cfg.Metrics.Listen).Msg("Telemetry server stopped")
			}
		}()
	}

	d.log.Info().Int("folders", len(folders)).Str("lock", d.lockPath).Msg("Daemon started")
	<-ctx.Done()
	wg.Wait()
	d.log.Info().Msg("Daemon stopped")
	return nil
}

// Close releases the catalog and the lock.
func (d *Daemon) Close() error {
	err := d.db.Close()
	if uerr := d.lock.Unlock(); uerr != nil && err == nil {
		err = fmt.Errorf("failed to release lock: %w", uerr)
	}
	return err
}

// Publisher returns the configured snapshot publisher.
func (d *Daemon) Publisher() publish.Publisher {
	return NewPublisher(d.cfg, d.db)
}

// NewPublisher builds the snapshot publisher for cfg over cat.
func NewPublisher(cfg *config.Config, cat publish.CatalogReader) *publish.SnapshotPublisher {
	return &publish.SnapshotPublisher{
		Catalog: cat,
		Path:    cfg.Publish.SnapshotPath,
		Command: cfg.Publish.Command,
		Timeout: cfg.Publish.Timeout,
	}
}

func (d *Daemon) uploader() transport.Uploader {
	if !d.cfg.Upload.Enabled {
		return transport.Noop{}
	}
	return transport.SCP{
		Server:    d.cfg.Upload.Server,
		RemoteDir: d.cfg.Upload.RemoteDir,
		Timeout:   d.cfg.Upload.Timeout,
	}
}

func (d *Daemon) newWorker(f catalog.FolderRegistration) (worker, error) {
	switch f.Kind {
	case catalog.KindArticle:
		return watch.NewArticleWatcher(f, d.db, d.signal, watch.ArticleConfig{
			Extensions:         d.cfg.Articles.Extensions,
			ConfirmationMarker: d.cfg.Articles.ConfirmationMarker,
		}, d.log, d.metrics)
	case catalog.KindPicture:
		return watch.NewPictureIngester(f, watch.PictureConfig{
			ManifestName:       d.cfg.Pictures.ManifestName,
			ConfirmationMarker: d.cfg.Pictures.ConfirmationMarker,
			Patterns:           d.cfg.Pictures.Patterns,
			CompressThreshold:  d.cfg.Store.CompressThreshold,
			MaxDimension:       d.cfg.Store.MaxDimension,
			ScanOnStart:        d.cfg.Pictures.ScanOnStart,
		}, watch.PictureDeps{
			Catalog:   d.db,
			Store:     d.store,
			Extractor: media.ExifExtractor{},
			Resizer:   media.Codec{JPEGQuality: d.cfg.Store.JPEGQuality},
			Uploader:  d.uploader(),
			Signal:    d.signal,
			Cache:     d.cache,
			Logger:    d.log,
			Metrics:   d.metrics,
		})
	default:
		return nil, fmt.Errorf("unknown folder kind %q", f.Kind)
	}
}
