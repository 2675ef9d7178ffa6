package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/registry"
	"github.com/mschirtzinger/sitesync/internal/syncerr"
	"github.com/mschirtzinger/sitesync/internal/telemetry"
)

// ArticleConfig controls which files count as articles.
type ArticleConfig struct {
	// Extensions are matched case-insensitively, with the leading dot.
	Extensions []string
	// ConfirmationMarker must appear in the text of an article whose folder
	// requires confirmation.
	ConfirmationMarker string
}

// ArticleWatcher keeps the article records of one folder in step with the
// files in it. The folder is watched non-recursively.
type ArticleWatcher struct {
	folder  catalog.FolderRegistration
	root    string
	catalog ArticleCatalog
	signal  Signal
	cfg     ArticleConfig
	log     zerolog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
	state   atomic.Int32
}

// NewArticleWatcher creates a watcher for folder. The folder's path is
// resolved to its canonical form; events for any other spelling of a path
// are rejected.
func NewArticleWatcher(folder catalog.FolderRegistration, cat ArticleCatalog, signal Signal, cfg ArticleConfig, logger zerolog.Logger, metrics *telemetry.Metrics) (*ArticleWatcher, error) {
	root, err := registry.CanonicalPath(folder.Path)
	if err != nil {
		return nil, syncerr.Filesystem(err)
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".md"}
	}

	return &ArticleWatcher{
		folder:  folder,
		root:    root,
		catalog: cat,
		signal:  signal,
		cfg:     cfg,
		log: logger.With().
			Str("component", "article-watcher").
			Str("folder", root).
			Str("destination", folder.DestinationLabel).
			Logger(),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// State returns the current lifecycle state.
func (w *ArticleWatcher) State() State {
	return State(w.state.Load())
}

// Root returns the canonical folder path.
func (w *ArticleWatcher) Root() string {
	return w.root
}

// Run watches the folder until ctx is cancelled. The watch is installed
// before the catch-up pass over existing files, so nothing written during
// startup is missed. An error is returned only when the watch cannot be set
// up.
func (w *ArticleWatcher) Run(ctx context.Context) error {
	w.state.Store(int32(StateScanning))

	fw, err := NewFileWatcher(false)
	if err != nil {
		w.state.Store(int32(StateFailed))
		return syncerr.Filesystem(err)
	}
	if err := fw.Start(w.root); err != nil {
		_ = fw.Stop()
		w.state.Store(int32(StateFailed))
		return syncerr.Filesystem(err)
	}
	defer fw.Stop()

	w.metrics.WatcherStarted(string(catalog.KindArticle))
	defer w.metrics.WatcherStopped(string(catalog.KindArticle))

	if err := w.CatchUp(ctx); err != nil {
		w.state.Store(int32(StateFailed))
		return err
	}

	w.state.Store(int32(StateMonitoring))
	w.log.Info().Msg("Monitoring article folder")

	for {
		select {
		case <-ctx.Done():
			w.state.Store(int32(StateStopped))
			return nil
		case ev, ok := <-fw.Events():
			if !ok {
				w.state.Store(int32(StateStopped))
				return nil
			}
			w.Handle(ctx, ev)
		case err, ok := <-fw.Errors():
			if !ok {
				continue
			}
			w.log.Warn().Err(err).Msg("Watch error")
		}
	}
}

// CatchUp treats every file already in the folder as created.
func (w *ArticleWatcher) CatchUp(ctx context.Context) error {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return syncerr.Filesystem(fmt.Errorf("failed to list %s: %w", w.root, err))
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil
		}
		if e.IsDir() {
			continue
		}
		w.Handle(ctx, Event{Op: OpCreate, Paths: []string{filepath.Join(w.root, e.Name())}})
	}
	return nil
}

// Handle applies one event. Failures are logged and never stop the watcher.
func (w *ArticleWatcher) Handle(ctx context.Context, ev Event) {
	if len(ev.Paths) == 0 {
		return
	}

	switch ev.Op {
	case OpCreate:
		w.apply(ctx, "ingest", ev.Path(), w.ingest)
	case OpModify:
		if len(ev.Paths) >= 2 {
			w.apply(ctx, "remove", ev.Paths[0], w.remove)
			w.apply(ctx, "ingest", ev.Paths[1], w.ingest)
			return
		}
		w.apply(ctx, "ingest", ev.Paths[0], w.ingest)
	case OpRemove:
		w.apply(ctx, "remove", ev.Paths[0], w.remove)
	}
}

func (w *ArticleWatcher) apply(ctx context.Context, op, path string, fn func(context.Context, string) (bool, error)) {
	changed, err := fn(ctx, path)
	switch {
	case err != nil:
		w.metrics.ArticleEvent(op, telemetry.ResultFailed)
		w.log.Error().Err(err).Str("op", op).Str("path", path).Msg("Failed to apply article event")
	case changed:
		w.metrics.ArticleEvent(op, telemetry.ResultOK)
		w.log.Debug().Str("op", op).Str("path", path).Msg("Article updated")
		w.signal.MarkDirty()
	default:
		w.metrics.ArticleEvent(op, telemetry.ResultSkipped)
	}
}

// ingest upserts the article at path. It reports false without error when
// the file is not an article of this folder or is not confirmed.
func (w *ArticleWatcher) ingest(ctx context.Context, path string) (bool, error) {
	path, ok := w.ownPath(path)
	if !ok || !w.isArticle(path) {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Gone before we got to it; the Remove event follows.
			return false, nil
		}
		return false, syncerr.Filesystem(err)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	if w.folder.RequireConfirmation {
		confirmed, err := w.confirmed(path)
		if err != nil {
			return false, err
		}
		if !confirmed {
			w.log.Debug().Str("path", path).Msg("Skipping article without confirmation marker")
			return false, nil
		}
	}

	rec := catalog.ArticleRecord{
		SourcePath:       path,
		DestinationLabel: w.folder.DestinationLabel,
		LastSyncTime:     w.now(),
	}
	if err := w.catalog.UpsertArticle(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// remove deletes every record for path.
func (w *ArticleWatcher) remove(ctx context.Context, path string) (bool, error) {
	path, ok := w.ownPath(path)
	if !ok || !w.isArticle(path) {
		return false, nil
	}
	if err := w.catalog.DeleteArticlesByPath(ctx, path); err != nil {
		return false, err
	}
	return true, nil
}

// ownPath cleans path and reports whether it names a direct child of the
// canonical root. A file reached through a symlinked alias of the folder is
// rejected so one file never yields two records.
func (w *ArticleWatcher) ownPath(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	return abs, filepath.Dir(abs) == w.root
}

func (w *ArticleWatcher) isArticle(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range w.cfg.Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func (w *ArticleWatcher) confirmed(path string) (bool, error) {
	if w.cfg.ConfirmationMarker == "" {
		return true, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, syncerr.Filesystem(fmt.Errorf("failed to read %s: %w", path, err))
	}
	return strings.Contains(string(data), w.cfg.ConfirmationMarker), nil
}
