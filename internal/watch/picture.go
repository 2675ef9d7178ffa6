package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/manifest"
	"github.com/mschirtzinger/sitesync/internal/media"
	"github.com/mschirtzinger/sitesync/internal/registry"
	"github.com/mschirtzinger/sitesync/internal/store"
	"github.com/mschirtzinger/sitesync/internal/syncerr"
	"github.com/mschirtzinger/sitesync/internal/telemetry"
	"github.com/mschirtzinger/sitesync/internal/transport"
)

// PictureConfig controls manifest handling and the store pipeline.
type PictureConfig struct {
	ManifestName       string
	ConfirmationMarker string
	// Patterns are glob patterns matched against file base names.
	Patterns []string
	// Files strictly larger than CompressThreshold bytes are resized so that
	// neither side exceeds MaxDimension before they are stored.
	CompressThreshold int64
	MaxDimension      int
	// ScanOnStart scans every confirmed directory when the ingester starts.
	ScanOnStart bool
}

// PictureDeps are the collaborators of a PictureIngester. Catalog, Store and
// Signal are required; the rest fall back to no-ops.
type PictureDeps struct {
	Catalog   PictureCatalog
	Store     *store.Store
	Extractor Extractor
	Resizer   Resizer
	Uploader  transport.Uploader
	Signal    Signal
	Cache     *FingerprintCache
	Logger    zerolog.Logger
	Metrics   *telemetry.Metrics
}

// ScanResult counts the outcome of one directory scan.
type ScanResult struct {
	Ingested   int
	Duplicates int
	Ignored    int
	Failed     int
}

// PictureIngester ingests the pictures of one folder tree. Directories are
// only scanned when their manifest is created or modified and carries the
// confirmation marker; individual picture events are ignored.
type PictureIngester struct {
	folder   catalog.FolderRegistration
	root     string
	cfg      PictureConfig
	patterns []glob.Glob
	deps     PictureDeps
	log      zerolog.Logger
	now      func() time.Time
	state    atomic.Int32
}

// NewPictureIngester validates cfg and creates an ingester for folder.
func NewPictureIngester(folder catalog.FolderRegistration, cfg PictureConfig, deps PictureDeps) (*PictureIngester, error) {
	if deps.Catalog == nil || deps.Store == nil || deps.Signal == nil {
		return nil, fmt.Errorf("picture ingester requires a catalog, a store and a signal")
	}
	if cfg.ManifestName == "" {
		return nil, fmt.Errorf("manifest name is required")
	}
	if cfg.MaxDimension <= 0 {
		return nil, fmt.Errorf("invalid max dimension %d", cfg.MaxDimension)
	}

	root, err := registry.CanonicalPath(folder.Path)
	if err != nil {
		return nil, syncerr.Filesystem(err)
	}

	patterns, err := CompilePatterns(cfg.Patterns)
	if err != nil {
		return nil, err
	}

	if deps.Uploader == nil {
		deps.Uploader = transport.Noop{}
	}

	return &PictureIngester{
		folder:   folder,
		root:     root,
		cfg:      cfg,
		patterns: patterns,
		deps:     deps,
		log: deps.Logger.With().
			Str("component", "picture-ingester").
			Str("folder", root).
			Str("destination", folder.DestinationLabel).
			Logger(),
		now: time.Now,
	}, nil
}

// CompilePatterns compiles picture file patterns.
func CompilePatterns(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid picture pattern %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// State returns the current lifecycle state.
func (p *PictureIngester) State() State {
	return State(p.state.Load())
}

// Root returns the canonical folder path.
func (p *PictureIngester) Root() string {
	return p.root
}

// Run watches the folder tree until ctx is cancelled.
func (p *PictureIngester) Run(ctx context.Context) error {
	p.state.Store(int32(StateScanning))

	fw, err := NewFileWatcher(true)
	if err != nil {
		p.state.Store(int32(StateFailed))
		return syncerr.Filesystem(err)
	}
	if err := fw.Start(p.root); err != nil {
		_ = fw.Stop()
		p.state.Store(int32(StateFailed))
		return syncerr.Filesystem(err)
	}
	defer fw.Stop()

	p.deps.Metrics.WatcherStarted(string(catalog.KindPicture))
	defer p.deps.Metrics.WatcherStopped(string(catalog.KindPicture))

	if p.cfg.ScanOnStart {
		p.ScanTree(ctx, p.root)
	}

	p.state.Store(int32(StateMonitoring))
	p.log.Info().Msg("Monitoring picture folder")

	for {
		select {
		case <-ctx.Done():
			p.state.Store(int32(StateStopped))
			return nil
		case ev, ok := <-fw.Events():
			if !ok {
				p.state.Store(int32(StateStopped))
				return nil
			}
			p.Handle(ctx, ev)
		case err, ok := <-fw.Errors():
			if !ok {
				continue
			}
			p.log.Warn().Err(err).Msg("Watch error")
		}
	}
}

// Handle reacts to one event. Only manifest creates and modifications, and
// newly created directories, lead to scans.
func (p *PictureIngester) Handle(ctx context.Context, ev Event) {
	if ev.Op != OpCreate && ev.Op != OpModify {
		return
	}
	path := ev.Path()
	if path == "" || !p.inTree(path) {
		return
	}

	if filepath.Base(path) == p.cfg.ManifestName {
		p.scanLogged(ctx, filepath.Dir(path))
		return
	}

	if ev.Op == OpCreate {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			p.ScanTree(ctx, path)
		}
	}
}

// ScanTree scans every directory under dir whose manifest is confirmed.
func (p *PictureIngester) ScanTree(ctx context.Context, dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("Failed to walk directory")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			p.scanLogged(ctx, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn().Err(err).Str("dir", dir).Msg("Tree scan aborted")
	}
}

func (p *PictureIngester) scanLogged(ctx context.Context, dir string) {
	res, err := p.ScanDirectory(ctx, dir)
	if err != nil {
		p.log.Error().Err(err).Str("dir", dir).Msg("Directory scan failed")
		return
	}
	if res.Ingested+res.Duplicates+res.Ignored+res.Failed == 0 {
		return
	}
	p.log.Info().
		Str("dir", dir).
		Int("ingested", res.Ingested).
		Int("duplicates", res.Duplicates).
		Int("ignored", res.Ignored).
		Int("failed", res.Failed).
		Msg("Scanned picture directory")
}

// ScanDirectory ingests the pictures of one directory. Nothing happens unless
// the directory's manifest carries the confirmation marker. A failing file
// is counted and skipped; the error return is reserved for failures that
// prevent the scan itself. The signal is marked once if anything was
// ingested.
func (p *PictureIngester) ScanDirectory(ctx context.Context, dir string) (ScanResult, error) {
	var res ScanResult

	m, err := manifest.Read(filepath.Join(dir, p.cfg.ManifestName), p.cfg.ConfirmationMarker)
	if err != nil {
		return res, syncerr.Filesystem(err)
	}
	if !m.Confirmed() {
		return res, nil
	}
	for _, prob := range m.Problems {
		p.log.Warn().Str("dir", dir).Str("problem", prob.String()).Msg("Manifest line ignored")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return res, syncerr.Filesystem(fmt.Errorf("failed to list %s: %w", dir, err))
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		name := e.Name()
		if !e.Type().IsRegular() || name == p.cfg.ManifestName || !p.matches(name) {
			continue
		}

		attrs := m.Attributes(name)
		if attrs.Ignored {
			res.Ignored++
			p.deps.Metrics.PictureFile(telemetry.ResultSkipped)
			continue
		}

		path := filepath.Join(dir, name)
		ingested, err := p.ingestFile(ctx, path, attrs)
		switch {
		case err != nil:
			res.Failed++
			p.deps.Metrics.PictureFile(telemetry.ResultFailed)
			p.log.Error().Err(err).Str("path", path).Msg("Failed to ingest picture")
		case ingested:
			res.Ingested++
			p.deps.Metrics.PictureFile(telemetry.ResultOK)
		default:
			res.Duplicates++
			p.deps.Metrics.PictureFile(telemetry.ResultDuplicate)
		}
	}

	if res.Ingested > 0 {
		p.deps.Signal.MarkDirty()
	}
	return res, nil
}

// ingestFile runs the store pipeline for one picture. It reports false
// without error when the content is already catalogued.
func (p *PictureIngester) ingestFile(ctx context.Context, path string, attrs manifest.Attributes) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, syncerr.Filesystem(err)
	}

	hash, err := p.contentHash(path, info)
	if err != nil {
		return false, syncerr.Content(err)
	}
	if known, err := p.known(ctx, hash); err != nil || known {
		return false, err
	}

	var identity catalog.Identity
	var storedPath string
	if info.Size() <= p.cfg.CompressThreshold {
		identity, storedPath, err = p.storeVerbatim(path, hash)
	} else {
		identity, storedPath, err = p.storeResized(ctx, path, hash)
	}
	if err != nil || identity == nil {
		return false, err
	}

	md, err := p.extract(path)
	if err != nil {
		p.log.Debug().Err(err).Str("path", path).Msg("No metadata")
	}

	rec := catalog.PictureRecord{
		Identity:       identity,
		StoredPath:     storedPath,
		IsPhotography:  true,
		Selected:       attrs.Selected,
		Title:          attrs.Title,
		ArticleLink:    attrs.Link,
		ShootingParams: md.ExposureParams,
		ShootingDate:   md.Date,
		Camera:         md.Camera,
		Orientation:    catalog.OrientationOf(md.Width, md.Height),
		CreatedAt:      p.now(),
	}
	inserted, err := p.deps.Catalog.InsertPicture(ctx, rec)
	if err != nil || !inserted {
		return false, err
	}

	if err := p.deps.Uploader.Upload(ctx, storedPath); err != nil {
		p.log.Warn().Err(err).Str("path", storedPath).Msg("Upload failed, picture kept locally")
		p.deps.Metrics.Upload(err)
	} else {
		p.deps.Metrics.Upload(nil)
	}
	return true, nil
}

func (p *PictureIngester) contentHash(path string, info os.FileInfo) (string, error) {
	if h, ok := p.deps.Cache.Get(path, info); ok {
		return h, nil
	}
	h, _, err := store.HashFile(path)
	if err != nil {
		return "", err
	}
	p.deps.Cache.Add(path, info, h)
	return h, nil
}

// known reports whether hash resolves to a catalogued picture, either as its
// current or its previous identity.
func (p *PictureIngester) known(ctx context.Context, hash string) (bool, error) {
	_, err := p.deps.Catalog.GetPicture(ctx, hash)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, syncerr.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (p *PictureIngester) storeVerbatim(path, hash string) (catalog.Identity, string, error) {
	st, err := p.deps.Store.StageFile(path)
	if err != nil {
		return nil, "", syncerr.Filesystem(err)
	}
	if st.Hash != hash {
		st.Discard()
		return nil, "", syncerr.Content(fmt.Errorf("%s changed while being ingested", path))
	}
	stored, err := st.Commit()
	if err != nil {
		return nil, "", syncerr.Filesystem(err)
	}
	return catalog.Single{Hash: hash}, stored, nil
}

// storeResized stores the resized picture under the hash of the resized
// bytes and links it to the original hash. It returns a nil identity when
// the resized content is already catalogued.
func (p *PictureIngester) storeResized(ctx context.Context, path, hash string) (catalog.Identity, string, error) {
	if p.deps.Resizer == nil {
		return p.storeVerbatim(path, hash)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", syncerr.Filesystem(err)
	}
	resized, err := p.deps.Resizer.Resize(data, p.cfg.MaxDimension)
	if err != nil {
		return nil, "", syncerr.Content(fmt.Errorf("failed to resize %s: %w", path, err))
	}

	st, err := p.deps.Store.StageBytes(resized, filepath.Ext(path))
	if err != nil {
		return nil, "", syncerr.Filesystem(err)
	}
	if st.Hash == hash {
		stored, err := st.Commit()
		if err != nil {
			return nil, "", syncerr.Filesystem(err)
		}
		return catalog.Single{Hash: hash}, stored, nil
	}
	if known, err := p.known(ctx, st.Hash); err != nil || known {
		st.Discard()
		return nil, "", err
	}

	stored, err := st.Commit()
	if err != nil {
		return nil, "", syncerr.Filesystem(err)
	}
	return catalog.Migrated{Old: hash, New: st.Hash}, stored, nil
}

// extract reads metadata from the source file, since resizing drops EXIF.
func (p *PictureIngester) extract(path string) (media.Metadata, error) {
	if p.deps.Extractor == nil {
		return media.Metadata{}, nil
	}
	return p.deps.Extractor.Extract(path)
}

func (p *PictureIngester) matches(name string) bool {
	for _, g := range p.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (p *PictureIngester) inTree(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(p.root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
