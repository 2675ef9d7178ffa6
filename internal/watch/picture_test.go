package watch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/media"
	"github.com/mschirtzinger/sitesync/internal/store"
	"github.com/mschirtzinger/sitesync/internal/syncerr"
)

const manifestName = "DEPLOY"

type pictureEnv struct {
	ing   *PictureIngester
	db    *catalog.DB
	store *store.Store
	sig   *countingSignal
	root  string
}

func newPictureEnv(t *testing.T, mutate func(*PictureConfig, *PictureDeps)) *pictureEnv {
	t.Helper()

	db, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema())

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)

	cache, err := NewFingerprintCache(64)
	require.NoError(t, err)

	sig := &countingSignal{}
	cfg := PictureConfig{
		ManifestName:       manifestName,
		ConfirmationMarker: "DEPLOY",
		Patterns:           []string{"*.{jpg,jpeg,png,JPG,JPEG,PNG}"},
		CompressThreshold:  1 << 20,
		MaxDimension:       1920,
	}
	deps := PictureDeps{
		Catalog: db,
		Store:   st,
		Resizer: prefixResizer{},
		Signal:  sig,
		Cache:   cache,
		Logger:  zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	root := t.TempDir()
	ing, err := NewPictureIngester(catalog.FolderRegistration{Path: root, Kind: catalog.KindPicture}, cfg, deps)
	require.NoError(t, err)

	return &pictureEnv{ing: ing, db: db, store: st, sig: sig, root: ing.Root()}
}

func (e *pictureEnv) count(t *testing.T) int {
	t.Helper()
	c, err := e.db.Counts(context.Background())
	require.NoError(t, err)
	return c.Pictures
}

// prefixResizer stands in for a codec: deterministic, and the output hashes
// differently from the input. Inputs starting with "corrupt" fail.
type prefixResizer struct{}

func (prefixResizer) Resize(data []byte, maxDimension int) ([]byte, error) {
	if bytes.HasPrefix(data, []byte("corrupt")) {
		return nil, errors.New("invalid JPEG marker")
	}
	return append([]byte("resized:"), data...), nil
}

type recordingUploader struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (u *recordingUploader) Upload(_ context.Context, path string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, path)
	return u.err
}

func sha(data string) string {
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

func TestScanDirectory_RequiresConfirmation(t *testing.T) {
	env := newPictureEnv(t, nil)
	ctx := context.Background()
	writeFile(t, filepath.Join(env.root, "a.jpg"), "pixels")

	res, err := env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{}, res, "no manifest")

	writeFile(t, filepath.Join(env.root, manifestName), "SELECTED[a.jpg]\nDEPLOY soon")
	res, err = env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{}, res, "marker must be a line of its own")

	assert.Equal(t, 0, env.count(t))
	assert.Equal(t, 0, env.sig.count())
}

func TestScanDirectory_AppliesDirectives(t *testing.T) {
	env := newPictureEnv(t, nil)
	ctx := context.Background()

	writeFile(t, filepath.Join(env.root, "a.jpg"), "content a")
	writeFile(t, filepath.Join(env.root, "b.JPG"), "content b")
	writeFile(t, filepath.Join(env.root, "x.png"), "content x")
	writeFile(t, filepath.Join(env.root, "notes.txt"), "not a picture")
	writeFile(t, filepath.Join(env.root, manifestName),
		"SELECTED[a.jpg]\nLINK[a.jpg]{http://x}\nTITLE[a.jpg]{Hello}\nIGNORE[x.png]\nDEPLOY\n")

	res, err := env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Ingested: 2, Ignored: 1}, res)
	assert.Equal(t, 1, env.sig.count())

	a, err := env.db.GetPicture(ctx, sha("content a"))
	require.NoError(t, err)
	assert.True(t, a.Selected)
	require.NotNil(t, a.ArticleLink)
	assert.Equal(t, "http://x", *a.ArticleLink)
	assert.Equal(t, "Hello", a.Title)
	assert.True(t, a.IsPhotography)
	assert.Equal(t, catalog.Single{Hash: sha("content a")}, a.Identity)
	assert.Equal(t, env.store.Path(sha("content a"), ".jpg"), a.StoredPath)

	b, err := env.db.GetPicture(ctx, sha("content b"))
	require.NoError(t, err)
	assert.False(t, b.Selected)
	assert.Nil(t, b.ArticleLink)
	assert.Equal(t, "b", b.Title)

	_, err = env.db.GetPicture(ctx, sha("content x"))
	assert.True(t, errors.Is(err, syncerr.ErrNotFound))
}

func TestScanDirectory_IdempotentUnderHash(t *testing.T) {
	env := newPictureEnv(t, nil)
	ctx := context.Background()

	writeFile(t, filepath.Join(env.root, "a.jpg"), "same bytes")
	writeFile(t, filepath.Join(env.root, "copy-of-a.jpg"), "same bytes")
	writeFile(t, filepath.Join(env.root, manifestName), "DEPLOY")

	res, err := env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Ingested: 1, Duplicates: 1}, res)

	res, err = env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Duplicates: 2}, res)

	assert.Equal(t, 1, env.count(t))
	assert.Equal(t, 1, env.sig.count(), "a scan that ingests nothing does not mark")
	assert.Equal(t, 2, env.ing.deps.Cache.Len())
}

func TestScanDirectory_HashChain(t *testing.T) {
	env := newPictureEnv(t, func(cfg *PictureConfig, _ *PictureDeps) {
		cfg.CompressThreshold = 4
	})
	ctx := context.Background()

	writeFile(t, filepath.Join(env.root, "big.jpg"), "large original")
	writeFile(t, filepath.Join(env.root, "tiny.jpg"), "tiny")
	writeFile(t, filepath.Join(env.root, manifestName), "DEPLOY")

	res, err := env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Ingested: 2}, res)

	h1 := sha("large original")
	h2 := sha("resized:large original")

	byOld, err := env.db.GetPicture(ctx, h1)
	require.NoError(t, err)
	byNew, err := env.db.GetPicture(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, byOld, byNew)
	assert.Equal(t, catalog.Migrated{Old: h1, New: h2}, byNew.Identity)

	stored, err := os.ReadFile(byNew.StoredPath)
	require.NoError(t, err)
	assert.Equal(t, "resized:large original", string(stored))

	// Exactly at the threshold is stored verbatim.
	tiny, err := env.db.GetPicture(ctx, sha("tiny"))
	require.NoError(t, err)
	assert.Equal(t, catalog.Single{Hash: sha("tiny")}, tiny.Identity)

	// The source still hashes to h1, which now resolves through previous_hash.
	res, err = env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Duplicates: 2}, res)
	assert.Equal(t, 2, env.count(t))
}

func TestScanDirectory_FailingFileIsIsolated(t *testing.T) {
	env := newPictureEnv(t, func(cfg *PictureConfig, _ *PictureDeps) {
		cfg.CompressThreshold = 10
	})
	ctx := context.Background()

	writeFile(t, filepath.Join(env.root, "a-broken.jpg"), "corrupt and large")
	writeFile(t, filepath.Join(env.root, "b-fine.jpg"), "ok")
	writeFile(t, filepath.Join(env.root, manifestName), "DEPLOY")

	res, err := env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Ingested: 1, Failed: 1}, res)
	assert.Equal(t, 1, env.count(t))
	assert.Equal(t, 1, env.sig.count())
}

func TestScanDirectory_NoRowWithoutFile(t *testing.T) {
	var pics *failingPictures
	env := newPictureEnv(t, func(_ *PictureConfig, deps *PictureDeps) {
		pics = &failingPictures{PictureCatalog: deps.Catalog}
		deps.Catalog = pics
	})
	ctx := context.Background()

	writeFile(t, filepath.Join(env.root, "a.jpg"), "contents")
	writeFile(t, filepath.Join(env.root, manifestName), "DEPLOY")

	pics.failInsert.Store(true)
	res, err := env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Failed: 1}, res)
	assert.Equal(t, 0, env.count(t))
	assert.Equal(t, 0, env.sig.count())

	pics.failInsert.Store(false)
	res, err = env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Ingested: 1}, res)

	all, err := env.db.ListPhotographyPictures(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	for _, p := range all {
		assert.FileExists(t, p.StoredPath)
	}

	staging, err := os.ReadDir(filepath.Join(env.store.Dir(), ".staging"))
	require.NoError(t, err)
	assert.Empty(t, staging)
}

func TestScanDirectory_UploadFailureIsNonFatal(t *testing.T) {
	up := &recordingUploader{err: syncerr.Transport(errors.New("connection refused"))}
	env := newPictureEnv(t, func(_ *PictureConfig, deps *PictureDeps) {
		deps.Uploader = up
	})
	ctx := context.Background()

	writeFile(t, filepath.Join(env.root, "a.jpg"), "contents")
	writeFile(t, filepath.Join(env.root, manifestName), "DEPLOY")

	res, err := env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Ingested: 1}, res)
	assert.Equal(t, 1, env.count(t))
	assert.Equal(t, []string{env.store.Path(sha("contents"), ".jpg")}, up.paths)
}

func TestScanDirectory_Metadata(t *testing.T) {
	env := newPictureEnv(t, func(_ *PictureConfig, deps *PictureDeps) {
		deps.Extractor = media.ExifExtractor{}
	})
	ctx := context.Background()

	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	writeFile(t, filepath.Join(env.root, "wide.png"), buf.String())
	writeFile(t, filepath.Join(env.root, "broken.png"), "not really a png")
	writeFile(t, filepath.Join(env.root, manifestName), "DEPLOY")

	res, err := env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Ingested: 2}, res, "unreadable metadata still yields a record")

	wide, err := env.db.GetPicture(ctx, sha(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, catalog.OrientationLandscape, wide.Orientation)

	broken, err := env.db.GetPicture(ctx, sha("not really a png"))
	require.NoError(t, err)
	assert.Equal(t, catalog.OrientationUnknown, broken.Orientation)
	assert.Empty(t, broken.Camera)
}

func TestPictureHandle_OnlyManifestTriggers(t *testing.T) {
	env := newPictureEnv(t, nil)
	ctx := context.Background()
	pic := filepath.Join(env.root, "a.jpg")
	mf := filepath.Join(env.root, manifestName)
	writeFile(t, pic, "contents")
	writeFile(t, mf, "DEPLOY")

	env.ing.Handle(ctx, Event{Op: OpCreate, Paths: []string{pic}})
	env.ing.Handle(ctx, Event{Op: OpModify, Paths: []string{pic}})
	env.ing.Handle(ctx, Event{Op: OpRemove, Paths: []string{mf}})
	assert.Equal(t, 0, env.count(t))

	outside := filepath.Join(t.TempDir(), manifestName)
	writeFile(t, outside, "DEPLOY")
	env.ing.Handle(ctx, Event{Op: OpModify, Paths: []string{outside}})
	assert.Equal(t, 0, env.count(t))

	env.ing.Handle(ctx, Event{Op: OpModify, Paths: []string{mf}})
	assert.Equal(t, 1, env.count(t))
}

func TestPictureHandle_NewDirectory(t *testing.T) {
	env := newPictureEnv(t, nil)
	ctx := context.Background()

	sub := filepath.Join(env.root, "2024", "trip")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeFile(t, filepath.Join(sub, "a.jpg"), "trip photo")
	writeFile(t, filepath.Join(sub, manifestName), "DEPLOY")

	env.ing.Handle(ctx, Event{Op: OpCreate, Paths: []string{filepath.Join(env.root, "2024")}})
	assert.Equal(t, 1, env.count(t))
}

func TestPictureRun_Integration(t *testing.T) {
	env := newPictureEnv(t, func(cfg *PictureConfig, _ *PictureDeps) {
		cfg.ScanOnStart = true
	})

	existing := filepath.Join(env.root, "old")
	require.NoError(t, os.Mkdir(existing, 0o755))
	writeFile(t, filepath.Join(existing, "a.jpg"), "already here")
	writeFile(t, filepath.Join(existing, manifestName), "DEPLOY")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.ing.Run(ctx) }()

	require.Eventually(t, func() bool { return env.ing.State() == StateMonitoring }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, env.count(t))

	fresh := filepath.Join(env.root, "new")
	require.NoError(t, os.Mkdir(fresh, 0o755))
	// Give the watcher a moment to add the new directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(fresh, "b.jpg"), "dropped later")
	writeFile(t, filepath.Join(fresh, manifestName), "TITLE[b.jpg]{Later}\nDEPLOY")

	require.Eventually(t, func() bool { return env.count(t) == 2 }, 5*time.Second, 20*time.Millisecond)

	b, err := env.db.GetPicture(context.Background(), sha("dropped later"))
	require.NoError(t, err)
	assert.Equal(t, "Later", b.Title)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, StateStopped, env.ing.State())
}

func TestNewPictureIngester_Validation(t *testing.T) {
	root := t.TempDir()
	folder := catalog.FolderRegistration{Path: root, Kind: catalog.KindPicture}
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	deps := PictureDeps{Catalog: &failingPictures{}, Store: st, Signal: &countingSignal{}}
	cfg := PictureConfig{ManifestName: manifestName, MaxDimension: 100, Patterns: []string{"*.jpg"}}

	_, err = NewPictureIngester(folder, cfg, deps)
	require.NoError(t, err)

	bad := cfg
	bad.Patterns = []string{"[unclosed"}
	_, err = NewPictureIngester(folder, bad, deps)
	assert.Error(t, err)

	bad = cfg
	bad.MaxDimension = 0
	_, err = NewPictureIngester(folder, bad, deps)
	assert.Error(t, err)

	_, err = NewPictureIngester(folder, cfg, PictureDeps{Store: st, Signal: &countingSignal{}})
	assert.Error(t, err)

	_, err = NewPictureIngester(catalog.FolderRegistration{Path: filepath.Join(root, "missing")}, cfg, deps)
	assert.True(t, syncerr.IsFatal(err))
}

// fileState is an os.FileInfo without platform data.
type fileState struct {
	size int64
	mod  time.Time
}

func (f fileState) Name() string       { return "" }
func (f fileState) Size() int64        { return f.size }
func (f fileState) Mode() os.FileMode  { return 0o644 }
func (f fileState) ModTime() time.Time { return f.mod }
func (f fileState) IsDir() bool        { return false }
func (f fileState) Sys() any           { return nil }

func TestFingerprintCache(t *testing.T) {
	c, err := NewFingerprintCache(2)
	require.NoError(t, err)
	mod := time.Unix(1700000000, 0)

	_, ok := c.Get("/a.jpg", fileState{10, mod})
	assert.False(t, ok)

	c.Add("/a.jpg", fileState{10, mod}, "h1")
	h, ok := c.Get("/a.jpg", fileState{10, mod})
	assert.True(t, ok)
	assert.Equal(t, "h1", h)

	_, ok = c.Get("/a.jpg", fileState{11, mod})
	assert.False(t, ok, "size change invalidates")
	_, ok = c.Get("/a.jpg", fileState{10, mod.Add(time.Second)})
	assert.False(t, ok, "mtime change invalidates")

	c.Add("/b.jpg", fileState{1, mod}, "h2")
	c.Add("/c.jpg", fileState{1, mod}, "h3")
	assert.Equal(t, 2, c.Len())

	var nilCache *FingerprintCache
	nilCache.Add("/a.jpg", fileState{1, mod}, "h")
	_, ok = nilCache.Get("/a.jpg", fileState{1, mod})
	assert.False(t, ok)

	_, err = NewFingerprintCache(0)
	assert.Error(t, err)
}

func TestFingerprintCache_ChangeTimeInvalidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	writeFile(t, path, "bytes one")
	before, err := os.Stat(path)
	require.NoError(t, err)
	if _, _, ok := changeStamp(before); !ok {
		t.Skip("platform reports no change time")
	}

	c, err := NewFingerprintCache(4)
	require.NoError(t, err)
	c.Add(path, before, "h1")

	time.Sleep(20 * time.Millisecond)
	writeFile(t, path, "bytes two")
	require.NoError(t, os.Chtimes(path, before.ModTime(), before.ModTime()))
	after, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, before.Size(), after.Size())
	require.Equal(t, before.ModTime(), after.ModTime())

	_, ok := c.Get(path, after)
	assert.False(t, ok, "replacement with preserved mtime must miss")
}

func TestScanDirectory_SameSizeReplacementPreservingMtime(t *testing.T) {
	env := newPictureEnv(t, nil)
	ctx := context.Background()

	path := filepath.Join(env.root, "a.jpg")
	writeFile(t, path, "bytes one")
	writeFile(t, filepath.Join(env.root, manifestName), "DEPLOY")
	before, err := os.Stat(path)
	require.NoError(t, err)
	if _, _, ok := changeStamp(before); !ok {
		t.Skip("platform reports no change time")
	}

	res, err := env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Ingested: 1}, res)

	// cp -p style: new bytes, same size, original mtime.
	time.Sleep(20 * time.Millisecond)
	writeFile(t, path, "bytes two")
	require.NoError(t, os.Chtimes(path, before.ModTime(), before.ModTime()))

	res, err = env.ing.ScanDirectory(ctx, env.root)
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Ingested: 1}, res)
	assert.Equal(t, 2, env.count(t))

	_, err = env.db.GetPicture(ctx, sha("bytes two"))
	require.NoError(t, err)
}

func TestOpAndEventPath(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "remove", OpRemove.String())
	assert.True(t, strings.HasPrefix(Op(9).String(), "unknown"))
	assert.Equal(t, "", Event{}.Path())
	assert.Equal(t, "/b", Event{Op: OpModify, Paths: []string{"/a", "/b"}}.Path())
}
