package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/config"
	"github.com/mschirtzinger/sitesync/internal/publish"
	"github.com/mschirtzinger/sitesync/internal/registry"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Catalog: config.Catalog{Path: filepath.Join(dir, "state", "catalog.db")},
		Store: config.Store{
			Dir:               filepath.Join(dir, "pictures"),
			CompressThreshold: 800000,
			MaxDimension:      1920,
			JPEGQuality:       85,
		},
		Articles: config.Articles{Extensions: []string{".md"}, ConfirmationMarker: "deploy: true"},
		Pictures: config.Pictures{
			ManifestName:         "DEPLOY",
			ConfirmationMarker:   "DEPLOY",
			Patterns:             []string{"*.{jpg,jpeg,png,JPG,JPEG,PNG}"},
			ScanOnStart:          true,
			FingerprintCacheSize: 16,
		},
		Publish: config.Publish{
			Enabled:      true,
			Interval:     50 * time.Millisecond,
			InitialDirty: true,
			SnapshotPath: filepath.Join(dir, "snapshot.yaml"),
			Timeout:      5 * time.Second,
		},
	}
}

func TestNew_SingleInstance(t *testing.T) {
	cfg := testConfig(t)

	running, err := Running(cfg)
	require.NoError(t, err)
	assert.False(t, running)

	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	running, err = Running(cfg)
	require.NoError(t, err)
	assert.True(t, running)

	_, err = New(cfg, zerolog.Nop())
	assert.True(t, errors.Is(err, ErrAlreadyRunning))

	require.NoError(t, d.Close())

	d, err = New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, d.Close())
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	reg := registry.New(d.Catalog())

	notes := t.TempDir()
	pics := t.TempDir()
	gone := t.TempDir()
	_, err = reg.Register(ctx, catalog.FolderRegistration{Path: notes, Kind: catalog.KindArticle, DestinationLabel: "blog"})
	require.NoError(t, err)
	_, err = reg.Register(ctx, catalog.FolderRegistration{Path: pics, Kind: catalog.KindPicture})
	require.NoError(t, err)
	_, err = reg.Register(ctx, catalog.FolderRegistration{Path: gone, Kind: catalog.KindArticle})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(gone))

	require.NoError(t, os.WriteFile(filepath.Join(pics, "a.jpg"), []byte("picture bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pics, "DEPLOY"), []byte("TITLE[a.jpg]{First}\nDEPLOY\n"), 0o644))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- d.Run(runCtx) }()

	require.Eventually(t, func() bool {
		st, err := d.Status(ctx)
		if err != nil || len(st.Folders) != 2 {
			return false
		}
		monitoring := 0
		for _, f := range st.Folders {
			if f.State == "monitoring" {
				monitoring++
			}
		}
		return monitoring == 2
	}, 5*time.Second, 20*time.Millisecond, "the missing folder is skipped")

	require.NoError(t, os.WriteFile(filepath.Join(notes, "post.md"), []byte("# Post"), 0o644))

	require.Eventually(t, func() bool {
		arts, err := d.Catalog().ListArticles(ctx)
		return err == nil && len(arts) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(cfg.Publish.SnapshotPath)
		if err != nil {
			return false
		}
		var snap publish.Snapshot
		if yaml.Unmarshal(data, &snap) != nil {
			return false
		}
		return len(snap.Articles) == 1 && len(snap.Pictures) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	st, err := d.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Counts.Pictures)
	for _, f := range st.Folders {
		assert.Contains(t, []string{"stopped", "failed"}, f.State)
	}
}

func TestNewWorker_UnknownKind(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	_, err = d.newWorker(catalog.FolderRegistration{Path: t.TempDir(), Kind: "video"})
	assert.Error(t, err)
}
