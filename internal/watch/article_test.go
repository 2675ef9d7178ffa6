package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/syncerr"
)

const articleMarker = "deploy: true"

func newArticleWatcher(t *testing.T, requireConfirmation bool) (*ArticleWatcher, *memArticles, *countingSignal) {
	t.Helper()
	dir := t.TempDir()
	cat := newMemArticles()
	sig := &countingSignal{}
	w, err := NewArticleWatcher(catalog.FolderRegistration{
		Path:                dir,
		Kind:                catalog.KindArticle,
		DestinationLabel:    "blog",
		RequireConfirmation: requireConfirmation,
	}, cat, sig, ArticleConfig{Extensions: []string{".md"}, ConfirmationMarker: articleMarker}, zerolog.Nop(), nil)
	require.NoError(t, err)
	return w, cat, sig
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestArticleCatchUp(t *testing.T) {
	w, cat, sig := newArticleWatcher(t, false)
	writeFile(t, filepath.Join(w.Root(), "a.md"), "# A")
	writeFile(t, filepath.Join(w.Root(), "B.MD"), "# B")
	writeFile(t, filepath.Join(w.Root(), "notes.txt"), "not an article")
	require.NoError(t, os.Mkdir(filepath.Join(w.Root(), "sub.md"), 0o755))

	require.NoError(t, w.CatchUp(context.Background()))

	assert.Equal(t, []string{filepath.Join(w.Root(), "B.MD"), filepath.Join(w.Root(), "a.md")}, cat.paths())
	assert.Equal(t, 2, sig.count())
}

func TestArticleRenameEquivalence(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, events func(from, to string) []Event) []string {
		w, cat, sig := newArticleWatcher(t, false)
		old := filepath.Join(w.Root(), "draft.md")
		writeFile(t, old, "body")
		w.Handle(ctx, Event{Op: OpCreate, Paths: []string{old}})

		renamed := filepath.Join(w.Root(), "final.md")
		require.NoError(t, os.Rename(old, renamed))
		for _, ev := range events(old, renamed) {
			w.Handle(ctx, ev)
		}
		var rel []string
		for _, p := range cat.paths() {
			rel = append(rel, filepath.Base(p))
		}
		assert.Equal(t, 3, sig.count(), "each applied step marks once")
		return rel
	}

	twoPath := run(t, func(from, to string) []Event {
		return []Event{{Op: OpModify, Paths: []string{from, to}}}
	})
	removeCreate := run(t, func(from, to string) []Event {
		return []Event{{Op: OpRemove, Paths: []string{from}}, {Op: OpCreate, Paths: []string{to}}}
	})
	// fsnotify's own shape: Rename on the old name, Create on the new one.
	fsnotifyShape := run(t, func(from, to string) []Event {
		ev, ok := convertEvent(fsnotify.Event{Name: from, Op: fsnotify.Rename})
		require.True(t, ok)
		return []Event{ev, {Op: OpCreate, Paths: []string{to}}}
	})

	assert.Equal(t, []string{"final.md"}, twoPath)
	assert.Equal(t, twoPath, removeCreate)
	assert.Equal(t, twoPath, fsnotifyShape)
}

func TestArticleModifySinglePathReingests(t *testing.T) {
	w, cat, sig := newArticleWatcher(t, false)
	path := filepath.Join(w.Root(), "a.md")
	writeFile(t, path, "v1")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return base }
	w.Handle(context.Background(), Event{Op: OpCreate, Paths: []string{path}})

	w.now = func() time.Time { return base.Add(time.Hour) }
	writeFile(t, path, "v2")
	w.Handle(context.Background(), Event{Op: OpModify, Paths: []string{path}})

	require.Len(t, cat.records, 1)
	rec := cat.records[articleKey{path, "blog"}]
	assert.Equal(t, base.Add(time.Hour), rec.LastSyncTime)
	assert.Equal(t, 2, sig.count())
}

func TestArticleConfirmationGating(t *testing.T) {
	w, cat, sig := newArticleWatcher(t, true)
	path := filepath.Join(w.Root(), "post.md")
	ctx := context.Background()

	writeFile(t, path, "---\ntitle: Post\n---\nbody")
	w.Handle(ctx, Event{Op: OpCreate, Paths: []string{path}})
	assert.Empty(t, cat.paths())
	assert.Equal(t, 0, sig.count())

	writeFile(t, path, "---\ntitle: Post\ndeploy: true\n---\nbody")
	w.Handle(ctx, Event{Op: OpModify, Paths: []string{path}})
	assert.Equal(t, []string{path}, cat.paths())
	assert.Equal(t, 1, sig.count())
}

func TestArticleRejectsPathsOutsideRoot(t *testing.T) {
	w, cat, _ := newArticleWatcher(t, false)
	ctx := context.Background()

	writeFile(t, filepath.Join(w.Root(), "a.md"), "x")
	alias := filepath.Join(t.TempDir(), "alias")
	require.NoError(t, os.Symlink(w.Root(), alias))

	w.Handle(ctx, Event{Op: OpCreate, Paths: []string{filepath.Join(alias, "a.md")}})
	assert.Empty(t, cat.paths(), "same file via an alias must not produce a record")

	other := filepath.Join(t.TempDir(), "b.md")
	writeFile(t, other, "x")
	w.Handle(ctx, Event{Op: OpCreate, Paths: []string{other}})
	assert.Empty(t, cat.paths())

	nested := filepath.Join(w.Root(), "sub")
	require.NoError(t, os.Mkdir(nested, 0o755))
	writeFile(t, filepath.Join(nested, "c.md"), "x")
	w.Handle(ctx, Event{Op: OpCreate, Paths: []string{filepath.Join(nested, "c.md")}})
	assert.Empty(t, cat.paths(), "article folders are not recursive")
}

func TestArticleRemoveIgnoresDestination(t *testing.T) {
	w, cat, sig := newArticleWatcher(t, false)
	path := filepath.Join(w.Root(), "a.md")
	ctx := context.Background()

	require.NoError(t, cat.UpsertArticle(ctx, catalog.ArticleRecord{SourcePath: path, DestinationLabel: "other"}))
	require.NoError(t, cat.UpsertArticle(ctx, catalog.ArticleRecord{SourcePath: path, DestinationLabel: "blog"}))

	w.Handle(ctx, Event{Op: OpRemove, Paths: []string{path}})
	assert.Empty(t, cat.paths())
	assert.Equal(t, 1, sig.count())
}

func TestArticleCatalogErrorIsolated(t *testing.T) {
	w, cat, sig := newArticleWatcher(t, false)
	ctx := context.Background()
	a := filepath.Join(w.Root(), "a.md")
	b := filepath.Join(w.Root(), "b.md")
	writeFile(t, a, "x")
	writeFile(t, b, "x")

	cat.setFail(syncerr.Catalog(errors.New("disk I/O error")))
	w.Handle(ctx, Event{Op: OpCreate, Paths: []string{a}})
	assert.Equal(t, 0, sig.count())

	cat.setFail(nil)
	w.Handle(ctx, Event{Op: OpCreate, Paths: []string{b}})
	assert.Equal(t, []string{b}, cat.paths())
	assert.Equal(t, 1, sig.count())
}

func TestArticleIgnoresOtherEvents(t *testing.T) {
	w, cat, sig := newArticleWatcher(t, false)
	w.Handle(context.Background(), Event{Op: Op(42), Paths: []string{filepath.Join(w.Root(), "a.md")}})
	w.Handle(context.Background(), Event{Op: OpCreate})
	assert.Empty(t, cat.paths())
	assert.Equal(t, 0, sig.count())
}

func TestArticleRun_Integration(t *testing.T) {
	w, cat, sig := newArticleWatcher(t, false)
	existing := filepath.Join(w.Root(), "existing.md")
	writeFile(t, existing, "x")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.State() == StateMonitoring }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{existing}, cat.paths())

	created := filepath.Join(w.Root(), "new.md")
	writeFile(t, created, "hello")
	require.Eventually(t, func() bool { return len(cat.paths()) == 2 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(existing))
	require.Eventually(t, func() bool {
		p := cat.paths()
		return len(p) == 1 && p[0] == created
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, sig.count(), 3)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, StateStopped, w.State())
}

func TestArticleRun_SetupFailure(t *testing.T) {
	w, _, _ := newArticleWatcher(t, false)
	require.NoError(t, os.RemoveAll(w.Root()))

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.True(t, syncerr.IsFatal(err))
	assert.Equal(t, StateFailed, w.State())
}
