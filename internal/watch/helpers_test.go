package watch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/syncerr"
)

type articleKey struct {
	path, dest string
}

// memArticles is an in-memory ArticleCatalog.
type memArticles struct {
	mu      sync.Mutex
	records map[articleKey]catalog.ArticleRecord
	fail    error
}

func newMemArticles() *memArticles {
	return &memArticles{records: make(map[articleKey]catalog.ArticleRecord)}
}

func (m *memArticles) UpsertArticle(_ context.Context, a catalog.ArticleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.records[articleKey{a.SourcePath, a.DestinationLabel}] = a
	return nil
}

func (m *memArticles) DeleteArticlesByPath(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for k := range m.records {
		if k.path == path {
			delete(m.records, k)
		}
	}
	return nil
}

func (m *memArticles) setFail(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

func (m *memArticles) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for k := range m.records {
		out = append(out, k.path)
	}
	sort.Strings(out)
	return out
}

// countingSignal records MarkDirty calls.
type countingSignal struct {
	n atomic.Int32
}

func (s *countingSignal) MarkDirty() { s.n.Add(1) }

func (s *countingSignal) count() int { return int(s.n.Load()) }

// failingPictures wraps a PictureCatalog and fails inserts on demand.
type failingPictures struct {
	PictureCatalog
	failInsert atomic.Bool
}

func (f *failingPictures) InsertPicture(ctx context.Context, p catalog.PictureRecord) (bool, error) {
	if f.failInsert.Load() {
		return false, syncerr.Catalog(errors.New("database is locked"))
	}
	return f.PictureCatalog.InsertPicture(ctx, p)
}
