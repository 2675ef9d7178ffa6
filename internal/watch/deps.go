package watch

import (
	"context"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/media"
)

// ArticleCatalog is the part of the catalog an ArticleWatcher writes.
type ArticleCatalog interface {
	UpsertArticle(ctx context.Context, a catalog.ArticleRecord) error
	DeleteArticlesByPath(ctx context.Context, sourcePath string) error
}

// PictureCatalog is the part of the catalog a PictureIngester uses.
type PictureCatalog interface {
	GetPicture(ctx context.Context, hash string) (*catalog.PictureRecord, error)
	InsertPicture(ctx context.Context, p catalog.PictureRecord) (bool, error)
}

// Signal receives a notification after every committed mutation.
type Signal interface {
	MarkDirty()
}

// Extractor reads picture metadata. Errors are tolerated by the caller.
type Extractor interface {
	Extract(path string) (media.Metadata, error)
}

// Resizer shrinks encoded picture bytes to fit a bound.
type Resizer interface {
	Resize(data []byte, maxDimension int) ([]byte, error)
}

// State is the lifecycle of a folder watcher.
type State int32

const (
	// StateScanning covers watch setup and the catch-up pass.
	StateScanning State = iota
	// StateMonitoring is the steady state.
	StateMonitoring
	// StateFailed is terminal; the watch could not be set up.
	StateFailed
	// StateStopped is terminal after cancellation.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateMonitoring:
		return "monitoring"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
