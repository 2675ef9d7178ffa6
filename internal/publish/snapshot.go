package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/sitesync/internal/catalog"
	"github.com/mschirtzinger/sitesync/internal/execx"
	"github.com/mschirtzinger/sitesync/internal/syncerr"
)

// CatalogReader is the read side of the catalog the snapshot needs.
type CatalogReader interface {
	ListArticles(ctx context.Context) ([]catalog.ArticleRecord, error)
	ListPhotographyPictures(ctx context.Context) ([]catalog.PictureRecord, error)
}

// Snapshot is the document handed to the render pipeline.
type Snapshot struct {
	GeneratedAt time.Time      `yaml:"generated_at"`
	Articles    []ArticleEntry `yaml:"articles"`
	Pictures    []PictureEntry `yaml:"pictures"`
}

// ArticleEntry is one article in a Snapshot.
type ArticleEntry struct {
	Source      string    `yaml:"source"`
	Destination string    `yaml:"destination,omitempty"`
	SyncedAt    time.Time `yaml:"synced_at"`
}

// PictureEntry is one photography picture in a Snapshot.
type PictureEntry struct {
	Hash           string `yaml:"hash"`
	PreviousHash   string `yaml:"previous_hash,omitempty"`
	Path           string `yaml:"path"`
	Title          string `yaml:"title"`
	Selected       bool   `yaml:"selected"`
	Link           string `yaml:"link,omitempty"`
	ShootingParams string `yaml:"shooting_params,omitempty"`
	ShootingDate   string `yaml:"shooting_date,omitempty"`
	Camera         string `yaml:"camera,omitempty"`
	Orientation    string `yaml:"orientation,omitempty"`
}

// SnapshotPublisher writes a YAML snapshot of the catalog, then runs Command
// (if any) with SITESYNC_SNAPSHOT pointing at it.
type SnapshotPublisher struct {
	Catalog CatalogReader
	Path    string
	Command []string
	Timeout time.Duration
}

// Publish implements Publisher.
func (p *SnapshotPublisher) Publish(ctx context.Context) error {
	snap, err := p.build(ctx)
	if err != nil {
		return syncerr.Publish(err)
	}
	if err := writeSnapshot(p.Path, snap); err != nil {
		return syncerr.Publish(err)
	}
	if len(p.Command) == 0 {
		return nil
	}

	argv := make([]string, len(p.Command))
	for i, a := range p.Command {
		argv[i] = os.Expand(a, func(key string) string {
			if key == "SITESYNC_SNAPSHOT" {
				return p.Path
			}
			return os.Getenv(key)
		})
	}
	if _, err := execx.RunArgv(ctx, p.Timeout, filepath.Dir(p.Path), argv); err != nil {
		return syncerr.Publish(fmt.Errorf("publish command failed: %w", err))
	}
	return nil
}

func (p *SnapshotPublisher) build(ctx context.Context) (*Snapshot, error) {
	articles, err := p.Catalog.ListArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	pictures, err := p.Catalog.ListPhotographyPictures(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pictures: %w", err)
	}

	snap := &Snapshot{
		GeneratedAt: time.Now().UTC(),
		Articles:    make([]ArticleEntry, 0, len(articles)),
		Pictures:    make([]PictureEntry, 0, len(pictures)),
	}
	for _, a := range articles {
		snap.Articles = append(snap.Articles, ArticleEntry{
			Source:      a.SourcePath,
			Destination: a.DestinationLabel,
			SyncedAt:    a.LastSyncTime.UTC(),
		})
	}
	for _, pic := range pictures {
		e := PictureEntry{
			Hash:           pic.Identity.Current(),
			Path:           pic.StoredPath,
			Title:          pic.Title,
			Selected:       pic.Selected,
			ShootingParams: pic.ShootingParams,
			ShootingDate:   pic.ShootingDate,
			Camera:         pic.Camera,
			Orientation:    string(pic.Orientation),
		}
		if m, ok := pic.Identity.(catalog.Migrated); ok {
			e.PreviousHash = m.Old
		}
		if pic.ArticleLink != nil {
			e.Link = *pic.ArticleLink
		}
		snap.Pictures = append(snap.Pictures, e)
	}
	return snap, nil
}

// writeSnapshot writes atomically via a temp file.
func writeSnapshot(path string, snap *Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	// A unique temp name per writer: the daemon's loop and a manual
	// `sitesync publish` may write the same snapshot at once.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
