package catalog

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/sitesync/internal/syncerr"
)

// UpsertArticle inserts or replaces an article keyed by (SourcePath, DestinationLabel).
func (db *DB) UpsertArticle(ctx context.Context, a ArticleRecord) error {
	if a.SourcePath == "" {
		return fmt.Errorf("invalid article: source path is required")
	}

	query := `
	INSERT INTO articles (source_path, destination_label, last_sync_time)
	VALUES (?, ?, ?)
	ON CONFLICT(source_path, destination_label) DO UPDATE SET
		last_sync_time = excluded.last_sync_time
	`

	_, err := db.conn.ExecContext(ctx, query, a.SourcePath, a.DestinationLabel, formatTime(a.LastSyncTime))
	if err != nil {
		return syncerr.Catalog(fmt.Errorf("failed to upsert article %s: %w", a.SourcePath, err))
	}
	return nil
}

// GetArticle retrieves an article by its natural key.
// Returns an error matching syncerr.ErrNotFound if absent.
func (db *DB) GetArticle(ctx context.Context, sourcePath, destinationLabel string) (*ArticleRecord, error) {
	query := `
	SELECT source_path, destination_label, last_sync_time
	FROM articles
	WHERE source_path = ? AND destination_label = ?
	`

	var a ArticleRecord
	var syncedAt string
	err := db.conn.QueryRowContext(ctx, query, sourcePath, destinationLabel).Scan(
		&a.SourcePath, &a.DestinationLabel, &syncedAt,
	)
	if err != nil {
		return nil, notFound(err, "article "+sourcePath)
	}
	a.LastSyncTime = parseTime(syncedAt)
	return &a, nil
}

// ListArticles returns every article, most recently synced first.
func (db *DB) ListArticles(ctx context.Context) ([]ArticleRecord, error) {
	query := `
	SELECT source_path, destination_label, last_sync_time
	FROM articles
	ORDER BY last_sync_time DESC, source_path ASC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, syncerr.Catalog(fmt.Errorf("failed to list articles: %w", err))
	}
	defer rows.Close()

	var articles []ArticleRecord
	for rows.Next() {
		var a ArticleRecord
		var syncedAt string
		if err := rows.Scan(&a.SourcePath, &a.DestinationLabel, &syncedAt); err != nil {
			return nil, syncerr.Catalog(fmt.Errorf("failed to scan article: %w", err))
		}
		a.LastSyncTime = parseTime(syncedAt)
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Catalog(fmt.Errorf("error iterating articles: %w", err))
	}
	return articles, nil
}

// DeleteArticlesByPath removes every article with the given source path,
// regardless of destination. Returns nil if none exist (idempotent).
func (db *DB) DeleteArticlesByPath(ctx context.Context, sourcePath string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM articles WHERE source_path = ?`, sourcePath)
	if err != nil {
		return syncerr.Catalog(fmt.Errorf("failed to delete article %s: %w", sourcePath, err))
	}
	return nil
}
