// Package catalog is the persistent source of truth for sitesync: registered
// folders, article records and the pictures held in the content-addressed store.
//
// The catalog is an embedded SQLite database (ncruces/go-sqlite3, WAL mode).
// Every operation is a single statement, so each is individually atomic, and
// each borrows one pooled connection only for the duration of that statement.
//
// Architecture:
//   - Database file: ~/.sitesync/catalog.db by default
//   - WAL mode: watchers write while the publisher reads
//   - Schema: folders, articles, pictures tables
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/sitesync/internal/syncerr"
)

// maxOpenConns bounds the handle pool shared by all workers.
const maxOpenConns = 8

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the catalog database at path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := catalog.Open("/var/lib/sitesync/catalog.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, syncerr.Catalog(fmt.Errorf("failed to create database directory: %w", err))
		}
	}

	// Pragmas are applied by the driver to every pooled connection.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, syncerr.Catalog(fmt.Errorf("failed to open database: %w", err))
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, syncerr.Catalog(fmt.Errorf("failed to ping database: %w", err))
	}

	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, path: path}, nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// Close checkpoints the WAL and closes the pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the catalog tables if they don't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS folders (
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		destination_label TEXT NOT NULL DEFAULT '',
		require_confirmation INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		PRIMARY KEY (path, kind)
	);

	CREATE TABLE IF NOT EXISTS articles (
		source_path TEXT NOT NULL,
		destination_label TEXT NOT NULL,
		last_sync_time TEXT NOT NULL,
		PRIMARY KEY (source_path, destination_label)
	);

	CREATE TABLE IF NOT EXISTS pictures (
		content_hash TEXT PRIMARY KEY,
		previous_hash TEXT,
		stored_path TEXT NOT NULL,
		is_photography INTEGER NOT NULL DEFAULT 0,
		selected INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL DEFAULT '',
		article_link TEXT,
		shooting_params TEXT NOT NULL DEFAULT '',
		shooting_date TEXT NOT NULL DEFAULT '',
		camera TEXT NOT NULL DEFAULT '',
		orientation TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_folders_kind ON folders(kind);
	CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source_path);
	CREATE INDEX IF NOT EXISTS idx_pictures_previous ON pictures(previous_hash);
	CREATE INDEX IF NOT EXISTS idx_pictures_photography ON pictures(is_photography, shooting_date);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return syncerr.Catalog(fmt.Errorf("failed to initialize schema: %w", err))
	}
	return nil
}

// Counts returns the number of rows per entity.
func (db *DB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	query := `
	SELECT
		(SELECT COUNT(*) FROM folders),
		(SELECT COUNT(*) FROM articles),
		(SELECT COUNT(*) FROM pictures)
	`
	if err := db.conn.QueryRowContext(ctx, query).Scan(&c.Folders, &c.Articles, &c.Pictures); err != nil {
		return Counts{}, syncerr.Catalog(fmt.Errorf("failed to count rows: %w", err))
	}
	return c, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, syncerr.ErrNotFound)
	}
	return syncerr.Catalog(fmt.Errorf("failed to get %s: %w", what, err))
}
