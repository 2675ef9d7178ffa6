package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/sitesync/internal/syncerr"
)

// RegisterFolder adds a monitored folder.
//
// Returns an error matching syncerr.ErrDuplicateFolder if the same path and
// kind is already registered. Folders are append-only.
func (db *DB) RegisterFolder(ctx context.Context, f FolderRegistration) error {
	if f.Path == "" {
		return fmt.Errorf("invalid folder: path is required")
	}
	if _, err := ParseKind(string(f.Kind)); err != nil {
		return fmt.Errorf("invalid folder: %w", err)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO folders (path, kind, destination_label, require_confirmation, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(path, kind) DO NOTHING
	`

	res, err := db.conn.ExecContext(ctx, query,
		f.Path,
		string(f.Kind),
		f.DestinationLabel,
		f.RequireConfirmation,
		formatTime(f.CreatedAt),
	)
	if err != nil {
		return syncerr.Catalog(fmt.Errorf("failed to register folder %s: %w", f.Path, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return syncerr.Catalog(fmt.Errorf("failed to register folder %s: %w", f.Path, err))
	}
	if n == 0 {
		return fmt.Errorf("%s folder %s: %w", f.Kind, f.Path, syncerr.ErrDuplicateFolder)
	}
	return nil
}

// GetFolder retrieves a single registration.
// Returns an error matching syncerr.ErrNotFound if absent.
func (db *DB) GetFolder(ctx context.Context, path string, kind Kind) (*FolderRegistration, error) {
	query := `
	SELECT path, kind, destination_label, require_confirmation, created_at
	FROM folders
	WHERE path = ? AND kind = ?
	`

	var f FolderRegistration
	var k, createdAt string
	err := db.conn.QueryRowContext(ctx, query, path, string(kind)).Scan(
		&f.Path, &k, &f.DestinationLabel, &f.RequireConfirmation, &createdAt,
	)
	if err != nil {
		return nil, notFound(err, "folder "+path)
	}
	f.Kind = Kind(k)
	f.CreatedAt = parseTime(createdAt)
	return &f, nil
}

// ListFolders returns the folders of the given kind in registration order.
// An empty kind lists every folder.
func (db *DB) ListFolders(ctx context.Context, kind Kind) ([]FolderRegistration, error) {
	query := `
	SELECT path, kind, destination_label, require_confirmation, created_at
	FROM folders
	`
	var args []interface{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY created_at ASC, path ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, syncerr.Catalog(fmt.Errorf("failed to list folders: %w", err))
	}
	defer rows.Close()

	var folders []FolderRegistration
	for rows.Next() {
		var f FolderRegistration
		var k, createdAt string
		if err := rows.Scan(&f.Path, &k, &f.DestinationLabel, &f.RequireConfirmation, &createdAt); err != nil {
			return nil, syncerr.Catalog(fmt.Errorf("failed to scan folder: %w", err))
		}
		f.Kind = Kind(k)
		f.CreatedAt = parseTime(createdAt)
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Catalog(fmt.Errorf("error iterating folders: %w", err))
	}
	return folders, nil
}
