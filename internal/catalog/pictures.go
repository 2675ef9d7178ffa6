package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mschirtzinger/sitesync/internal/syncerr"
)

const pictureColumns = `content_hash, previous_hash, stored_path, is_photography, selected,
	title, article_link, shooting_params, shooting_date, camera, orientation, created_at`

// InsertPicture stores a picture record. Records are content-addressed and
// never rewritten: inserting a hash that already exists is a no-op and
// reports inserted=false.
func (db *DB) InsertPicture(ctx context.Context, p PictureRecord) (inserted bool, err error) {
	if err := p.Validate(); err != nil {
		return false, fmt.Errorf("invalid picture: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	current, previous := identityColumns(p.Identity)

	query := `
	INSERT INTO pictures (` + pictureColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(content_hash) DO NOTHING
	`

	res, err := db.conn.ExecContext(ctx, query,
		current,
		toNullString(previous),
		p.StoredPath,
		p.IsPhotography,
		p.Selected,
		p.Title,
		toNullString(p.ArticleLink),
		p.ShootingParams,
		p.ShootingDate,
		p.Camera,
		string(p.Orientation),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return false, syncerr.Catalog(fmt.Errorf("failed to insert picture %s: %w", current, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, syncerr.Catalog(fmt.Errorf("failed to insert picture %s: %w", current, err))
	}
	return n > 0, nil
}

// GetPicture resolves a hash to its picture. The hash may be either the
// stored (current) hash or the pre-compression (previous) hash.
// Returns an error matching syncerr.ErrNotFound if neither matches.
func (db *DB) GetPicture(ctx context.Context, hash string) (*PictureRecord, error) {
	// A current-hash match wins over a previous-hash match.
	query := `
	SELECT ` + pictureColumns + `
	FROM pictures
	WHERE content_hash = ? OR previous_hash = ?
	ORDER BY content_hash = ? DESC
	LIMIT 1
	`

	row := db.conn.QueryRowContext(ctx, query, hash, hash, hash)
	p, err := scanPicture(row)
	if err != nil {
		return nil, notFound(err, "picture "+hash)
	}
	return p, nil
}

// ListPhotographyPictures returns pictures flagged as photography,
// newest shooting date first.
func (db *DB) ListPhotographyPictures(ctx context.Context) ([]PictureRecord, error) {
	query := `
	SELECT ` + pictureColumns + `
	FROM pictures
	WHERE is_photography = 1
	ORDER BY shooting_date DESC, content_hash ASC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, syncerr.Catalog(fmt.Errorf("failed to list pictures: %w", err))
	}
	defer rows.Close()

	var pictures []PictureRecord
	for rows.Next() {
		p, err := scanPicture(rows)
		if err != nil {
			return nil, syncerr.Catalog(fmt.Errorf("failed to scan picture: %w", err))
		}
		pictures = append(pictures, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Catalog(fmt.Errorf("error iterating pictures: %w", err))
	}
	return pictures, nil
}

// DeletePicture removes the record resolved by either identity hash.
// Returns nil if the picture doesn't exist (idempotent).
func (db *DB) DeletePicture(ctx context.Context, hash string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM pictures WHERE content_hash = ? OR previous_hash = ?`, hash, hash)
	if err != nil {
		return syncerr.Catalog(fmt.Errorf("failed to delete picture %s: %w", hash, err))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPicture(row rowScanner) (*PictureRecord, error) {
	var p PictureRecord
	var current, orientation, createdAt string
	var previous, link sql.NullString

	err := row.Scan(
		&current,
		&previous,
		&p.StoredPath,
		&p.IsPhotography,
		&p.Selected,
		&p.Title,
		&link,
		&p.ShootingParams,
		&p.ShootingDate,
		&p.Camera,
		&orientation,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	p.Identity = identityFromColumns(current, nullableString(previous))
	p.ArticleLink = nullableString(link)
	p.Orientation = Orientation(orientation)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
