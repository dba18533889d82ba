package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/xhsdl/internal/apperr"
)

// Entry is one saved media file.
type Entry struct {
	Checksum    string    `json:"checksum"`
	PostID      string    `json:"post_id"`
	SourceURL   string    `json:"source_url"`
	MediaURL    string    `json:"media_url"`
	MediaType   string    `json:"media_type"`
	Title       string    `json:"title"`
	UserName    string    `json:"user_name"`
	LocalPath   string    `json:"local_path"`
	LibraryPath string    `json:"library_path"`
	SavedAt     time.Time `json:"saved_at"`
}

// Record inserts e. A checksum that is already present yields
// apperr.ErrDuplicate and leaves the existing row untouched.
func (db *DB) Record(ctx context.Context, e Entry) error {
	if e.Checksum == "" {
		return fmt.Errorf("ledger: record: %w: empty checksum", apperr.ErrInvalidInput)
	}
	if e.SavedAt.IsZero() {
		e.SavedAt = time.Now()
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO media (checksum, post_id, source_url, media_url, media_type,
			title, user_name, local_path, library_path, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(checksum) DO NOTHING
	`, e.Checksum, e.PostID, e.SourceURL, e.MediaURL, e.MediaType,
		e.Title, e.UserName, e.LocalPath, e.LibraryPath, e.SavedAt.UTC())
	if err != nil {
		return fmt.Errorf("ledger: record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ledger: %s: %w", e.Checksum, apperr.ErrDuplicate)
	}
	return nil
}

// SetLibraryPath stores where the library placed the file.
func (db *DB) SetLibraryPath(ctx context.Context, sum, libraryPath string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE media SET library_path = ? WHERE checksum = ?`, libraryPath, sum)
	if err != nil {
		return fmt.Errorf("ledger: set library path: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: %s: %w", sum, apperr.ErrNotFound)
	}
	return nil
}

// Forget deletes the row for sum. Missing rows are not an error.
func (db *DB) Forget(ctx context.Context, sum string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM media WHERE checksum = ?`, sum); err != nil {
		return fmt.Errorf("ledger: forget: %w", err)
	}
	return nil
}

// Has reports whether sum was recorded.
func (db *DB) Has(ctx context.Context, sum string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM media WHERE checksum = ?`, sum).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: has: %w", err)
	}
	return true, nil
}

// List returns entries newest first plus the total count.
func (db *DB) List(ctx context.Context, limit, offset int) ([]Entry, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM media`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ledger: count: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT checksum, post_id, source_url, media_url, media_type,
			title, user_name, local_path, library_path, saved_at
		FROM media
		ORDER BY saved_at DESC, checksum
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Checksum, &e.PostID, &e.SourceURL, &e.MediaURL, &e.MediaType,
			&e.Title, &e.UserName, &e.LocalPath, &e.LibraryPath, &e.SavedAt); err != nil {
			return nil, 0, fmt.Errorf("ledger: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
