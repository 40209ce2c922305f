package store

import (
	"context"
	"database/sql"
)

// GetImportedFileHash returns the stored hash for a loaded file, or "" if never loaded.
func (q *Queries) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := q.db.QueryRowContext(ctx, `SELECT sha256 FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the hash of a loaded file.
func (q *Queries) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO imported_files (path, sha256) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET sha256 = excluded.sha256`,
		path, hash,
	)
	return err
}
