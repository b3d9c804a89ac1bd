package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const fileColumns = "id, project_id, path, blob_key, size, checksum, created_at, updated_at"

func scanFile(row interface{ Scan(...interface{}) error }) (*File, error) {
	f := &File{}
	if err := row.Scan(&f.ID, &f.ProjectID, &f.Path, &f.BlobKey, &f.Size, &f.Checksum, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return f, nil
}

// UpsertFile creates the record for an unseen path or updates size, pointer
// and checksum of an existing one. created reports which happened.
func (d *DB) UpsertFile(ctx context.Context, f *File) (created bool, err error) {
	if f.ProjectID == "" || f.Path == "" {
		return false, errors.New("file project and path are required")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	now := d.now()
	existing, err := scanFile(tx.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE project_id = ? AND path = ?", f.ProjectID, f.Path))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		f.ID = newID()
		f.CreatedAt = now
		f.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			"INSERT INTO files ("+fileColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			f.ID, f.ProjectID, f.Path, f.BlobKey, f.Size, f.Checksum, f.CreatedAt, f.UpdatedAt)
		created = true
	case err != nil:
		return false, fmt.Errorf("failed to load file record: %w", err)
	default:
		f.ID = existing.ID
		f.CreatedAt = existing.CreatedAt
		f.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			"UPDATE files SET blob_key = ?, size = ?, checksum = ?, updated_at = ? WHERE id = ?",
			f.BlobKey, f.Size, f.Checksum, f.UpdatedAt, f.ID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to write file record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return created, nil
}

// GetFile returns the record for path or ErrNotFound
func (d *DB) GetFile(ctx context.Context, projectID, path string) (*File, error) {
	f, err := scanFile(d.db.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE project_id = ? AND path = ?", projectID, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file record: %w", err)
	}
	return f, nil
}

// ListFiles returns the project's file records ordered by path
func (d *DB) ListFiles(ctx context.Context, projectID string) ([]*File, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM files WHERE project_id = ? ORDER BY path", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	files := []*File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes the record for path
func (d *DB) DeleteFile(ctx context.Context, projectID, path string) error {
	res, err := d.db.ExecContext(ctx, "DELETE FROM files WHERE project_id = ? AND path = ?", projectID, path)
	if err != nil {
		return fmt.Errorf("failed to delete file record: %w", err)
	}
	return expectRow(res, "file", path)
}
