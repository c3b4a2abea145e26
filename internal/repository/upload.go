package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("row not found")

// Upload is the persistent record of one uploaded source document.
type Upload struct {
	ID          string `json:"upload_id"`
	UserID      string `json:"user_id,omitempty"`
	Filename    string `json:"filename,omitempty"`
	FileExt     string `json:"file_ext,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	StorageURI  string `json:"storage_uri,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// InsertUpload creates an upload row. Re-inserting an existing id refreshes
// mutable metadata only (content-addressed uploads are deduplicated).
func (d *DB) InsertUpload(ctx context.Context, u *Upload) error {
	now := nowISO()
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO uploads (id, user_id, filename, file_ext, source_type, content_type, checksum, size_bytes, storage_uri, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			updated_at = excluded.updated_at`,
		u.ID, nullable(u.UserID), nullable(u.Filename), nullable(u.FileExt), nullable(u.SourceType),
		nullable(u.ContentType), nullable(u.Checksum), u.SizeBytes, nullable(u.StorageURI), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert upload %s: %w", u.ID, err)
	}
	d.invalidateTaskCache(ctx)
	return nil
}

// GetUpload fetches an upload row by id.
func (d *DB) GetUpload(ctx context.Context, id string) (*Upload, error) {
	row := d.conn.QueryRowContext(ctx, `
		SELECT id, user_id, filename, file_ext, source_type, content_type, checksum, size_bytes, storage_uri, created_at, updated_at
		FROM uploads WHERE id = ?`, id)
	return scanUpload(row)
}

// DeleteUpload removes an upload row. Callers must ensure no sibling task
// rows remain.
func (d *DB) DeleteUpload(ctx context.Context, id string) error {
	if _, err := d.conn.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete upload %s: %w", id, err)
	}
	d.invalidateTaskCache(ctx)
	return nil
}

func scanUpload(row *sql.Row) (*Upload, error) {
	var u Upload
	var userID, filename, fileExt, sourceType, contentType, checksum, storageURI sql.NullString
	var sizeBytes sql.NullInt64
	err := row.Scan(&u.ID, &userID, &filename, &fileExt, &sourceType, &contentType, &checksum, &sizeBytes, &storageURI, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan upload: %w", err)
	}
	u.UserID = userID.String
	u.Filename = filename.String
	u.FileExt = fileExt.String
	u.SourceType = sourceType.String
	u.ContentType = contentType.String
	u.Checksum = checksum.String
	u.SizeBytes = sizeBytes.Int64
	u.StorageURI = storageURI.String
	return &u, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
