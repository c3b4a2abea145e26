package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"slidespeaker/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id            TEXT PRIMARY KEY,
	user_id       TEXT,
	filename      TEXT,
	file_ext      TEXT,
	source_type   TEXT,
	content_type  TEXT,
	checksum      TEXT,
	size_bytes    INTEGER,
	storage_uri   TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_user ON uploads(user_id);

CREATE TABLE IF NOT EXISTS tasks (
	id                TEXT PRIMARY KEY,
	upload_id         TEXT NOT NULL REFERENCES uploads(id),
	task_type         TEXT NOT NULL,
	status            TEXT NOT NULL,
	kwargs            TEXT,
	voice_language    TEXT,
	subtitle_language TEXT,
	error             TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_upload ON tasks(upload_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// DB wraps the relational store holding task and upload rows, with an
// optional Redis read cache attached via WithCache.
type DB struct {
	conn  *sql.DB
	cache *redis.Client
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context) (*DB, error) {
	dsn := strings.TrimPrefix(config.DatabaseURL, "file:")
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite tolerates one writer; serialize access through a single conn.
	conn.SetMaxOpenConns(1)
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Info("Database initialized", "dsn", dsn)
	return &DB{conn: conn}, nil
}

// OpenWithConn wraps an existing connection (for tests).
func OpenWithConn(ctx context.Context, conn *sql.DB) (*DB, error) {
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}
