package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteBackend stores blobs in a local SQLite database (pure Go driver).
type SQLiteBackend struct {
	db  *sql.DB
	log *zap.Logger
}

// NewSQLiteBackend opens (or creates) the database at path and ensures the schema.
func NewSQLiteBackend(ctx context.Context, path string, logger *zap.Logger) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps writes serialized and makes ":memory:" databases usable.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state_blobs (
		key        TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}

	return &SQLiteBackend{db: db, log: logger.Named("store.sqlite")}, nil
}

func (s *SQLiteBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO state_blobs (key, data, updated_at) VALUES (?, ?, ?)`,
		key, data, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM state_blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *SQLiteBackend) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, updated_at FROM state_blobs WHERE substr(key, 1, ?) = ?`,
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer rows.Close()

	var out []BlobInfo
	for rows.Next() {
		var (
			key   string
			nanos int64
		)
		if err := rows.Scan(&key, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan blob row: %w", err)
		}
		out = append(out, BlobInfo{Key: key, UpdatedAt: time.Unix(0, nanos)})
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
