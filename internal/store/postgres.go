package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const postgresSchema = `CREATE TABLE IF NOT EXISTS operator_state_blobs (
	key        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresBackend stores blobs in a PostgreSQL table.
type PostgresBackend struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresBackend verifies the connection and ensures the blob table exists.
func NewPostgresBackend(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresBackend, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}
	return &PostgresBackend{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

func (p *PostgresBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO operator_state_blobs (key, data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert blob: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM operator_state_blobs WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (p *PostgresBackend) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key, updated_at FROM operator_state_blobs WHERE key LIKE $1 ORDER BY updated_at DESC`,
		likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer rows.Close()

	var out []BlobInfo
	for rows.Next() {
		var b BlobInfo
		if err := rows.Scan(&b.Key, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blob row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Latest returns the newest blob under prefix in one query.
func (p *PostgresBackend) Latest(ctx context.Context, prefix string) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM operator_state_blobs WHERE key LIKE $1 ORDER BY updated_at DESC, key DESC LIMIT 1`,
		likePrefix(prefix)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest blob: %w", err)
	}
	return data, nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePrefix turns a literal prefix into a LIKE pattern using the default backslash escape.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
