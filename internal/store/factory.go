package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/internal/config"
)

// OpenBackend constructs the backend named by cfg. It returns a nil Backend
// when no store is configured.
func OpenBackend(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case config.StoreNone:
		logger.Info("No state store configured. Conversation threads will not resume.")
		return nil, nil
	case config.StoreMemory:
		logger.Info("Using in-memory state store.")
		return NewMemoryBackend(), nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create database pool: %w", err)
		}
		backend, err := NewPostgresBackend(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("Using PostgreSQL state store.")
		return backend, nil
	case config.StoreSQLite:
		backend, err := NewSQLiteBackend(ctx, cfg.SQLite.Path, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Using SQLite state store.", zap.String("path", cfg.SQLite.Path))
		return backend, nil
	case config.StoreS3:
		client, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		logger.Info("Using S3 state store.", zap.String("bucket", cfg.S3.Bucket))
		return NewS3Backend(client, cfg.S3.Bucket, cfg.S3.Prefix, logger), nil
	}
	return nil, fmt.Errorf("unknown store backend '%s'", cfg.Backend)
}
