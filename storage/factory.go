package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnwmail/quickbin/config"
)

// badgerTTLGrace is how long past expiry Badger keeps a record before its
// own TTL drops it.
const badgerTTLGrace = time.Hour

// NewStore creates a storage backend based on the configuration
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (SnippetStore, error) {
	logger = logger.With("component", "storage", "type", cfg.StorageType)

	switch cfg.StorageType {
	case "memory":
		logger.Warn("Using in-memory storage; snippets are lost on restart")
		return NewMemoryStore(), nil

	case "badger":
		return NewBadgerStore(BadgerConfig{
			Dir:      cfg.DataDir,
			TTLGrace: badgerTTLGrace,
		}, logger)

	case "sqlite":
		logger.Info("Using SQLite storage", "path", cfg.SQLitePath)
		return NewSQLiteStore(ctx, cfg.SQLitePath, cfg.OpTimeout, logger)

	case "postgres":
		logger.Info("Using PostgreSQL storage")
		return NewPostgresStore(ctx, cfg.PostgresDSN, cfg.OpTimeout, logger)

	case "mongodb":
		logger.Info("Using MongoDB storage",
			"database", cfg.MongoDBDatabase,
			"collection", cfg.MongoDBCollection)
		return NewMongoStore(ctx, MongoConfig{
			URI:        cfg.MongoDBURI,
			Database:   cfg.MongoDBDatabase,
			Collection: cfg.MongoDBCollection,
			OpTimeout:  cfg.OpTimeout,
		})

	case "dynamodb":
		logger.Info("Using DynamoDB storage", "table", cfg.DynamoDBTable, "region", cfg.DynamoDBRegion)
		return NewDynamoStore(ctx, cfg.DynamoDBTable, cfg.DynamoDBRegion, cfg.OpTimeout)

	case "s3":
		logger.Info("Using S3 storage", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
		return NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.OpTimeout, logger)

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}
