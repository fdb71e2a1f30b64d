package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/johnwmail/quickbin/storage/migrations"
)

// NewPostgresStore connects through the pgx database/sql driver and applies
// the schema migrations.
func NewPostgresStore(ctx context.Context, dsn string, timeout time.Duration, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	dir, err := fs.Sub(migrations.Postgres, "postgres")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store, err := newSQLStore(ctx, db, sqlDialect{
		name:       "postgres",
		goose:      "postgres",
		migrations: dir,
		numbered:   true,
	}, timeout, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
