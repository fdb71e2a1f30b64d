package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/johnwmail/quickbin/storage/migrations"
)

// NewSQLiteStore opens a SQLite database at path (":memory:" for a private
// in-memory database) and applies the schema migrations.
func NewSQLiteStore(ctx context.Context, path string, timeout time.Duration, logger *slog.Logger) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite serialises writers anyway, and every :memory: connection
	// would otherwise see its own empty database.
	db.SetMaxOpenConns(1)

	dir, err := fs.Sub(migrations.SQLite, "sqlite")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store, err := newSQLStore(ctx, db, sqlDialect{
		name:       "sqlite",
		goose:      "sqlite3",
		migrations: dir,
	}, timeout, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
