package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/johnwmail/quickbin/models"
)

// sqlDialect captures what differs between the SQL backends.
type sqlDialect struct {
	name       string
	goose      string // goose dialect name
	migrations fs.FS
	numbered   bool // $1-style placeholders instead of ?
}

// SQLStore implements SnippetStore over database/sql. Timestamps are stored
// as unix nanoseconds so both dialects compare them the same way.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
	timeout time.Duration
	logger  *slog.Logger
	closed  atomic.Bool

	insertQuery string
	selectQuery string
	deleteQuery string
	scanQuery   string
	countQuery  string
}

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

func newSQLStore(ctx context.Context, db *sql.DB, dialect sqlDialect, timeout time.Duration, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLStore{
		db:      db,
		dialect: dialect,
		timeout: timeout,
		logger:  logger,
	}
	s.insertQuery = s.rebind(`INSERT INTO snippets (id, title, content, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`)
	s.selectQuery = s.rebind(`SELECT id, title, content, created_at, expires_at FROM snippets WHERE id = ?`)
	s.deleteQuery = s.rebind(`DELETE FROM snippets WHERE id = ?`)
	s.scanQuery = s.rebind(`SELECT id FROM snippets WHERE expires_at <= ? ORDER BY expires_at, id`)
	s.countQuery = `SELECT COUNT(*) FROM snippets`

	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("%s: migrate: %w", dialect.name, err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(s.dialect.migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(s.dialect.goose); err != nil {
		return err
	}
	goose.SetLogger(goose.NopLogger())

	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return err
	}
	s.logger.Info("schema migrated", "dialect", s.dialect.name)
	return nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Put inserts the row unless the id exists.
func (s *SQLStore) Put(ctx context.Context, snippet *models.Snippet) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, s.insertQuery,
		snippet.ID, snippet.Title, snippet.Content,
		snippet.CreatedAt.UnixNano(), snippet.ExpiresAt.UnixNano())
	if err != nil {
		return unavailable("put", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("put", err)
	}
	if n == 0 {
		return ErrDuplicateID
	}
	return nil
}

// Get retrieves a snippet by its ID
func (s *SQLStore) Get(ctx context.Context, id string, now time.Time) (*models.Snippet, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	var (
		snippet              models.Snippet
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, s.selectQuery, id).
		Scan(&snippet.ID, &snippet.Title, &snippet.Content, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	snippet.CreatedAt = time.Unix(0, createdAt).UTC()
	snippet.ExpiresAt = time.Unix(0, expiresAt).UTC()

	if snippet.IsExpired(now) {
		return nil, nil
	}
	return &snippet, nil
}

// Delete removes a row; absent ids are fine.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, s.deleteQuery, id)
	return unavailable("delete", err)
}

// ScanExpired reads ids through the expires_at index.
func (s *SQLStore) ScanExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	query := s.scanQuery
	args := []any{now.UnixNano()}
	if limit > 0 {
		query += s.rebindFrom(" LIMIT ?", 2)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("scan expired", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan expired", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scan expired", err)
	}
	return ids, nil
}

// rebindFrom is rebind for a fragment whose first placeholder is number n.
func (s *SQLStore) rebindFrom(fragment string, n int) string {
	if !s.dialect.numbered {
		return fragment
	}
	return strings.Replace(fragment, "?", "$"+strconv.Itoa(n), 1)
}

// Count returns the number of rows.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	ctx, cancel := opContext(ctx, s.timeout)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, s.countQuery).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (s *SQLStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
