package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/johnwmail/quickbin/models"
)

var (
	badgerDataPrefix  = []byte("s/")
	badgerIndexPrefix = []byte("x/")
)

// BadgerConfig configures the embedded Badger backend.
type BadgerConfig struct {
	Dir        string
	InMemory   bool
	SyncWrites bool

	// TTLGrace is added to each record's remaining lifetime to form the
	// Badger-native TTL. Badger then drops records the reaper missed.
	TTLGrace time.Duration

	// GCDiscardRatio is passed to RunValueLogGC during Compact.
	GCDiscardRatio float64
}

// BadgerStore implements SnippetStore on an embedded Badger database.
//
// Each snippet is stored twice: the JSON record under s/<id> and an empty
// index key under x/<expires_at unix nanos, big endian>/<id>. Badger keeps
// keys sorted, so iterating x/ visits snippets in expiry order and a scan
// stops at the first live key.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger
}

// NewBadgerStore opens (or creates) a Badger database.
func NewBadgerStore(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		cfg.GCDiscardRatio = 0.5
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	logger.Info("badger store opened", "dir", cfg.Dir, "in_memory", cfg.InMemory)
	return &BadgerStore{db: db, cfg: cfg, logger: logger}, nil
}

func badgerDataKey(id string) []byte {
	return append(append([]byte{}, badgerDataPrefix...), id...)
}

func badgerIndexKey(expiresAt time.Time, id string) []byte {
	key := make([]byte, 0, len(badgerIndexPrefix)+8+1+len(id))
	key = append(key, badgerIndexPrefix...)
	key = binary.BigEndian.AppendUint64(key, expiryNanos(expiresAt))
	key = append(key, '/')
	return append(key, id...)
}

func expiryNanos(t time.Time) uint64 {
	n := t.UnixNano()
	if n < 0 {
		return 0
	}
	return uint64(n)
}

// badgerTTL is the native TTL for a snippet written at its CreatedAt: its
// lifetime plus grace. Zero disables native expiry.
func badgerTTL(snippet *models.Snippet, grace time.Duration) time.Duration {
	lifetime := snippet.ExpiresAt.Sub(snippet.CreatedAt)
	if grace <= 0 || lifetime <= 0 {
		return 0
	}
	return lifetime + grace
}

// Put stores a new snippet and its index key in one transaction.
func (b *BadgerStore) Put(_ context.Context, snippet *models.Snippet) error {
	if snippet == nil || snippet.ID == "" {
		return fmt.Errorf("put: snippet id must not be empty")
	}
	value, err := json.Marshal(snippet)
	if err != nil {
		return fmt.Errorf("put: marshal snippet: %w", err)
	}

	ttl := badgerTTL(snippet, b.cfg.TTLGrace)

	write := func(txn *badger.Txn) error {
		_, err := txn.Get(badgerDataKey(snippet.ID))
		if err == nil {
			return ErrDuplicateID
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data := badger.NewEntry(badgerDataKey(snippet.ID), value)
		index := badger.NewEntry(badgerIndexKey(snippet.ExpiresAt, snippet.ID), nil)
		if ttl > 0 {
			data = data.WithTTL(ttl)
			index = index.WithTTL(ttl)
		}
		if err := txn.SetEntry(data); err != nil {
			return err
		}
		return txn.SetEntry(index)
	}

	// A conflicting transaction means someone else touched the same id;
	// the retry will see their write and report a duplicate.
	for attempt := 0; ; attempt++ {
		err = b.db.Update(write)
		if !errors.Is(err, badger.ErrConflict) || attempt >= 2 {
			break
		}
	}
	return b.wrap("put", err)
}

// Get returns the snippet if it is live at now.
func (b *BadgerStore) Get(_ context.Context, id string, now time.Time) (*models.Snippet, error) {
	var snippet *models.Snippet
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		snippet, err = b.load(txn, id)
		return err
	})
	if err != nil {
		return nil, b.wrap("get", err)
	}
	if snippet == nil || snippet.IsExpired(now) {
		return nil, nil
	}
	return snippet, nil
}

func (b *BadgerStore) load(txn *badger.Txn, id string) (*models.Snippet, error) {
	item, err := txn.Get(badgerDataKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snippet models.Snippet
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &snippet)
	}); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &snippet, nil
}

// Delete removes the record and its index key.
func (b *BadgerStore) Delete(_ context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		snippet, err := b.load(txn, id)
		if err != nil || snippet == nil {
			return err
		}
		if err := txn.Delete(badgerIndexKey(snippet.ExpiresAt, id)); err != nil {
			return err
		}
		return txn.Delete(badgerDataKey(id))
	})
	return b.wrap("delete", err)
}

// ScanExpired walks the expiry index in key order up to now.
func (b *BadgerStore) ScanExpired(_ context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	cutoff := expiryNanos(now)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = badgerIndexPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(badgerIndexPrefix); it.ValidForPrefix(badgerIndexPrefix); it.Next() {
			if limit > 0 && len(ids) >= limit {
				break
			}
			key := it.Item().Key()
			rest := key[len(badgerIndexPrefix):]
			if len(rest) < 9 {
				b.logger.Warn("skipping malformed index key", "key", string(key))
				continue
			}
			if binary.BigEndian.Uint64(rest[:8]) > cutoff {
				break
			}
			ids = append(ids, string(bytes.Clone(rest[9:])))
		}
		return nil
	})
	if err != nil {
		return nil, b.wrap("scan expired", err)
	}
	return ids, nil
}

// Count iterates the data prefix; Badger has no cheap key count.
func (b *BadgerStore) Count(_ context.Context) (int64, error) {
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = badgerDataPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, b.wrap("count", err)
	}
	return n, nil
}

// Compact runs value log GC until Badger reports nothing left to rewrite.
func (b *BadgerStore) Compact(ctx context.Context) error {
	if b.cfg.InMemory {
		return nil
	}
	start := time.Now()
	rounds := 0
	for ctx.Err() == nil {
		err := b.db.RunValueLogGC(b.cfg.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return fmt.Errorf("badger: value log gc: %w", err)
		}
		rounds++
	}
	b.logger.Debug("value log gc completed", "rounds", rounds, "elapsed", time.Since(start))
	return nil
}

// Close flushes and closes the database.
func (b *BadgerStore) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("badger: close db: %w", err)
	}
	return nil
}

func (b *BadgerStore) wrap(op string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return unavailable(op, err)
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
