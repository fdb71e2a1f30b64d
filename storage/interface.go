package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johnwmail/quickbin/models"
)

var (
	// ErrDuplicateID is returned by Put when a record with the same id is
	// already present.
	ErrDuplicateID = errors.New("duplicate snippet id")

	// ErrUnavailable wraps any failure of the persistence layer itself
	// (timeouts, lost connections, throttling). Callers may retry.
	ErrUnavailable = errors.New("store unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = fmt.Errorf("%w: store closed", ErrUnavailable)
)

// DefaultOpTimeout bounds a single backend call.
const DefaultOpTimeout = 5 * time.Second

// SnippetStore defines the interface for snippet storage backends
type SnippetStore interface {
	// Put persists a new snippet. It fails with ErrDuplicateID if the id
	// is already taken; the existing record is left untouched.
	Put(ctx context.Context, snippet *models.Snippet) error

	// Get returns the snippet only if it is present and now is before its
	// expiry. Absent, expired and reaped records all yield (nil, nil).
	Get(ctx context.Context, id string, now time.Time) (*models.Snippet, error)

	// Delete removes a snippet. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// ScanExpired returns ids whose expiry is at or before now, oldest
	// first where the backend can order them. limit <= 0 means no limit.
	ScanExpired(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Count reports how many records are physically stored, including
	// expired ones that have not been reaped yet.
	Count(ctx context.Context) (int64, error)

	// Close releases backend resources.
	Close() error
}

// Compactor is implemented by backends that can reclaim physical space
// after deletions.
type Compactor interface {
	Compact(ctx context.Context) error
}

// unavailable tags err as a backend failure unless it already carries one
// of the package sentinels.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrDuplicateID) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
