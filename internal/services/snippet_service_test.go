package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnwmail/quickbin/internal/idgen"
	"github.com/johnwmail/quickbin/internal/testutil"
	"github.com/johnwmail/quickbin/models"
	"github.com/johnwmail/quickbin/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(store storage.SnippetStore, ids idgen.Generator, clock Clock) *SnippetService {
	return NewSnippetService(store, ids, clock, Options{Logger: quietLogger()})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     models.CreateSnippetRequest
		field   string
		message string
	}{
		{"ok", models.CreateSnippetRequest{Title: "t", Content: "c"}, "", ""},
		{"missing title", models.CreateSnippetRequest{Content: "c"}, "title", MsgMissingFields},
		{"missing content", models.CreateSnippetRequest{Title: "t"}, "content", MsgMissingFields},
		{"missing both", models.CreateSnippetRequest{}, "title", MsgMissingFields},
		{"title at limit", models.CreateSnippetRequest{Title: strings.Repeat("a", 100), Content: "c"}, "", ""},
		{"title over limit", models.CreateSnippetRequest{Title: strings.Repeat("a", 101), Content: "c"}, "title", MsgTitleTooLong},
		{"multibyte title at limit", models.CreateSnippetRequest{Title: strings.Repeat("é", 100), Content: "c"}, "", ""},
		{"content at limit", models.CreateSnippetRequest{Title: "t", Content: strings.Repeat("x", 50000)}, "", ""},
		{"content over limit", models.CreateSnippetRequest{Title: "t", Content: strings.Repeat("x", 50001)}, "content", MsgContentTooLong},
		{"multibyte content at limit", models.CreateSnippetRequest{Title: "t", Content: strings.Repeat("日", 50000)}, "", ""},
		{"missing wins over too long", models.CreateSnippetRequest{Title: strings.Repeat("a", 101)}, "content", MsgMissingFields},
		{"title checked before content", models.CreateSnippetRequest{Title: strings.Repeat("a", 101), Content: strings.Repeat("x", 50001)}, "title", MsgTitleTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if tt.message == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.message, verr.Message)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateRejectsBeforeTouchingStore(t *testing.T) {
	store := &countingStore{SnippetStore: storage.NewMemoryStore()}
	svc := newTestService(store, testutil.NewStubIDGenerator(), testutil.FixedClock())

	_, err := svc.Create(context.Background(), models.CreateSnippetRequest{Title: "t"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, store.puts.Load())
}

func TestCreateAndRead(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	t0 := clock.Now()
	svc := newTestService(storage.NewMemoryStore(), testutil.NewStubIDGenerator(), clock)

	created, err := svc.Create(ctx, models.CreateSnippetRequest{Title: "hello", Content: "fmt.Println(1)", Expiry: "1h"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", created.ID)
	assert.Equal(t, t0, created.CreatedAt)
	assert.Equal(t, t0.Add(time.Hour), created.ExpiresAt)

	got, err := svc.Read(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestCreateExpiryTokens(t *testing.T) {
	clock := testutil.FixedClock()
	t0 := clock.Now()
	svc := newTestService(storage.NewMemoryStore(), testutil.NewStubIDGenerator(), clock)

	tests := map[string]time.Duration{
		"10m":     10 * time.Minute,
		"1h":      time.Hour,
		"1d":      24 * time.Hour,
		"7d":      7 * 24 * time.Hour,
		"30d":     30 * 24 * time.Hour,
		"":        24 * time.Hour,
		"1y":      24 * time.Hour,
		"forever": 24 * time.Hour,
	}
	for token, want := range tests {
		s, err := svc.Create(context.Background(), models.CreateSnippetRequest{Title: "t", Content: "c", Expiry: token})
		require.NoError(t, err, token)
		assert.Equal(t, t0.Add(want), s.ExpiresAt, "token %q", token)
	}
}

func TestReadAfterExpiry(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	svc := newTestService(storage.NewMemoryStore(), testutil.NewStubIDGenerator(), clock)

	s, err := svc.Create(ctx, models.CreateSnippetRequest{Title: "t", Content: "c", Expiry: "10m"})
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	_, err = svc.Read(ctx, s.ID)
	require.NoError(t, err, "snippet should be live at +9m")

	clock.Advance(2 * time.Minute)
	_, err = svc.Read(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound, "snippet should be gone at +11m")

	_, err = svc.Read(ctx, "never-created")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicateIDIsInternal(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(storage.NewMemoryStore(), testutil.FixedIDGenerator{ID: "same"}, testutil.FixedClock())

	first, err := svc.Create(ctx, models.CreateSnippetRequest{Title: "first", Content: "1"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, models.CreateSnippetRequest{Title: "second", Content: "2"})
	require.ErrorIs(t, err, ErrInternal)
	assert.NotErrorIs(t, err, ErrValidation)

	got, err := svc.Read(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title, "original snippet must not be overwritten")
}

type failingIDs struct{}

func (failingIDs) Generate() (string, error) { return "", errors.New("entropy exhausted") }

func TestCreateIDGenerationFailure(t *testing.T) {
	svc := newTestService(storage.NewMemoryStore(), failingIDs{}, testutil.FixedClock())
	_, err := svc.Create(context.Background(), models.CreateSnippetRequest{Title: "t", Content: "c"})
	assert.ErrorIs(t, err, ErrInternal)
}

// countingStore counts Put calls and fails the first failPuts of them.
type countingStore struct {
	storage.SnippetStore
	puts      atomic.Int32
	failPuts  int32
	landFirst bool // the first failing Put still stores the record
	getErr    error
}

func (c *countingStore) Put(ctx context.Context, s *models.Snippet) error {
	n := c.puts.Add(1)
	if n <= c.failPuts {
		if n == 1 && c.landFirst {
			_ = c.SnippetStore.Put(ctx, s)
		}
		return fmt.Errorf("%w: timeout", storage.ErrUnavailable)
	}
	return c.SnippetStore.Put(ctx, s)
}

func (c *countingStore) Get(ctx context.Context, id string, now time.Time) (*models.Snippet, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.SnippetStore.Get(ctx, id, now)
}

func TestCreateRetriesUnavailable(t *testing.T) {
	store := &countingStore{SnippetStore: storage.NewMemoryStore(), failPuts: 2}
	svc := NewSnippetService(store, testutil.NewStubIDGenerator(), testutil.FixedClock(),
		Options{RetryAttempts: 3, RetryBackoff: time.Millisecond, Logger: quietLogger()})

	s, err := svc.Create(context.Background(), models.CreateSnippetRequest{Title: "t", Content: "c"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, store.puts.Load())

	_, err = svc.Read(context.Background(), s.ID)
	assert.NoError(t, err)
}

func TestCreateGivesUpAfterRetries(t *testing.T) {
	store := &countingStore{SnippetStore: storage.NewMemoryStore(), failPuts: 10}
	svc := NewSnippetService(store, testutil.NewStubIDGenerator(), testutil.FixedClock(),
		Options{RetryAttempts: 3, Logger: quietLogger()})

	_, err := svc.Create(context.Background(), models.CreateSnippetRequest{Title: "t", Content: "c"})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 3, store.puts.Load())
}

func TestCreateDoesNotRetryClosedStore(t *testing.T) {
	store := &countingStore{SnippetStore: storage.NewMemoryStore()}
	require.NoError(t, store.Close())
	svc := NewSnippetService(store, testutil.NewStubIDGenerator(), testutil.FixedClock(),
		Options{RetryAttempts: 5, RetryBackoff: time.Hour, Logger: quietLogger()})

	start := time.Now()
	_, err := svc.Create(context.Background(), models.CreateSnippetRequest{Title: "t", Content: "c"})
	require.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, err, ErrUnavailable, "still reported as unavailable to callers")
	assert.EqualValues(t, 1, store.puts.Load())
	assert.Less(t, time.Since(start), time.Second, "no backoff after close")
}

func TestCreateRetryAfterLandedWrite(t *testing.T) {
	store := &countingStore{SnippetStore: storage.NewMemoryStore(), failPuts: 1, landFirst: true}
	svc := NewSnippetService(store, testutil.NewStubIDGenerator(), testutil.FixedClock(),
		Options{RetryAttempts: 3, Logger: quietLogger()})

	s, err := svc.Create(context.Background(), models.CreateSnippetRequest{Title: "t", Content: "c"})
	require.NoError(t, err, "a write that landed before its timeout is not a duplicate")
	assert.Equal(t, "id-1", s.ID)
}

func TestCreateRetryStopsOnCancel(t *testing.T) {
	store := &countingStore{SnippetStore: storage.NewMemoryStore(), failPuts: 10}
	svc := NewSnippetService(store, testutil.NewStubIDGenerator(), testutil.FixedClock(),
		Options{RetryAttempts: 5, RetryBackoff: time.Hour, Logger: quietLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Create(ctx, models.CreateSnippetRequest{Title: "t", Content: "c"})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 1, store.puts.Load())
}

func TestReadStoreFailures(t *testing.T) {
	store := &countingStore{SnippetStore: storage.NewMemoryStore(), getErr: fmt.Errorf("%w: down", storage.ErrUnavailable)}
	svc := newTestService(store, testutil.NewStubIDGenerator(), testutil.FixedClock())
	_, err := svc.Read(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)

	store.getErr = errors.New("corrupt record")
	_, err = svc.Read(context.Background(), "x")
	assert.ErrorIs(t, err, ErrInternal)
}

func TestConcurrentCreatesAreUnique(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(storage.NewMemoryStore(), idgen.New(), RealClock{})

	const n = 1000
	ids := make([]string, n)
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := svc.Create(ctx, models.CreateSnippetRequest{
				Title:   fmt.Sprintf("snippet %d", i),
				Content: fmt.Sprintf("content %d", i),
				Expiry:  "1h",
			})
			if err != nil {
				errs <- err
				return
			}
			ids[i] = s.ID
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("create failed: %v", err)
	}

	seen := make(map[string]bool, n)
	for i, id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true

		got, err := svc.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("content %d", i), got.Content)
	}
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	svc := newTestService(storage.NewMemoryStore(), testutil.NewStubIDGenerator(), clock)

	s, err := svc.Create(ctx, models.CreateSnippetRequest{
		Title:   "main.go",
		Content: "package main\n\nfunc main() {}\n",
		Expiry:  "1h",
	})
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)
	meta, err := svc.Metadata(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, meta.ID)
	assert.Equal(t, "main.go", meta.Title)
	assert.Equal(t, len(s.Content), meta.Size)
	assert.Equal(t, "go", meta.Language)
	assert.EqualValues(t, 45*60, meta.ExpiresIn)

	clock.Advance(time.Hour)
	_, err = svc.Metadata(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
