package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/johnwmail/quickbin/internal/expiry"
	"github.com/johnwmail/quickbin/internal/idgen"
	"github.com/johnwmail/quickbin/internal/metrics"
	"github.com/johnwmail/quickbin/models"
	"github.com/johnwmail/quickbin/storage"
	"github.com/johnwmail/quickbin/utils"
)

// Clock abstracts time retrieval so expiry logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// Options tunes a SnippetService. Zero values get defaults.
type Options struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// SnippetService handles snippet business logic
type SnippetService struct {
	store   storage.SnippetStore
	ids     idgen.Generator
	clock   Clock
	retries int
	backoff time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSnippetService creates a new snippet service
func NewSnippetService(store storage.SnippetStore, ids idgen.Generator, clock Clock, opts Options) *SnippetService {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SnippetService{
		store:   store,
		ids:     ids,
		clock:   clock,
		retries: opts.RetryAttempts,
		backoff: opts.RetryBackoff,
		logger:  opts.Logger.With("component", "snippet_service"),
		metrics: opts.Metrics,
	}
}

// Validate checks a create request without touching the store. Lengths are
// counted in Unicode code points.
func Validate(req models.CreateSnippetRequest) error {
	if req.Title == "" {
		return validationFailed("title", MsgMissingFields)
	}
	if req.Content == "" {
		return validationFailed("content", MsgMissingFields)
	}
	if utf8.RuneCountInString(req.Title) > models.MaxTitleLength {
		return validationFailed("title", MsgTitleTooLong)
	}
	if utf8.RuneCountInString(req.Content) > models.MaxContentLength {
		return validationFailed("content", MsgContentTooLong)
	}
	return nil
}

// Create validates the request, assigns an id and expiry, and stores the
// snippet. Unknown expiry tokens get the default lifetime.
func (s *SnippetService) Create(ctx context.Context, req models.CreateSnippetRequest) (*models.Snippet, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	id, err := s.ids.Generate()
	if err != nil {
		s.logger.Error("failed to generate snippet id", "error", err)
		return nil, fmt.Errorf("%w: generate id: %v", ErrInternal, err)
	}

	if req.Expiry != "" && !expiry.Known(req.Expiry) {
		s.logger.Debug("unknown expiry token, using default", "token", req.Expiry, "default", expiry.DefaultToken)
	}
	now := s.clock.Now()
	snippet := &models.Snippet{
		ID:        id,
		Title:     req.Title,
		Content:   req.Content,
		CreatedAt: now,
		ExpiresAt: expiry.Resolve(req.Expiry, now),
	}

	if err := s.put(ctx, snippet); err != nil {
		return nil, err
	}

	s.metrics.SnippetCreated()
	s.logger.Debug("snippet created", "id", id, "expires_at", snippet.ExpiresAt)
	return snippet, nil
}

// put stores the snippet, retrying ErrUnavailable with exponential backoff.
func (s *SnippetService) put(ctx context.Context, snippet *models.Snippet) error {
	var err error
	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			s.metrics.StoreRetry()
			delay := s.backoff << (attempt - 1)
			s.logger.Warn("store unavailable, retrying", "id", snippet.ID, "attempt", attempt+1, "delay", delay, "error", err)
			if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, sleepErr)
			}
		}

		err = s.store.Put(ctx, snippet)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, storage.ErrDuplicateID):
			// an earlier attempt that timed out may have landed after all
			if attempt > 0 && s.landed(ctx, snippet) {
				return nil
			}
			s.logger.Error("generated snippet id already exists", "id", snippet.ID)
			return fmt.Errorf("%w: %v", ErrInternal, err)
		case errors.Is(err, storage.ErrClosed):
			// shutting down; waiting will not bring the store back
			s.logger.Warn("store closed, not retrying", "id", snippet.ID)
			return err
		case errors.Is(err, storage.ErrUnavailable):
			continue
		default:
			s.logger.Error("failed to store snippet", "id", snippet.ID, "error", err)
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
	}
	s.logger.Error("store unavailable, giving up", "id", snippet.ID, "attempts", s.retries, "error", err)
	return err
}

func (s *SnippetService) landed(ctx context.Context, snippet *models.Snippet) bool {
	existing, err := s.store.Get(ctx, snippet.ID, snippet.CreatedAt)
	if err != nil || existing == nil {
		return false
	}
	return existing.CreatedAt.Equal(snippet.CreatedAt) &&
		existing.Title == snippet.Title &&
		existing.Content == snippet.Content
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Read returns a live snippet or ErrNotFound. Unknown, expired and reaped
// ids are indistinguishable.
func (s *SnippetService) Read(ctx context.Context, id string) (*models.Snippet, error) {
	snippet, err := s.store.Get(ctx, id, s.clock.Now())
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, err
		}
		s.logger.Error("failed to read snippet", "id", id, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	s.metrics.SnippetRead(snippet != nil)
	if snippet == nil {
		return nil, ErrNotFound
	}
	return snippet, nil
}

// Metadata describes a live snippet without its content.
func (s *SnippetService) Metadata(ctx context.Context, id string) (*models.SnippetMeta, error) {
	snippet, err := s.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	remaining := snippet.ExpiresAt.Sub(s.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return &models.SnippetMeta{
		ID:        snippet.ID,
		Title:     snippet.Title,
		CreatedAt: snippet.CreatedAt,
		ExpiresAt: snippet.ExpiresAt,
		Size:      len(snippet.Content),
		Language:  utils.DetectLanguage(snippet.Title, snippet.Content),
		ExpiresIn: int64(remaining / time.Second),
	}, nil
}
