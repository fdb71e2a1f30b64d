// Package reaper physically removes expired snippets from a store.
//
// Readers never see expired snippets regardless of the reaper; it only
// reclaims space. A pass asks the store for expired ids and deletes them in
// batches until a short batch signals the backlog is drained.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/johnwmail/quickbin/internal/metrics"
	"github.com/johnwmail/quickbin/storage"
)

const (
	DefaultInterval  = time.Minute
	DefaultBatchSize = 500
)

// Clock supplies the reaper's notion of now.
type Clock interface {
	Now() time.Time
}

// Config tunes how often and how much the reaper deletes.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Result summarises one pass.
type Result struct {
	Batches int
	Deleted int
	Failed  int
}

// Reaper periodically deletes expired snippets.
type Reaper struct {
	store     storage.SnippetStore
	clock     Clock
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a Reaper. Zero config values fall back to the defaults; m may
// be nil.
func New(store storage.SnippetStore, clock Clock, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:     store,
		clock:     clock,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    logger.With("component", "reaper"),
		metrics:   m,
	}
}

// Run reaps once immediately and then on every interval until ctx is done.
// Failed passes are logged and retried on the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started", "interval", r.interval, "batch_size", r.batchSize)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reaper pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one reaping pass at the clock's current time.
func (r *Reaper) Tick(ctx context.Context) (res Result, err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reaper pass panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("reaper pass panicked: %v", p)
		}
		r.metrics.ReaperPass(res.Deleted, res.Failed, time.Since(start), r.clock.Now())
	}()

	now := r.clock.Now()
	for ctx.Err() == nil {
		ids, scanErr := r.store.ScanExpired(ctx, now, r.batchSize)
		if scanErr != nil {
			res.Failed++
			return res, fmt.Errorf("scan expired: %w", scanErr)
		}
		res.Batches++

		deleted := 0
		for _, id := range ids {
			if delErr := r.store.Delete(ctx, id); delErr != nil {
				res.Failed++
				r.logger.Warn("failed to delete expired snippet", "id", id, "error", delErr)
				continue
			}
			deleted++
		}
		res.Deleted += deleted

		// a short batch means the backlog is empty; a batch with no
		// progress would return the same ids again
		if len(ids) < r.batchSize || deleted == 0 {
			break
		}
	}

	if res.Deleted > 0 {
		r.compact(ctx)
		r.logger.Info("reaped expired snippets", "deleted", res.Deleted, "failed", res.Failed, "batches", res.Batches)
	}
	if n, countErr := r.store.Count(ctx); countErr == nil {
		r.metrics.StoredSnippets(n)
	}
	return res, ctx.Err()
}

func (r *Reaper) compact(ctx context.Context) {
	c, ok := r.store.(storage.Compactor)
	if !ok {
		return
	}
	if err := c.Compact(ctx); err != nil {
		r.logger.Warn("store compaction failed", "error", err)
	}
}
