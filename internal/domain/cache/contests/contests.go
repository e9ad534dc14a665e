// Package contests owns the authoritative contest catalog.
//
// The catalog is replaced wholesale on each refresh; phase is always derived
// from the clock, never trusted from a stored row.
package contests

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/cfcache/internal/adapters/client"
	"github.com/okian/cfcache/internal/adapters/repository"
	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/pkg/logger"
	"github.com/okian/cfcache/pkg/metrics"
)

// Default refresh interval, matching the half-hour catalog churn upstream.
const defaultInterval = 30 * time.Minute

// Cache owns the contest table. It is the table's only writer.
type Cache struct {
	fetcher  client.ContestFetcher
	store    *repository.Store[model.Contest]
	interval time.Duration
	now      func() time.Time
	logger   logger.Logger

	// Serializes reloads; background ticks skip instead of queueing.
	reloadMu sync.Mutex
}

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithInterval sets the background refresh period.
func WithInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a contest cache reading from fetcher.
func New(fetcher client.ContestFetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:  fetcher,
		store:    repository.New("contests", model.Contest.Key),
		interval: defaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("contests")
	}
	return c
}

// ReloadNow fetches the full contest list and swaps the table atomically.
// On failure the previously cached table stays valid.
func (c *Cache) ReloadNow(ctx context.Context) error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	return c.reload(ctx)
}

func (c *Cache) reload(ctx context.Context) error {
	start := time.Now()
	rows, err := c.fetcher.Contests(ctx)
	if err != nil {
		metrics.RecordCacheReload("contests", "failure")
		return fmt.Errorf("reload contests: %w", err)
	}
	c.store.ReplaceAll(rows)
	metrics.RecordCacheReload("contests", "success")
	metrics.RecordCacheReloadDuration("contests", float64(time.Since(start).Milliseconds()))
	c.logger.Info(ctx, "contest catalog reloaded", logger.Int("count", len(rows)))
	return nil
}

// tryReload runs a reload unless one is already in progress.
func (c *Cache) tryReload(ctx context.Context) {
	if !c.reloadMu.TryLock() {
		c.logger.Debug(ctx, "contest reload already in progress, skipping")
		return
	}
	defer c.reloadMu.Unlock()
	if err := c.reload(ctx); err != nil {
		c.logger.Error(ctx, "background contest reload failed", logger.Error(err))
	}
}

// Run refreshes the catalog on a fixed interval until ctx is canceled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tryReload(ctx)
		}
	}
}

// Contest returns the contest with the given id.
func (c *Cache) Contest(id int64) (model.Contest, error) {
	contest, err := c.store.Get(model.Contest{ID: id}.Key())
	if err != nil {
		return model.Contest{}, fmt.Errorf("%w: %d", ErrContestNotFound, id)
	}
	return contest, nil
}

// All returns every cached contest, ordered by start time ascending.
func (c *Cache) All() []model.Contest {
	rows := c.store.All()
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StartTime.Equal(rows[j].StartTime) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].StartTime.Before(rows[j].StartTime)
	})
	return rows
}

// ContestsInPhase returns the cached contests currently in phase,
// with phase recomputed from the clock on this read.
func (c *Cache) ContestsInPhase(phase model.Phase) []model.Contest {
	now := c.now()
	var out []model.Contest
	for _, contest := range c.All() {
		if contest.Phase(now) == phase {
			out = append(out, contest)
		}
	}
	return out
}

// Count returns the number of cached contests.
func (c *Cache) Count() int {
	return c.store.Count()
}
