// Package problems owns the global problem catalog and per-contest
// problemsets.
package problems

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/cfcache/internal/adapters/client"
	"github.com/okian/cfcache/internal/adapters/repository"
	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/pkg/logger"
	"github.com/okian/cfcache/pkg/metrics"
)

// Default catalog refresh interval. Archived problems barely change.
const defaultInterval = 6 * time.Hour

// Cache owns the problem table. It is the table's only writer.
type Cache struct {
	fetcher  client.ProblemFetcher
	store    *repository.Store[model.Problem]
	interval time.Duration
	logger   logger.Logger

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

// New creates a problem cache reading from fetcher.
func New(fetcher client.ProblemFetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		store: repository.New("problems", model.Problem.Key,
			repository.WithSecondaryKey(func(p model.Problem) string { return p.Name })),
		interval: defaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("problems")
	}
	return c
}

// ReloadNow refreshes the full catalog. On failure the previous table stays
// valid.
//
// A problem already cached whose name vanished from the fresh catalog is
// retained rather than evicted: name references held by consumers (duel and
// gitgud challenges) must keep resolving until a per-contest refresh
// explicitly re-delivers that contest without it.
func (c *Cache) ReloadNow(ctx context.Context) error {
	_, err := c.UpdateForAll(ctx)
	return err
}

// UpdateForAll refreshes the full catalog and returns the number of problems
// written.
func (c *Cache) UpdateForAll(ctx context.Context) (int, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	return c.reload(ctx)
}

func (c *Cache) reload(ctx context.Context) (int, error) {
	start := time.Now()
	fresh, err := c.fetcher.Problems(ctx, 0)
	if err != nil {
		metrics.RecordCacheReload("problems", "failure")
		return 0, fmt.Errorf("reload problems: %w", err)
	}

	names := make(map[string]struct{}, len(fresh))
	for _, p := range fresh {
		names[p.Name] = struct{}{}
	}
	retained := 0
	for _, p := range c.store.All() {
		if _, ok := names[p.Name]; ok {
			continue
		}
		fresh = append(fresh, p)
		retained++
	}
	c.store.ReplaceAll(fresh)

	metrics.RecordCacheReload("problems", "success")
	metrics.RecordCacheReloadDuration("problems", float64(time.Since(start).Milliseconds()))
	c.logger.Info(ctx, "problem catalog reloaded",
		logger.Int("count", len(fresh)), logger.Int("retained", retained))
	return len(fresh), nil
}

// tryReload runs a reload unless one is already in progress.
func (c *Cache) tryReload(ctx context.Context) {
	if !c.reloadMu.TryLock() {
		c.logger.Debug(ctx, "problem reload already in progress, skipping")
		return
	}
	defer c.reloadMu.Unlock()
	if _, err := c.reload(ctx); err != nil {
		c.logger.Error(ctx, "background problem reload failed", logger.Error(err))
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

// UpdateForContest fetches and replaces one contest's problemset, leaving
// every other contest's problems untouched. Returns the number written.
func (c *Cache) UpdateForContest(ctx context.Context, contestID int64) (int, error) {
	rows, err := c.fetcher.Problems(ctx, contestID)
	if err != nil {
		return 0, fmt.Errorf("update problemset %d: %w", contestID, err)
	}
	c.store.ReplaceScope(func(p model.Problem) bool { return p.ContestID == contestID }, rows)
	c.logger.Info(ctx, "problemset refreshed",
		logger.Int64("contestID", contestID), logger.Int("count", len(rows)))
	return len(rows), nil
}

// Problems returns a snapshot of the whole catalog.
func (c *Cache) Problems() []model.Problem {
	return c.store.All()
}

// ByName resolves a problem by its catalog-wide unique name.
func (c *Cache) ByName(name string) (model.Problem, error) {
	p, err := c.store.GetBySecondary(name)
	if err != nil {
		return model.Problem{}, fmt.Errorf("%w: %q", ErrProblemNotFound, name)
	}
	return p, nil
}

// ForContest returns the cached problemset of one contest.
func (c *Cache) ForContest(contestID int64) []model.Problem {
	var out []model.Problem
	for _, p := range c.store.All() {
		if p.ContestID == contestID {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of cached problems.
func (c *Cache) Count() int {
	return c.store.Count()
}
