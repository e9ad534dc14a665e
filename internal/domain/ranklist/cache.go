package ranklist

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/cfcache/internal/adapters/client"
	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/pkg/logger"
	"github.com/okian/cfcache/pkg/metrics"
)

// Default cache configuration constants.
const (
	defaultPollInterval = 5 * time.Minute
	defaultWarnStreak   = 5
)

// MonitorState is the per-contest live-tracking state.
type MonitorState int

// Monitoring states.
const (
	NotMonitored MonitorState = iota
	Monitored
)

// ContestSource is the read surface of the contest cache this cache needs.
type ContestSource interface {
	Contest(id int64) (model.Contest, error)
}

// RatingSource is the rating-changes surface used to compute deltas.
type RatingSource interface {
	FetchContest(ctx context.Context, contestID int64) (int, error)
	ForContest(contestID int64) []model.RatingChange
	HasChanges(contestID int64) bool
}

// memoEntry is one memoized finished-contest ranklist.
type memoEntry struct {
	rl *Ranklist
	at time.Time
}

// genFlight deduplicates concurrent finished-contest generations.
type genFlight struct {
	done chan struct{}
	rl   *Ranklist
	err  error
}

// Cache serves ranklists: memoized one-shot builds for finished contests,
// monitored snapshots for live ones.
type Cache struct {
	standings client.StandingsFetcher
	contests  ContestSource
	ratings   RatingSource

	interval   time.Duration
	warnStreak int
	memoTTL    time.Duration // zero keeps finished ranklists forever
	now        func() time.Time
	logger     logger.Logger

	mu       sync.Mutex
	monitors map[int64]*monitor
	memo     map[int64]memoEntry
	flights  map[int64]*genFlight

	active atomic.Int64
}

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithPollInterval sets the standings poll period for monitored contests.
func WithPollInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithWarnStreak sets the consecutive poll failure count that escalates
// monitor logging to warn.
func WithWarnStreak(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.warnStreak = n
		}
	}
}

// WithMemoTTL bounds how long finished ranklists stay memoized.
func WithMemoTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.memoTTL = d
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

// New creates a ranklist cache.
func New(standings client.StandingsFetcher, contests ContestSource, ratings RatingSource, opts ...Option) *Cache {
	c := &Cache{
		standings:  standings,
		contests:   contests,
		ratings:    ratings,
		interval:   defaultPollInterval,
		warnStreak: defaultWarnStreak,
		now:        time.Now,
		monitors:   make(map[int64]*monitor),
		memo:       make(map[int64]memoEntry),
		flights:    make(map[int64]*genFlight),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("ranklist")
	}
	return c
}

// Get returns the ranklist of contest.
//
// Finished contests are generated once and memoized. Coding contests return
// the latest monitored snapshot, or ErrNotMonitored when no monitor is
// active; the cache never starts background polling just because someone
// read from it. Contests that have not started are a contract violation.
func (c *Cache) Get(ctx context.Context, contest model.Contest) (*Ranklist, error) {
	switch contest.Phase(c.now()) {
	case model.PhaseBefore:
		return nil, fmt.Errorf("%w: %d", ErrContestNotStarted, contest.ID)
	case model.PhaseCoding:
		return c.getLive(ctx, contest)
	default:
		return c.getFinished(ctx, contest.ID)
	}
}

func (c *Cache) getLive(ctx context.Context, contest model.Contest) (*Ranklist, error) {
	c.mu.Lock()
	m := c.monitors[contest.ID]
	c.mu.Unlock()
	if m == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotMonitored, contest.ID)
	}
	if snap := m.snap.Load(); snap != nil {
		return snap, nil
	}
	// Monitored but no successful poll yet. Build once on behalf of the
	// caller and seed the snapshot.
	rl, err := c.Generate(ctx, contest.ID, false)
	if err != nil {
		return nil, err
	}
	m.snap.Store(rl)
	return rl, nil
}

func (c *Cache) getFinished(ctx context.Context, contestID int64) (*Ranklist, error) {
	c.mu.Lock()
	if e, ok := c.memo[contestID]; ok {
		if c.memoTTL == 0 || c.now().Sub(e.at) < c.memoTTL {
			c.mu.Unlock()
			metrics.RecordRanklistMemoHit()
			return e.rl, nil
		}
		delete(c.memo, contestID)
	}
	if f, ok := c.flights[contestID]; ok {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.rl, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &genFlight{done: make(chan struct{})}
	c.flights[contestID] = f
	c.mu.Unlock()

	f.rl, f.err = c.Generate(ctx, contestID, true)

	c.mu.Lock()
	delete(c.flights, contestID)
	if f.err == nil {
		c.memo[contestID] = memoEntry{rl: f.rl, at: c.now()}
	}
	c.mu.Unlock()
	close(f.done)

	return f.rl, f.err
}

// Generate builds a ranklist one-shot: fetch standings, optionally ensure
// rating changes, assemble. It registers no monitoring and no memo entry.
func (c *Cache) Generate(ctx context.Context, contestID int64, fetchChanges bool) (*Ranklist, error) {
	raw, err := c.standings.Standings(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("generate ranklist %d: %w", contestID, err)
	}
	// Prefer the catalog's contest row; the standings echo can lag.
	if contest, err := c.contests.Contest(contestID); err == nil {
		raw.Contest = contest
	}

	if fetchChanges && raw.Contest.Rated && !c.ratings.HasChanges(contestID) {
		if _, err := c.ratings.FetchContest(ctx, contestID); err != nil {
			// Deltas are an enrichment; the ranklist itself is still good.
			c.logger.Warn(ctx, "rating changes unavailable for ranklist",
				logger.Int64("contestID", contestID), logger.Error(err))
		}
	}
	var changes []model.RatingChange
	if raw.Contest.Rated {
		changes = c.ratings.ForContest(contestID)
	}

	metrics.RecordRanklistGenerated()
	return NewRanklist(raw, changes, c.now()), nil
}

// State returns the monitoring state of a contest.
func (c *Cache) State(contestID int64) MonitorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.monitors[contestID]; ok {
		return Monitored
	}
	return NotMonitored
}

// ActiveMonitors returns the number of running monitor loops.
func (c *Cache) ActiveMonitors() int {
	return int(c.active.Load())
}

// contestLabel formats a contest id for metric labels.
func contestLabel(contestID int64) string {
	return strconv.FormatInt(contestID, 10)
}
