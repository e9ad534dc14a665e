// Package ratings owns historical rating changes per handle and per contest,
// plus the derived per-handle current rating.
package ratings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/cfcache/internal/adapters/client"
	"github.com/okian/cfcache/internal/adapters/repository"
	"github.com/okian/cfcache/internal/domain/events"
	"github.com/okian/cfcache/internal/domain/model"
	"github.com/okian/cfcache/pkg/logger"
	"github.com/okian/cfcache/pkg/metrics"
)

// ContestSource is the read surface of the contest cache this cache needs.
type ContestSource interface {
	All() []model.Contest
	Contest(id int64) (model.Contest, error)
}

// Notifier is the event bus surface this cache publishes to.
type Notifier interface {
	Notify(ctx context.Context, ev events.RatingChangesUpdate)
}

// flight is one in-progress fetch for a contest id. Concurrent callers for
// the same id await it instead of issuing their own.
type flight struct {
	done  chan struct{}
	count int
	err   error
}

// Cache owns the rating-change table. It is the table's only writer.
type Cache struct {
	fetcher  client.RatingChangeFetcher
	contests ContestSource
	store    *repository.Store[model.RatingChange]
	bus      Notifier
	now      func() time.Time
	logger   logger.Logger

	flightMu sync.Mutex
	flights  map[int64]*flight

	// Derived indexes, rebuilt incrementally inside each per-contest
	// transactional replace.
	idxMu     sync.RWMutex
	byHandle  map[string][]model.RatingChange // lowercased handle, sorted by UpdatedAt asc
	byContest map[int64][]model.RatingChange
	current   map[string]int
}

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithNotifier publishes RatingChangesUpdate events to bus after each
// successful per-contest fetch.
func WithNotifier(bus Notifier) Option {
	return func(c *Cache) {
		c.bus = bus
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

// New creates a rating-changes cache reading from fetcher. Finished rated
// contests are discovered through contests.
func New(fetcher client.RatingChangeFetcher, contests ContestSource, opts ...Option) *Cache {
	c := &Cache{
		fetcher:   fetcher,
		contests:  contests,
		store:     repository.New("ratingchanges", model.RatingChange.Key),
		now:       time.Now,
		flights:   make(map[int64]*flight),
		byHandle:  make(map[string][]model.RatingChange),
		byContest: make(map[int64][]model.RatingChange),
		current:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("ratings")
	}
	return c
}

// FetchContest fetches rating changes for one contest and replaces that
// contest's change set transactionally. Returns the number fetched, or 0
// with no error when the remote has not published changes yet. At most one
// fetch per contest id is in flight; concurrent callers share its result.
func (c *Cache) FetchContest(ctx context.Context, contestID int64) (int, error) {
	c.flightMu.Lock()
	if f, ok := c.flights[contestID]; ok {
		c.flightMu.Unlock()
		metrics.RecordRatingFetchCoalesced()
		select {
		case <-f.done:
			return f.count, f.err
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	c.flights[contestID] = f
	c.flightMu.Unlock()

	f.count, f.err = c.fetchContest(ctx, contestID)

	c.flightMu.Lock()
	delete(c.flights, contestID)
	c.flightMu.Unlock()
	close(f.done)

	return f.count, f.err
}

func (c *Cache) fetchContest(ctx context.Context, contestID int64) (int, error) {
	changes, err := c.fetcher.RatingChanges(ctx, contestID)
	if errors.Is(err, client.ErrNotPublished) {
		// Not yet available is not a failure.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("fetch rating changes %d: %w", contestID, err)
	}
	if len(changes) == 0 {
		return 0, nil
	}

	// Enforce at most one change per (contestID, handle); last row wins.
	unique := make(map[string]model.RatingChange, len(changes))
	order := make([]string, 0, len(changes))
	for _, rc := range changes {
		if _, seen := unique[rc.Key()]; !seen {
			order = append(order, rc.Key())
		}
		unique[rc.Key()] = rc
	}
	rows := make([]model.RatingChange, 0, len(unique))
	for _, k := range order {
		rows = append(rows, unique[k])
	}

	c.replaceContest(contestID, rows)
	metrics.RecordRatingChangesStored(len(rows))
	c.logger.Info(ctx, "rating changes cached",
		logger.Int64("contestID", contestID), logger.Int("count", len(rows)))

	if c.bus != nil {
		contest, err := c.contests.Contest(contestID)
		if err != nil {
			contest = model.Contest{ID: contestID}
		}
		c.bus.Notify(ctx, events.RatingChangesUpdate{Contest: contest, Changes: rows})
	}
	return len(rows), nil
}

// replaceContest swaps one contest's change set in the store and in the
// derived indexes as a single writer-side transaction.
func (c *Cache) replaceContest(contestID int64, rows []model.RatingChange) {
	c.idxMu.Lock()
	defer c.idxMu.Unlock()

	old := c.byContest[contestID]
	c.store.ReplaceScope(func(rc model.RatingChange) bool { return rc.ContestID == contestID }, rows)

	touched := make(map[string]struct{}, len(old)+len(rows))
	for _, rc := range old {
		touched[strings.ToLower(rc.Handle)] = struct{}{}
	}
	for _, rc := range rows {
		touched[strings.ToLower(rc.Handle)] = struct{}{}
	}

	if len(rows) == 0 {
		delete(c.byContest, contestID)
	} else {
		c.byContest[contestID] = rows
	}

	for handle := range touched {
		history := c.byHandle[handle][:0]
		for _, rc := range c.byHandle[handle] {
			if rc.ContestID != contestID {
				history = append(history, rc)
			}
		}
		for _, rc := range rows {
			if strings.ToLower(rc.Handle) == handle {
				history = append(history, rc)
			}
		}
		sort.SliceStable(history, func(i, j int) bool {
			return history[i].UpdatedAt.Before(history[j].UpdatedAt)
		})
		if len(history) == 0 {
			delete(c.byHandle, handle)
			delete(c.current, handle)
			continue
		}
		c.byHandle[handle] = history
		c.current[handle] = history[len(history)-1].NewRating
	}
}

// FetchMissingContests fetches rating changes for every finished rated
// contest lacking any cached change. Per-contest failures are logged and
// skipped; the total successfully fetched count is returned.
func (c *Cache) FetchMissingContests(ctx context.Context) (int, error) {
	return c.fetchBatch(ctx, true)
}

// FetchAllContests re-fetches and replaces rating changes for every finished
// rated contest, cached or not. Best-effort per contest, like
// FetchMissingContests.
func (c *Cache) FetchAllContests(ctx context.Context) (int, error) {
	return c.fetchBatch(ctx, false)
}

func (c *Cache) fetchBatch(ctx context.Context, missingOnly bool) (int, error) {
	now := c.now()
	total := 0
	for _, contest := range c.contests.All() {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		if !contest.Rated || contest.Phase(now) != model.PhaseFinished {
			continue
		}
		if missingOnly && c.HasChanges(contest.ID) {
			continue
		}
		count, err := c.FetchContest(ctx, contest.ID)
		if err != nil {
			// One contest's failure must not abort the batch.
			c.logger.Warn(ctx, "skipping contest in rating batch",
				logger.Int64("contestID", contest.ID), logger.Error(err))
			continue
		}
		total += count
	}
	return total, nil
}

// ForHandle returns the handle's rating changes ordered by update time
// ascending. Handle comparison is case-insensitive.
func (c *Cache) ForHandle(handle string) []model.RatingChange {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	history := c.byHandle[strings.ToLower(handle)]
	out := make([]model.RatingChange, len(history))
	copy(out, history)
	return out
}

// ForContest returns one contest's cached rating changes.
func (c *Cache) ForContest(contestID int64) []model.RatingChange {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	rows := c.byContest[contestID]
	out := make([]model.RatingChange, len(rows))
	copy(out, rows)
	return out
}

// HasChanges reports whether any change is cached for the contest.
func (c *Cache) HasChanges(contestID int64) bool {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	return len(c.byContest[contestID]) > 0
}

// CurrentRating returns the handle's cached current rating.
func (c *Cache) CurrentRating(handle string) (int, bool) {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	r, ok := c.current[strings.ToLower(handle)]
	return r, ok
}

// FirstRatedContest returns the handle's single rating change when that
// change is the handle's first rated contest (old rating at the default).
func (c *Cache) FirstRatedContest(handle string) (model.RatingChange, bool) {
	history := c.ForHandle(handle)
	if len(history) == 1 && history[0].OldRating == model.DefaultRating {
		return history[0], true
	}
	return model.RatingChange{}, false
}

// Count returns the number of cached rating changes.
func (c *Cache) Count() int {
	return c.store.Count()
}
